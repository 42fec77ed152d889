package judge

import (
	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/models"
)

// MaxConsecutiveRejections is the streak that costs a player their next turn.
const MaxConsecutiveRejections = 3

// applyOutcome mutates p for a judged move. It reports whether a penalty card has
// to be dealt and whether p has emptied their hand.
func applyOutcome(p *models.Player, o Outcome) (penalty, emptied bool) {
	switch o.Verdict {
	case models.VerdictApproved:
		if p.CardsRemaining > 0 {
			p.CardsRemaining--
		}
		p.Score += o.Total()
		p.ConsecutiveRejections = 0
		emptied = p.CardsRemaining == 0
	case models.VerdictRejected:
		p.CardsRemaining++
		p.ConsecutiveRejections++
		if p.ConsecutiveRejections >= MaxConsecutiveRejections {
			p.SkipNextTurn = true
			p.ConsecutiveRejections = 0
		}
		penalty = true
	case models.VerdictPartial:
		p.Score += o.Total()
	}
	return penalty, emptied
}

// advanceTurn finds who acts after from in join order, wrapping to the first.
// players must already be in join order. Players owing a skip are passed over
// and returned with the flag cleared so the caller can persist them. After one
// full lap every flag is cleared, so a player is always found.
func advanceTurn(players []*models.Player, from uuid.UUID) (next *models.Player, skipped []*models.Player) {
	if len(players) == 0 {
		return nil, nil
	}
	roster := make([]*models.Player, len(players))
	copy(roster, players)
	start := -1
	for i, p := range roster {
		if p.ID == from {
			start = i
		}
	}
	for step := 1; step <= len(roster)+1; step++ {
		i := (start + step) % len(roster)
		p := roster[i]
		if !p.SkipNextTurn {
			return p, skipped
		}
		cleared := *p
		cleared.SkipNextTurn = false
		roster[i] = &cleared
		skipped = append(skipped, &cleared)
	}
	return nil, skipped
}

// currentTurn resolves the turn pointer. A game whose pointer was never set
// starts with the first player to join.
func currentTurn(g *models.Game, players []*models.Player) (uuid.UUID, bool) {
	if g.CurrentTurnPlayerID != nil {
		return *g.CurrentTurnPlayerID, true
	}
	if len(players) == 0 {
		return uuid.Nil, false
	}
	return players[0].ID, true
}

func findPlayer(players []*models.Player, id uuid.UUID) *models.Player {
	for _, p := range players {
		if p.ID == id {
			return p
		}
	}
	return nil
}
