package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/phototheology/palace/internal/llm"
	"github.com/phototheology/palace/internal/models"
	"github.com/phototheology/palace/internal/rubric"
)

// autoPlay picks the AI player's card and has the model write the justification.
// The oldest card in hand is played; an empty hand plays a fresh card from the deck.
func (j *Judge) autoPlay(ctx context.Context, req PlayRequest, p *models.Player, topic, summary string, rub *rubric.Rubric) (PlayRequest, error) {
	hand, err := j.store.Hand(ctx, req.GameID, p.ID)
	if err != nil {
		return req, fmt.Errorf("load hand: %w", err)
	}

	move := req
	move.PlayerID = p.ID
	move.IsCombo = false
	move.ComboCards = nil
	if len(hand) > 0 {
		move.CardType = hand[0].CardType
		move.CardData = hand[0].CardData
	} else {
		card := j.dealer.Draw()
		move.CardType = card.Type
		move.CardData = card.Payload()
	}

	explanation, err := j.llm.Complete(ctx, llm.ChatRequest{
		System: rub.AutoPlay,
		User:   autoPlayUserPrompt(topic, move.CardType, move.CardData, summary),
	})
	if err != nil {
		return req, fmt.Errorf("auto-play explanation: %w", err)
	}
	move.Explanation = strings.TrimSpace(explanation)
	return move, nil
}
