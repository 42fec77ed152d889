// Package judge plays and scores card moves. A move is judged by the model,
// recorded in the ledger, applied to the acting player and followed by any AI
// turns that come up next.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/deck"
	"github.com/phototheology/palace/internal/llm"
	"github.com/phototheology/palace/internal/models"
	"github.com/phototheology/palace/internal/rubric"
	"github.com/phototheology/palace/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotYourTurn   = errors.New("it is not this player's turn")
	ErrGameNotActive = errors.New("game is not active")
	ErrNotAIPlayer   = errors.New("player is not AI-controlled")
	ErrNoPendingSkip = errors.New("player has no pending skip")
	// ErrSkipPending is returned when a player who lost their turn tries to play
	// instead of passing.
	ErrSkipPending = errors.New("player must pass this turn")
)

// Publisher receives every judged move after it commits.
type Publisher interface {
	Publish(ctx context.Context, ev models.MoveEvent) error
}

type Options struct {
	// MaxAITurns bounds the AI moves judged after a single request.
	MaxAITurns  int
	RecentMoves int
	Dealer      *deck.Dealer
	Publishers  []Publisher
	Logger      logrus.FieldLogger
}

type Judge struct {
	store       store.Store
	llm         llm.Client
	rubric      *rubric.Holder
	dealer      *deck.Dealer
	publishers  []Publisher
	log         logrus.FieldLogger
	maxAITurns  int
	recentMoves int
	now         func() time.Time
}

func New(st store.Store, client llm.Client, rub *rubric.Holder, opts Options) *Judge {
	if opts.Dealer == nil {
		opts.Dealer = deck.NewDealer(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.RecentMoves <= 0 {
		opts.RecentMoves = 5
	}
	return &Judge{
		store:       st,
		llm:         client,
		rubric:      rub,
		dealer:      opts.Dealer,
		publishers:  opts.Publishers,
		log:         opts.Logger,
		maxAITurns:  opts.MaxAITurns,
		recentMoves: opts.RecentMoves,
		now:         time.Now,
	}
}

// PlayRequest is one card play. When AutoPlayForPlayer is set the card and
// explanation are generated for that AI player and PlayerID is ignored.
type PlayRequest struct {
	GameID            uuid.UUID
	PlayerID          uuid.UUID
	CardType          string
	CardData          json.RawMessage
	Explanation       string
	StudyTopic        string
	IsCombo           bool
	ComboCards        []json.RawMessage
	AutoPlayForPlayer *uuid.UUID
}

// Actor is the player a request acts for.
func (r PlayRequest) Actor() uuid.UUID {
	if r.AutoPlayForPlayer != nil {
		return *r.AutoPlayForPlayer
	}
	return r.PlayerID
}

// MoveResult describes one judged move.
type MoveResult struct {
	Verdict      models.Verdict    `json:"verdict"`
	Feedback     string            `json:"feedback"`
	Points       int               `json:"points"`
	Bonuses      models.Bonuses    `json:"bonuses"`
	TotalPoints  int               `json:"totalPoints"`
	MoveNumber   int               `json:"moveNumber"`
	PlayerID     uuid.UUID         `json:"playerId"`
	CardType     string            `json:"cardType"`
	CardData     json.RawMessage   `json:"cardData"`
	Explanation  string            `json:"explanation"`
	AutoPlayed   bool              `json:"autoPlayed"`
	NextPlayerID *uuid.UUID        `json:"nextPlayerId,omitempty"`
	GameStatus   models.GameStatus `json:"gameStatus"`
}

// PlayResult is the requested move plus the AI moves judged after it.
type PlayResult struct {
	MoveResult
	AIMoves []MoveResult `json:"aiMoves"`
}

// PassResult is returned by Pass.
type PassResult struct {
	NextPlayerID *uuid.UUID        `json:"nextPlayerId,omitempty"`
	GameStatus   models.GameStatus `json:"gameStatus"`
	AIMoves      []MoveResult      `json:"aiMoves"`
}

// Play judges req and then plays AI turns until a human is up, the game ends or
// the AI turn bound is reached. Failures in AI turns are logged and end the chain;
// they never fail the request.
func (j *Judge) Play(ctx context.Context, req PlayRequest) (*PlayResult, error) {
	res, err := j.judgeMove(ctx, req)
	if err != nil {
		return nil, err
	}
	return &PlayResult{
		MoveResult: *res,
		AIMoves:    j.runAITurns(ctx, req.GameID, req.StudyTopic),
	}, nil
}

// Pass consumes playerID's pending skip and hands the turn on.
func (j *Judge) Pass(ctx context.Context, gameID, playerID uuid.UUID) (*PassResult, error) {
	next, status, err := j.consumeSkip(ctx, gameID, playerID)
	if err != nil {
		return nil, err
	}
	return &PassResult{
		NextPlayerID: next,
		GameStatus:   status,
		AIMoves:      j.runAITurns(ctx, gameID, ""),
	}, nil
}

type turnContext struct {
	game    *models.Game
	players []*models.Player
	recent  []*models.Move
}

func (j *Judge) loadContext(ctx context.Context, gameID uuid.UUID) (*turnContext, error) {
	var tc turnContext
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		game, err := j.store.GetGame(gctx, gameID)
		tc.game = game
		return err
	})
	g.Go(func() error {
		players, err := j.store.ListPlayers(gctx, gameID)
		tc.players = players
		return err
	})
	g.Go(func() error {
		recent, err := j.store.RecentMoves(gctx, gameID, j.recentMoves)
		tc.recent = recent
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load game %s: %w", gameID, err)
	}
	return &tc, nil
}

// checkTurn enforces the rules every move has to pass, both before the model is
// called and again under the game lock.
func checkTurn(g *models.Game, players []*models.Player, playerID uuid.UUID, autoPlay bool) (*models.Player, error) {
	if g.Status != models.GameActive {
		return nil, ErrGameNotActive
	}
	p := findPlayer(players, playerID)
	if p == nil {
		return nil, fmt.Errorf("player %s: %w", playerID, store.ErrNotFound)
	}
	if autoPlay && !p.IsAI() {
		return nil, ErrNotAIPlayer
	}
	if cur, ok := currentTurn(g, players); !ok || cur != playerID {
		return nil, ErrNotYourTurn
	}
	if p.SkipNextTurn {
		return nil, ErrSkipPending
	}
	return p, nil
}

func (j *Judge) judgeMove(ctx context.Context, req PlayRequest) (*MoveResult, error) {
	actorID := req.Actor()
	autoPlay := req.AutoPlayForPlayer != nil
	log := j.log.WithFields(logrus.Fields{"game": req.GameID, "player": actorID, "auto": autoPlay})

	tc, err := j.loadContext(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	player, err := checkTurn(tc.game, tc.players, actorID, autoPlay)
	if err != nil {
		return nil, err
	}

	topic := req.StudyTopic
	if topic == "" {
		topic = tc.game.Topic
	}
	summary := contextSummary(tc.recent, tc.players)
	rub := j.rubric.Current()

	move := req
	if autoPlay {
		move, err = j.autoPlay(ctx, req, player, topic, summary, rub)
		if err != nil {
			return nil, err
		}
	}
	if move.CardType == "" {
		move.CardType = deck.CardTypePrinciple
	}

	tr := &models.Transcript{
		Model:        j.llm.Model(),
		SystemPrompt: rub.SystemPrompt(),
		UserPrompt:   judgeUserPrompt(topic, move.CardType, move.CardData, move.IsCombo, move.ComboCards, move.Explanation, summary),
	}
	start := j.now()
	reply, err := j.llm.Complete(ctx, llm.ChatRequest{System: tr.SystemPrompt, User: tr.UserPrompt, JSON: true})
	if err != nil {
		return nil, fmt.Errorf("judge move: %w", err)
	}
	tr.Latency = j.now().Sub(start)
	tr.RawReply = reply

	outcome := ParseOutcome(reply)
	tr.Fallback = outcome.Fallback
	if outcome.Fallback {
		log.WithField("reply", reply).Warn("unreadable judge reply, using fallback verdict")
	}

	res, err := j.commitMove(ctx, move, actorID, outcome)
	if err != nil {
		return nil, err
	}
	res.AutoPlayed = autoPlay

	log.WithFields(logrus.Fields{
		"move":    res.MoveNumber,
		"verdict": res.Verdict,
		"points":  res.TotalPoints,
	}).Info("move judged")

	j.publish(ctx, models.MoveEvent{
		GameID:       req.GameID,
		PlayerID:     actorID,
		PlayerName:   player.DisplayName,
		MoveNumber:   res.MoveNumber,
		CardType:     res.CardType,
		CardData:     res.CardData,
		Verdict:      res.Verdict,
		Points:       res.TotalPoints,
		AutoPlayed:   autoPlay,
		NextPlayerID: res.NextPlayerID,
		GameStatus:   res.GameStatus,
		Timestamp:    j.now().UnixMilli(),
		Transcript:   tr,
	})
	return res, nil
}

// commitMove records the move and applies it under the game lock.
func (j *Judge) commitMove(ctx context.Context, move PlayRequest, actorID uuid.UUID, o Outcome) (*MoveResult, error) {
	var res *MoveResult
	err := j.store.InGameTx(ctx, move.GameID, func(tx store.GameTx) error {
		g := *tx.Game()
		players := tx.Players()
		p, err := checkTurn(&g, players, actorID, move.AutoPlayForPlayer != nil)
		if err != nil {
			return err
		}
		updated := *p

		n, err := tx.NextMoveNumber(ctx)
		if err != nil {
			return err
		}
		m := &models.Move{
			GameID:      g.ID,
			PlayerID:    actorID,
			MoveNumber:  n,
			CardType:    move.CardType,
			CardData:    models.NormalizePayload(move.CardData),
			Explanation: move.Explanation,
			Verdict:     o.Verdict,
			Feedback:    o.Feedback,
			Points:      o.Total(),
			Bonuses:     o.Bonuses,
			IsCombo:     move.IsCombo,
			ComboCards:  move.ComboCards,
		}
		if err := tx.InsertMove(ctx, m); err != nil {
			return fmt.Errorf("insert move: %w", err)
		}

		penalty, emptied := applyOutcome(&updated, o)
		if o.Verdict == models.VerdictApproved {
			ok, err := tx.ConsumeCard(ctx, actorID, move.CardType, move.CardData)
			if err != nil {
				return fmt.Errorf("consume card: %w", err)
			}
			if !ok {
				j.log.WithFields(logrus.Fields{"game": g.ID, "player": actorID}).
					Debug("approved card was not in hand")
			}
		}
		if penalty {
			card := j.dealer.Draw()
			if err := tx.AddCard(ctx, &models.CardDraw{
				PlayerID: actorID,
				CardType: card.Type,
				CardData: card.Payload(),
			}); err != nil {
				return fmt.Errorf("deal penalty card: %w", err)
			}
		}
		if err := tx.UpdatePlayer(ctx, &updated); err != nil {
			return fmt.Errorf("update player: %w", err)
		}

		now := j.now()
		g.LastMoveAt = &now
		next, err := j.passTurn(ctx, tx, withPlayer(players, &updated), actorID)
		if err != nil {
			return err
		}
		if next != nil {
			g.CurrentTurnPlayerID = &next.ID
		}
		if emptied {
			g.Status = models.GameFinished
			g.WinnerPlayerID = &actorID
		}
		if err := tx.UpdateGame(ctx, &g); err != nil {
			return fmt.Errorf("update game: %w", err)
		}

		res = &MoveResult{
			Verdict:      o.Verdict,
			Feedback:     o.Feedback,
			Points:       o.Points,
			Bonuses:      o.Bonuses,
			TotalPoints:  o.Total(),
			MoveNumber:   n,
			PlayerID:     actorID,
			CardType:     m.CardType,
			CardData:     m.CardData,
			Explanation:  m.Explanation,
			NextPlayerID: g.CurrentTurnPlayerID,
			GameStatus:   g.Status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (j *Judge) consumeSkip(ctx context.Context, gameID, playerID uuid.UUID) (*uuid.UUID, models.GameStatus, error) {
	var (
		next   *uuid.UUID
		status models.GameStatus
	)
	err := j.store.InGameTx(ctx, gameID, func(tx store.GameTx) error {
		g := *tx.Game()
		players := tx.Players()
		if g.Status != models.GameActive {
			return ErrGameNotActive
		}
		p := findPlayer(players, playerID)
		if p == nil {
			return fmt.Errorf("player %s: %w", playerID, store.ErrNotFound)
		}
		if cur, ok := currentTurn(&g, players); !ok || cur != playerID {
			return ErrNotYourTurn
		}
		if !p.SkipNextTurn {
			return ErrNoPendingSkip
		}

		updated := *p
		updated.SkipNextTurn = false
		if err := tx.UpdatePlayer(ctx, &updated); err != nil {
			return err
		}
		n, err := j.passTurn(ctx, tx, withPlayer(players, &updated), playerID)
		if err != nil {
			return err
		}
		if n != nil {
			g.CurrentTurnPlayerID = &n.ID
		}
		if err := tx.UpdateGame(ctx, &g); err != nil {
			return err
		}
		next, status = g.CurrentTurnPlayerID, g.Status
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	j.log.WithFields(logrus.Fields{"game": gameID, "player": playerID}).Info("turn skipped")
	return next, status, nil
}

// passTurn advances past from, clearing and saving the skip of every player
// passed over on the way.
func (j *Judge) passTurn(ctx context.Context, tx store.GameTx, players []*models.Player, from uuid.UUID) (*models.Player, error) {
	next, skipped := advanceTurn(players, from)
	for _, p := range skipped {
		if err := tx.UpdatePlayer(ctx, p); err != nil {
			return nil, fmt.Errorf("clear skip: %w", err)
		}
		j.log.WithFields(logrus.Fields{"game": p.GameID, "player": p.ID}).Info("turn skipped")
	}
	return next, nil
}

// withPlayer returns players with the entry for p replaced by p.
func withPlayer(players []*models.Player, p *models.Player) []*models.Player {
	out := make([]*models.Player, len(players))
	for i, q := range players {
		if q.ID == p.ID {
			out[i] = p
		} else {
			out[i] = q
		}
	}
	return out
}

// runAITurns judges AI turns while the player up is AI-controlled. An AI that owes
// a skip forfeits its turn instead of playing.
func (j *Judge) runAITurns(ctx context.Context, gameID uuid.UUID, topic string) []MoveResult {
	moves := []MoveResult{}
	for len(moves) < j.maxAITurns {
		if ctx.Err() != nil {
			return moves
		}
		g, err := j.store.GetGame(ctx, gameID)
		if err != nil {
			j.log.WithError(err).WithField("game", gameID).Error("ai turn: load game")
			return moves
		}
		if g.Status != models.GameActive || !g.Mode.HasAIOpponents() {
			return moves
		}
		players, err := j.store.ListPlayers(ctx, gameID)
		if err != nil {
			j.log.WithError(err).WithField("game", gameID).Error("ai turn: load players")
			return moves
		}
		cur, ok := currentTurn(g, players)
		if !ok {
			return moves
		}
		p := findPlayer(players, cur)
		if p == nil || !p.IsAI() {
			return moves
		}

		if p.SkipNextTurn {
			if _, _, err := j.consumeSkip(ctx, gameID, p.ID); err != nil {
				j.log.WithError(err).WithFields(logrus.Fields{"game": gameID, "player": p.ID}).Error("ai turn: forfeit")
				return moves
			}
			continue
		}

		res, err := j.judgeMove(ctx, PlayRequest{
			GameID:            gameID,
			PlayerID:          p.ID,
			StudyTopic:        topic,
			AutoPlayForPlayer: &p.ID,
		})
		if err != nil {
			j.log.WithError(err).WithFields(logrus.Fields{"game": gameID, "player": p.ID}).Warn("ai turn failed, stopping chain")
			return moves
		}
		moves = append(moves, *res)
	}
	return moves
}

func (j *Judge) publish(ctx context.Context, ev models.MoveEvent) {
	for _, p := range j.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			j.log.WithError(err).WithFields(logrus.Fields{"game": ev.GameID, "move": ev.MoveNumber}).
				Warn("failed to publish move event")
		}
	}
}
