package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/auth"
	"github.com/phototheology/palace/internal/cache"
	"github.com/phototheology/palace/internal/judge"
	"github.com/phototheology/palace/internal/store"
	"github.com/sirupsen/logrus"
)

// judgeRequest is the POST /api/judge payload.
type judgeRequest struct {
	GameID            string            `json:"gameId"`
	PlayerID          string            `json:"playerId"`
	CardType          string            `json:"cardType"`
	CardData          json.RawMessage   `json:"cardData"`
	Explanation       string            `json:"explanation"`
	StudyTopic        string            `json:"studyTopic"`
	IsCombo           bool              `json:"isCombo"`
	ComboCards        []json.RawMessage `json:"comboCards"`
	AutoPlayForPlayer string            `json:"autoPlayForPlayer"`
	RequestID         string            `json:"requestId"`
}

// toPlay validates the payload. Auto-play requests need only the game and the AI
// player; everything else about the move is generated.
func (jr judgeRequest) toPlay() (judge.PlayRequest, error) {
	var req judge.PlayRequest
	gameID, err := uuid.Parse(jr.GameID)
	if err != nil {
		return req, badRequest("gameId must be a UUID")
	}
	req.GameID = gameID
	req.StudyTopic = strings.TrimSpace(jr.StudyTopic)

	if jr.AutoPlayForPlayer != "" {
		aiID, err := uuid.Parse(jr.AutoPlayForPlayer)
		if err != nil {
			return req, badRequest("autoPlayForPlayer must be a UUID")
		}
		req.AutoPlayForPlayer = &aiID
		return req, nil
	}

	playerID, err := uuid.Parse(jr.PlayerID)
	if err != nil {
		return req, badRequest("playerId must be a UUID")
	}
	if strings.TrimSpace(jr.CardType) == "" {
		return req, badRequest("cardType is required")
	}
	if strings.TrimSpace(jr.Explanation) == "" {
		return req, badRequest("explanation is required")
	}
	if jr.IsCombo && len(jr.ComboCards) == 0 {
		return req, badRequest("comboCards are required for a combo play")
	}
	req.PlayerID = playerID
	req.CardType = strings.TrimSpace(jr.CardType)
	req.CardData = jr.CardData
	req.Explanation = jr.Explanation
	req.IsCombo = jr.IsCombo
	req.ComboCards = jr.ComboCards
	return req, nil
}

// JudgeHandler serves POST /api/judge: it authenticates the caller, claims the
// idempotency key when one is sent, judges the move and plays any AI turns that
// follow.
func JudgeHandler(logger logrus.FieldLogger, j *judge.Judge, st store.Store, res *auth.Resolver, dd cache.Deduper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller, err := res.Resolve(r)
		if err != nil {
			writeError(w, logger, err, nil)
			return
		}

		var body judgeRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, logger, err, nil)
			return
		}
		req, err := body.toPlay()
		if err != nil {
			writeError(w, logger, err, nil)
			return
		}
		fields := logrus.Fields{"game": req.GameID, "player": req.Actor()}

		if req.AutoPlayForPlayer == nil {
			if err := authorizePlayer(r, st, caller, req.GameID, req.PlayerID); err != nil {
				writeError(w, logger, err, fields)
				return
			}
		}

		var key string
		if body.RequestID != "" {
			key = cache.MoveKey(req.GameID.String(), body.RequestID)
			ok, err := dd.Claim(ctx, key)
			if err != nil {
				writeError(w, logger, fmt.Errorf("claim request id: %w", err), fields)
				return
			}
			if !ok {
				writeError(w, logger, errDuplicate, fields)
				return
			}
		}

		// Play fails only before its move commits; AI turn failures are absorbed.
		result, err := j.Play(ctx, req)
		if err != nil {
			if key != "" {
				if rerr := dd.Release(context.WithoutCancel(ctx), key); rerr != nil {
					logger.WithError(rerr).WithFields(fields).Warn("failed to release request id")
				}
			}
			writeError(w, logger, err, fields)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// authorizePlayer fails unless caller may act for playerID in gameID.
func authorizePlayer(r *http.Request, st store.Store, caller auth.Caller, gameID, playerID uuid.UUID) error {
	players, err := st.ListPlayers(r.Context(), gameID)
	if err != nil {
		return fmt.Errorf("list players: %w", err)
	}
	for _, p := range players {
		if p.ID == playerID {
			if !caller.CanActFor(p) {
				return auth.ErrForbidden
			}
			return nil
		}
	}
	return fmt.Errorf("player %s: %w", playerID, store.ErrNotFound)
}
