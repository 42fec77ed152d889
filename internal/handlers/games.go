package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/auth"
	"github.com/phototheology/palace/internal/judge"
	"github.com/phototheology/palace/internal/models"
	"github.com/phototheology/palace/internal/store"
	"github.com/sirupsen/logrus"
)

// gameState is the GET /api/games/{gameID} response.
type gameState struct {
	Game    *models.Game     `json:"game"`
	Players []*models.Player `json:"players"`
}

func gameIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "gameID"))
	if err != nil {
		return uuid.Nil, badRequest("invalid game id")
	}
	return id, nil
}

// GameStateHandler serves GET /api/games/{gameID}.
func GameStateHandler(logger logrus.FieldLogger, st store.Store, res *auth.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := res.Resolve(r); err != nil {
			writeError(w, logger, err, nil)
			return
		}
		gameID, err := gameIDParam(r)
		if err != nil {
			writeError(w, logger, err, nil)
			return
		}
		g, err := st.GetGame(r.Context(), gameID)
		if err != nil {
			writeError(w, logger, err, logrus.Fields{"game": gameID})
			return
		}
		players, err := st.ListPlayers(r.Context(), gameID)
		if err != nil {
			writeError(w, logger, err, logrus.Fields{"game": gameID})
			return
		}
		writeJSON(w, http.StatusOK, gameState{Game: g, Players: players})
	}
}

// MovesHandler serves GET /api/games/{gameID}/moves, the full ledger in order.
func MovesHandler(logger logrus.FieldLogger, st store.Store, res *auth.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := res.Resolve(r); err != nil {
			writeError(w, logger, err, nil)
			return
		}
		gameID, err := gameIDParam(r)
		if err != nil {
			writeError(w, logger, err, nil)
			return
		}
		if _, err := st.GetGame(r.Context(), gameID); err != nil {
			writeError(w, logger, err, logrus.Fields{"game": gameID})
			return
		}
		moves, err := st.ListMoves(r.Context(), gameID)
		if err != nil {
			writeError(w, logger, err, logrus.Fields{"game": gameID})
			return
		}
		writeJSON(w, http.StatusOK, moves)
	}
}

type passRequest struct {
	PlayerID string `json:"playerId"`
}

// PassHandler serves POST /api/games/{gameID}/pass for a player sitting out a
// turn after three rejections.
func PassHandler(logger logrus.FieldLogger, j *judge.Judge, st store.Store, res *auth.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := res.Resolve(r)
		if err != nil {
			writeError(w, logger, err, nil)
			return
		}
		gameID, err := gameIDParam(r)
		if err != nil {
			writeError(w, logger, err, nil)
			return
		}
		var body passRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, logger, err, nil)
			return
		}
		playerID, err := uuid.Parse(body.PlayerID)
		if err != nil {
			writeError(w, logger, badRequest("playerId must be a UUID"), nil)
			return
		}
		fields := logrus.Fields{"game": gameID, "player": playerID}
		if err := authorizePlayer(r, st, caller, gameID, playerID); err != nil {
			writeError(w, logger, err, fields)
			return
		}

		result, err := j.Pass(r.Context(), gameID, playerID)
		if err != nil {
			writeError(w, logger, err, fields)
			return
		}
		logger.WithFields(fields).WithField("ai_moves", len(result.AIMoves)).Info("turn passed")
		writeJSON(w, http.StatusOK, result)
	}
}
