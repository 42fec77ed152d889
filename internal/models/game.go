// internal/models/game.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// GameMode decides whether AI opponents take turns in a game.
type GameMode string

const (
	ModeOneVsJeeves    GameMode = "1v1-jeeves"
	ModeTeamVsJeeves   GameMode = "team-vs-jeeves"
	ModeJeevesVsJeeves GameMode = "jeeves-vs-jeeves"
	ModeHuman          GameMode = "human"
)

// HasAIOpponents reports whether the server plays AI turns on its own in this mode.
func (m GameMode) HasAIOpponents() bool {
	switch m {
	case ModeOneVsJeeves, ModeTeamVsJeeves, ModeJeevesVsJeeves:
		return true
	}
	return false
}

// Valid reports whether m is a known mode.
func (m GameMode) Valid() bool {
	return m == ModeHuman || m.HasAIOpponents()
}

type GameStatus string

const (
	GameActive    GameStatus = "active"
	GameFinished  GameStatus = "finished"
	GameAbandoned GameStatus = "abandoned"
)

// Game is a row of the games table. Games are created elsewhere; the judge only
// moves the turn pointer, sets the winner and touches LastMoveAt.
type Game struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	Topic               string     `json:"topic" db:"topic"`
	Mode                GameMode   `json:"mode" db:"mode"`
	Status              GameStatus `json:"status" db:"status"`
	CurrentTurnPlayerID *uuid.UUID `json:"current_turn_player_id,omitempty" db:"current_turn_player_id"`
	WinnerPlayerID      *uuid.UUID `json:"winner_player_id,omitempty" db:"winner_player_id"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	LastMoveAt          *time.Time `json:"last_move_at,omitempty" db:"last_move_at"`
}

// IsTurnOf reports whether the turn pointer is on playerID.
func (g *Game) IsTurnOf(playerID uuid.UUID) bool {
	return g.CurrentTurnPlayerID != nil && *g.CurrentTurnPlayerID == playerID
}
