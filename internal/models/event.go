package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MoveEvent is published after every judged move. The feed strips Transcript
// before sending it to spectators; the historian persists it.
type MoveEvent struct {
	GameID       uuid.UUID       `json:"game_id"`
	PlayerID     uuid.UUID       `json:"player_id"`
	PlayerName   string          `json:"player_name"`
	MoveNumber   int             `json:"move_number"`
	CardType     string          `json:"card_type"`
	CardData     json.RawMessage `json:"card_data"`
	Verdict      Verdict         `json:"verdict"`
	Points       int             `json:"points"`
	AutoPlayed   bool            `json:"auto_played"`
	NextPlayerID *uuid.UUID      `json:"next_player_id,omitempty"`
	GameStatus   GameStatus      `json:"game_status"`
	Timestamp    int64           `json:"timestamp"`

	Transcript *Transcript `json:"transcript,omitempty"`
}

// Transcript is the exchange with the model that produced a verdict.
type Transcript struct {
	Model        string        `json:"model"`
	SystemPrompt string        `json:"system_prompt"`
	UserPrompt   string        `json:"user_prompt"`
	RawReply     string        `json:"raw_reply"`
	Fallback     bool          `json:"fallback"`
	Latency      time.Duration `json:"latency"`
}
