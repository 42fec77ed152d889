package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CardDraw is a card in a player's hand. Played cards stay in the table with Played set.
type CardDraw struct {
	ID       uuid.UUID       `json:"id" db:"id"`
	GameID   uuid.UUID       `json:"game_id" db:"game_id"`
	PlayerID uuid.UUID       `json:"player_id" db:"player_id"`
	CardType string          `json:"card_type" db:"card_type"`
	CardData json.RawMessage `json:"card_data" db:"card_data"`
	Played   bool            `json:"played" db:"played"`
	DrawnAt  time.Time       `json:"drawn_at" db:"drawn_at"`
}

// CardLabel renders an opaque card payload for prompts and summaries. JSON strings
// are unquoted, objects with a single string field collapse to that value, and
// anything else is returned as compact JSON.
func CardLabel(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err == nil && len(obj) == 1 {
		for _, v := range obj {
			if str, ok := v.(string); ok {
				return str
			}
		}
	}
	return strings.TrimSpace(string(data))
}

// SameCard compares two payloads by their rendered label, so `"Story Room"` and
// `{"principle":"Story Room"}` refer to the same card.
func SameCard(a, b json.RawMessage) bool {
	return CardLabel(a) == CardLabel(b)
}

// NormalizePayload returns "null" for an empty payload so it can be stored as JSON.
func NormalizePayload(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage("null")
	}
	return data
}
