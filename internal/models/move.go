// internal/models/move.go
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Verdict is the judge's categorical outcome for a card play.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictPartial  Verdict = "partial"
	VerdictRejected Verdict = "rejected"
)

// ParseVerdict maps model output onto a known verdict.
func ParseVerdict(s string) (Verdict, bool) {
	switch Verdict(s) {
	case VerdictApproved, VerdictPartial, VerdictRejected:
		return Verdict(s), true
	}
	return "", false
}

// Bonuses are the independent bonus flags the judge may award on top of the base score.
type Bonuses struct {
	ComboPlay      bool `json:"combo_play"`
	DeepInsight    bool `json:"deep_insight"`
	CrossReference bool `json:"cross_reference"`
	ChristCentered bool `json:"christ_centered"`
	SanctuaryLink  bool `json:"sanctuary_link"`
	PropheticLink  bool `json:"prophetic_link"`
}

// Move is one row of the append-only move ledger.
type Move struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	GameID      uuid.UUID         `json:"game_id" db:"game_id"`
	PlayerID    uuid.UUID         `json:"player_id" db:"player_id"`
	MoveNumber  int               `json:"move_number" db:"move_number"`
	CardType    string            `json:"card_type" db:"card_type"`
	CardData    json.RawMessage   `json:"card_data" db:"card_data"`
	Explanation string            `json:"explanation" db:"explanation"`
	Verdict     Verdict           `json:"verdict" db:"verdict"`
	Feedback    string            `json:"feedback" db:"feedback"`
	Points      int               `json:"points" db:"points"`
	Bonuses     Bonuses           `json:"bonuses" db:"-"`
	IsCombo     bool              `json:"is_combo" db:"is_combo"`
	ComboCards  []json.RawMessage `json:"combo_cards" db:"-"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}
