package models

import (
	"strings"

	"github.com/google/uuid"
)

// AIPlayerMarker is the display-name fragment that identifies an AI-controlled player.
const AIPlayerMarker = "jeeves"

type Player struct {
	ID                    uuid.UUID  `json:"id" db:"id"`
	GameID                uuid.UUID  `json:"game_id" db:"game_id"`
	UserID                *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	DisplayName           string     `json:"display_name" db:"display_name"`
	JoinOrder             int        `json:"join_order" db:"join_order"`
	CardsRemaining        int        `json:"cards_remaining" db:"cards_remaining"`
	Score                 int        `json:"score" db:"score"`
	ConsecutiveRejections int        `json:"consecutive_rejections" db:"consecutive_rejections"`
	SkipNextTurn          bool       `json:"skip_next_turn" db:"skip_next_turn"`
}

// IsAI reports whether the player is one of the Jeeves personas.
func (p *Player) IsAI() bool {
	return strings.Contains(strings.ToLower(p.DisplayName), AIPlayerMarker)
}

// ControlledBy reports whether userID may act for this player. Players without a
// linked account are open to any authenticated user.
func (p *Player) ControlledBy(userID uuid.UUID) bool {
	return p.UserID == nil || *p.UserID == userID
}
