package judge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/models"
)

// contextSummary renders the recent moves oldest first. recent is newest first,
// as the store returns it.
func contextSummary(recent []*models.Move, players []*models.Player) string {
	if len(recent) == 0 {
		return "No moves have been played yet."
	}
	names := make(map[uuid.UUID]string, len(players))
	for _, p := range players {
		names[p.ID] = p.DisplayName
	}
	var b strings.Builder
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		name := names[m.PlayerID]
		if name == "" {
			name = "a former player"
		}
		fmt.Fprintf(&b, "Move %d by %s: %s %q, %s (%d points).",
			m.MoveNumber, name, m.CardType, models.CardLabel(m.CardData), m.Verdict, m.Points)
		if e := oneLine(m.Explanation); e != "" {
			b.WriteString(" " + e)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func judgeUserPrompt(topic, cardType string, cardData json.RawMessage, isCombo bool, combo []json.RawMessage, explanation, summary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Study topic: %s\n", topic)
	fmt.Fprintf(&b, "Card played: %s %q\n", cardType, models.CardLabel(cardData))
	if isCombo && len(combo) > 0 {
		labels := make([]string, 0, len(combo))
		for _, c := range combo {
			labels = append(labels, models.CardLabel(c))
		}
		fmt.Fprintf(&b, "Combo with: %s\n", strings.Join(labels, ", "))
	}
	fmt.Fprintf(&b, "Player's explanation: %s\n", explanation)
	fmt.Fprintf(&b, "\nRecent moves:\n%s\n", summary)
	return b.String()
}

func autoPlayUserPrompt(topic, cardType string, cardData json.RawMessage, summary string) string {
	return fmt.Sprintf("Study topic: %s\nYour card: %s %q\n\nRecent moves:\n%s\n",
		topic, cardType, models.CardLabel(cardData), summary)
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 160 {
		s = string(r[:157]) + "..."
	}
	return s
}
