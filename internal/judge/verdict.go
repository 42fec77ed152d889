package judge

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/phototheology/palace/internal/models"
)

// FallbackFeedback is returned when the model's reply cannot be read.
const FallbackFeedback = "The judge's reply could not be read, so this play counts as partial with no points."

// bonusIncrements are added to the base score for each awarded bonus flag.
var bonusIncrements = map[string]int{
	"combo_play":      4,
	"deep_insight":    2,
	"cross_reference": 2,
	"christ_centered": 3,
	"sanctuary_link":  3,
	"prophetic_link":  3,
}

// Outcome is a judged verdict. Fallback is set when the reply was unusable and
// the default partial verdict was substituted.
type Outcome struct {
	Verdict  models.Verdict
	Feedback string
	Points   int
	Bonuses  models.Bonuses
	Fallback bool
}

func fallbackOutcome() Outcome {
	return Outcome{Verdict: models.VerdictPartial, Feedback: FallbackFeedback, Fallback: true}
}

// BonusValue is the increment for one bonus key, 0 for unknown keys.
func BonusValue(key string) int {
	return bonusIncrements[key]
}

// BonusPoints sums the increments for every true flag.
func BonusPoints(b models.Bonuses) int {
	total := 0
	for key, on := range bonusFlags(b) {
		if on {
			total += bonusIncrements[key]
		}
	}
	return total
}

func bonusFlags(b models.Bonuses) map[string]bool {
	return map[string]bool{
		"combo_play":      b.ComboPlay,
		"deep_insight":    b.DeepInsight,
		"cross_reference": b.CrossReference,
		"christ_centered": b.ChristCentered,
		"sanctuary_link":  b.SanctuaryLink,
		"prophetic_link":  b.PropheticLink,
	}
}

// Total is the score awarded for the move. Rejected plays never score.
func (o Outcome) Total() int {
	if o.Verdict == models.VerdictRejected {
		return 0
	}
	return o.Points + BonusPoints(o.Bonuses)
}

type rawReply struct {
	Verdict  string         `json:"verdict"`
	Feedback string         `json:"feedback"`
	Points   json.Number    `json:"points"`
	Bonuses  map[string]any `json:"bonuses"`
}

// ParseOutcome reads the model's JSON reply. It never fails: anything it cannot
// make sense of becomes the fallback outcome.
func ParseOutcome(reply string) Outcome {
	body := extractJSON(reply)
	if body == "" {
		return fallbackOutcome()
	}
	var raw rawReply
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return fallbackOutcome()
	}
	verdict, ok := models.ParseVerdict(strings.ToLower(strings.TrimSpace(raw.Verdict)))
	if !ok {
		return fallbackOutcome()
	}

	o := Outcome{
		Verdict:  verdict,
		Feedback: strings.TrimSpace(raw.Feedback),
		Points:   parsePoints(raw.Points),
		Bonuses:  parseBonuses(raw.Bonuses),
	}
	if verdict == models.VerdictRejected {
		o.Points = 0
		o.Bonuses = models.Bonuses{}
	}
	return o
}

// extractJSON strips markdown fences and any prose around the outermost object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func parsePoints(n json.Number) int {
	if n == "" {
		return 0
	}
	var p int
	if i, err := n.Int64(); err == nil {
		p = int(i)
	} else if f, err := n.Float64(); err == nil {
		p = int(math.Round(f))
	}
	if p < 0 {
		return 0
	}
	return p
}

func parseBonuses(m map[string]any) models.Bonuses {
	on := func(key string) bool {
		switch v := m[key].(type) {
		case bool:
			return v
		case string:
			return strings.EqualFold(v, "true")
		}
		return false
	}
	return models.Bonuses{
		ComboPlay:      on("combo_play"),
		DeepInsight:    on("deep_insight"),
		CrossReference: on("cross_reference"),
		ChristCentered: on("christ_centered"),
		SanctuaryLink:  on("sanctuary_link"),
		PropheticLink:  on("prophetic_link"),
	}
}
