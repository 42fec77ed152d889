// Package rubric holds the scoring rubric the judge hands to the model. The
// correctness rules are opaque business content and are passed through verbatim.
package rubric

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BonusKeys are the bonus flags the judge understands, in reply-schema order.
var BonusKeys = []string{
	"combo_play",
	"deep_insight",
	"cross_reference",
	"christ_centered",
	"sanctuary_link",
	"prophetic_link",
}

type Criterion struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type Bonus struct {
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
}

// Rubric is the judge's system prompt material.
type Rubric struct {
	Version       string      `yaml:"version"`
	Persona       string      `yaml:"persona"`
	Criteria      []Criterion `yaml:"criteria"`
	Rules         []string    `yaml:"rules"`
	Bonuses       []Bonus     `yaml:"bonuses"`
	MaxBasePoints int         `yaml:"max_base_points"`
	// AutoPlay is the system prompt used to write an AI player's justification.
	AutoPlay string `yaml:"autoplay"`
}

// Default is the built-in rubric used when no file is configured.
func Default() *Rubric {
	return &Rubric{
		Version: "builtin-1",
		Persona: "You are the judge of the Phototheology Palace card game. Players play study-principle " +
			"cards against a Bible study topic and justify each play in a few sentences.",
		Criteria: []Criterion{
			{"theological soundness", "The explanation is faithful to Scripture and does not distort the text."},
			{"correct application", "The principle on the card is applied the way the palace room defines it."},
			{"meaningful advancement", "The play adds something new to the study instead of repeating earlier moves."},
		},
		Rules: []string{
			"The Story Room retells the narrative; it does not interpret it.",
			"The Observation Room records what the text says before what it means.",
			"The Types Room requires a clear type and antitype; loose resemblance is not enough.",
			"The Sanctuary Room must name a specific article or service of the sanctuary.",
			"Prophecy plays must identify the prophetic period or symbol they rely on.",
			"The Concentration Room keeps Christ at the center of the explanation.",
			"A combo play is only valid when every card in the combo contributes to the same point.",
		},
		Bonuses: []Bonus{
			{"combo_play", "Several cards were combined and every card contributes."},
			{"deep_insight", "The insight goes beyond the surface reading."},
			{"cross_reference", "Other passages are cited correctly in support."},
			{"christ_centered", "The explanation points clearly to Christ."},
			{"sanctuary_link", "The play connects the topic to the sanctuary."},
			{"prophetic_link", "The play connects the topic to prophecy."},
		},
		MaxBasePoints: 10,
		AutoPlay: "You are Jeeves, a thoughtful Bible study companion playing the Phototheology Palace card " +
			"game. Write a two or three sentence justification for playing the given card on the study topic. " +
			"Build on the recent moves. Reply with the justification only.",
	}
}

// Load reads a rubric from a YAML file. Fields missing from the file keep their
// built-in values.
func Load(path string) (*Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rubric: %w", err)
	}
	r := Default()
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to parse rubric %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rubric %s: %w", path, err)
	}
	return r, nil
}

func (r *Rubric) Validate() error {
	if len(r.Criteria) == 0 {
		return fmt.Errorf("at least one criterion is required")
	}
	if r.MaxBasePoints <= 0 {
		return fmt.Errorf("max_base_points must be positive")
	}
	known := make(map[string]bool, len(BonusKeys))
	for _, k := range BonusKeys {
		known[k] = true
	}
	for _, b := range r.Bonuses {
		if !known[b.Key] {
			return fmt.Errorf("unknown bonus %q", b.Key)
		}
	}
	return nil
}

// SystemPrompt renders the judging system prompt, ending with the reply schema.
func (r *Rubric) SystemPrompt() string {
	var b strings.Builder
	b.WriteString(r.Persona)
	b.WriteString("\n\nJudge the play on these criteria:\n")
	for i, c := range r.Criteria {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, c.Name, c.Description)
	}
	if len(r.Rules) > 0 {
		b.WriteString("\nApply these palace rules exactly:\n")
		for _, rule := range r.Rules {
			fmt.Fprintf(&b, "- %s\n", rule)
		}
	}
	b.WriteString("\nAward a bonus flag only when it clearly applies:\n")
	for _, bonus := range r.Bonuses {
		fmt.Fprintf(&b, "- %s: %s\n", bonus.Key, bonus.Description)
	}
	fmt.Fprintf(&b, "\nVerdict is \"approved\" when all criteria are met, \"partial\" when some are, "+
		"\"rejected\" when the play is wrong. Points are the base score from 0 to %d, without bonuses.\n",
		r.MaxBasePoints)
	b.WriteString("\nReply with a single JSON object and nothing else:\n")
	b.WriteString(`{"verdict": "approved" | "partial" | "rejected", "feedback": string, "points": integer, "bonuses": {`)
	for i, k := range BonusKeys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: boolean", k)
	}
	b.WriteString("}}\n")
	return b.String()
}
