// Package deck holds the catalogue of principle cards dealt as penalty draws and
// handed to AI players that run out of cards.
package deck

import (
	"encoding/json"
	"math/rand"
	"sync"
	"time"
)

// CardTypePrinciple is the only card type the catalogue deals.
const CardTypePrinciple = "principle"

// Card is a catalogue entry.
type Card struct {
	Type      string
	Principle string
	Floor     int
}

// Payload is the JSON stored in card_draws.card_data for this card.
func (c Card) Payload() json.RawMessage {
	b, _ := json.Marshal(map[string]string{"principle": c.Principle})
	return b
}

// Principles are the palace rooms, floor by floor.
var Principles = []Card{
	{CardTypePrinciple, "Story Room", 1},
	{CardTypePrinciple, "Imagination Room", 1},
	{CardTypePrinciple, "24FPS Room", 1},
	{CardTypePrinciple, "Bible Rendered", 1},
	{CardTypePrinciple, "Translation Room", 1},
	{CardTypePrinciple, "Gems Room", 1},
	{CardTypePrinciple, "Observation Room", 2},
	{CardTypePrinciple, "Def-Com Room", 2},
	{CardTypePrinciple, "Symbols/Types Room", 2},
	{CardTypePrinciple, "Questions Room", 2},
	{CardTypePrinciple, "Q&A Chains Room", 2},
	{CardTypePrinciple, "Nature Freestyle", 3},
	{CardTypePrinciple, "Personal Freestyle", 3},
	{CardTypePrinciple, "Bible Freestyle", 3},
	{CardTypePrinciple, "Time Zone Room", 4},
	{CardTypePrinciple, "Concentration Room", 4},
	{CardTypePrinciple, "Dimensions Room", 4},
	{CardTypePrinciple, "Connect-6 Room", 4},
	{CardTypePrinciple, "Theme Room", 4},
	{CardTypePrinciple, "Fruit Room", 4},
	{CardTypePrinciple, "Blue Room", 5},
	{CardTypePrinciple, "Prophecy Room", 5},
	{CardTypePrinciple, "Three Angels Room", 5},
	{CardTypePrinciple, "Feasts Room", 5},
	{CardTypePrinciple, "Patterns Room", 6},
	{CardTypePrinciple, "Parallels Room", 6},
	{CardTypePrinciple, "Cycles Room", 6},
}

// Dealer picks random catalogue cards. It is safe for concurrent use.
type Dealer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDealer returns a Dealer using rng, or a time-seeded source when rng is nil.
func NewDealer(rng *rand.Rand) *Dealer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Dealer{rng: rng}
}

// Draw returns a random principle card.
func (d *Dealer) Draw() Card {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Principles[d.rng.Intn(len(Principles))]
}
