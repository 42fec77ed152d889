// Package feed fans judged moves out to spectators of a game.
package feed

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the per-subscriber queue length. A subscriber that falls
// further behind loses events rather than stalling the judge.
const DefaultBuffer = 32

type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[*Subscription]struct{}
	buffer int
	log    logrus.FieldLogger
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		subs:   make(map[uuid.UUID]map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		log:    logger,
	}
}

// Subscription receives the events of one game until Close.
type Subscription struct {
	GameID uuid.UUID
	C      <-chan models.MoveEvent

	ch   chan models.MoveEvent
	hub  *Hub
	once sync.Once
}

func (h *Hub) Subscribe(gameID uuid.UUID) *Subscription {
	ch := make(chan models.MoveEvent, h.buffer)
	s := &Subscription{GameID: gameID, C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[gameID] == nil {
		h.subs[gameID] = make(map[*Subscription]struct{})
	}
	h.subs[gameID][s] = struct{}{}
	return s
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if set := h.subs[s.GameID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.GameID)
			}
		}
		close(s.ch)
	})
}

// Subscribers reports how many subscriptions gameID has.
func (h *Hub) Subscribers(gameID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[gameID])
}

// Publish delivers ev to every subscriber of its game without the judge transcript.
// It never blocks.
func (h *Hub) Publish(_ context.Context, ev models.MoveEvent) error {
	ev.Transcript = nil

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[ev.GameID] {
		select {
		case s.ch <- ev:
		default:
			h.log.WithFields(logrus.Fields{"game": ev.GameID, "move": ev.MoveNumber}).
				Warn("feed subscriber is behind, dropping event")
		}
	}
	return nil
}
