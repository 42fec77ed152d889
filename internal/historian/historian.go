// Package historian persists judge transcripts from the move queue and retires
// games nobody has played in for a while.
package historian

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Queue yields raw move events. Pop returns nil, nil when nothing arrived
// within timeout.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// Sink is where the historian writes.
type Sink interface {
	// SaveTranscripts stores a batch in one transaction. Events already stored are skipped.
	SaveTranscripts(ctx context.Context, events []models.MoveEvent) error
	// MarkAbandoned flips an active game to abandoned and reports whether it changed.
	MarkAbandoned(ctx context.Context, gameID uuid.UUID) (bool, error)
}

// DeadLetter keeps batches the sink gave up on so they can be replayed by hand.
type DeadLetter interface {
	Bury(ctx context.Context, events []models.MoveEvent) error
}

type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	// Inactivity is how long a game may go without a move before it is abandoned.
	Inactivity time.Duration
	// CheckEvery is the inactivity scan period. Defaults to a minute.
	CheckEvery time.Duration
	// MaxFlushAttempts caps how often one batch is written before it goes to
	// DeadLetter. Defaults to 5.
	MaxFlushAttempts int
	// DeadLetter is optional; without it dropped events are only logged.
	DeadLetter DeadLetter
	Logger     logrus.FieldLogger
}

type Service struct {
	queue Queue
	sink  Sink
	opts  Options
	log   logrus.FieldLogger
	now   func() time.Time

	mu        sync.Mutex
	batch     []models.MoveEvent
	lastFlush time.Time
	failures  int

	activityMu   sync.Mutex
	lastActivity map[uuid.UUID]time.Time
}

func New(q Queue, sink Sink, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	if opts.CheckEvery <= 0 {
		opts.CheckEvery = time.Minute
	}
	if opts.MaxFlushAttempts <= 0 {
		opts.MaxFlushAttempts = 5
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Service{
		queue:        q,
		sink:         sink,
		opts:         opts,
		log:          opts.Logger,
		now:          time.Now,
		lastActivity: make(map[uuid.UUID]time.Time),
	}
}

// popTimeout is the smallest BLPOP timeout Redis honours.
const popTimeout = time.Second

// Run reads the queue and scans for inactive games until ctx ends. Whatever is
// still batched is flushed before it returns.
func (s *Service) Run(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{
		"batch_size": s.opts.BatchSize,
		"flush":      s.opts.FlushInterval,
		"inactivity": s.opts.Inactivity,
	}).Info("historian started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	if s.opts.Inactivity > 0 {
		g.Go(func() error { return s.inactivityLoop(gctx) })
	}
	err := g.Wait()

	// the run context is done; give the last flush its own deadline
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if ferr := s.Flush(flushCtx); ferr != nil {
		s.log.WithError(ferr).Error("final flush failed")
	}
	s.log.Info("historian shutting down")
	return err
}

func (s *Service) readLoop(ctx context.Context) error {
	s.mu.Lock()
	s.lastFlush = s.now()
	s.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, err := s.queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Error("queue pop failed")
			// back off briefly so a dead connection does not spin
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(popTimeout):
			}
			continue
		}
		if payload != nil {
			s.Handle(payload)
		}
		if s.flushDue() {
			if err := s.Flush(ctx); err != nil {
				s.log.WithError(err).Error("flush failed")
			}
		}
	}
}

// Handle decodes one queued event, records the game's activity and batches it.
// Malformed payloads are logged and dropped.
func (s *Service) Handle(payload []byte) {
	var ev models.MoveEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.log.WithError(err).Warn("invalid move event")
		return
	}

	s.activityMu.Lock()
	if ev.GameStatus == models.GameActive {
		s.lastActivity[ev.GameID] = s.now()
	} else {
		delete(s.lastActivity, ev.GameID)
	}
	s.activityMu.Unlock()

	s.mu.Lock()
	s.batch = append(s.batch, ev)
	s.mu.Unlock()
}

func (s *Service) flushDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batch) == 0 {
		return false
	}
	return len(s.batch) >= s.opts.BatchSize || s.now().Sub(s.lastFlush) >= s.opts.FlushInterval
}

// Flush writes the current batch. On failure the events are kept for the next
// flush, until MaxFlushAttempts failures in a row send them to the dead letter.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.batch
	s.batch = nil
	s.lastFlush = s.now()
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := s.sink.SaveTranscripts(ctx, batch); err != nil {
		s.mu.Lock()
		s.failures++
		attempts := s.failures
		giveUp := attempts >= s.opts.MaxFlushAttempts
		if giveUp {
			s.failures = 0
		} else {
			s.batch = append(batch, s.batch...)
		}
		s.mu.Unlock()

		if giveUp {
			s.bury(ctx, batch)
			return fmt.Errorf("dropped %d transcripts after %d attempts: %w", len(batch), attempts, err)
		}
		return fmt.Errorf("save %d transcripts: %w", len(batch), err)
	}

	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
	s.log.Debugf("flushed %d transcripts", len(batch))
	return nil
}

func (s *Service) bury(ctx context.Context, batch []models.MoveEvent) {
	if s.opts.DeadLetter != nil {
		err := s.opts.DeadLetter.Bury(ctx, batch)
		if err == nil {
			s.log.Warnf("moved %d transcripts to the dead letter queue", len(batch))
			return
		}
		s.log.WithError(err).Error("dead letter write failed")
	}
	for _, ev := range batch {
		s.log.WithFields(logrus.Fields{"game": ev.GameID, "move": ev.MoveNumber}).
			Error("transcript dropped")
	}
}

func (s *Service) inactivityLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.CheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepInactive(ctx)
		}
	}
}

// SweepInactive abandons every tracked game idle for longer than the inactivity
// timeout and stops tracking it.
func (s *Service) SweepInactive(ctx context.Context) {
	cutoff := s.now().Add(-s.opts.Inactivity)

	s.activityMu.Lock()
	var stale []uuid.UUID
	for id, last := range s.lastActivity {
		if last.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.activityMu.Unlock()

	for _, id := range stale {
		changed, err := s.sink.MarkAbandoned(ctx, id)
		if err != nil {
			s.log.WithField("game", id).WithError(err).Error("failed to mark game abandoned")
			continue
		}
		s.activityMu.Lock()
		delete(s.lastActivity, id)
		s.activityMu.Unlock()
		if changed {
			s.log.WithField("game", id).Info("marked game abandoned after inactivity")
		}
	}
}

// Tracked reports how many games are being watched for inactivity.
func (s *Service) Tracked() int {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	return len(s.lastActivity)
}
