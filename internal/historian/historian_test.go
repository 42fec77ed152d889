package historian

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/cache"
	"github.com/phototheology/palace/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type chanQueue struct{ ch chan []byte }

func (q *chanQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return nil, nil
	case b := <-q.ch:
		return b, nil
	}
}

type memSink struct {
	mu        sync.Mutex
	batches   [][]models.MoveEvent
	abandoned []uuid.UUID
	failSave  error
}

func (s *memSink) SaveTranscripts(_ context.Context, events []models.MoveEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.batches = append(s.batches, append([]models.MoveEvent(nil), events...))
	return nil
}

func (s *memSink) MarkAbandoned(_ context.Context, gameID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = append(s.abandoned, gameID)
	return true, nil
}

func (s *memSink) saved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func encode(t *testing.T, ev models.MoveEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func moveEvent(gameID uuid.UUID, n int, status models.GameStatus) models.MoveEvent {
	return models.MoveEvent{
		GameID:     gameID,
		PlayerID:   uuid.New(),
		MoveNumber: n,
		Verdict:    models.VerdictApproved,
		GameStatus: status,
		Transcript: &models.Transcript{Model: "google/gemini-2.5-flash", RawReply: `{"verdict":"approved"}`},
	}
}

func TestRunBatchesAndFlushesOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := &chanQueue{ch: make(chan []byte, 10)}
	sink := &memSink{}
	s := New(q, sink, Options{BatchSize: 2, FlushInterval: time.Hour, Logger: quiet()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	game := uuid.New()
	for i := 1; i <= 3; i++ {
		q.ch <- encode(t, moveEvent(game, i, models.GameActive))
	}
	require.Eventually(t, func() bool { return sink.saved() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 3, sink.saved(), "the partial batch is flushed on shutdown")
	assert.Len(t, sink.batches, 2)
	assert.Equal(t, 3, sink.batches[1][0].MoveNumber)
}

func TestHandleDropsMalformed(t *testing.T) {
	s := New(&chanQueue{}, &memSink{}, Options{Logger: quiet()})
	s.Handle([]byte("not json"))
	s.Handle(encode(t, moveEvent(uuid.New(), 1, models.GameActive)))
	assert.Len(t, s.batch, 1)
}

func TestFlushKeepsBatchOnFailure(t *testing.T) {
	sink := &memSink{failSave: errors.New("connection refused")}
	s := New(&chanQueue{}, sink, Options{Logger: quiet()})
	s.Handle(encode(t, moveEvent(uuid.New(), 1, models.GameActive)))
	s.Handle(encode(t, moveEvent(uuid.New(), 1, models.GameActive)))

	err := s.Flush(context.Background())
	require.Error(t, err)
	assert.Len(t, s.batch, 2)

	sink.failSave = nil
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 2, sink.saved())
	assert.Empty(t, s.batch)
}

type memDeadLetter struct {
	buried []models.MoveEvent
}

func (d *memDeadLetter) Bury(_ context.Context, events []models.MoveEvent) error {
	d.buried = append(d.buried, events...)
	return nil
}

func TestFlushDeadLettersAfterMaxAttempts(t *testing.T) {
	sink := &memSink{failSave: errors.New("invalid input syntax for type json")}
	dead := &memDeadLetter{}
	s := New(&chanQueue{}, sink, Options{MaxFlushAttempts: 3, DeadLetter: dead, Logger: quiet()})
	s.Handle(encode(t, moveEvent(uuid.New(), 1, models.GameActive)))

	for attempt := 1; attempt < 3; attempt++ {
		require.Error(t, s.Flush(context.Background()))
		assert.Len(t, s.batch, 1, "attempt %d keeps the batch", attempt)
		assert.Empty(t, dead.buried)
	}

	// an event arriving between flushes rides along with the failing batch
	s.Handle(encode(t, moveEvent(uuid.New(), 1, models.GameActive)))
	err := s.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dropped 2 transcripts after 3 attempts")
	assert.Empty(t, s.batch)
	assert.Len(t, dead.buried, 2)

	// the counter starts over for the next batch
	sink.failSave = nil
	s.Handle(encode(t, moveEvent(uuid.New(), 1, models.GameActive)))
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 1, sink.saved())
}

func TestSweepInactive(t *testing.T) {
	sink := &memSink{}
	s := New(&chanQueue{}, sink, Options{Inactivity: 10 * time.Minute, Logger: quiet()})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	idle, busy, done := uuid.New(), uuid.New(), uuid.New()
	s.Handle(encode(t, moveEvent(idle, 1, models.GameActive)))
	s.Handle(encode(t, moveEvent(done, 1, models.GameActive)))
	s.Handle(encode(t, moveEvent(done, 2, models.GameFinished)))
	assert.Equal(t, 1, s.Tracked(), "finished games are not watched")

	clock = clock.Add(8 * time.Minute)
	s.Handle(encode(t, moveEvent(busy, 1, models.GameActive)))

	clock = clock.Add(3 * time.Minute)
	s.SweepInactive(context.Background())
	assert.Equal(t, []uuid.UUID{idle}, sink.abandoned)
	assert.Equal(t, 1, s.Tracked())

	s.SweepInactive(context.Background())
	assert.Len(t, sink.abandoned, 1, "an abandoned game is only marked once")
}

// TestRedisQueueRoundTrip needs a live Redis; set REDIS_ADDR to run it.
func TestRedisQueueRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := cache.Connect(ctx, addr, 0)
	require.NoError(t, err)
	defer rdb.Close()

	name := "palace_moves_test_" + uuid.NewString()
	defer rdb.Del(ctx, name)
	pub := cache.NewPublisher(rdb, name)
	ev := moveEvent(uuid.New(), 4, models.GameActive)
	require.NoError(t, pub.Publish(ctx, ev))

	q := &RedisQueue{Rdb: rdb, Name: name}
	payload, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	var got models.MoveEvent
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, ev.GameID, got.GameID)
	require.NotNil(t, got.Transcript, "the queue carries the transcript")

	payload, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, payload)

	dead := &RedisDeadLetter{Rdb: rdb, Name: name + "_dead"}
	defer rdb.Del(ctx, dead.Name)
	require.NoError(t, dead.Bury(ctx, []models.MoveEvent{ev}))
	payload, err = (&RedisQueue{Rdb: rdb, Name: dead.Name}).Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, ev.MoveNumber, got.MoveNumber)
}
