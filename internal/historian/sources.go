package historian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phototheology/palace/internal/database"
	"github.com/phototheology/palace/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisQueue pops from the list the server's cache.Publisher pushes to.
type RedisQueue struct {
	Rdb  *redis.Client
	Name string
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.Rdb.BLPop(ctx, timeout, q.Name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	// res[0] is the list name and res[1] the payload
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// RedisDeadLetter pushes given-up events to a side list, in the queue's format.
type RedisDeadLetter struct {
	Rdb  *redis.Client
	Name string
}

func (d *RedisDeadLetter) Bury(ctx context.Context, events []models.MoveEvent) error {
	payloads := make([]any, 0, len(events))
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode move %d of %s: %w", ev.MoveNumber, ev.GameID, err)
		}
		payloads = append(payloads, b)
	}
	return d.Rdb.RPush(ctx, d.Name, payloads...).Err()
}

// PostgresSink writes to the judge_transcripts and games tables.
type PostgresSink struct {
	Pool *pgxpool.Pool
}

func (s *PostgresSink) SaveTranscripts(ctx context.Context, events []models.MoveEvent) error {
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, ev := range events {
			if err := database.InsertTranscriptTx(ctx, tx, ev); err != nil {
				return fmt.Errorf("insert transcript for move %d of %s: %w", ev.MoveNumber, ev.GameID, err)
			}
		}
		return nil
	})
}

func (s *PostgresSink) MarkAbandoned(ctx context.Context, gameID uuid.UUID) (bool, error) {
	var changed bool
	err := pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var err error
		changed, err = database.MarkGameAbandonedTx(ctx, tx, gameID)
		return err
	})
	return changed, err
}
