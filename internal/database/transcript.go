package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/phototheology/palace/internal/models"
)

// InsertTranscriptTx stores the judge exchange behind a move. Replays of the same
// event are ignored.
func InsertTranscriptTx(ctx context.Context, tx pgx.Tx, ev models.MoveEvent) error {
	if ev.Transcript == nil {
		return nil
	}
	q := `
		INSERT INTO judge_transcripts (
			game_id, move_number, player_id, model, system_prompt, user_prompt,
			raw_reply, fallback, latency_ms, auto_played
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (game_id, move_number) DO NOTHING
	`
	tr := ev.Transcript
	_, err := tx.Exec(ctx, q,
		ev.GameID, ev.MoveNumber, ev.PlayerID, tr.Model, tr.SystemPrompt, tr.UserPrompt,
		tr.RawReply, tr.Fallback, tr.Latency.Milliseconds(), ev.AutoPlayed,
	)
	return err
}

// MarkGameAbandonedTx flips an active game to abandoned. It reports whether a row changed.
func MarkGameAbandonedTx(ctx context.Context, tx pgx.Tx, gameID uuid.UUID) (bool, error) {
	ct, err := tx.Exec(ctx, `UPDATE games SET status = 'abandoned' WHERE id = $1 AND status = 'active'`, gameID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
