// internal/database/game.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/phototheology/palace/internal/models"
	"github.com/phototheology/palace/internal/store"
)

const gameColumns = `id, topic, mode, status, current_turn_player_id, winner_player_id, created_at, last_move_at`

const playerColumns = `id, game_id, user_id, display_name, join_order,
	cards_remaining, score, consecutive_rejections, skip_next_turn`

const moveColumns = `id, game_id, player_id, move_number, card_type, card_data, explanation,
	verdict, feedback, points, bonuses, is_combo, combo_cards, created_at`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanGame(row pgx.Row) (*models.Game, error) {
	var g models.Game
	err := row.Scan(&g.ID, &g.Topic, &g.Mode, &g.Status, &g.CurrentTurnPlayerID,
		&g.WinnerPlayerID, &g.CreatedAt, &g.LastMoveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanPlayers(rows pgx.Rows) ([]*models.Player, error) {
	defer rows.Close()
	var ps []*models.Player
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.GameID, &p.UserID, &p.DisplayName, &p.JoinOrder,
			&p.CardsRemaining, &p.Score, &p.ConsecutiveRejections, &p.SkipNextTurn); err != nil {
			return nil, err
		}
		ps = append(ps, &p)
	}
	return ps, rows.Err()
}

func scanMoves(rows pgx.Rows) ([]*models.Move, error) {
	defer rows.Close()
	var ms []*models.Move
	for rows.Next() {
		var (
			m          models.Move
			cardData   []byte
			bonuses    []byte
			comboCards []byte
		)
		if err := rows.Scan(&m.ID, &m.GameID, &m.PlayerID, &m.MoveNumber, &m.CardType, &cardData,
			&m.Explanation, &m.Verdict, &m.Feedback, &m.Points, &bonuses, &m.IsCombo,
			&comboCards, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CardData = json.RawMessage(cardData)
		if err := json.Unmarshal(bonuses, &m.Bonuses); err != nil {
			return nil, fmt.Errorf("decode bonuses of move %d: %w", m.MoveNumber, err)
		}
		if err := json.Unmarshal(comboCards, &m.ComboCards); err != nil {
			return nil, fmt.Errorf("decode combo cards of move %d: %w", m.MoveNumber, err)
		}
		ms = append(ms, &m)
	}
	return ms, rows.Err()
}

func (s *Store) GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	q := `SELECT ` + gameColumns + ` FROM games WHERE id = $1`
	return scanGame(s.DB.QueryRow(ctx, q, gameID))
}

func listPlayers(ctx context.Context, db querier, gameID uuid.UUID, lock bool) ([]*models.Player, error) {
	q := `SELECT ` + playerColumns + ` FROM game_players WHERE game_id = $1 ORDER BY join_order, id`
	if lock {
		q += ` FOR UPDATE`
	}
	rows, err := db.Query(ctx, q, gameID)
	if err != nil {
		return nil, err
	}
	return scanPlayers(rows)
}

func (s *Store) ListPlayers(ctx context.Context, gameID uuid.UUID) ([]*models.Player, error) {
	return listPlayers(ctx, s.DB, gameID, false)
}

func (s *Store) RecentMoves(ctx context.Context, gameID uuid.UUID, limit int) ([]*models.Move, error) {
	q := `SELECT ` + moveColumns + ` FROM moves WHERE game_id = $1 ORDER BY move_number DESC LIMIT $2`
	rows, err := s.DB.Query(ctx, q, gameID, limit)
	if err != nil {
		return nil, err
	}
	return scanMoves(rows)
}

func (s *Store) ListMoves(ctx context.Context, gameID uuid.UUID) ([]*models.Move, error) {
	q := `SELECT ` + moveColumns + ` FROM moves WHERE game_id = $1 ORDER BY move_number`
	rows, err := s.DB.Query(ctx, q, gameID)
	if err != nil {
		return nil, err
	}
	return scanMoves(rows)
}

func (s *Store) Hand(ctx context.Context, gameID, playerID uuid.UUID) ([]*models.CardDraw, error) {
	q := `
		SELECT id, game_id, player_id, card_type, card_data, played, drawn_at
		FROM card_draws
		WHERE game_id = $1 AND player_id = $2 AND NOT played
		ORDER BY drawn_at, id
	`
	rows, err := s.DB.Query(ctx, q, gameID, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hand []*models.CardDraw
	for rows.Next() {
		var (
			c    models.CardDraw
			data []byte
		)
		if err := rows.Scan(&c.ID, &c.GameID, &c.PlayerID, &c.CardType, &data, &c.Played, &c.DrawnAt); err != nil {
			return nil, err
		}
		c.CardData = json.RawMessage(data)
		hand = append(hand, &c)
	}
	return hand, rows.Err()
}

// InGameTx locks the game row and its players for the duration of fn.
func (s *Store) InGameTx(ctx context.Context, gameID uuid.UUID, fn func(tx store.GameTx) error) error {
	return pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		g, err := scanGame(tx.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1 FOR UPDATE`, gameID))
		if err != nil {
			return err
		}
		players, err := listPlayers(ctx, tx, gameID, true)
		if err != nil {
			return fmt.Errorf("lock players: %w", err)
		}
		return fn(&gameTx{tx: tx, game: g, players: players})
	})
}

// SeedGame inserts a game with its players and starting hands.
func (s *Store) SeedGame(ctx context.Context, g *models.Game, players []*models.Player, hands []*models.CardDraw) error {
	return pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO games (id, topic, mode, status, current_turn_player_id)
			VALUES ($1, $2, $3, $4, $5)
		`, g.ID, g.Topic, g.Mode, g.Status, g.CurrentTurnPlayerID); err != nil {
			return fmt.Errorf("insert game: %w", err)
		}
		for _, p := range players {
			if _, err := tx.Exec(ctx, `
				INSERT INTO game_players (id, game_id, user_id, display_name, join_order, cards_remaining)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, p.ID, g.ID, p.UserID, p.DisplayName, p.JoinOrder, p.CardsRemaining); err != nil {
				return fmt.Errorf("insert player %s: %w", p.DisplayName, err)
			}
		}
		gt := &gameTx{tx: tx, game: g}
		for _, c := range hands {
			if err := gt.AddCard(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

type gameTx struct {
	tx      pgx.Tx
	game    *models.Game
	players []*models.Player
}

func (t *gameTx) Game() *models.Game        { return t.game }
func (t *gameTx) Players() []*models.Player { return t.players }

func (t *gameTx) NextMoveNumber(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(move_number), 0) + 1 FROM moves WHERE game_id = $1`, t.game.ID).Scan(&n)
	return n, err
}

func (t *gameTx) InsertMove(ctx context.Context, m *models.Move) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.GameID = t.game.ID
	bonuses, err := json.Marshal(m.Bonuses)
	if err != nil {
		return err
	}
	combo := m.ComboCards
	if combo == nil {
		combo = []json.RawMessage{}
	}
	comboCards, err := json.Marshal(combo)
	if err != nil {
		return err
	}
	q := `
		INSERT INTO moves (
			id, game_id, player_id, move_number, card_type, card_data, explanation,
			verdict, feedback, points, bonuses, is_combo, combo_cards
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`
	err = t.tx.QueryRow(ctx, q,
		m.ID, t.game.ID, m.PlayerID, m.MoveNumber, m.CardType, []byte(models.NormalizePayload(m.CardData)),
		m.Explanation, m.Verdict, m.Feedback, m.Points, bonuses, m.IsCombo, comboCards,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert move %d: %w", m.MoveNumber, err)
	}
	return nil
}

func (t *gameTx) UpdatePlayer(ctx context.Context, p *models.Player) error {
	q := `
		UPDATE game_players
		SET cards_remaining = $1, score = $2, consecutive_rejections = $3, skip_next_turn = $4
		WHERE id = $5 AND game_id = $6
	`
	ct, err := t.tx.Exec(ctx, q, p.CardsRemaining, p.Score, p.ConsecutiveRejections, p.SkipNextTurn, p.ID, t.game.ID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *gameTx) UpdateGame(ctx context.Context, g *models.Game) error {
	q := `
		UPDATE games
		SET status = $1, current_turn_player_id = $2, winner_player_id = $3, last_move_at = $4
		WHERE id = $5
	`
	_, err := t.tx.Exec(ctx, q, g.Status, g.CurrentTurnPlayerID, g.WinnerPlayerID, g.LastMoveAt, g.ID)
	if err == nil {
		t.game = g
	}
	return err
}

// ConsumeCard compares payloads by label in Go rather than in SQL, so the same
// matching rules apply to every store.
func (t *gameTx) ConsumeCard(ctx context.Context, playerID uuid.UUID, cardType string, cardData json.RawMessage) (bool, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, card_data FROM card_draws
		WHERE game_id = $1 AND player_id = $2 AND card_type = $3 AND NOT played
		ORDER BY drawn_at, id
	`, t.game.ID, playerID, cardType)
	if err != nil {
		return false, err
	}
	var match uuid.UUID
	for rows.Next() {
		var (
			id   uuid.UUID
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			rows.Close()
			return false, err
		}
		if models.SameCard(data, cardData) {
			match = id
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	if match == uuid.Nil {
		return false, nil
	}
	_, err = t.tx.Exec(ctx, `UPDATE card_draws SET played = true WHERE id = $1`, match)
	return err == nil, err
}

func (t *gameTx) AddCard(ctx context.Context, c *models.CardDraw) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.GameID = t.game.ID
	q := `
		INSERT INTO card_draws (id, game_id, player_id, card_type, card_data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING drawn_at
	`
	return t.tx.QueryRow(ctx, q, c.ID, c.GameID, c.PlayerID, c.CardType, []byte(models.NormalizePayload(c.CardData))).Scan(&c.DrawnAt)
}
