// Package sqlite is a single-file store.Store for local play and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/phototheology/palace/internal/models"
	"github.com/phototheology/palace/internal/store"
	"github.com/sirupsen/logrus"
)

var schema = `CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE COLLATE NOCASE,
  password TEXT NOT NULL,
  username TEXT NOT NULL,
  created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS games (
  id TEXT PRIMARY KEY,
  topic TEXT NOT NULL DEFAULT '',
  mode TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  current_turn_player_id TEXT,
  winner_player_id TEXT,
  created_at DATETIME NOT NULL,
  last_move_at DATETIME
);

CREATE TABLE IF NOT EXISTS game_players (
  id TEXT PRIMARY KEY,
  game_id TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
  user_id TEXT,
  display_name TEXT NOT NULL,
  join_order INTEGER NOT NULL,
  cards_remaining INTEGER NOT NULL DEFAULT 0 CHECK (cards_remaining >= 0),
  score INTEGER NOT NULL DEFAULT 0,
  consecutive_rejections INTEGER NOT NULL DEFAULT 0,
  skip_next_turn BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS card_draws (
  id TEXT PRIMARY KEY,
  game_id TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
  player_id TEXT NOT NULL REFERENCES game_players(id) ON DELETE CASCADE,
  card_type TEXT NOT NULL,
  card_data BLOB NOT NULL,
  played BOOLEAN NOT NULL DEFAULT 0,
  drawn_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS moves (
  id TEXT PRIMARY KEY,
  game_id TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
  player_id TEXT NOT NULL REFERENCES game_players(id) ON DELETE CASCADE,
  move_number INTEGER NOT NULL,
  card_type TEXT NOT NULL,
  card_data BLOB NOT NULL,
  explanation TEXT NOT NULL DEFAULT '',
  verdict TEXT NOT NULL,
  feedback TEXT NOT NULL DEFAULT '',
  points INTEGER NOT NULL DEFAULT 0,
  bonuses BLOB NOT NULL,
  is_combo BOOLEAN NOT NULL DEFAULT 0,
  combo_cards BLOB NOT NULL,
  created_at DATETIME NOT NULL,
  CONSTRAINT unq_move_number UNIQUE (game_id, move_number)
);`

// SqliteStore implements store.Store. SQLite allows one writer at a time, so the
// pool is capped at a single connection and InGameTx holds it for the whole game
// transaction.
type SqliteStore struct {
	Conn   *sqlx.DB
	Logger *logrus.Entry
}

// Open connects to the database file at path and applies the schema.
func Open(path string, logger *logrus.Logger) (*SqliteStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		logger.WithError(err).Error("Database setup failed")
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s := &SqliteStore{Conn: db, Logger: logger.WithField("store", "sqlite")}
	s.Logger.WithField("path", path).Info("Database setup complete")
	return s, nil
}

func (s *SqliteStore) Close() error {
	return s.Conn.Close()
}

type moveRow struct {
	models.Move
	BonusesJSON []byte `db:"bonuses"`
	ComboJSON   []byte `db:"combo_cards"`
}

func (r *moveRow) decode() (*models.Move, error) {
	m := r.Move
	if err := json.Unmarshal(r.BonusesJSON, &m.Bonuses); err != nil {
		return nil, fmt.Errorf("decode bonuses of move %d: %w", m.MoveNumber, err)
	}
	if err := json.Unmarshal(r.ComboJSON, &m.ComboCards); err != nil {
		return nil, fmt.Errorf("decode combo cards of move %d: %w", m.MoveNumber, err)
	}
	return &m, nil
}

func decodeMoves(rows []moveRow) ([]*models.Move, error) {
	out := make([]*models.Move, 0, len(rows))
	for i := range rows {
		m, err := rows[i].decode()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func getGame(ctx context.Context, q sqlx.QueryerContext, gameID uuid.UUID) (*models.Game, error) {
	var g models.Game
	err := sqlx.GetContext(ctx, q, &g, `SELECT * FROM games WHERE id = ?`, gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func listPlayers(ctx context.Context, q sqlx.QueryerContext, gameID uuid.UUID) ([]*models.Player, error) {
	var ps []*models.Player
	err := sqlx.SelectContext(ctx, q, &ps, `SELECT * FROM game_players WHERE game_id = ? ORDER BY join_order, id`, gameID)
	return ps, err
}

func (s *SqliteStore) GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	return getGame(ctx, s.Conn, gameID)
}

func (s *SqliteStore) ListPlayers(ctx context.Context, gameID uuid.UUID) ([]*models.Player, error) {
	return listPlayers(ctx, s.Conn, gameID)
}

func (s *SqliteStore) RecentMoves(ctx context.Context, gameID uuid.UUID, limit int) ([]*models.Move, error) {
	var rows []moveRow
	err := s.Conn.SelectContext(ctx, &rows, `SELECT * FROM moves WHERE game_id = ? ORDER BY move_number DESC LIMIT ?`, gameID, limit)
	if err != nil {
		return nil, err
	}
	return decodeMoves(rows)
}

func (s *SqliteStore) ListMoves(ctx context.Context, gameID uuid.UUID) ([]*models.Move, error) {
	var rows []moveRow
	if err := s.Conn.SelectContext(ctx, &rows, `SELECT * FROM moves WHERE game_id = ? ORDER BY move_number`, gameID); err != nil {
		return nil, err
	}
	return decodeMoves(rows)
}

func (s *SqliteStore) Hand(ctx context.Context, gameID, playerID uuid.UUID) ([]*models.CardDraw, error) {
	var hand []*models.CardDraw
	err := s.Conn.SelectContext(ctx, &hand, `
		SELECT * FROM card_draws
		WHERE game_id = ? AND player_id = ? AND NOT played
		ORDER BY drawn_at, rowid`, gameID, playerID)
	return hand, err
}

func (s *SqliteStore) InGameTx(ctx context.Context, gameID uuid.UUID, fn func(tx store.GameTx) error) (err error) {
	tx, err := s.Conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.Logger.WithError(rbErr).Warn("rollback failed")
			}
		}
	}()

	g, err := getGame(ctx, tx, gameID)
	if err != nil {
		return err
	}
	players, err := listPlayers(ctx, tx, gameID)
	if err != nil {
		return err
	}
	if err = fn(&gameTx{tx: tx, game: g, players: players}); err != nil {
		return err
	}
	return tx.Commit()
}

// SeedGame inserts a game with its players and starting hands.
func (s *SqliteStore) SeedGame(ctx context.Context, g *models.Game, players []*models.Player, hands []*models.CardDraw) (err error) {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	tx, err := s.Conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.NamedExecContext(ctx, `
		INSERT INTO games (id, topic, mode, status, current_turn_player_id, winner_player_id, created_at, last_move_at)
		VALUES (:id, :topic, :mode, :status, :current_turn_player_id, :winner_player_id, :created_at, :last_move_at)`, g); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("insert game: %w", err)
	}
	for _, p := range players {
		p.GameID = g.ID
		if _, err = tx.NamedExecContext(ctx, `
			INSERT INTO game_players (id, game_id, user_id, display_name, join_order, cards_remaining,
				score, consecutive_rejections, skip_next_turn)
			VALUES (:id, :game_id, :user_id, :display_name, :join_order, :cards_remaining,
				:score, :consecutive_rejections, :skip_next_turn)`, p); err != nil {
			return fmt.Errorf("insert player %s: %w", p.DisplayName, err)
		}
	}
	gt := &gameTx{tx: tx, game: g}
	for _, c := range hands {
		if err = gt.AddCard(ctx, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SqliteStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.Conn.NamedExecContext(ctx, `
		INSERT INTO users (id, email, password, username, created_at)
		VALUES (:id, :email, :password, :username, :created_at)`, u)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *SqliteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.Conn.GetContext(ctx, &u, `SELECT * FROM users WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type gameTx struct {
	tx      *sqlx.Tx
	game    *models.Game
	players []*models.Player
}

func (t *gameTx) Game() *models.Game        { return t.game }
func (t *gameTx) Players() []*models.Player { return t.players }

func (t *gameTx) NextMoveNumber(ctx context.Context) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `SELECT COALESCE(MAX(move_number), 0) + 1 FROM moves WHERE game_id = ?`, t.game.ID)
	return n, err
}

func (t *gameTx) InsertMove(ctx context.Context, m *models.Move) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.GameID = t.game.ID
	m.CreatedAt = time.Now().UTC()
	m.CardData = models.NormalizePayload(m.CardData)

	row := moveRow{Move: *m}
	var err error
	if row.BonusesJSON, err = json.Marshal(m.Bonuses); err != nil {
		return err
	}
	combo := m.ComboCards
	if combo == nil {
		combo = []json.RawMessage{}
	}
	if row.ComboJSON, err = json.Marshal(combo); err != nil {
		return err
	}
	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO moves (id, game_id, player_id, move_number, card_type, card_data, explanation,
			verdict, feedback, points, bonuses, is_combo, combo_cards, created_at)
		VALUES (:id, :game_id, :player_id, :move_number, :card_type, :card_data, :explanation,
			:verdict, :feedback, :points, :bonuses, :is_combo, :combo_cards, :created_at)`, &row)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (t *gameTx) UpdatePlayer(ctx context.Context, p *models.Player) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE game_players
		SET cards_remaining = ?, score = ?, consecutive_rejections = ?, skip_next_turn = ?
		WHERE id = ? AND game_id = ?`,
		p.CardsRemaining, p.Score, p.ConsecutiveRejections, p.SkipNextTurn, p.ID, t.game.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *gameTx) UpdateGame(ctx context.Context, g *models.Game) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE games SET status = ?, current_turn_player_id = ?, winner_player_id = ?, last_move_at = ?
		WHERE id = ?`, g.Status, g.CurrentTurnPlayerID, g.WinnerPlayerID, g.LastMoveAt, g.ID)
	if err == nil {
		t.game = g
	}
	return err
}

func (t *gameTx) ConsumeCard(ctx context.Context, playerID uuid.UUID, cardType string, cardData json.RawMessage) (bool, error) {
	var hand []*models.CardDraw
	err := t.tx.SelectContext(ctx, &hand, `
		SELECT * FROM card_draws
		WHERE game_id = ? AND player_id = ? AND card_type = ? AND NOT played
		ORDER BY drawn_at, rowid`, t.game.ID, playerID, cardType)
	if err != nil {
		return false, err
	}
	for _, c := range hand {
		if models.SameCard(c.CardData, cardData) {
			_, err := t.tx.ExecContext(ctx, `UPDATE card_draws SET played = 1 WHERE id = ?`, c.ID)
			return err == nil, err
		}
	}
	return false, nil
}

func (t *gameTx) AddCard(ctx context.Context, c *models.CardDraw) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.GameID = t.game.ID
	if c.DrawnAt.IsZero() {
		c.DrawnAt = time.Now().UTC()
	}
	c.CardData = models.NormalizePayload(c.CardData)
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO card_draws (id, game_id, player_id, card_type, card_data, played, drawn_at)
		VALUES (:id, :game_id, :player_id, :card_type, :card_data, :played, :drawn_at)`, c)
	return err
}
