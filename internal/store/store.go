// Package store defines the persistence contract the judge and handlers depend on.
// Implementations: the in-memory Memory store (this package), Postgres
// (internal/database) and SQLite (internal/database/sqlite).
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Store is the read side plus the transactional entry point for mutating a game.
type Store interface {
	GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error)
	// ListPlayers returns the game's players in join order.
	ListPlayers(ctx context.Context, gameID uuid.UUID) ([]*models.Player, error)
	// RecentMoves returns at most limit moves, newest first.
	RecentMoves(ctx context.Context, gameID uuid.UUID, limit int) ([]*models.Move, error)
	// ListMoves returns the full ledger in move-number order.
	ListMoves(ctx context.Context, gameID uuid.UUID) ([]*models.Move, error)
	// Hand returns the player's unplayed cards, oldest first.
	Hand(ctx context.Context, gameID, playerID uuid.UUID) ([]*models.CardDraw, error)

	// InGameTx runs fn with the game and its players locked. All writes made through
	// the GameTx commit together, or not at all when fn returns an error.
	InGameTx(ctx context.Context, gameID uuid.UUID, fn func(tx GameTx) error) error

	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	Close() error
}

// GameTx is the write surface of a locked game.
type GameTx interface {
	// Game and Players are snapshots taken when the lock was acquired.
	Game() *models.Game
	Players() []*models.Player

	NextMoveNumber(ctx context.Context) (int, error)
	InsertMove(ctx context.Context, m *models.Move) error
	UpdatePlayer(ctx context.Context, p *models.Player) error
	UpdateGame(ctx context.Context, g *models.Game) error
	// ConsumeCard marks the oldest unplayed matching card as played. It reports
	// false when the player holds no such card.
	ConsumeCard(ctx context.Context, playerID uuid.UUID, cardType string, cardData json.RawMessage) (bool, error)
	AddCard(ctx context.Context, c *models.CardDraw) error
}

// Seeder creates games. Game creation belongs to the surrounding product, so this is
// only implemented by stores used in tests and local development.
type Seeder interface {
	SeedGame(ctx context.Context, g *models.Game, players []*models.Player, hands []*models.CardDraw) error
}
