package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/models"
)

// Memory is an in-process Store. One mutex guards everything, which also
// serialises InGameTx callers.
type Memory struct {
	mu      sync.Mutex
	games   map[uuid.UUID]*models.Game
	players map[uuid.UUID][]*models.Player
	moves   map[uuid.UUID][]*models.Move
	cards   map[uuid.UUID][]*models.CardDraw
	users   map[uuid.UUID]*models.User
}

func NewMemory() *Memory {
	return &Memory{
		games:   make(map[uuid.UUID]*models.Game),
		players: make(map[uuid.UUID][]*models.Player),
		moves:   make(map[uuid.UUID][]*models.Move),
		cards:   make(map[uuid.UUID][]*models.CardDraw),
		users:   make(map[uuid.UUID]*models.User),
	}
}

func (m *Memory) SeedGame(_ context.Context, g *models.Game, players []*models.Player, hands []*models.CardDraw) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[g.ID]; ok {
		return ErrDuplicate
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	gc := *g
	m.games[g.ID] = &gc

	ps := make([]*models.Player, 0, len(players))
	for _, p := range players {
		pc := *p
		pc.GameID = g.ID
		ps = append(ps, &pc)
	}
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].JoinOrder < ps[j].JoinOrder })
	m.players[g.ID] = ps

	for _, c := range hands {
		cc := *c
		cc.GameID = g.ID
		if cc.ID == uuid.Nil {
			cc.ID = uuid.New()
		}
		if cc.DrawnAt.IsZero() {
			cc.DrawnAt = time.Now()
		}
		m.cards[g.ID] = append(m.cards[g.ID], &cc)
	}
	return nil
}

func (m *Memory) GetGame(_ context.Context, gameID uuid.UUID) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	gc := *g
	return &gc, nil
}

func (m *Memory) ListPlayers(_ context.Context, gameID uuid.UUID) ([]*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[gameID]; !ok {
		return nil, ErrNotFound
	}
	return copyPlayers(m.players[gameID]), nil
}

func (m *Memory) RecentMoves(_ context.Context, gameID uuid.UUID, limit int) ([]*models.Move, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.moves[gameID]
	out := make([]*models.Move, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		mc := *all[i]
		out = append(out, &mc)
	}
	return out, nil
}

func (m *Memory) ListMoves(_ context.Context, gameID uuid.UUID) ([]*models.Move, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Move, 0, len(m.moves[gameID]))
	for _, mv := range m.moves[gameID] {
		mc := *mv
		out = append(out, &mc)
	}
	return out, nil
}

func (m *Memory) Hand(_ context.Context, gameID, playerID uuid.UUID) ([]*models.CardDraw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CardDraw
	for _, c := range m.cards[gameID] {
		if c.PlayerID == playerID && !c.Played {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

// InGameTx stages writes on copies and swaps them in only when fn succeeds.
func (m *Memory) InGameTx(ctx context.Context, gameID uuid.UUID, fn func(tx GameTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	if !ok {
		return ErrNotFound
	}
	gc := *g
	tx := &memTx{
		game:    &gc,
		players: copyPlayers(m.players[gameID]),
		moves:   append([]*models.Move(nil), m.moves[gameID]...),
	}
	for _, c := range m.cards[gameID] {
		cc := *c
		tx.cards = append(tx.cards, &cc)
	}

	if err := fn(tx); err != nil {
		return err
	}

	m.games[gameID] = tx.game
	m.players[gameID] = tx.players
	m.moves[gameID] = tx.moves
	m.cards[gameID] = tx.cards
	return nil
}

func (m *Memory) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) && u.Email != "" {
			return ErrDuplicate
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	uc := *u
	m.users[u.ID] = &uc
	return nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			uc := *u
			return &uc, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Close() error { return nil }

type memTx struct {
	game    *models.Game
	players []*models.Player
	moves   []*models.Move
	cards   []*models.CardDraw
}

func (t *memTx) Game() *models.Game        { return t.game }
func (t *memTx) Players() []*models.Player { return t.players }

func (t *memTx) NextMoveNumber(_ context.Context) (int, error) {
	max := 0
	for _, mv := range t.moves {
		if mv.MoveNumber > max {
			max = mv.MoveNumber
		}
	}
	return max + 1, nil
}

func (t *memTx) InsertMove(_ context.Context, mv *models.Move) error {
	for _, existing := range t.moves {
		if existing.MoveNumber == mv.MoveNumber {
			return ErrDuplicate
		}
	}
	if mv.ID == uuid.Nil {
		mv.ID = uuid.New()
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now()
	}
	mc := *mv
	t.moves = append(t.moves, &mc)
	return nil
}

func (t *memTx) UpdatePlayer(_ context.Context, p *models.Player) error {
	for i, existing := range t.players {
		if existing.ID == p.ID {
			pc := *p
			t.players[i] = &pc
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) UpdateGame(_ context.Context, g *models.Game) error {
	gc := *g
	t.game = &gc
	return nil
}

func (t *memTx) ConsumeCard(_ context.Context, playerID uuid.UUID, cardType string, cardData json.RawMessage) (bool, error) {
	for _, c := range t.cards {
		if c.PlayerID == playerID && !c.Played && c.CardType == cardType && models.SameCard(c.CardData, cardData) {
			c.Played = true
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) AddCard(_ context.Context, c *models.CardDraw) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.DrawnAt.IsZero() {
		c.DrawnAt = time.Now()
	}
	cc := *c
	cc.GameID = t.game.ID
	t.cards = append(t.cards, &cc)
	return nil
}

func copyPlayers(in []*models.Player) []*models.Player {
	out := make([]*models.Player, 0, len(in))
	for _, p := range in {
		pc := *p
		out = append(out, &pc)
	}
	return out
}
