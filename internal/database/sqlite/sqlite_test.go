package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/models"
	"github.com/phototheology/palace/internal/store"
	"github.com/phototheology/palace/internal/store/storetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	s, err := Open(filepath.Join(t.TempDir(), "palace.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *SqliteStore) (*models.Game, *models.Player, *models.Player) {
	t.Helper()
	alice := &models.Player{ID: uuid.New(), DisplayName: "Alice", JoinOrder: 0, CardsRemaining: 1}
	jeeves := &models.Player{ID: uuid.New(), DisplayName: "Jeeves B", JoinOrder: 1, CardsRemaining: 2}
	g := &models.Game{ID: uuid.New(), Topic: "Genesis 22", Mode: models.ModeOneVsJeeves, Status: models.GameActive, CurrentTurnPlayerID: &alice.ID}
	hands := []*models.CardDraw{
		{PlayerID: alice.ID, CardType: "principle", CardData: json.RawMessage(`{"principle":"Story Room"}`)},
		{PlayerID: jeeves.ID, CardType: "principle", CardData: json.RawMessage(`"Gems Room"`)},
	}
	require.NoError(t, s.SeedGame(context.Background(), g, []*models.Player{jeeves, alice}, hands))
	return g, alice, jeeves
}

func TestSqliteStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store { return openTestStore(t) })
}

func TestSqliteRoundTripGameAndPlayers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	g, alice, jeeves := seed(t, s)

	got, err := s.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ModeOneVsJeeves, got.Mode)
	require.NotNil(t, got.CurrentTurnPlayerID)
	assert.Equal(t, alice.ID, *got.CurrentTurnPlayerID)
	assert.Nil(t, got.WinnerPlayerID)

	players, err := s.ListPlayers(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, alice.ID, players[0].ID)
	assert.Equal(t, jeeves.ID, players[1].ID)

	_, err = s.GetGame(ctx, uuid.New())
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestSqliteGameTxCommitsMoveAndCards(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	g, alice, jeeves := seed(t, s)

	err := s.InGameTx(ctx, g.ID, func(tx store.GameTx) error {
		n, err := tx.NextMoveNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ok, err := tx.ConsumeCard(ctx, alice.ID, "principle", json.RawMessage(`"Story Room"`))
		require.NoError(t, err)
		assert.True(t, ok)

		m := &models.Move{
			PlayerID: alice.ID, MoveNumber: n, CardType: "principle",
			CardData: json.RawMessage(`"Story Room"`), Verdict: models.VerdictApproved,
			Points: 10, Bonuses: models.Bonuses{DeepInsight: true},
		}
		require.NoError(t, tx.InsertMove(ctx, m))

		p := *tx.Players()[0]
		p.CardsRemaining = 0
		p.Score = 10
		require.NoError(t, tx.UpdatePlayer(ctx, &p))

		game := *tx.Game()
		game.CurrentTurnPlayerID = &jeeves.ID
		return tx.UpdateGame(ctx, &game)
	})
	require.NoError(t, err)

	moves, err := s.ListMoves(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, models.VerdictApproved, moves[0].Verdict)
	assert.True(t, moves[0].Bonuses.DeepInsight)
	assert.Equal(t, "Story Room", models.CardLabel(moves[0].CardData))
	assert.Empty(t, moves[0].ComboCards)

	hand, err := s.Hand(ctx, g.ID, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, hand)

	got, err := s.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, jeeves.ID, *got.CurrentTurnPlayerID)
}

func TestSqliteGameTxRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	g, alice, _ := seed(t, s)

	boom := errors.New("boom")
	err := s.InGameTx(ctx, g.ID, func(tx store.GameTx) error {
		require.NoError(t, tx.AddCard(ctx, &models.CardDraw{PlayerID: alice.ID, CardType: "principle", CardData: json.RawMessage(`"Types Room"`)}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	hand, err := s.Hand(ctx, g.ID, alice.ID)
	require.NoError(t, err)
	assert.Len(t, hand, 1)
}

func TestSqliteDuplicateMoveNumber(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	g, alice, _ := seed(t, s)

	insert := func() error {
		return s.InGameTx(ctx, g.ID, func(tx store.GameTx) error {
			return tx.InsertMove(ctx, &models.Move{PlayerID: alice.ID, MoveNumber: 1, CardType: "principle", Verdict: models.VerdictPartial})
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), store.ErrDuplicate)
}

func TestSqliteUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := &models.User{Email: "ada@example.com", Password: "hash", Username: "ada"}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.NotEqual(t, uuid.Nil, u.ID)

	dup := &models.User{Email: "ADA@example.com", Password: "hash", Username: "ada2"}
	assert.ErrorIs(t, s.CreateUser(ctx, dup), store.ErrDuplicate)

	got, err := s.GetUserByEmail(ctx, "Ada@Example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
