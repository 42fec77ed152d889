// Package storetest holds the behaviour every store.Store implementation must
// share. Each implementation runs Run from its own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/models"
	"github.com/phototheology/palace/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store is what the suite needs: the service contract plus seeding.
type Store interface {
	store.Store
	store.Seeder
}

// Run exercises s. open is called once per subtest and may return a shared
// database; every subtest seeds its own game and users.
func Run(t *testing.T, open func(t *testing.T) Store) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"GameAndPlayers", testGameAndPlayers},
		{"MoveRoundTrip", testMoveRoundTrip},
		{"ConcurrentMoveNumbers", testConcurrentMoveNumbers},
		{"Rollback", testRollback},
		{"ConsumeCardByLabel", testConsumeCardByLabel},
		{"PlayerAndGameUpdates", testPlayerAndGameUpdates},
		{"Users", testUsers},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

type seeded struct {
	game        *models.Game
	alice, boaz *models.Player
	aliceCard   json.RawMessage
}

func seed(t *testing.T, s Store) seeded {
	t.Helper()
	alice := &models.Player{ID: uuid.New(), DisplayName: "Alice", JoinOrder: 0, CardsRemaining: 1}
	boaz := &models.Player{ID: uuid.New(), DisplayName: "Jeeves Boaz", JoinOrder: 1, CardsRemaining: 2}
	g := &models.Game{
		ID: uuid.New(), Topic: "Genesis 22", Mode: models.ModeOneVsJeeves,
		Status: models.GameActive, CurrentTurnPlayerID: &alice.ID,
	}
	out := seeded{game: g, alice: alice, boaz: boaz, aliceCard: json.RawMessage(`{"principle":"Story Room"}`)}
	hands := []*models.CardDraw{
		{PlayerID: alice.ID, CardType: "principle", CardData: out.aliceCard},
		{PlayerID: boaz.ID, CardType: "principle", CardData: json.RawMessage(`"Gems Room"`)},
		{PlayerID: boaz.ID, CardType: "principle", CardData: json.RawMessage(`"Gems Room"`)},
	}
	// players are seeded out of join order on purpose
	require.NoError(t, s.SeedGame(context.Background(), g, []*models.Player{boaz, alice}, hands))
	return out
}

func testGameAndPlayers(t *testing.T, s Store) {
	ctx := context.Background()
	sd := seed(t, s)

	g, err := s.GetGame(ctx, sd.game.ID)
	require.NoError(t, err)
	assert.Equal(t, "Genesis 22", g.Topic)
	assert.Equal(t, models.ModeOneVsJeeves, g.Mode)
	assert.Equal(t, models.GameActive, g.Status)
	require.NotNil(t, g.CurrentTurnPlayerID)
	assert.Equal(t, sd.alice.ID, *g.CurrentTurnPlayerID)
	assert.Nil(t, g.WinnerPlayerID)

	players, err := s.ListPlayers(ctx, sd.game.ID)
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, sd.alice.ID, players[0].ID, "players come back in join order")
	assert.Equal(t, sd.boaz.ID, players[1].ID)
	assert.Equal(t, 2, players[1].CardsRemaining)

	_, err = s.GetGame(ctx, uuid.New())
	assert.True(t, errors.Is(err, store.ErrNotFound))
	err = s.InGameTx(ctx, uuid.New(), func(store.GameTx) error { return nil })
	assert.True(t, errors.Is(err, store.ErrNotFound))

	moves, err := s.ListMoves(ctx, sd.game.ID)
	require.NoError(t, err)
	assert.Empty(t, moves)
}

func testMoveRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	sd := seed(t, s)
	combo := []json.RawMessage{json.RawMessage(`"Story Room"`), json.RawMessage(`{"principle":"Gems Room"}`)}

	require.NoError(t, s.InGameTx(ctx, sd.game.ID, func(tx store.GameTx) error {
		n, err := tx.NextMoveNumber(ctx)
		if err != nil {
			return err
		}
		require.Equal(t, 1, n)
		return tx.InsertMove(ctx, &models.Move{
			PlayerID:    sd.alice.ID,
			MoveNumber:  n,
			CardType:    "principle",
			CardData:    sd.aliceCard,
			Explanation: "The ram stands in for Isaac.",
			Verdict:     models.VerdictApproved,
			Feedback:    "Sound typology.",
			Points:      11,
			Bonuses:     models.Bonuses{ComboPlay: true, ChristCentered: true},
			IsCombo:     true,
			ComboCards:  combo,
		})
	}))
	require.NoError(t, s.InGameTx(ctx, sd.game.ID, func(tx store.GameTx) error {
		n, err := tx.NextMoveNumber(ctx)
		if err != nil {
			return err
		}
		require.Equal(t, 2, n)
		return tx.InsertMove(ctx, &models.Move{
			PlayerID: sd.boaz.ID, MoveNumber: n, CardType: "principle",
			Verdict: models.VerdictRejected,
		})
	}))

	moves, err := s.ListMoves(ctx, sd.game.ID)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	m := moves[0]
	assert.Equal(t, 1, m.MoveNumber)
	assert.NotEqual(t, uuid.Nil, m.ID)
	assert.Equal(t, sd.game.ID, m.GameID)
	assert.Equal(t, sd.alice.ID, m.PlayerID)
	assert.JSONEq(t, string(sd.aliceCard), string(m.CardData))
	assert.Equal(t, models.VerdictApproved, m.Verdict)
	assert.Equal(t, "Sound typology.", m.Feedback)
	assert.Equal(t, 11, m.Points)
	assert.Equal(t, models.Bonuses{ComboPlay: true, ChristCentered: true}, m.Bonuses)
	assert.True(t, m.IsCombo)
	require.Len(t, m.ComboCards, 2)
	for i := range combo {
		assert.JSONEq(t, string(combo[i]), string(m.ComboCards[i]))
	}
	assert.False(t, m.CreatedAt.IsZero())

	assert.Equal(t, models.Bonuses{}, moves[1].Bonuses)
	assert.Empty(t, moves[1].ComboCards)

	recent, err := s.RecentMoves(ctx, sd.game.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 2, recent[0].MoveNumber, "recent moves are newest first")

	err = s.InGameTx(ctx, sd.game.ID, func(tx store.GameTx) error {
		return tx.InsertMove(ctx, &models.Move{
			PlayerID: sd.alice.ID, MoveNumber: 2, CardType: "principle", Verdict: models.VerdictPartial,
		})
	})
	assert.Error(t, err, "move numbers are unique per game")
}

func testConcurrentMoveNumbers(t *testing.T, s Store) {
	ctx := context.Background()
	sd := seed(t, s)

	const writers = 4
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InGameTx(ctx, sd.game.ID, func(tx store.GameTx) error {
				n, err := tx.NextMoveNumber(ctx)
				if err != nil {
					return err
				}
				return tx.InsertMove(ctx, &models.Move{
					PlayerID: sd.alice.ID, MoveNumber: n, CardType: "principle",
					Verdict: models.VerdictPartial,
				})
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err, "the game lock serialises writers")
	}

	moves, err := s.ListMoves(ctx, sd.game.ID)
	require.NoError(t, err)
	require.Len(t, moves, writers)
	for i, m := range moves {
		assert.Equal(t, i+1, m.MoveNumber, "move numbers are gap-free")
	}
}

func testRollback(t *testing.T, s Store) {
	ctx := context.Background()
	sd := seed(t, s)
	boom := errors.New("boom")

	err := s.InGameTx(ctx, sd.game.ID, func(tx store.GameTx) error {
		if err := tx.InsertMove(ctx, &models.Move{
			PlayerID: sd.alice.ID, MoveNumber: 1, CardType: "principle", Verdict: models.VerdictApproved,
		}); err != nil {
			return err
		}
		p := *tx.Players()[0]
		p.Score = 99
		if err := tx.UpdatePlayer(ctx, &p); err != nil {
			return err
		}
		if _, err := tx.ConsumeCard(ctx, sd.alice.ID, "principle", sd.aliceCard); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	moves, err := s.ListMoves(ctx, sd.game.ID)
	require.NoError(t, err)
	assert.Empty(t, moves)
	players, err := s.ListPlayers(ctx, sd.game.ID)
	require.NoError(t, err)
	assert.Zero(t, players[0].Score)
	hand, err := s.Hand(ctx, sd.game.ID, sd.alice.ID)
	require.NoError(t, err)
	assert.Len(t, hand, 1)
}

func testConsumeCardByLabel(t *testing.T, s Store) {
	ctx := context.Background()
	sd := seed(t, s)

	require.NoError(t, s.InGameTx(ctx, sd.game.ID, func(tx store.GameTx) error {
		ok, err := tx.ConsumeCard(ctx, sd.alice.ID, "principle", json.RawMessage(`"Story Room"`))
		require.NoError(t, err)
		assert.True(t, ok, "a bare label matches the object payload")

		ok, err = tx.ConsumeCard(ctx, sd.alice.ID, "principle", json.RawMessage(`"Story Room"`))
		require.NoError(t, err)
		assert.False(t, ok, "a card is only played once")

		ok, err = tx.ConsumeCard(ctx, sd.boaz.ID, "combo", json.RawMessage(`"Gems Room"`))
		require.NoError(t, err)
		assert.False(t, ok, "card type must match")

		ok, err = tx.ConsumeCard(ctx, sd.boaz.ID, "principle", json.RawMessage(`{"principle":"Gems Room"}`))
		require.NoError(t, err)
		assert.True(t, ok)

		return tx.AddCard(ctx, &models.CardDraw{
			PlayerID: sd.alice.ID, CardType: "principle", CardData: json.RawMessage(`"Time Zone"`),
		})
	}))

	hand, err := s.Hand(ctx, sd.game.ID, sd.alice.ID)
	require.NoError(t, err)
	require.Len(t, hand, 1)
	assert.Equal(t, "Time Zone", models.CardLabel(hand[0].CardData))
	assert.Equal(t, sd.game.ID, hand[0].GameID)
	assert.False(t, hand[0].Played)

	hand, err = s.Hand(ctx, sd.game.ID, sd.boaz.ID)
	require.NoError(t, err)
	assert.Len(t, hand, 1, "only one of two identical cards is played")
}

func testPlayerAndGameUpdates(t *testing.T, s Store) {
	ctx := context.Background()
	sd := seed(t, s)

	require.NoError(t, s.InGameTx(ctx, sd.game.ID, func(tx store.GameTx) error {
		players := tx.Players()
		require.Len(t, players, 2)
		p := *players[0]
		p.CardsRemaining = 0
		p.Score = 14
		p.ConsecutiveRejections = 2
		p.SkipNextTurn = true
		if err := tx.UpdatePlayer(ctx, &p); err != nil {
			return err
		}

		missing := models.Player{ID: uuid.New()}
		assert.True(t, errors.Is(tx.UpdatePlayer(ctx, &missing), store.ErrNotFound))

		g := *tx.Game()
		g.Status = models.GameFinished
		g.WinnerPlayerID = &p.ID
		g.CurrentTurnPlayerID = &sd.boaz.ID
		return tx.UpdateGame(ctx, &g)
	}))

	players, err := s.ListPlayers(ctx, sd.game.ID)
	require.NoError(t, err)
	a := players[0]
	assert.Equal(t, 0, a.CardsRemaining)
	assert.Equal(t, 14, a.Score)
	assert.Equal(t, 2, a.ConsecutiveRejections)
	assert.True(t, a.SkipNextTurn)

	g, err := s.GetGame(ctx, sd.game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameFinished, g.Status)
	require.NotNil(t, g.WinnerPlayerID)
	assert.Equal(t, sd.alice.ID, *g.WinnerPlayerID)
	assert.Equal(t, sd.boaz.ID, *g.CurrentTurnPlayerID)
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()
	email := "ruth-" + uuid.NewString() + "@example.com"

	u := &models.User{Email: email, Password: "$argon2id$stub", Username: "ruth"}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.NotEqual(t, uuid.Nil, u.ID)

	got, err := s.GetUserByEmail(ctx, strings.ToUpper(email))
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "ruth", got.Username)
	assert.Equal(t, "$argon2id$stub", got.Password)

	err = s.CreateUser(ctx, &models.User{Email: email, Password: "x", Username: "other"})
	assert.True(t, errors.Is(err, store.ErrDuplicate))

	_, err = s.GetUserByEmail(ctx, "nobody-"+uuid.NewString()+"@example.com")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
