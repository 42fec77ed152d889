package main

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phototheology/palace/internal/deck"
	"github.com/phototheology/palace/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRubricCheck(t *testing.T) {
	out, err := run(t, "rubric", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "(built-in)")
	assert.Contains(t, out, "+4 combo_play")

	path := filepath.Join(t.TempDir(), "rubric.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bonuses:\n  - key: flattery\n"), 0o644))
	_, err = run(t, "rubric", "check", path)
	assert.Error(t, err, "unknown bonus keys are rejected")
}

func TestKeygenAndToken(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	out, err := run(t, "keygen", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "JWT_PRIVATE_KEY_PATH=")

	_, err = run(t, "keygen", dir)
	assert.Error(t, err, "existing keys are never overwritten")

	t.Setenv("JWT_PRIVATE_KEY_PATH", filepath.Join(dir, "jwt.key"))
	t.Setenv("JWT_PUBLIC_KEY_PATH", filepath.Join(dir, "jwt.pub"))
	out, err = run(t, "token", "6f1c2a0e-4b7d-4c1e-9a55-2d8f0b3e7c11")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out), "."), "a JWT has three segments")

	_, err = run(t, "token", "not-a-uuid")
	assert.Error(t, err)
}

func TestSeedAndLedger(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "palace.db"))

	_, err := run(t, "migrate")
	require.NoError(t, err)

	out, err := run(t, "seed", "--players", "Ruth,Jeeves", "--hand", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	gameID := strings.TrimPrefix(lines[0], "game ")
	assert.Contains(t, lines[2], "Jeeves (ai)")

	out, err = run(t, "ledger", "--game", gameID)
	require.NoError(t, err)
	assert.Contains(t, out, "#  PLAYER")
	assert.Contains(t, out, "Ruth: score 0, 2 cards left")
}

func TestDealGame(t *testing.T) {
	g, players, hands := dealGame("Daniel 2", models.ModeJeevesVsJeeves, []string{"Jeeves", "Jeeves II"}, 3, deck.NewDealer(rand.New(rand.NewSource(1))))
	assert.Equal(t, models.GameActive, g.Status)
	require.Len(t, players, 2)
	assert.Equal(t, players[0].ID, *g.CurrentTurnPlayerID)
	assert.Len(t, hands, 6)
	for _, p := range players {
		assert.Equal(t, 3, p.CardsRemaining)
		assert.True(t, p.IsAI())
	}
}

func TestCardPayload(t *testing.T) {
	assert.JSONEq(t, `{"principle":"Story Room"}`, string(cardPayload("Story Room")))
	assert.JSONEq(t, `{"room":"Blue"}`, string(cardPayload(`{"room":"Blue"}`)))
}
