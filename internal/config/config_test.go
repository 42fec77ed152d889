package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Judge.MaxAITurns)
	assert.Equal(t, 5, cfg.Judge.RecentMoves)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "palace.yaml")
	yml := `
env: production
http:
  addr: ":9000"
  read_timeout: 3s
database:
  driver: sqlite
  sqlite_path: /tmp/x.db
llm:
  provider: gemini
  model: gemini-2.5-pro
judge:
  max_ai_turns: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("LLM_API_KEY", "secret")
	t.Setenv("TOKEN_EXPIRE_TIME", "72h")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":9100", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Second, cfg.HTTP.ReadTimeout.Std())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	assert.Equal(t, "secret", cfg.LLM.APIKey)
	assert.Equal(t, 2, cfg.Judge.MaxAITurns)
	assert.Equal(t, 72*time.Hour, cfg.Auth.TokenExpire.Std())
	// untouched defaults survive a partial file
	assert.Equal(t, "palace_moves", cfg.Redis.QueueName)
	assert.Equal(t, 5, cfg.Historian.MaxFlushAttempts)
	assert.Equal(t, "palace_moves_dead", cfg.Historian.DeadLetterQueue)
}

func TestLoadBuildsPostgresURLFromParts(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("POSTGRES_USER", "palace")
	t.Setenv("POSTGRES_PASSWORD", "pw")
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_DATABASE", "palace")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://palace:pw@db:5432/palace", cfg.Database.URL)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mongo" }},
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres" }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "clippy" }},
		{"negative ai turns", func(c *Config) { c.Judge.MaxAITurns = -1 }},
		{"zero recent moves", func(c *Config) { c.Judge.RecentMoves = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBadTokenExpire(t *testing.T) {
	t.Setenv("TOKEN_EXPIRE_TIME", "soon")
	_, err := Load("")
	assert.Error(t, err)
}
