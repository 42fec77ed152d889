// Package config loads the service configuration from an optional YAML file and
// environment overrides. Binaries load .env through godotenv/autoload before Load runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all palace service configuration.
type Config struct {
	// Env is "development" or "production".
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	LLM       LLMConfig       `yaml:"llm"`
	Auth      AuthConfig      `yaml:"auth"`
	Judge     JudgeConfig     `yaml:"judge"`
	Historian HistorianConfig `yaml:"historian"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
}

// DatabaseConfig selects the store. Driver is one of memory, postgres, sqlite.
type DatabaseConfig struct {
	Driver     string `yaml:"driver"`
	URL        string `yaml:"url"`
	SQLitePath string `yaml:"sqlite_path"`
}

// RedisConfig is optional; an empty Addr disables the historian queue and falls
// back to in-process request de-duplication.
type RedisConfig struct {
	Addr      string   `yaml:"addr"`
	DB        int      `yaml:"db"`
	QueueName string   `yaml:"queue_name"`
	DedupeTTL Duration `yaml:"dedupe_ttl"`
}

// LLMConfig configures the model gateway. Provider is "openai" (any OpenAI-compatible
// gateway) or "gemini".
type LLMConfig struct {
	Provider string   `yaml:"provider"`
	APIKey   string   `yaml:"api_key"`
	BaseURL  string   `yaml:"base_url"`
	Model    string   `yaml:"model"`
	Timeout  Duration `yaml:"timeout"`
}

type AuthConfig struct {
	ServiceRoleKey string `yaml:"service_role_key"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PublicKeyPath  string `yaml:"public_key_path"`
	// TokenExpire of 0 means tokens never expire.
	TokenExpire Duration `yaml:"token_expire"`
}

type JudgeConfig struct {
	MaxAITurns  int    `yaml:"max_ai_turns"`
	RecentMoves int    `yaml:"recent_moves"`
	RubricPath  string `yaml:"rubric_path"`
}

type HistorianConfig struct {
	BatchSize         int      `yaml:"batch_size"`
	FlushInterval     Duration `yaml:"flush_interval"`
	InactivityTimeout Duration `yaml:"inactivity_timeout"`
	// MaxFlushAttempts is how often a batch is retried before it is dead-lettered.
	MaxFlushAttempts int    `yaml:"max_flush_attempts"`
	DeadLetterQueue  string `yaml:"dead_letter_queue"`
}

// DefaultGatewayURL is the OpenAI-compatible AI gateway used when no base URL is set.
const DefaultGatewayURL = "https://ai.gateway.lovable.dev/v1"

// Duration is a time.Duration that reads "15s" style strings from YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns a configuration that runs a development server with the
// in-memory store and no Redis.
func Default() *Config {
	return &Config{
		Env:      "development",
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(2 * time.Minute),
		},
		Database: DatabaseConfig{
			Driver:     "memory",
			SQLitePath: "palace.db",
		},
		Redis: RedisConfig{
			QueueName: "palace_moves",
			DedupeTTL: Duration(10 * time.Minute),
		},
		LLM: LLMConfig{
			Provider: "openai",
			BaseURL:  DefaultGatewayURL,
			Model:    "google/gemini-2.5-flash",
			Timeout:  Duration(60 * time.Second),
		},
		Judge: JudgeConfig{
			MaxAITurns:  8,
			RecentMoves: 5,
		},
		Historian: HistorianConfig{
			BatchSize:         20,
			FlushInterval:     Duration(500 * time.Millisecond),
			InactivityTimeout: Duration(30 * time.Minute),
			MaxFlushAttempts:  5,
			DeadLetterQueue:   "palace_moves_dead",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty) over the defaults,
// then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment. Unset variables leave the
// current value alone.
func (c *Config) applyEnv() error {
	c.Env = getEnv("PALACE_ENV", c.Env)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	if port := os.Getenv("PORT"); port != "" {
		c.HTTP.Addr = ":" + port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.HTTP.AllowedOrigins = strings.Split(origins, ",")
	}

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.SQLitePath = getEnv("SQLITE_PATH", c.Database.SQLitePath)
	if c.Database.URL == "" && os.Getenv("PG_HOST") != "" {
		c.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("POSTGRES_USER"),
			os.Getenv("POSTGRES_PASSWORD"),
			os.Getenv("PG_HOST"),
			getEnv("PG_PORT", "5432"),
			os.Getenv("PG_DATABASE"),
		)
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.QueueName = getEnv("HISTORIAN_QUEUE_NAME", c.Redis.QueueName)

	c.LLM.Provider = getEnv("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)

	c.Auth.ServiceRoleKey = getEnv("SERVICE_ROLE_KEY", c.Auth.ServiceRoleKey)
	c.Auth.PrivateKeyPath = getEnv("JWT_PRIVATE_KEY_PATH", c.Auth.PrivateKeyPath)
	c.Auth.PublicKeyPath = getEnv("JWT_PUBLIC_KEY_PATH", c.Auth.PublicKeyPath)

	// TOKEN_EXPIRE_TIME accepts "never", "0" or a Go duration
	if v := os.Getenv("TOKEN_EXPIRE_TIME"); v != "" {
		if v == "never" || v == "0" {
			c.Auth.TokenExpire = 0
		} else {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("failed to parse TOKEN_EXPIRE_TIME: %w", err)
			}
			c.Auth.TokenExpire = Duration(d)
		}
	}

	c.Judge.MaxAITurns = getEnvInt("JUDGE_MAX_AI_TURNS", c.Judge.MaxAITurns)
	c.Judge.RubricPath = getEnv("JUDGE_RUBRIC_PATH", c.Judge.RubricPath)

	c.Historian.BatchSize = getEnvInt("HISTORIAN_BATCH_SIZE", c.Historian.BatchSize)
	if ms := getEnvInt("HISTORIAN_FLUSH_MS", 0); ms > 0 {
		c.Historian.FlushInterval = Duration(time.Duration(ms) * time.Millisecond)
	}
	c.Historian.MaxFlushAttempts = getEnvInt("HISTORIAN_MAX_FLUSH_ATTEMPTS", c.Historian.MaxFlushAttempts)
	c.Historian.DeadLetterQueue = getEnv("HISTORIAN_DEAD_LETTER_QUEUE", c.Historian.DeadLetterQueue)
	if sec := getEnvInt("GAME_INACTIVITY_TIMEOUT_SEC", 0); sec > 0 {
		c.Historian.InactivityTimeout = Duration(time.Duration(sec) * time.Second)
	}
	return nil
}

// Validate rejects configurations the binaries cannot start with. A missing LLM
// key is not an error here: judging calls report it per request.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database driver postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Judge.MaxAITurns < 0 {
		return fmt.Errorf("judge.max_ai_turns must be non-negative")
	}
	if c.Judge.RecentMoves <= 0 {
		return fmt.Errorf("judge.recent_moves must be positive")
	}
	if c.Historian.BatchSize <= 0 {
		return fmt.Errorf("historian.batch_size must be positive")
	}
	if c.Historian.MaxFlushAttempts <= 0 {
		return fmt.Errorf("historian.max_flush_attempts must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
