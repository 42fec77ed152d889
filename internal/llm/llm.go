// Package llm talks to the model gateway that judges card plays and writes the
// AI players' explanations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/phototheology/palace/internal/config"
)

var (
	// ErrRateLimited maps to HTTP 429 at the API surface.
	ErrRateLimited = errors.New("llm: rate limited")
	// ErrPaymentRequired maps to HTTP 402.
	ErrPaymentRequired = errors.New("llm: credits exhausted")
	ErrMissingAPIKey   = errors.New("llm: API key not configured")
)

// ChatRequest is a single system+user exchange.
type ChatRequest struct {
	System string
	User   string
	// JSON asks the provider to constrain the reply to a JSON object.
	JSON bool
}

// Client completes chat requests. Implementations do not retry.
type Client interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
	Model() string
}

// StatusError is a non-2xx gateway reply that is neither 429 nor 402.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: gateway returned status %d: %s", e.Code, e.Body)
}

// New builds the client selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAIClient(cfg), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
