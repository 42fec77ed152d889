package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/phototheology/palace/internal/config"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// GeminiClient calls the Gemini API directly instead of going through the gateway.
type GeminiClient struct {
	client *genai.Client // nil when no API key is configured
	model  string
	log    *logrus.Entry
}

// NewGeminiClient builds a client for cfg. The gateway's default base URL is
// ignored; any other base URL replaces the Gemini endpoint.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig) (*GeminiClient, error) {
	c := &GeminiClient{
		// Gateway model ids carry a vendor prefix the Gemini API does not accept.
		model: strings.TrimPrefix(cfg.Model, "google/"),
		log:   logrus.WithField("component", "llm.gemini"),
	}
	if cfg.APIKey == "" {
		return c, nil
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout.Std()},
	}
	if cfg.BaseURL != "" && cfg.BaseURL != config.DefaultGatewayURL {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	c.client = client
	return c, nil
}

func (c *GeminiClient) Model() string { return c.model }

func (c *GeminiClient) Complete(ctx context.Context, cr ChatRequest) (string, error) {
	if c.client == nil {
		return "", ErrMissingAPIKey
	}
	gc := &genai.GenerateContentConfig{}
	if cr.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(cr.System, genai.RoleUser)
	}
	if cr.JSON {
		gc.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(cr.User, genai.RoleUser)}, gc)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Code {
			case http.StatusTooManyRequests:
				return "", ErrRateLimited
			case http.StatusPaymentRequired:
				return "", ErrPaymentRequired
			}
			return "", &StatusError{Code: apiErr.Code, Body: apiErr.Message}
		}
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	c.log.WithFields(logrus.Fields{
		"model":    c.model,
		"json":     cr.JSON,
		"latency":  time.Since(start),
		"resp_len": len(text),
	}).Debug("completion")
	return text, nil
}
