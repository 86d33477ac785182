// Package agents implements the LLM-backed reviewer, coder and package
// lister on top of an OpenAI-compatible chat completion API.
package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// DefaultModel is used when no model is configured
	DefaultModel = "gpt-4o-mini"

	// DefaultRequestsPerMinute bounds calls against the API
	DefaultRequestsPerMinute = 30

	// APIKeyEnv is read when Config.APIKey is empty
	APIKeyEnv = "OPENAI_API_KEY"

	defaultRequestTimeout = 2 * time.Minute
)

// Config holds the API settings
type Config struct {
	APIKey  string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Model   string        `mapstructure:"model" yaml:"model"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// RequestsPerMinute <= 0 disables rate limiting
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// Client sends chat completions through a shared rate limiter. The reviewer,
// coder and lister share one Client so the limit applies to all of them.
type Client struct {
	api     *openai.Client
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a Client. The API key falls back to OPENAI_API_KEY.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(APIKeyEnv)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s environment variable not set", APIKeyEnv)
	}
	if logger == nil {
		logger = slog.Default()
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	apiCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = &http.Client{Timeout: timeout}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	logger.Info("initializing OpenAI client", "model", model, "base_url", apiCfg.BaseURL)

	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		model:   model,
		limiter: limiter,
		logger:  logger.With("component", "agents"),
	}, nil
}

// Model returns the model requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// complete sends one chat completion and returns the first choice.
func (c *Client) complete(ctx context.Context, agent string, messages []openai.ChatCompletionMessage) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		c.logger.Warn("chat completion failed", "agent", agent, "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("OpenAI returned no choices")
	}

	c.logger.Debug("chat completion",
		"agent", agent,
		"finish_reason", resp.Choices[0].FinishReason,
		"total_tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start).Round(time.Millisecond))
	return resp.Choices[0].Message.Content, nil
}

func system(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: content}
}

func user(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: content}
}
