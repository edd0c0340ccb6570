// Package llm wraps the chat-completion API used to write character replies.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hyperjump/cinetalk/internal/config"
	"github.com/hyperjump/cinetalk/pkg/utils"
)

// ErrEmptyCompletion is returned when the API answers without any choice.
var ErrEmptyCompletion = errors.New("no completion choices returned")

// OpenAIGenerator sends a system prompt and a user message to an OpenAI-compatible
// chat-completion endpoint.
type OpenAIGenerator struct {
	client      *openai.Client
	httpClient  *http.Client
	model       string
	temperature float32
	timeout     time.Duration
	maxRetries  int
	retryDelay  time.Duration
	logger      *zap.Logger
}

// Option configures an OpenAIGenerator.
type Option func(*OpenAIGenerator)

// WithLogger sets a logger for retry messages.
func WithLogger(l *zap.Logger) Option {
	return func(g *OpenAIGenerator) { g.logger = l }
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(g *OpenAIGenerator) { g.httpClient = c }
}

// NewOpenAIGenerator creates a generator from cfg. An API key is required unless
// cfg.BaseURL points at a compatible server.
func NewOpenAIGenerator(cfg *config.GenerationConfig, opts ...Option) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("generation model is required")
	}
	g := &OpenAIGenerator{
		model:       cfg.Model,
		temperature: cfg.TemperatureOrDefault(),
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = utils.OrNop(g.logger)

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if g.httpClient != nil {
		clientCfg.HTTPClient = g.httpClient
	}
	g.client = openai.NewClientWithConfig(clientCfg)
	return g, nil
}

// requestTemperature maps 0 to the smallest positive float32: go-openai omits a zero
// temperature from the request, which would leave the API default in effect.
func requestTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// Model returns the chat model name.
func (g *OpenAIGenerator) Model() string { return g.model }

// Generate returns the assistant text for a system prompt plus one user message. Each
// attempt is bounded by the configured timeout; failures are retried with exponential
// backoff up to max_retries times.
func (g *OpenAIGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: requestTemperature(g.temperature),
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			wait := utils.Backoff(g.retryDelay, attempt)
			g.logger.Debug("retrying completion", zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		text, err := g.complete(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", g.maxRetries+1, lastErr)
}

func (g *OpenAIGenerator) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// retryable reports whether another attempt could succeed. Client errors other than
// rate limiting are final.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
