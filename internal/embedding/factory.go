package embedding

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/cinetalk/internal/config"
	"github.com/hyperjump/cinetalk/pkg/utils"
)

// Backend names accepted in embedding.provider.
const (
	BackendONNX   = "onnx"
	BackendOpenAI = "openai"
	BackendMock   = "mock"
)

// ONNXConfig configures NewONNXEmbedder.
type ONNXConfig struct {
	// Model names the exported model; it is part of ModelID.
	Model     string
	ModelPath string
	// TokenizerPath is the model's Hugging Face tokenizer.json.
	TokenizerPath string
	LibraryPath   string
	// OutputName is the graph output to read: a pooled [1, D] output such as
	// "sentence_embedding", or "last_hidden_state" to mean-pool token states.
	OutputName string
	Dimensions int
	MaxTokens  int
}

// OpenAIConfig configures NewOpenAIEmbedder.
type OpenAIConfig struct {
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	HTTPClient *http.Client
}

// NewFromConfig builds the configured backend. When the backend cannot be initialised and
// cfg.Strict is false, it falls back to a MockEmbedder marked as a fallback and logs a
// warning. Corpora built on a fallback are never written to the vector cache.
func NewFromConfig(cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	logger = utils.OrNop(logger)
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case BackendONNX, "":
		e, err = NewONNXEmbedder(ONNXConfig{
			Model:         cfg.Model,
			ModelPath:     cfg.ModelPath,
			TokenizerPath: cfg.TokenizerPath,
			LibraryPath:   cfg.LibraryPath,
			OutputName:    cfg.OutputName,
			Dimensions:    cfg.Dimensions,
			MaxTokens:     cfg.MaxTokens,
		})
	case BackendOpenAI:
		e, err = NewOpenAIEmbedder(OpenAIConfig{
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Dimensions: cfg.Dimensions,
		})
	case BackendMock:
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: onnx, openai, mock)", cfg.Provider)
	}
	if err == nil {
		return e, nil
	}
	if cfg.Strict {
		return nil, fmt.Errorf("failed to initialize %s embedder: %w", cfg.Provider, err)
	}
	logger.Warn("embedder unavailable, falling back to mock embeddings; vector caches will not be written",
		zap.String("provider", cfg.Provider),
		zap.Int("dimensions", cfg.Dimensions),
		zap.Error(err))
	m := NewMockEmbedder(cfg.Dimensions)
	m.fallback = true
	return m, nil
}
