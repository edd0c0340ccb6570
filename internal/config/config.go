// Package config provides configuration loading and structs for the cinetalk server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets in the config file.
const (
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvEmbeddingAPIKey = "CINETALK_EMBEDDING_API_KEY"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Data       DataConfig       `yaml:"data"`
	Cache      CacheConfig      `yaml:"cache"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Movies     MoviesConfig     `yaml:"movies"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DataConfig describes where movie folders and front-end assets live.
type DataConfig struct {
	Root            string   `yaml:"root"`
	StaticDir       string   `yaml:"static_dir"`
	ScriptFiles     []string `yaml:"script_files"`
	PersonaFiles    []string `yaml:"persona_files"`
	LoadConcurrency int      `yaml:"load_concurrency"`
	Watch           bool     `yaml:"watch"`
}

// CacheConfig selects the on-disk vector cache format and file name.
type CacheConfig struct {
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	ModelPath string `yaml:"model_path"`
	// TokenizerPath is the tokenizer.json exported with the ONNX model.
	TokenizerPath string `yaml:"tokenizer_path"`
	// LibraryPath points at the onnxruntime shared library; empty uses the system default.
	LibraryPath string        `yaml:"library_path"`
	OutputName  string        `yaml:"output_name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Dimensions  int           `yaml:"dimensions"`
	MaxTokens   int           `yaml:"max_tokens"`
	CacheSize   int           `yaml:"cache_size"`
	Timeout     time.Duration `yaml:"timeout"`
	Strict      bool          `yaml:"strict"`
}

// GenerationConfig holds chat-completion settings.
type GenerationConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Temperature is a pointer so an explicit 0 is kept; nil means DefaultTemperature.
	Temperature *float32      `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// DefaultTemperature is the sampling temperature used when none is configured.
const DefaultTemperature float32 = 0.8

// TemperatureOrDefault returns the configured temperature or DefaultTemperature.
func (g *GenerationConfig) TemperatureOrDefault() float32 {
	if g.Temperature == nil {
		return DefaultTemperature
	}
	return *g.Temperature
}

// RetrievalConfig holds retrieval settings.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// MoviesConfig is static per-movie display data.
type MoviesConfig struct {
	// Titles maps movie folder name to display title.
	Titles map[string]string `yaml:"titles"`
	// ImageOverrides maps character name to an image file name inside the movie folder.
	ImageOverrides map[string]string `yaml:"image_overrides"`
}

// Title returns the display title for movieID, or movieID itself when unknown.
func (m *MoviesConfig) Title(movieID string) string {
	if t, ok := m.Titles[movieID]; ok && t != "" {
		return t
	}
	return movieID
}

// Load reads and parses the config file at path, expands paths, applies environment
// overrides and defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Data.Root = expandPath(cfg.Data.Root, configDir)
	cfg.Data.StaticDir = expandPath(cfg.Data.StaticDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Embedding.TokenizerPath != "" {
		cfg.Embedding.TokenizerPath = expandPath(cfg.Embedding.TokenizerPath, configDir)
	}
	if cfg.Embedding.LibraryPath != "" {
		cfg.Embedding.LibraryPath = expandPath(cfg.Embedding.LibraryPath, configDir)
	}

	return &cfg, nil
}

// LoadDotEnv loads variables from a .env file when one exists. Existing variables win.
// A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv fills API keys from the environment when set.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvOpenAIAPIKey); v != "" {
		cfg.Generation.APIKey = v
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = v
		}
	}
	if v := os.Getenv(EnvEmbeddingAPIKey); v != "" {
		cfg.Embedding.APIKey = v
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
