// Package main is the cinetalk CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/cinetalk/internal/chat"
	"github.com/hyperjump/cinetalk/internal/cli"
	"github.com/hyperjump/cinetalk/internal/config"
	"github.com/hyperjump/cinetalk/internal/corpus"
	"github.com/hyperjump/cinetalk/internal/embedding"
	"github.com/hyperjump/cinetalk/internal/llm"
	"github.com/hyperjump/cinetalk/internal/models"
	"github.com/hyperjump/cinetalk/internal/roster"
	"github.com/hyperjump/cinetalk/internal/search"
	"github.com/hyperjump/cinetalk/internal/server"
	"github.com/hyperjump/cinetalk/internal/storage"
	"github.com/hyperjump/cinetalk/internal/watcher"
	"github.com/hyperjump/cinetalk/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/cinetalk/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development). When the default path does not
// exist either, built-in defaults are used with paths relative to the current directory.
// Returns the config and the path that was actually loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return defaultConfig(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// defaultConfig returns built-in defaults rooted at the working directory.
func defaultConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	config.ApplyEnv(cfg)
	if cwd, err := os.Getwd(); err == nil {
		cfg.Data.Root = filepath.Join(cwd, cfg.Data.Root)
		cfg.Data.StaticDir = filepath.Join(cwd, cfg.Data.StaticDir)
	}
	return cfg
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "build":
		runBuild()
	case "retrieve":
		runRetrieve()
	case "ask":
		runAsk()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("cinetalk version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and creates a logger. It exits the process on failure.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, string) {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	cfg.Debug = debugMode
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger, resolvedConfigPath
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (cache decisions, file events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, resolvedConfigPath := setup(*configPath, *debug)
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("data_root", cfg.Data.Root),
		zap.Bool("debug", cfg.Debug),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if err := components.Registry.LoadAll(context.Background()); err != nil {
		logger.Error("corpus load failed; serving without movies", zap.Error(err))
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Data.Watch {
		watchSvc := newDataWatcher(watchCtx, cfg, components.Registry, logger)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Warn("data watcher not started", zap.String("root", cfg.Data.Root), zap.Error(err))
		}
	}

	srv := server.NewServer(
		components.Registry,
		components.Engine,
		components.Composer,
		components.Roster,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// newDataWatcher reloads a movie when its tables change. Script edits rebuild the
// vector cache; persona edits reuse it.
func newDataWatcher(ctx context.Context, cfg *config.Config, registry *corpus.Registry, logger *zap.Logger) *watcher.Watcher {
	return watcher.NewWatcher(
		cfg.Data.Root,
		cfg.Data.ScriptFiles,
		cfg.Data.PersonaFiles,
		func(c watcher.Change) {
			var err error
			if c.Script {
				err = registry.Rebuild(ctx, c.MovieID)
			} else {
				err = registry.Reload(ctx, c.MovieID)
			}
			if err != nil {
				logger.Debug("watch reload failed", zap.String("movie", c.MovieID), zap.Error(err))
				return
			}
			logger.Info("movie reloaded", zap.String("movie", c.MovieID), zap.Bool("script", c.Script))
		},
		watcher.WithLogger(logger),
	)
}

func runBuild() {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	rebuild := fs.Bool("rebuild", false, "discard existing vector caches and re-embed every script")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: cinetalk build [flags] [movie...]\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))

	cfg, logger, _ := setup(*configPath, *debug)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	failed := false
	if fs.NArg() == 0 {
		if *rebuild {
			for _, path := range storage.CacheFiles(cfg.Data.Root, cfg.Cache.File) {
				if err := components.Store.Remove(path); err != nil {
					logger.Warn("cache remove failed", zap.String("path", path), zap.Error(err))
				}
			}
		}
		if err := components.Registry.LoadAll(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		for _, movieID := range fs.Args() {
			load := components.Registry.Reload
			if *rebuild {
				load = components.Registry.Rebuild
			}
			if err := load(ctx, movieID); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", movieID, err)
				failed = true
			}
		}
	}

	if err := cli.WriteStats(os.Stdout, components.Registry.Stats(), cli.ParseOutputFormat(*outputFormat)); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		failed = true
	}
	if failed {
		components.Close()
		_ = logger.Sync()
		os.Exit(1)
	}
}

// printRetrieveUsage prints retrieve subcommand usage.
func printRetrieveUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: cinetalk retrieve [flags] <movie> <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  cinetalk retrieve extreme_job 치킨 맛이 어때
  cinetalk retrieve -k 10 parasite "계획이 다 있구나"
  cinetalk retrieve --server "" --output json 1987 탁 치니   # direct, without a running server
`)
}

// joinArgs joins all positional args with spaces so multi-word text works the same
// with or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "cinetalk retrieve parasite query -k 3"
// would otherwise leave -k unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runRetrieve() {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8000", "server URL (empty = load the corpus directly)")
	k := fs.Int("k", 0, "number of lines (0 = configured top_k)")
	outputFormat := fs.String("output", "text", "output format: text (human-readable), compact (one line per result), or json (parseable)")
	fs.Usage = func() { printRetrieveUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 2 {
		printRetrieveUsage(fs)
		os.Exit(1)
	}
	req := &models.RetrieveRequest{
		MovieID: fs.Arg(0),
		Query:   joinArgs(fs.Args()[1:]),
		K:       *k,
	}
	if err := req.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid request: %v\n", err)
		os.Exit(1)
	}
	format := cli.ParseOutputFormat(*outputFormat)

	var response *models.RetrieveResponse
	if *serverURL != "" {
		var out models.RetrieveResponse
		if err := postJSON(*serverURL+"/api/v1/retrieve", req, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Retrieve failed: %v\n", err)
			os.Exit(1)
		}
		response = &out
	} else {
		cfg, logger, _ := setup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()
		ctx := context.Background()
		if err := components.Registry.Reload(ctx, req.MovieID); err != nil {
			fmt.Fprintf(os.Stderr, "Load %s failed: %v\n", req.MovieID, err)
			os.Exit(1)
		}
		response, err = components.Engine.Search(ctx, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Retrieve failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteRetrieveResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8000", "server URL (empty = answer directly)")
	showPrompt := fs.Bool("prompt", false, "print the system prompt instead of calling the model (direct mode)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: cinetalk ask [flags] <movie> <character> <message>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 3 {
		fs.Usage()
		os.Exit(1)
	}
	req := &models.ChatRequest{
		MovieID:       fs.Arg(0),
		CharacterName: fs.Arg(1),
		UserMessage:   joinArgs(fs.Args()[2:]),
	}
	if err := req.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid request: %v\n", err)
		os.Exit(1)
	}

	if *serverURL != "" && !*showPrompt {
		var out models.ChatResponse
		if err := postJSON(*serverURL+"/api/talk", req, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(out.Reply)
		return
	}

	cfg, logger, _ := setup(*configPath, false)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()
	ctx := context.Background()
	if err := components.Registry.Reload(ctx, req.MovieID); err != nil {
		logger.Warn("movie not loaded", zap.String("movie", req.MovieID), zap.Error(err))
	}
	if *showPrompt {
		prompt, err := components.Composer.Prompt(ctx, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Prompt failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(prompt)
		return
	}
	fmt.Println(components.Composer.Reply(ctx, req))
}

func postJSON(url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	corpus.Stats
	CacheDiskUsageBytes *int64                `json:"cache_disk_usage_bytes,omitempty"`
	EmbeddingCache      *embedding.CacheStats `json:"embedding_cache,omitempty"`
	Config              map[string]any        `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8000", "server URL (empty = load corpora directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, logger, _ := setup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		if err := components.Registry.LoadAll(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Load failed: %v\n", err)
			os.Exit(1)
		}
		status.Stats = components.Registry.Stats()
		cacheStats := components.Engine.CacheStats()
		status.EmbeddingCache = &cacheStats
		if diskBytes, err := storage.DiskUsageBytes(storage.CacheFiles(cfg.Data.Root, cfg.Cache.File)...); err == nil {
			status.CacheDiskUsageBytes = &diskBytes
		}
	}

	format := cli.ParseOutputFormat(*outputFormat)
	if format == cli.OutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	_ = cli.WriteStats(os.Stdout, status.Stats, format)
	if status.CacheDiskUsageBytes != nil {
		fmt.Printf("cache_disk_usage_bytes: %d   # vector caches on disk\n", *status.CacheDiskUsageBytes)
	}
	if c := status.EmbeddingCache; c != nil {
		fmt.Printf("embedding_cache:        %d/%d entries, %d hits, %d misses\n", c.Entries, c.Capacity, c.Hits, c.Misses)
	}
	if len(status.Config) > 0 {
		fmt.Println()
		fmt.Println("# configuration")
		for _, key := range []string{"data_root", "embedding_provider", "embedding_model", "embedding_dimensions", "generation_model", "top_k", "cache_format", "cache_file"} {
			if v, ok := status.Config[key]; ok {
				fmt.Printf("%-22s %v\n", key+":", v)
			}
		}
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Provider *embedding.Provider
	Store    storage.CacheStore
	Loader   *corpus.Loader
	Registry *corpus.Registry
	Engine   *search.Engine
	Composer *chat.Composer
	Roster   *roster.Resolver
}

// Close releases the embedder. It is safe to call more than once.
func (c *Components) Close() {
	if c.Provider != nil {
		_ = c.Provider.Close()
		c.Provider = nil
	}
}

// initializeComponents wires the services. Corpora are not loaded yet.
func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := embedding.NewFromConfig(&cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	provider := embedding.NewProvider(embedder,
		embedding.WithCacheSize(cfg.Embedding.CacheSize),
		embedding.WithTimeout(cfg.Embedding.Timeout),
		embedding.WithLogger(logger),
	)

	store, err := storage.NewCacheStore(cfg.Cache.Format)
	if err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("failed to initialize cache store: %w", err)
	}

	loader := corpus.NewLoader(provider, store, &cfg.Data, cfg.Cache.File, corpus.WithLogger(logger))
	registry := corpus.NewRegistry(loader, cfg.Data.Root, cfg.Data.LoadConcurrency, corpus.WithLogger(logger))
	engine := search.NewEngine(registry, provider, &cfg.Retrieval)

	var generator chat.Generator
	openaiGen, err := llm.NewOpenAIGenerator(&cfg.Generation, llm.WithLogger(logger))
	if err != nil {
		logger.Warn("chat generation unavailable", zap.Error(err))
		generator = chat.UnavailableGenerator{Err: err}
	} else {
		logger.Info("chat generation ready", zap.String("model", openaiGen.Model()))
		generator = openaiGen
	}
	composer := chat.NewComposer(registry, engine, generator, &cfg.Movies,
		chat.WithK(cfg.Retrieval.TopK),
		chat.WithLogger(logger),
	)

	return &Components{
		Provider: provider,
		Store:    store,
		Loader:   loader,
		Registry: registry,
		Engine:   engine,
		Composer: composer,
		Roster:   roster.NewResolver(cfg.Data.Root, cfg.Movies.ImageOverrides),
	}, nil
}

func printUsage() {
	fmt.Println(`cinetalk - Chat with movie characters grounded in their scripts

Usage:
  cinetalk server [flags]                        Start the HTTP server
  cinetalk build [flags] [movie...]              Load corpora and write vector caches
  cinetalk retrieve [flags] <movie> <query>      Show the script lines closest to a query
  cinetalk ask [flags] <movie> <character> <msg> Ask a character a question
  cinetalk status [flags]                        Show loaded movies and cache usage
  cinetalk version                               Show version
  cinetalk help                                  Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/cinetalk/config.yaml)
  --debug            Enable debug logging

Build Flags:
  --rebuild          Discard existing vector caches and re-embed
  --output string    Output format: text or json (default: text)

Retrieve Flags:
  --server string    Server URL (default: http://localhost:8000). Use --server "" to load the corpus directly.
  --k int            Number of lines (default: configured top_k)
  --output string    Output format: text, compact or json (default: text)

Ask Flags:
  --server string    Server URL (default: http://localhost:8000). Use --server "" to answer directly.
  --prompt           Print the system prompt instead of calling the model

Status Flags:
  --server string    Server URL (default: http://localhost:8000). Use --server "" to load corpora directly.
  --output string    Output format: text or json (default: text)

Environment:
  OPENAI_API_KEY               Chat completion key (also used for OpenAI embeddings)
  CINETALK_EMBEDDING_API_KEY   Embedding key override
  A .env file in the working directory is loaded when present.

Examples:
  cinetalk server
  cinetalk build --rebuild parasite
  cinetalk retrieve extreme_job 치킨 맛
  cinetalk ask extreme_job 고반장 "오늘 장사 어때요?"
  cinetalk status --output json`)
}
