// Package server provides the HTTP API and static pages for cinetalk.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hyperjump/cinetalk/internal/chat"
	"github.com/hyperjump/cinetalk/internal/config"
	"github.com/hyperjump/cinetalk/internal/corpus"
	"github.com/hyperjump/cinetalk/internal/roster"
	"github.com/hyperjump/cinetalk/internal/search"
	"github.com/hyperjump/cinetalk/pkg/utils"
)

// Server is the HTTP server for the chat front-end and API.
type Server struct {
	registry *corpus.Registry
	engine   *search.Engine
	composer *chat.Composer
	roster   *roster.Resolver
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	registry *corpus.Registry,
	engine *search.Engine,
	composer *chat.Composer,
	resolver *roster.Resolver,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		registry: registry,
		engine:   engine,
		composer: composer,
		roster:   resolver,
		config:   cfg,
		logger:   utils.OrNop(logger),
	}
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Post("/api/talk", s.handleTalk)
	r.Get("/api/characters/{movieId}", s.handleCharacters)
	r.Get("/characters/{movieId}", s.handleCharacters)
	r.Get("/talk", s.handleTalkPage)

	r.Get("/health", s.handleHealth)
	r.Get("/api/v1/status", s.handleStatus)
	r.Post("/api/v1/retrieve", s.handleRetrieve)

	r.Handle(roster.ImagePrefix+"/*", http.StripPrefix(roster.ImagePrefix, imageServer(s.config.Data.Root)))
	r.Handle("/src/*", middleware.Compress(5)(http.StripPrefix("/src", staticServer(s.config.Data.StaticDir))))
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr), zap.Int("movies", s.registry.Len()))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
