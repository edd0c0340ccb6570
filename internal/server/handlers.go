package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/cinetalk/internal/models"
	"github.com/hyperjump/cinetalk/internal/search"
	"github.com/hyperjump/cinetalk/internal/storage"
)

// handleTalk always answers 200 with a reply once the body parses; unknown movies and
// generation failures are explained in the reply text.
func (s *Server) handleTalk(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Normalize()
	reply := s.composer.Reply(r.Context(), &req)
	s.respondJSON(w, http.StatusOK, models.ChatResponse{Reply: reply})
}

func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request) {
	movieID := chi.URLParam(r, "movieId")
	c, ok := s.registry.Get(movieID)
	if !ok {
		s.logger.Debug("characters for unknown movie", zap.String("movie", movieID))
	}
	s.respondJSON(w, http.StatusOK, models.CharactersResponse{Characters: s.roster.Characters(c)})
}

func (s *Server) handleTalkPage(w http.ResponseWriter, r *http.Request) {
	page := filepath.Join(s.config.Data.StaticDir, "talk", "talk.html")
	if _, err := os.Stat(page); err != nil {
		s.respondError(w, http.StatusNotFound, "talk page not found")
		return
	}
	http.ServeFile(w, r, page)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req models.RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("retrieve request", zap.String("movie", req.MovieID), zap.String("query", req.Query), zap.Int("k", req.K))
	response, err := s.engine.Search(r.Context(), &req)
	if err != nil {
		if errors.Is(err, search.ErrMovieNotFound) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()
	resp := map[string]interface{}{
		"movies":          stats.Movies,
		"skipped":         stats.Skipped,
		"embedding_cache": s.engine.CacheStats(),
	}

	configInfo := map[string]interface{}{
		"data_root":            s.config.Data.Root,
		"embedding_provider":   s.config.Embedding.Provider,
		"embedding_model":      s.config.Embedding.Model,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"generation_model":     s.config.Generation.Model,
		"top_k":                s.engine.DefaultK(),
		"cache_format":         s.config.Cache.Format,
		"cache_file":           s.config.Cache.File,
	}
	diskBytes, err := storage.DiskUsageBytes(storage.CacheFiles(s.config.Data.Root, s.config.Cache.File)...)
	if err == nil {
		resp["cache_disk_usage_bytes"] = diskBytes
	} else {
		s.logger.Warn("status: cache disk usage failed", zap.Error(err))
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
