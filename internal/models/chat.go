package models

import (
	"fmt"
	"strings"
)

// ChatRequest is the body of POST /api/talk. Field names follow the front-end.
type ChatRequest struct {
	MovieID       string `json:"movieId"`
	CharacterName string `json:"characterName"`
	UserMessage   string `json:"userMessage"`
}

// Normalize trims the movie id and character name. The message is kept verbatim.
func (r *ChatRequest) Normalize() {
	r.MovieID = strings.TrimSpace(r.MovieID)
	r.CharacterName = strings.TrimSpace(r.CharacterName)
}

// Validate normalizes the request and rejects one without a movie or message.
// The HTTP endpoint only normalizes; unknown movies are answered in the reply text.
func (r *ChatRequest) Validate() error {
	r.Normalize()
	if r.MovieID == "" {
		return fmt.Errorf("movieId cannot be empty")
	}
	if strings.TrimSpace(r.UserMessage) == "" {
		return fmt.Errorf("userMessage cannot be empty")
	}
	return nil
}

// ChatResponse is the body returned by POST /api/talk.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// Character is one roster entry. Image is a URL path or empty.
type Character struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// CharactersResponse is the body returned by the roster endpoints.
type CharactersResponse struct {
	Characters []Character `json:"characters"`
}

// RetrieveRequest is the body of POST /api/v1/retrieve.
type RetrieveRequest struct {
	MovieID string `json:"movieId"`
	Query   string `json:"query"`
	K       int    `json:"k,omitempty"`
}

// Validate trims fields and rejects a request without a movie or query, or with negative k.
// A zero k means the configured default.
func (r *RetrieveRequest) Validate() error {
	r.MovieID = strings.TrimSpace(r.MovieID)
	if r.MovieID == "" {
		return fmt.Errorf("movieId cannot be empty")
	}
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if r.K < 0 {
		return fmt.Errorf("k cannot be negative")
	}
	return nil
}

// RetrieveResponse lists the scored lines for a retrieval request.
type RetrieveResponse struct {
	MovieID   string       `json:"movieId"`
	Query     string       `json:"query"`
	Results   []ScoredLine `json:"results"`
	QueryTime int64        `json:"query_time_ms"`
}
