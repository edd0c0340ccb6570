// Package chat composes in-character replies from persona text and retrieved script lines.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/cinetalk/internal/config"
	"github.com/hyperjump/cinetalk/internal/models"
	"github.com/hyperjump/cinetalk/internal/persona"
	"github.com/hyperjump/cinetalk/internal/search"
	"github.com/hyperjump/cinetalk/pkg/utils"
)

// Reply texts for failures surfaced to the user.
const (
	MovieNotFoundReply = "영화 데이터를 찾을 수 없습니다."
	errorReplyPrefix   = "오류: "
)

// ErrGeneration wraps failures from the Generator.
var ErrGeneration = errors.New("generation failed")

// Generator produces the assistant message for a system prompt and one user message.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Retriever returns the k lines of a corpus most relevant to a query.
type Retriever interface {
	RetrieveFrom(ctx context.Context, c *models.Corpus, query string, k int) []models.ScoredLine
}

// Composer builds the grounding prompt for a chat request and asks the Generator to answer.
type Composer struct {
	corpora   search.Corpora
	retriever Retriever
	generator Generator
	movies    *config.MoviesConfig
	k         int
	logger    *zap.Logger
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithLogger sets the logger for request and failure events.
func WithLogger(l *zap.Logger) ComposerOption {
	return func(c *Composer) { c.logger = l }
}

// WithK sets how many script lines go into the prompt; values <= 0 use the retriever default.
func WithK(k int) ComposerOption {
	return func(c *Composer) { c.k = k }
}

// NewComposer creates a composer with the given dependencies.
func NewComposer(corpora search.Corpora, retriever Retriever, generator Generator, movies *config.MoviesConfig, opts ...ComposerOption) *Composer {
	c := &Composer{
		corpora:   corpora,
		retriever: retriever,
		generator: generator,
		movies:    movies,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrNop(c.logger)
	return c
}

// Prompt resolves the persona, title and retrieved context for req and returns the system
// prompt. It returns search.ErrMovieNotFound for unknown movies.
func (c *Composer) Prompt(ctx context.Context, req *models.ChatRequest) (string, error) {
	corpus, ok := c.corpora.Get(req.MovieID)
	if !ok {
		return "", fmt.Errorf("%w: %s", search.ErrMovieNotFound, req.MovieID)
	}
	lines := c.retriever.RetrieveFrom(ctx, corpus, req.UserMessage, c.k)
	return BuildPrompt(
		c.movies.Title(req.MovieID),
		req.CharacterName,
		persona.Resolve(corpus.Personas, req.CharacterName),
		FormatContext(lines, corpus.HasSpeaker),
	), nil
}

// Compose returns the generated reply text verbatim. Unknown movies return
// search.ErrMovieNotFound without calling the Generator; Generator failures wrap ErrGeneration.
func (c *Composer) Compose(ctx context.Context, req *models.ChatRequest) (string, error) {
	prompt, err := c.Prompt(ctx, req)
	if err != nil {
		return "", err
	}
	reply, err := c.generator.Generate(ctx, prompt, req.UserMessage)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return reply, nil
}

// Reply is Compose with every failure turned into user-visible text.
func (c *Composer) Reply(ctx context.Context, req *models.ChatRequest) string {
	log := c.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("movie", req.MovieID),
		zap.String("character", req.CharacterName))
	log.Debug("chat request", zap.String("message", utils.Truncate(req.UserMessage, 80)))

	reply, err := c.Compose(ctx, req)
	switch {
	case err == nil:
		log.Debug("chat reply", zap.Int("chars", len([]rune(reply))))
		return reply
	case errors.Is(err, search.ErrMovieNotFound):
		log.Warn("chat for unknown movie")
		return MovieNotFoundReply
	default:
		log.Error("chat reply failed", zap.Error(err))
		return errorReply(err)
	}
}

// errorReply renders err for the user, without the ErrGeneration prefix.
func errorReply(err error) string {
	msg := err.Error()
	if errors.Is(err, ErrGeneration) {
		msg = strings.TrimPrefix(msg, ErrGeneration.Error()+": ")
	}
	return errorReplyPrefix + msg
}

// UnavailableGenerator always fails with Err. It stands in when no completion backend
// could be configured, so chat requests still get an explanatory reply.
type UnavailableGenerator struct {
	Err error
}

// Generate implements Generator.
func (g UnavailableGenerator) Generate(context.Context, string, string) (string, error) {
	return "", g.Err
}
