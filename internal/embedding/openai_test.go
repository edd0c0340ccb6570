package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbeddingServer answers /embeddings with vectors of length dims whose first element
// is the input index, returned in reverse order to exercise index handling.
func fakeEmbeddingServer(t *testing.T, dims int, requests *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		*requests++
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dims)
			vec[0] = float32(i)
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}))
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	var requests int
	srv := fakeEmbeddingServer(t, 4, &requests)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{Model: "ko-sroberta", BaseURL: srv.URL, Dimensions: 4})
	require.NoError(t, err)
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 1, requests)
}

func TestOpenAIEmbedder_EmbedBatchKeepsOrder(t *testing.T) {
	var requests int
	srv := fakeEmbeddingServer(t, 3, &requests)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{Model: "m", BaseURL: srv.URL, Dimensions: 3})
	require.NoError(t, err)
	texts := make([]string, openAIBatchSize+6)
	for i := range texts {
		texts[i] = "line"
	}
	out, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, len(texts))
	assert.Equal(t, 2, requests)
	assert.Equal(t, float32(5), out[5][0])
	assert.Equal(t, float32(0), out[openAIBatchSize][0], "second batch restarts indices")
}

func TestOpenAIEmbedder_dimensionMismatch(t *testing.T) {
	var requests int
	srv := fakeEmbeddingServer(t, 5, &requests)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{Model: "m", BaseURL: srv.URL, Dimensions: 4})
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestNewOpenAIEmbedder_validation(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{Dimensions: 4, APIKey: "k"})
	assert.Error(t, err, "model required")
	_, err = NewOpenAIEmbedder(OpenAIConfig{Model: "m", APIKey: "k"})
	assert.Error(t, err, "dimensions required")
	_, err = NewOpenAIEmbedder(OpenAIConfig{Model: "m", Dimensions: 4})
	assert.Error(t, err, "api key required without base url")
}
