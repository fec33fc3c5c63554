package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
)

func newOllamaServer(t *testing.T, dims int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "nomic-embed-text", req.Model)
		if calls != nil {
			calls.Add(1)
		}
		vec := make([]float64, dims)
		for i := range vec {
			vec[i] = float64(len(req.Prompt)) + float64(i)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": vec})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedTexts(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, 8, &calls)
	e, err := NewEmbedder("ollama", "nomic-embed-text", map[string]interface{}{"host": srv.URL})
	require.NoError(t, err)

	c := NewClient(e, time.Second)
	require.Equal(t, DefaultDimensions, c.Dimensions())
	vecs, err := c.EmbedTexts(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, float32(2), vecs[1][0])
	require.Equal(t, 8, c.Dimensions())
	require.Equal(t, "nomic-embed-text", c.ModelName())
	require.NoError(t, c.HealthCheck(context.Background()))
}

func TestEmbedTextsEmptyInput(t *testing.T) {
	c := NewClient(NewOllamaEmbedder("http://127.0.0.1:1", "m", nil), time.Second)
	vecs, err := c.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, vecs)
}

func TestOllamaFailuresAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(NewOllamaEmbedder(srv.URL, "m", nil), time.Second)
	_, err := c.Embed(context.Background(), "question")
	require.ErrorIs(t, err, appErr.ErrBackendUnavailable)

	srv.Close()
	_, err = c.EmbedTexts(context.Background(), []string{"x"})
	require.ErrorIs(t, err, appErr.ErrBackendUnavailable)
	require.Error(t, c.HealthCheck(context.Background()))
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(NewOllamaEmbedder(srv.URL, "m", nil), 50*time.Millisecond)
	_, err := c.Embed(context.Background(), "slow")
	require.ErrorIs(t, err, appErr.ErrBackendUnavailable)
}

type staticEmbedder struct {
	vec []float32
}

func (s *staticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, nil
}

func (s *staticEmbedder) ModelName() string {
	return "static"
}

func TestClientRejectsEmptyVector(t *testing.T) {
	c := NewClient(&staticEmbedder{}, time.Second)
	_, err := c.Embed(context.Background(), "x")
	require.ErrorIs(t, err, appErr.ErrBackendUnavailable)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25,0.125]}]}`))
	}))
	defer srv.Close()

	e, err := NewEmbedder("openai", "text-embedding-3-small", map[string]interface{}{
		"api_key":  "sk-test",
		"base_url": srv.URL,
	})
	require.NoError(t, err)
	vec, err := NewClient(e, time.Second).Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 0.25, 0.125}, vec)
}

func TestNewEmbedderValidation(t *testing.T) {
	_, err := NewEmbedder("", "m", nil)
	require.Error(t, err)
	_, err = NewEmbedder("nope", "m", nil)
	require.Error(t, err)
	_, err = NewEmbedder("openai", "m", map[string]interface{}{})
	require.Error(t, err)
	_, err = NewEmbedder("gemini", "m", nil)
	require.Error(t, err)
}
