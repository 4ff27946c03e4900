package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfmate/shelfmate/internal/book"
	"github.com/shelfmate/shelfmate/internal/external"
	"github.com/shelfmate/shelfmate/internal/index"
	"github.com/shelfmate/shelfmate/internal/intent"
	"github.com/shelfmate/shelfmate/internal/log"
	"github.com/shelfmate/shelfmate/internal/narrator"
	"github.com/shelfmate/shelfmate/internal/pipeline"
	"github.com/shelfmate/shelfmate/internal/retrieval"
)

type patternGen struct {
	responses map[string]string
}

func (g *patternGen) Complete(ctx context.Context, prompt string) (string, error) {
	for pattern, resp := range g.responses {
		if strings.Contains(prompt, pattern) {
			return resp, nil
		}
	}
	return "", errors.New("no scripted response")
}

type fixedEmbedder struct{ vec []float32 }

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

type emptySource struct{}

func (emptySource) Search(ctx context.Context, query string, maxResults int) ([]book.Book, error) {
	return nil, external.ErrNotFound
}

func newTestServer(t *testing.T, gen *patternGen, seed []book.Book) *Server {
	t.Helper()
	logger := log.NewNop()
	catalog := book.NewMemoryCatalog()
	idx := index.New(4)
	for i, b := range seed {
		stored, err := catalog.Insert(context.Background(), b)
		require.NoError(t, err)
		require.NoError(t, idx.Insert(stored.ID, []float32{1, float32(i) * 0.01, 0, 0}))
	}
	p := pipeline.New(
		intent.NewClassifier(gen, logger),
		retrieval.New(catalog, idx, &fixedEmbedder{vec: []float32{1, 0, 0, 0}}, emptySource{},
			retrieval.Config{TopK: 8, SimilarityFloor: 0.1}, logger),
		narrator.New(gen, logger),
		pipeline.Config{},
		logger,
	)
	srv, err := NewServer(ServerConfig{Logger: logger, Pipeline: p})
	require.NoError(t, err)
	return srv
}

func postChat(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint(t *testing.T) {
	gen := &patternGen{responses: map[string]string{
		"needs_book_search": `{"needs_book_search": true, "optimized_query": "space adventure"}`,
		"The list is final": `{"preamble": "You'll love these.", "items": [{"book_index": 1, "explanation": "A wild ride."}]}`,
	}}
	srv := newTestServer(t, gen, []book.Book{
		{Title: "Project Hail Mary", Author: "Andy Weir", Genre: "sci-fi"},
	})

	rec := postChat(t, srv, `{"message": "something fun in space", "persona": "friendly"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "You'll love these.", resp.Message)
	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, "Project Hail Mary", resp.Recommendations[0].Book.Title)
	assert.Equal(t, "A wild ride.", resp.Recommendations[0].Explanation)
	assert.True(t, resp.QueryUnderstood)
	assert.NotEmpty(t, resp.SessionID)
}

func TestChatEmptyMessage(t *testing.T) {
	srv := newTestServer(t, &patternGen{}, nil)

	rec := postChat(t, srv, `{"message": "   "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "message")
}

func TestChatMalformedBody(t *testing.T) {
	srv := newTestServer(t, &patternGen{}, nil)

	rec := postChat(t, srv, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &patternGen{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestChatSetsRequestID(t *testing.T) {
	gen := &patternGen{responses: map[string]string{
		"needs_book_search": `{"needs_book_search": false, "direct_reply": "Hi!"}`,
	}}
	srv := newTestServer(t, gen, nil)

	rec := postChat(t, srv, `{"message": "hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPersonasEndpoint(t *testing.T) {
	srv := newTestServer(t, &patternGen{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/personas", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Personas []personaPayload `json:"personas"`
		Default  string           `json:"default"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "friendly", resp.Default)
	assert.Len(t, resp.Personas, 5)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, &patternGen{}, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestReadyReportsFailure(t *testing.T) {
	gen := &patternGen{}
	logger := log.NewNop()
	p := pipeline.New(
		intent.NewClassifier(gen, logger),
		retrieval.New(book.NewMemoryCatalog(), index.New(4),
			&fixedEmbedder{vec: []float32{1, 0, 0, 0}}, emptySource{},
			retrieval.Config{TopK: 8, SimilarityFloor: 0.1}, logger),
		narrator.New(gen, logger),
		pipeline.Config{},
		logger,
	)
	srv, err := NewServer(ServerConfig{
		Logger:   logger,
		Pipeline: p,
		Ready:    func() error { return errors.New("database unreachable") },
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewServerRequiresPipeline(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
