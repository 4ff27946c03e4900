// Package embed provides the text-to-vector provider contract and its
// implementations: a Genkit-backed embedder and a Redis cache decorator
// that avoids recomputing embeddings for unchanged text.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
)

// ErrEmptyEmbedding indicates the upstream embedder returned no vector.
var ErrEmptyEmbedding = errors.New("empty embedding returned")

// Provider converts text to a fixed-length vector. It is a pure function
// with no side effects other than possible failure; callers treat any
// error as "this tier yields zero results", never as a hard failure.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenkitProvider wraps a Genkit ai.Embedder with an explicit per-call
// timeout.
type GenkitProvider struct {
	embedder ai.Embedder
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGenkitProvider creates a provider over the given embedder.
// A non-positive timeout defaults to 10s.
func NewGenkitProvider(embedder ai.Embedder, timeout time.Duration, logger *slog.Logger) *GenkitProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenkitProvider{embedder: embedder, timeout: timeout, logger: logger}
}

// Embed implements Provider.
func (p *GenkitProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.embedder.Embed(embedCtx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding timeout: %w", err)
		}
		return nil, fmt.Errorf("generating embedding: %w", err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	return resp.Embeddings[0].Embedding, nil
}
