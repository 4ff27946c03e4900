// Package external queries third-party catalogs for book metadata when
// the local catalog has no match. Providers are tried in a fixed
// preference order; the first non-empty result wins.
package external

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shelfmate/shelfmate/internal/book"
)

// ErrNotFound indicates no provider could locate the requested book.
var ErrNotFound = errors.New("book not found in external sources")

// Source is the external metadata contract the retrieval orchestrator
// depends on. Returned books are normalized but not yet persisted.
type Source interface {
	Search(ctx context.Context, query string, maxResults int) ([]book.Book, error)
}

// Chain tries each underlying provider in order, returning the first
// non-empty result. Provider errors are logged and treated as "not
// found"; only a full miss across all providers surfaces ErrNotFound.
type Chain struct {
	providers []Source
	logger    *slog.Logger
}

// NewChain builds a provider chain in preference order.
func NewChain(logger *slog.Logger, providers ...Source) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{providers: providers, logger: logger}
}

// Search implements Source.
func (c *Chain) Search(ctx context.Context, query string, maxResults int) ([]book.Book, error) {
	for _, p := range c.providers {
		books, err := p.Search(ctx, query, maxResults)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, ErrNotFound) {
				c.logger.Warn("external provider failed", "error", err)
			}
			continue
		}
		if len(books) > 0 {
			return books, nil
		}
	}
	return nil, ErrNotFound
}
