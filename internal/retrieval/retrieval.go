// Package retrieval implements the waterfall: the ordered sequence of
// strategies that turns a classified intent into candidate books,
// degrading through data sources until one yields results.
//
// Tiers, attempted strictly in order; the first tier producing at least
// one candidate ends the waterfall, and candidates are never merged
// across tiers:
//
//  1. Local fuzzy title lookup (only when a book is explicitly named)
//  2. Just-in-time external fetch (only after a tier-1 miss)
//  3. Semantic vector search over the in-memory index
//  4. Keyword fallback against the catalog
//  5. Terminal empty result
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/shelfmate/shelfmate/internal/book"
	"github.com/shelfmate/shelfmate/internal/embed"
	"github.com/shelfmate/shelfmate/internal/external"
	"github.com/shelfmate/shelfmate/internal/index"
	"github.com/shelfmate/shelfmate/internal/intent"
)

// Tier identifies which waterfall strategy produced a candidate.
type Tier int

const (
	// TierNone is the terminal no-candidate state.
	TierNone Tier = iota
	// TierLocalTitle is the local fuzzy title lookup.
	TierLocalTitle
	// TierExternalFetch is the just-in-time external fetch.
	TierExternalFetch
	// TierSemantic is the vector similarity search.
	TierSemantic
	// TierKeyword is the catalog keyword fallback.
	TierKeyword
)

// String returns the tier name for logs.
func (t Tier) String() string {
	switch t {
	case TierLocalTitle:
		return "local_title"
	case TierExternalFetch:
		return "external_fetch"
	case TierSemantic:
		return "semantic"
	case TierKeyword:
		return "keyword"
	default:
		return "none"
	}
}

// Candidate is a book plus the score and tier that produced it. Valid
// only for the duration of one pipeline run.
type Candidate struct {
	Book  book.Book
	Score float64
	Tier  Tier
}

// Result is the waterfall outcome for one turn.
type Result struct {
	Candidates []Candidate
	// BookNotFound names the explicitly-requested book when neither the
	// catalog nor the external source could locate it. Communicated to
	// the user as content, not as an error.
	BookNotFound string
}

// Config holds the waterfall tunables.
type Config struct {
	TopK            int     // neighbors requested from the semantic index
	SimilarityFloor float64 // minimum cosine similarity for tier 3 hits
}

// Orchestrator runs the waterfall. Safe for concurrent use: per-turn
// state stays on the stack, and the shared catalog and index are
// read-mostly with their own synchronization.
type Orchestrator struct {
	catalog  book.Catalog
	index    *index.Index
	embedder embed.Provider
	source   external.Source
	cfg      Config
	logger   *slog.Logger

	// jit collapses concurrent just-in-time fetches for the same
	// normalized title so only one external call and one insert happen.
	jit singleflight.Group
}

// New creates an Orchestrator.
func New(catalog book.Catalog, idx *index.Index, embedder embed.Provider, source external.Source, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		catalog:  catalog,
		index:    idx,
		embedder: embedder,
		source:   source,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve runs the waterfall for one classified intent.
// Upstream failures inside a tier degrade that tier to zero results; the
// only returned errors are context cancellation.
func (o *Orchestrator) Retrieve(ctx context.Context, it intent.Intent) (Result, error) {
	var res Result

	// Tiers 1+2 only apply when the user named a specific book.
	if it.NamedBook != "" {
		matches, err := o.catalog.FindByTitleFuzzy(ctx, it.NamedBook)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			o.logger.Warn("title lookup failed", "book", it.NamedBook, "error", err)
		}
		if len(matches) > 0 {
			o.logger.Debug("waterfall resolved", "tier", TierLocalTitle, "count", len(matches))
			res.Candidates = asCandidates(matches, TierLocalTitle, 1.0)
			return res, nil
		}

		fetched, err := o.fetchJustInTime(ctx, it.NamedBook)
		switch {
		case err == nil:
			o.logger.Debug("waterfall resolved", "tier", TierExternalFetch, "book_id", fetched.ID)
			res.Candidates = []Candidate{{Book: fetched, Score: 1.0, Tier: TierExternalFetch}}
			return res, nil
		case errors.Is(err, external.ErrNotFound):
			res.BookNotFound = it.NamedBook
		case ctx.Err() != nil:
			return Result{}, ctx.Err()
		default:
			// External source trouble is soft: record the miss and keep
			// degrading through the remaining tiers.
			o.logger.Warn("just-in-time fetch failed", "book", it.NamedBook, "error", err)
			res.BookNotFound = it.NamedBook
		}
	}

	if cands := o.semanticSearch(ctx, it.OptimizedQuery); len(cands) > 0 {
		o.logger.Debug("waterfall resolved", "tier", TierSemantic, "count", len(cands))
		res.Candidates = cands
		return res, nil
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	matches, err := o.catalog.FindByKeywords(ctx, it.OptimizedQuery)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		o.logger.Warn("keyword fallback failed", "error", err)
	}
	if len(matches) > 0 {
		o.logger.Debug("waterfall resolved", "tier", TierKeyword, "count", len(matches))
		res.Candidates = asCandidates(matches, TierKeyword, 0)
		return res, nil
	}

	// Tier 5: terminal empty. The pipeline substitutes the knowledge
	// fallback response; BookNotFound carries the literal query so the
	// caller can name what was missed.
	if res.BookNotFound == "" {
		res.BookNotFound = it.OptimizedQuery
	}
	o.logger.Debug("waterfall exhausted", "query", it.OptimizedQuery)
	return res, nil
}

// fetchJustInTime resolves a named book through the external source,
// persists it idempotently and appends it to the semantic index.
// Concurrent fetches for the same normalized title collapse to a single
// flight, and the catalog's dedupe key guarantees one record even across
// processes.
func (o *Orchestrator) fetchJustInTime(ctx context.Context, namedBook string) (book.Book, error) {
	key := book.NormalizeKey(namedBook, "")

	v, err, _ := o.jit.Do(key, func() (any, error) {
		found, err := o.source.Search(ctx, namedBook, 1)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, external.ErrNotFound
		}

		stored, err := o.catalog.Insert(ctx, found[0])
		if err != nil {
			return nil, fmt.Errorf("persisting fetched book: %w", err)
		}

		// Embedding and index insertion are best-effort: the book is
		// already committed and remains available to future queries even
		// if this part fails or the caller has gone away.
		o.indexBook(ctx, stored)

		return stored, nil
	})
	if err != nil {
		return book.Book{}, err
	}
	return v.(book.Book), nil
}

// indexBook embeds a freshly persisted book and inserts it into the
// semantic index, backfilling the stored embedding. All failures are soft.
func (o *Orchestrator) indexBook(ctx context.Context, b book.Book) {
	vec := b.Embedding
	if len(vec) == 0 {
		var err error
		vec, err = o.embedder.Embed(ctx, b.EmbeddingText())
		if err != nil {
			o.logger.Warn("embedding fetched book failed", "book_id", b.ID, "error", err)
			return
		}
		if err := o.catalog.UpdateEmbedding(ctx, b.ID, vec); err != nil {
			o.logger.Warn("persisting embedding failed", "book_id", b.ID, "error", err)
		}
	}
	if err := o.index.Insert(b.ID, vec); err != nil {
		o.logger.Warn("index insert failed", "book_id", b.ID, "error", err)
	}
}

// semanticSearch runs tier 3. An embedding failure skips the tier
// entirely (zero results) rather than propagating: retrieval must keep
// degrading when the embedding provider is down.
func (o *Orchestrator) semanticSearch(ctx context.Context, query string) []Candidate {
	if query == "" {
		return nil
	}

	vec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		o.logger.Warn("semantic tier skipped: embedding failed", "error", err)
		return nil
	}

	hits, err := o.index.Query(vec, o.cfg.TopK)
	if err != nil {
		o.logger.Warn("semantic tier skipped: index query failed", "error", err)
		return nil
	}

	var out []Candidate
	for _, hit := range hits {
		if hit.Similarity < o.cfg.SimilarityFloor {
			continue
		}
		b, err := o.catalog.ByID(ctx, hit.BookID)
		if err != nil {
			// Indexed but no longer in the catalog; deletion is an
			// external-collaborator concern, so just skip the hit.
			o.logger.Warn("indexed book missing from catalog", "book_id", hit.BookID, "error", err)
			continue
		}
		out = append(out, Candidate{Book: b, Score: hit.Similarity, Tier: TierSemantic})
	}
	return out
}

func asCandidates(books []book.Book, tier Tier, score float64) []Candidate {
	out := make([]Candidate, len(books))
	for i, b := range books {
		out[i] = Candidate{Book: b, Score: score, Tier: tier}
	}
	return out
}
