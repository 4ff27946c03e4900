// Package ingest handles bulk catalog loading and semantic index
// construction: reading seed book files, backfilling missing embeddings
// and rebuilding the in-memory index from persisted vectors at startup.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shelfmate/shelfmate/internal/book"
	"github.com/shelfmate/shelfmate/internal/embed"
	"github.com/shelfmate/shelfmate/internal/index"
)

// ErrNoBooks indicates an ingest file with zero usable records.
var ErrNoBooks = errors.New("no books to ingest")

// seedBook is the JSON shape of one record in a seed file.
type seedBook struct {
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Description string   `json:"description"`
	Genre       string   `json:"genre"`
	Rating      *float64 `json:"rating"`
	CoverURL    string   `json:"cover_url"`
	Year        *int     `json:"year_published"`
	ISBN        string   `json:"isbn"`
}

// Stats summarizes one ingest run.
type Stats struct {
	Read     int // records parsed from the file
	Inserted int // records persisted (deduplicated inserts count too)
	Skipped  int // records rejected for missing title or author
	Embedded int // embeddings computed in this run
	Indexed  int // entries in the index after the final rebuild
}

// Ingestor loads seed files into the catalog and keeps the semantic
// index in sync with persisted embeddings.
type Ingestor struct {
	catalog  book.Catalog
	embedder embed.Provider
	index    *index.Index
	logger   *slog.Logger
}

// New creates an Ingestor.
func New(catalog book.Catalog, embedder embed.Provider, idx *index.Index, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{catalog: catalog, embedder: embedder, index: idx, logger: logger}
}

// LoadFile ingests a JSON seed file (an array of book records) and then
// rebuilds the index. Records without title or author are skipped with a
// warning; embedding failures leave the book persisted without a vector.
func (ing *Ingestor) LoadFile(ctx context.Context, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()
	return ing.Load(ctx, f)
}

// Load ingests JSON book records from r. See LoadFile.
func (ing *Ingestor) Load(ctx context.Context, r io.Reader) (Stats, error) {
	var seeds []seedBook
	if err := json.NewDecoder(r).Decode(&seeds); err != nil {
		return Stats{}, fmt.Errorf("decoding seed records: %w", err)
	}

	var stats Stats
	stats.Read = len(seeds)

	for _, s := range seeds {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if s.Title == "" || s.Author == "" {
			ing.logger.Warn("skipping record without title or author", "title", s.Title, "author", s.Author)
			stats.Skipped++
			continue
		}

		stored, err := ing.catalog.Insert(ctx, book.Book{
			Title:       s.Title,
			Author:      s.Author,
			Description: s.Description,
			Genre:       s.Genre,
			Rating:      s.Rating,
			CoverURL:    s.CoverURL,
			Year:        s.Year,
			ISBN:        s.ISBN,
			Source:      book.SourceLocal,
		})
		if err != nil {
			return stats, fmt.Errorf("inserting %q: %w", s.Title, err)
		}
		stats.Inserted++

		if len(stored.Embedding) == 0 {
			vec, err := ing.embedder.Embed(ctx, stored.EmbeddingText())
			if err != nil {
				// The record stays; RebuildIndex on a later run picks it up
				// once the embedding provider recovers.
				ing.logger.Warn("embedding failed, book stored without vector",
					"book_id", stored.ID, "title", stored.Title, "error", err)
				continue
			}
			if err := ing.catalog.UpdateEmbedding(ctx, stored.ID, vec); err != nil {
				return stats, fmt.Errorf("persisting embedding for %q: %w", s.Title, err)
			}
			stats.Embedded++
		}
	}

	if stats.Inserted == 0 {
		return stats, ErrNoBooks
	}

	indexed, err := ing.RebuildIndex(ctx)
	if err != nil {
		return stats, err
	}
	stats.Indexed = indexed
	return stats, nil
}

// RebuildIndex reloads the semantic index from the catalog's persisted
// embeddings. Books without a vector are left out; they remain reachable
// through the title and keyword tiers.
func (ing *Ingestor) RebuildIndex(ctx context.Context) (int, error) {
	books, err := ing.catalog.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading catalog for index rebuild: %w", err)
	}

	entries := make([]index.Entry, 0, len(books))
	for _, b := range books {
		if len(b.Embedding) == 0 {
			continue
		}
		entries = append(entries, index.Entry{BookID: b.ID, Embedding: b.Embedding})
	}

	if err := ing.index.Rebuild(entries); err != nil {
		return 0, fmt.Errorf("rebuilding index: %w", err)
	}
	ing.logger.Info("semantic index rebuilt", "indexed", len(entries), "catalog", len(books))
	return len(entries), nil
}

// EmbedMissing computes and persists embeddings for catalog books that
// have none, then rebuilds the index. Used to repair after a run where
// the embedding provider was down.
func (ing *Ingestor) EmbedMissing(ctx context.Context) (int, error) {
	books, err := ing.catalog.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading catalog: %w", err)
	}

	var embedded int
	for _, b := range books {
		if len(b.Embedding) > 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return embedded, err
		}
		vec, err := ing.embedder.Embed(ctx, b.EmbeddingText())
		if err != nil {
			ing.logger.Warn("embedding still failing", "book_id", b.ID, "error", err)
			continue
		}
		if err := ing.catalog.UpdateEmbedding(ctx, b.ID, vec); err != nil {
			return embedded, fmt.Errorf("persisting embedding for %q: %w", b.Title, err)
		}
		embedded++
	}

	if embedded > 0 {
		if _, err := ing.RebuildIndex(ctx); err != nil {
			return embedded, err
		}
	}
	return embedded, nil
}
