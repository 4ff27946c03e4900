package book

import (
	"context"
	"strings"
	"sync"
)

// MemoryCatalog is an in-memory Catalog with the same matching and
// idempotence semantics as the Postgres store. It backs tests and
// dependency-free runs.
//
// Safe for concurrent use.
type MemoryCatalog struct {
	mu     sync.RWMutex
	order  []string          // insertion order of IDs
	byID   map[string]*Book
	byKey  map[string]string // dedupe key -> ID
	byISBN map[string]string // ISBN -> ID
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		byID:   make(map[string]*Book),
		byKey:  make(map[string]string),
		byISBN: make(map[string]string),
	}
}

// FindByTitleFuzzy implements Catalog.
func (c *MemoryCatalog) FindByTitleFuzzy(ctx context.Context, title string) ([]Book, error) {
	needle := strings.ToLower(strings.TrimSpace(title))
	if needle == "" {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Book
	for _, id := range c.order {
		b := c.byID[id]
		if strings.Contains(strings.ToLower(b.Title), needle) {
			out = append(out, *b)
		}
	}
	return out, nil
}

// FindByKeywords implements Catalog.
func (c *MemoryCatalog) FindByKeywords(ctx context.Context, query string) ([]Book, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Book
	for _, id := range c.order {
		b := c.byID[id]
		haystack := strings.ToLower(b.Title + " " + b.Author + " " + b.Genre + " " + b.Description)
		matched := true
		for _, tok := range tokens {
			if !strings.Contains(haystack, tok) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, *b)
		}
	}
	return out, nil
}

// Insert implements Catalog. Duplicates (by dedupe key or ISBN) return the
// existing record, backfilling description and cover when missing.
func (c *MemoryCatalog) Insert(ctx context.Context, b Book) (Book, error) {
	if strings.TrimSpace(b.Title) == "" || strings.TrimSpace(b.Author) == "" {
		return Book{}, ErrInvalidBook
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.lookupExisting(b); ok {
		existing := c.byID[id]
		if existing.Description == "" && b.Description != "" {
			existing.Description = b.Description
		}
		if existing.CoverURL == "" && b.CoverURL != "" {
			existing.CoverURL = b.CoverURL
		}
		return *existing, nil
	}

	if b.ID == "" {
		b.ID = NewID(b.Source)
	}
	if b.Source == "" {
		b.Source = SourceLocal
	}

	stored := b
	c.byID[stored.ID] = &stored
	c.order = append(c.order, stored.ID)
	c.byKey[stored.DedupeKey()] = stored.ID
	if stored.ISBN != "" {
		c.byISBN[stored.ISBN] = stored.ID
	}
	return stored, nil
}

// lookupExisting resolves a duplicate by ISBN first, then by the
// normalized title+author key. Caller must hold the lock.
func (c *MemoryCatalog) lookupExisting(b Book) (string, bool) {
	if b.ISBN != "" {
		if id, ok := c.byISBN[b.ISBN]; ok {
			return id, true
		}
	}
	id, ok := c.byKey[b.DedupeKey()]
	return id, ok
}

// ByID implements Catalog.
func (c *MemoryCatalog) ByID(ctx context.Context, id string) (Book, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b, ok := c.byID[id]
	if !ok {
		return Book{}, ErrNotFound
	}
	return *b, nil
}

// All implements Catalog.
func (c *MemoryCatalog) All(ctx context.Context) ([]Book, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Book, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.byID[id])
	}
	return out, nil
}

// UpdateEmbedding implements Catalog.
func (c *MemoryCatalog) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.byID[id]
	if !ok {
		return nil // unknown ID is a no-op, matching UPDATE semantics
	}
	b.Embedding = append([]float32(nil), embedding...)
	return nil
}

// Len returns the number of stored books.
func (c *MemoryCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}
