package book

import (
	"context"
	"errors"
)

var (
	// ErrInvalidBook indicates an insert was attempted with an empty
	// title or author. The catalog enforces the persistence invariant,
	// not callers.
	ErrInvalidBook = errors.New("book title and author must not be empty")

	// ErrNotFound indicates no book exists with the requested ID.
	ErrNotFound = errors.New("book not found")
)

// Catalog is the store contract the pipeline depends on.
// Implementations must be safe for concurrent use.
//
// Two implementations exist: Postgres (production) and Memory (tests and
// dependency-free runs). Both share the same matching and idempotence
// semantics.
type Catalog interface {
	// FindByTitleFuzzy returns books whose title contains the given text,
	// case-insensitively, in store insertion order.
	FindByTitleFuzzy(ctx context.Context, title string) ([]Book, error)

	// FindByKeywords returns books where every whitespace-separated token
	// of query matches title, author, genre or description by
	// case-insensitive substring. Store insertion order; no ranking
	// guarantee beyond "match found".
	FindByKeywords(ctx context.Context, query string) ([]Book, error)

	// Insert persists a book. Idempotent on the normalized title+author
	// key (and on ISBN when present): a duplicate insert returns the
	// already-persisted record with its original ID, backfilling a
	// missing description or cover from the new data.
	Insert(ctx context.Context, b Book) (Book, error)

	// ByID returns the book with the given ID, or ErrNotFound.
	ByID(ctx context.Context, id string) (Book, error)

	// All returns every book, including persisted embeddings, in
	// insertion order. Used for index rebuild at startup.
	All(ctx context.Context) ([]Book, error)

	// UpdateEmbedding backfills the persisted embedding for a book.
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
}
