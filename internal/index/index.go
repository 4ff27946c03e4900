// Package index implements the in-memory semantic index: an exact
// nearest-neighbor structure over L2-normalized book embeddings, queried
// by cosine similarity.
//
// The index is built once at process start from the catalog's persisted
// embeddings and incrementally appended to when books are fetched
// just-in-time. It is never rebuilt per request.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	// ErrDimensionMismatch indicates a vector of the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyID indicates an insert without a book ID.
	ErrEmptyID = errors.New("book ID must not be empty")
)

// Hit is a single nearest-neighbor result.
type Hit struct {
	BookID     string
	Similarity float64 // cosine similarity, higher is closer
}

// Entry pairs a book ID with its embedding, used for bulk rebuild.
type Entry struct {
	BookID    string
	Embedding []float32
}

// Index is a brute-force cosine similarity index.
// Vectors are normalized on insert so similarity reduces to a dot
// product. A single RWMutex serializes writers; the underlying slices are
// append-only between rebuilds.
type Index struct {
	mu        sync.RWMutex
	dimension int
	ids       []string
	vectors   [][]float32
	known     map[string]int // id -> position, for idempotent re-insert
}

// New creates an empty index for vectors of the given dimension.
func New(dimension int) *Index {
	return &Index{
		dimension: dimension,
		known:     make(map[string]int),
	}
}

// Insert adds a book's embedding. Re-inserting a known ID replaces its
// vector in place, keeping the original insertion position (and therefore
// the tie-break order) stable.
func (ix *Index) Insert(bookID string, embedding []float32) error {
	if bookID == "" {
		return ErrEmptyID
	}
	if len(embedding) != ix.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), ix.dimension)
	}

	vec := normalize(embedding)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if pos, ok := ix.known[bookID]; ok {
		ix.vectors[pos] = vec
		return nil
	}
	ix.known[bookID] = len(ix.ids)
	ix.ids = append(ix.ids, bookID)
	ix.vectors = append(ix.vectors, vec)
	return nil
}

// Rebuild replaces the entire index contents. Entries with a wrong
// dimension are rejected wholesale so a partial rebuild never goes live.
func (ix *Index) Rebuild(entries []Entry) error {
	ids := make([]string, 0, len(entries))
	vectors := make([][]float32, 0, len(entries))
	known := make(map[string]int, len(entries))

	for _, e := range entries {
		if e.BookID == "" {
			return ErrEmptyID
		}
		if len(e.Embedding) != ix.dimension {
			return fmt.Errorf("%w: book %q has %d, want %d",
				ErrDimensionMismatch, e.BookID, len(e.Embedding), ix.dimension)
		}
		if _, dup := known[e.BookID]; dup {
			continue
		}
		known[e.BookID] = len(ids)
		ids = append(ids, e.BookID)
		vectors = append(vectors, normalize(e.Embedding))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.ids = ids
	ix.vectors = vectors
	ix.known = known
	return nil
}

// Query returns the top-k nearest neighbors by cosine similarity,
// descending. Equal similarities keep insertion order (stable sort).
func (ix *Index) Query(embedding []float32, k int) ([]Hit, error) {
	if len(embedding) != ix.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), ix.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	query := normalize(embedding)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := make([]Hit, len(ix.ids))
	for i, vec := range ix.vectors {
		hits[i] = Hit{BookID: ix.ids[i], Similarity: dot(query, vec)}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Similarity > hits[b].Similarity
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Size returns the number of indexed books.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.ids)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalize returns an L2-normalized copy, so inner product equals cosine
// similarity. Zero vectors are returned as-is (similarity 0 everywhere).
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
