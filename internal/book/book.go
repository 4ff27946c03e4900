// Package book defines the Book domain model and the Catalog store that
// owns it. The catalog is the system of record: pipeline structures only
// reference books, they never own them.
package book

import (
	"strings"

	"github.com/google/uuid"
)

// Provenance records how a book entered the catalog.
type Provenance string

const (
	// SourceLocal marks books loaded by bulk ingestion.
	SourceLocal Provenance = "local"

	// SourceJustInTime marks books fetched from an external metadata
	// source during a pipeline run.
	SourceJustInTime Provenance = "just_in_time"
)

// Book is a persisted catalog record.
//
// Invariant: Title and Author are non-empty once persisted; ID is
// immutable. The pipeline never deletes books; it only backfills a
// missing description, cover or embedding.
type Book struct {
	ID          string
	Title       string
	Author      string
	Description string
	Genre       string
	Rating      *float64 // 0-5, nil when unknown
	CoverURL    string
	Year        *int
	ISBN        string
	Source      Provenance

	// Embedding is the persisted description embedding, nil until
	// computed. Kept alongside the record so the semantic index can be
	// rebuilt without re-embedding unchanged descriptions.
	Embedding []float32
}

// NewID returns a fresh opaque book identifier.
// Just-in-time books carry a "dyn_" prefix so their origin stays visible
// in logs and exports.
func NewID(source Provenance) string {
	id := uuid.NewString()
	if source == SourceJustInTime {
		return "dyn_" + strings.ReplaceAll(id, "-", "")[:12]
	}
	return id
}

// DedupeKey returns the normalized title+author key used for idempotent
// inserts. Two concurrent just-in-time fetches for the same book must
// resolve to one record.
func (b Book) DedupeKey() string {
	return NormalizeKey(b.Title, b.Author)
}

// NormalizeKey lowercases and collapses whitespace in title and author.
func NormalizeKey(title, author string) string {
	return collapse(title) + "|" + collapse(author)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// EmbeddingText returns the text the book is embedded from.
// Title, author and genre are included so sparse descriptions still land
// near genre-adjacent queries.
func (b Book) EmbeddingText() string {
	var sb strings.Builder
	sb.WriteString(b.Title)
	sb.WriteString(" by ")
	sb.WriteString(b.Author)
	if b.Genre != "" {
		sb.WriteString(". Genre: ")
		sb.WriteString(b.Genre)
	}
	if b.Description != "" {
		sb.WriteString(". ")
		sb.WriteString(b.Description)
	}
	return sb.String()
}
