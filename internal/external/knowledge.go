package external

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shelfmate/shelfmate/internal/book"
	"github.com/shelfmate/shelfmate/internal/llm"
)

// KnowledgeProvider asks the language-generation collaborator for book
// metadata from its own training knowledge. It is the second provider in
// the chain: slower and less authoritative than a structured catalog API,
// but it can surface almost any published book.
type KnowledgeProvider struct {
	generator llm.Generator
	logger    *slog.Logger
}

// NewKnowledgeProvider creates the LLM-backed metadata provider.
func NewKnowledgeProvider(generator llm.Generator, logger *slog.Logger) *KnowledgeProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &KnowledgeProvider{generator: generator, logger: logger}
}

type knowledgeBook struct {
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Description string  `json:"description"`
	Genre       string  `json:"genre"`
	Year        int     `json:"year_published"`
	Rating      float64 `json:"rating"`
	ISBN        string  `json:"isbn"`
}

// Search implements Source.
func (k *KnowledgeProvider) Search(ctx context.Context, query string, maxResults int) ([]book.Book, error) {
	if maxResults <= 0 {
		maxResults = 3
	}

	var parsed []knowledgeBook
	if err := llm.CompleteJSON(ctx, k.generator, k.buildPrompt(query, maxResults), &parsed); err != nil {
		return nil, fmt.Errorf("knowledge lookup: %w", err)
	}

	var books []book.Book
	for _, kb := range parsed {
		if len(books) >= maxResults {
			break
		}
		if strings.TrimSpace(kb.Title) == "" || strings.TrimSpace(kb.Author) == "" {
			continue
		}

		b := book.Book{
			Title:       kb.Title,
			Author:      kb.Author,
			Description: kb.Description,
			Genre:       kb.Genre,
			Source:      book.SourceJustInTime,
		}
		if r := clampRating(kb.Rating); kb.Rating > 0 {
			b.Rating = &r
		}
		if kb.Year > 0 {
			y := kb.Year
			b.Year = &y
		}
		if isbn := strings.TrimSpace(kb.ISBN); isbn != "" && !strings.EqualFold(isbn, "null") {
			b.ISBN = isbn
			b.CoverURL = CoverURLByISBN(isbn)
		}
		books = append(books, b)
		k.logger.Debug("knowledge provider found book", "title", b.Title, "author", b.Author)
	}

	if len(books) == 0 {
		return nil, ErrNotFound
	}
	return books, nil
}

func (k *KnowledgeProvider) buildPrompt(query string, maxResults int) string {
	return fmt.Sprintf(`You are a book database assistant. The user is looking for: %q

Find up to %d REAL published books that best match this query.

Return ONLY a JSON array, no other text:
[
  {
    "title": "Exact Book Title",
    "author": "Author Name",
    "description": "A compelling 2-3 sentence description of the book",
    "genre": "Primary genre (e.g. Self-Help, Fiction, Science Fiction, Romance, Biography)",
    "year_published": 2020,
    "rating": 4.5,
    "isbn": "ISBN-13 if known, otherwise null"
  }
]

CRITICAL RULES:
- Only include books that ACTUALLY EXIST
- Be accurate with author names and publication years
- Rating must be a reasonable estimate between 1.0 and 5.0
- If the query names a specific book, prioritize exactly that book`, query, maxResults)
}
