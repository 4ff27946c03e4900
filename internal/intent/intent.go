// Package intent classifies a free-text user message: does it need a book
// search, is it smalltalk, which book (if any) is named, and what search
// phrase should retrieval use.
//
// The classifier delegates to the language-generation collaborator but is
// required to fail soft: if the collaborator is unavailable or returns a
// malformed structure, a default search intent is synthesized from the raw
// message. The pipeline never blocks on classifier failure.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shelfmate/shelfmate/internal/llm"
	"github.com/shelfmate/shelfmate/internal/persona"
)

// ErrEmptyMessage indicates an empty or whitespace-only message. This is
// the classifier's only hard failure.
var ErrEmptyMessage = errors.New("message must not be empty")

// Default bounds for the number of books a user may request in one turn.
const (
	DefaultRequestedCount = 5
	MaxRequestedCount     = 20
)

// Intent is the classification of one user turn. Ephemeral: produced once
// per turn, consumed once by the retrieval orchestrator.
type Intent struct {
	RawMessage     string
	NeedsSearch    bool
	IsGreeting     bool
	NamedBook      string // explicitly-named book title, if any
	OptimizedQuery string // search phrase rewritten for retrieval quality
	Mood           string // free-form emotional context
	DirectReply    string // in-character reply when NeedsSearch is false
	RequestedCount int    // how many books the user asked for, clamped
	// Degraded reports that classification fell back to the default
	// search intent because the collaborator failed.
	Degraded bool
}

// classifierResponse is the fixed JSON shape requested from the model.
type classifierResponse struct {
	NeedsBookSearch bool   `json:"needs_book_search"`
	IsGreeting      bool   `json:"is_greeting"`
	NamedBook       string `json:"named_book"`
	OptimizedQuery  string `json:"optimized_query"`
	Mood            string `json:"mood"`
	DirectReply     string `json:"direct_reply"`
	RequestedCount  int    `json:"requested_count"`
}

// Classifier turns user messages into Intents.
type Classifier struct {
	generator llm.Generator
	logger    *slog.Logger
}

// NewClassifier creates a Classifier using the given generator.
func NewClassifier(generator llm.Generator, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{generator: generator, logger: logger}
}

// Classify analyzes the message under the given persona.
// Only an empty message fails; every collaborator failure degrades to the
// default search intent.
func (c *Classifier) Classify(ctx context.Context, message string, p persona.Persona) (Intent, error) {
	if strings.TrimSpace(message) == "" {
		return Intent{}, ErrEmptyMessage
	}

	fallback := defaultIntent(message)

	var resp classifierResponse
	if err := llm.CompleteJSON(ctx, c.generator, c.buildPrompt(message, p), &resp); err != nil {
		c.logger.Warn("intent classification degraded to default", "error", err)
		return fallback, nil
	}

	return c.validate(message, resp), nil
}

// defaultIntent is the fail-soft result: assume a search is wanted and
// pass the raw message through unchanged.
func defaultIntent(message string) Intent {
	return Intent{
		RawMessage:     message,
		NeedsSearch:    true,
		OptimizedQuery: message,
		Mood:           "neutral",
		RequestedCount: DefaultRequestedCount,
		Degraded:       true,
	}
}

// validate clamps and repairs a parsed response. The model is not trusted
// to respect the schema's semantics.
func (c *Classifier) validate(message string, resp classifierResponse) Intent {
	out := Intent{
		RawMessage:     message,
		NeedsSearch:    resp.NeedsBookSearch,
		IsGreeting:     resp.IsGreeting,
		NamedBook:      strings.TrimSpace(resp.NamedBook),
		OptimizedQuery: strings.TrimSpace(resp.OptimizedQuery),
		Mood:           strings.TrimSpace(resp.Mood),
		DirectReply:    strings.TrimSpace(resp.DirectReply),
		RequestedCount: resp.RequestedCount,
	}

	if out.NeedsSearch && out.OptimizedQuery == "" {
		out.OptimizedQuery = message
	}
	if out.Mood == "" {
		out.Mood = "neutral"
	}
	if out.RequestedCount < 1 {
		out.RequestedCount = DefaultRequestedCount
	}
	if out.RequestedCount > MaxRequestedCount {
		out.RequestedCount = MaxRequestedCount
	}
	return out
}

func (c *Classifier) buildPrompt(message string, p persona.Persona) string {
	return fmt.Sprintf(`%s

## User's Message
%q

## Your Task
Decide if the user wants a book recommendation or is just chatting.
- Greeting, venting, personal questions or small talk: no book search needed.
- Explicit request for a book, genre or reading suggestion: book search IS needed.
- If the user names a specific book title, extract it exactly.
- If they ask for a specific number of books, extract that number.

Output JSON only, with exactly these fields:
{
  "needs_book_search": true/false,
  "is_greeting": true/false,
  "named_book": "exact title if the user named one, else empty",
  "optimized_query": "semantic keywords for vector search (only if needs_book_search)",
  "mood": "brief description of the user's current mood",
  "direct_reply": "your in-character reply (only if needs_book_search is false)",
  "requested_count": number of books the user wants (default %d)
}`, p.Tone, message, DefaultRequestedCount)
}
