// Package narrator turns retrieval candidates into persona-voiced
// explanations. It is presentation only: it never adds, removes or
// reorders candidates, and when generation fails it degrades to
// metadata-derived explanations instead of failing the turn.
package narrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shelfmate/shelfmate/internal/llm"
	"github.com/shelfmate/shelfmate/internal/persona"
	"github.com/shelfmate/shelfmate/internal/retrieval"
)

// Explained pairs a candidate with its user-facing explanation. Order
// matches the candidate order given to Explain.
type Explained struct {
	Candidate   retrieval.Candidate
	Explanation string
}

// Narrator generates recommendation explanations through an LLM.
type Narrator struct {
	gen    llm.Generator
	logger *slog.Logger
}

// New creates a Narrator.
func New(gen llm.Generator, logger *slog.Logger) *Narrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Narrator{gen: gen, logger: logger}
}

// narration is the expected model response shape.
type narration struct {
	Preamble string `json:"preamble"`
	Items    []struct {
		BookIndex   int    `json:"book_index"`
		Explanation string `json:"explanation"`
	} `json:"items"`
}

// Explain produces a persona-voiced preamble and one explanation per
// candidate, in the candidates' original order. The model only supplies
// prose; the candidate set is reconciled afterwards so hallucinated
// entries are dropped and omitted ones get metadata explanations.
// degraded reports whether any part fell back to metadata text.
func (n *Narrator) Explain(ctx context.Context, candidates []retrieval.Candidate, p persona.Persona, userMessage string) (preamble string, items []Explained, degraded bool) {
	if len(candidates) == 0 {
		return "", nil, false
	}

	var resp narration
	if err := llm.CompleteJSON(ctx, n.gen, buildPrompt(candidates, p, userMessage), &resp); err != nil {
		n.logger.Warn("narration failed, using metadata explanations", "error", err)
		return metadataPreamble(), metadataItems(candidates), true
	}

	// Reconcile by index. The model must not change the set: out-of-range
	// indices are ignored, missing indices get metadata explanations.
	byIndex := make(map[int]string, len(resp.Items))
	for _, item := range resp.Items {
		if item.BookIndex < 1 || item.BookIndex > len(candidates) {
			n.logger.Warn("narration referenced unknown book", "book_index", item.BookIndex)
			continue
		}
		if strings.TrimSpace(item.Explanation) == "" {
			continue
		}
		byIndex[item.BookIndex] = strings.TrimSpace(item.Explanation)
	}

	items = make([]Explained, len(candidates))
	for i, c := range candidates {
		expl, ok := byIndex[i+1]
		if !ok {
			expl = MetadataExplanation(c)
			degraded = true
		}
		items[i] = Explained{Candidate: c, Explanation: expl}
	}

	preamble = strings.TrimSpace(resp.Preamble)
	if preamble == "" {
		preamble = metadataPreamble()
		degraded = true
	}
	return preamble, items, degraded
}

// KnowledgeFallback answers a recommendation request from the model's own
// knowledge when every retrieval tier came up empty. On generation failure
// it returns a static in-character message, never an error.
func (n *Narrator) KnowledgeFallback(ctx context.Context, userMessage string, p persona.Persona) string {
	var b strings.Builder
	b.WriteString(p.Tone)
	b.WriteString("\n\nA reader asked: ")
	b.WriteString(quote(userMessage))
	b.WriteString(`

Our catalog had nothing relevant, so recommend 2-3 REAL published books
from your own knowledge that fit the request. For each, give the title,
the author and one sentence on why it fits. Stay in character and keep
the whole reply conversational, not a list dump.`)

	text, err := n.gen.Complete(ctx, b.String())
	if err != nil {
		n.logger.Warn("knowledge fallback failed", "error", err)
		return "I couldn't find a good match for that just now. Could you tell me a bit more about what you're in the mood for?"
	}
	return strings.TrimSpace(text)
}

func buildPrompt(candidates []retrieval.Candidate, p persona.Persona, userMessage string) string {
	var b strings.Builder
	b.WriteString(p.Tone)
	b.WriteString("\n\nA reader asked: ")
	b.WriteString(quote(userMessage))
	b.WriteString("\n\nThese books were selected for them. The list is final: do not add, remove, reorder or substitute books.\n\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %q by %s", i+1, c.Book.Title, c.Book.Author)
		if c.Book.Genre != "" {
			fmt.Fprintf(&b, " (%s)", c.Book.Genre)
		}
		b.WriteString("\n")
		if c.Book.Description != "" {
			fmt.Fprintf(&b, "   %s\n", truncate(c.Book.Description, 300))
		}
	}
	b.WriteString(`
Respond with JSON only, no markdown fences:
{
  "preamble": "one or two in-character sentences introducing the picks",
  "items": [
    {"book_index": 1, "explanation": "2-3 in-character sentences on why this book fits the request"}
  ]
}
Include exactly one item per listed book, using its number as book_index.`)
	return b.String()
}

// MetadataExplanation derives an explanation from the book's own
// metadata, used when generation is unavailable or skipped a book.
func MetadataExplanation(c retrieval.Candidate) string {
	desc := strings.TrimSpace(c.Book.Description)
	if len(desc) >= 20 {
		return truncate(desc, 200)
	}
	genre := c.Book.Genre
	if genre == "" {
		genre = "notable"
	}
	return fmt.Sprintf("A %s book by %s.", genre, c.Book.Author)
}

func metadataItems(candidates []retrieval.Candidate) []Explained {
	out := make([]Explained, len(candidates))
	for i, c := range candidates {
		out[i] = Explained{Candidate: c, Explanation: MetadataExplanation(c)}
	}
	return out
}

func metadataPreamble() string {
	return "Here's what I found:"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndex(cut, " "); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

// quote wraps user text for prompt interpolation. Double quotes inside
// the message become single quotes so the framing stays unambiguous.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `'`) + `"`
}
