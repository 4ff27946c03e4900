// Package pipeline composes intent classification, waterfall retrieval
// and narration into the chat-turn entrypoint. One call handles one user
// message and always returns a usable reply: collaborator failures
// degrade the result and are surfaced as a note, never as a turn-level
// error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/shelfmate/shelfmate/internal/book"
	"github.com/shelfmate/shelfmate/internal/intent"
	"github.com/shelfmate/shelfmate/internal/narrator"
	"github.com/shelfmate/shelfmate/internal/persona"
	"github.com/shelfmate/shelfmate/internal/retrieval"
)

// ErrInvalidInput indicates an empty user message, the only request the
// pipeline rejects outright.
var ErrInvalidInput = errors.New("invalid input")

// MaxResults caps how many recommendations one turn returns, regardless
// of what the user asked for.
const MaxResults = 5

// TurnRequest is one user message plus its session context.
type TurnRequest struct {
	Message   string
	PersonaID string
	UserName  string
	SessionID string
}

// Recommendation is one recommended book with its explanation.
type Recommendation struct {
	Book        book.Book
	Explanation string
}

// TurnResult is the complete outcome of one chat turn.
type TurnResult struct {
	SessionID       string
	Message         string
	Recommendations []Recommendation
	// QueryUnderstood is false when classification degraded to the raw
	// message, a hint for the client that results may be loose.
	QueryUnderstood bool
	// BookNotFound names an explicitly-requested book that could not be
	// located anywhere, reported as content alongside whatever the later
	// tiers still produced.
	BookNotFound string
	// ErrorNote accumulates human-readable notes about degraded steps.
	// Empty on a fully healthy turn.
	ErrorNote string
}

// Pipeline handles chat turns.
type Pipeline struct {
	classifier *intent.Classifier
	retriever  *retrieval.Orchestrator
	narrator   *narrator.Narrator
	maxResults int
	logger     *slog.Logger
}

// Config holds pipeline tunables.
type Config struct {
	MaxResults int
}

// New creates a Pipeline.
func New(classifier *intent.Classifier, retriever *retrieval.Orchestrator, n *narrator.Narrator, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = MaxResults
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		classifier: classifier,
		retriever:  retriever,
		narrator:   n,
		maxResults: cfg.MaxResults,
		logger:     logger,
	}
}

// HandleTurn processes one user message end to end.
// The only error returns are ErrInvalidInput for an empty message and
// context cancellation; everything else degrades into the result.
func (p *Pipeline) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return TurnResult{}, fmt.Errorf("%w: empty message", ErrInvalidInput)
	}

	pers := persona.Lookup(req.PersonaID)
	res := TurnResult{
		SessionID:       req.SessionID,
		QueryUnderstood: true,
	}
	if res.SessionID == "" {
		res.SessionID = uuid.NewString()
	}

	it, err := p.classifier.Classify(ctx, req.Message, pers)
	if err != nil {
		return TurnResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if it.Degraded {
		res.QueryUnderstood = false
	}

	p.logger.Debug("turn classified",
		"session_id", res.SessionID,
		"persona", pers.ID,
		"needs_search", it.NeedsSearch,
		"named_book", it.NamedBook)

	// Conversational turns skip retrieval entirely.
	if !it.NeedsSearch {
		res.Message = it.DirectReply
		if res.Message == "" {
			res.Message = greeting(pers, req.UserName)
		}
		return res, nil
	}

	ret, err := p.retriever.Retrieve(ctx, it)
	if err != nil {
		return TurnResult{}, err
	}
	res.BookNotFound = ret.BookNotFound

	limit := it.RequestedCount
	if limit > p.maxResults {
		limit = p.maxResults
	}
	candidates := ret.Candidates
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	if len(candidates) == 0 {
		// Terminal waterfall miss: answer from model knowledge instead of
		// returning an empty turn.
		res.Message = p.narrator.KnowledgeFallback(ctx, req.Message, pers)
		if res.BookNotFound != "" {
			res.ErrorNote = fmt.Sprintf("couldn't find %q anywhere", res.BookNotFound)
		}
		return res, nil
	}

	preamble, explained, degraded := p.narrator.Explain(ctx, candidates, pers, req.Message)
	res.Message = preamble
	res.Recommendations = make([]Recommendation, len(explained))
	for i, e := range explained {
		res.Recommendations[i] = Recommendation{Book: e.Candidate.Book, Explanation: e.Explanation}
	}
	if degraded {
		res.ErrorNote = appendNote(res.ErrorNote, "explanations are summaries from book metadata")
	}
	if res.BookNotFound != "" {
		res.ErrorNote = appendNote(res.ErrorNote,
			fmt.Sprintf("couldn't find %q, showing related books instead", res.BookNotFound))
	}
	return res, nil
}

func greeting(p persona.Persona, userName string) string {
	name := strings.TrimSpace(userName)
	if name != "" {
		return fmt.Sprintf("Hi %s! I'm %s. What kind of book are you in the mood for?", name, p.DisplayName)
	}
	return fmt.Sprintf("Hi! I'm %s. What kind of book are you in the mood for?", p.DisplayName)
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}
