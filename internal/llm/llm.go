// Package llm provides the language-generation collaborator contract used
// by the intent classifier, the narrator and the LLM-knowledge metadata
// provider, plus the Genkit-backed production implementation with retry,
// circuit breaking and rate limiting.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrGeneration is the class of all generation failures. Callers check it
// with errors.Is and take their fail-soft path; a generation failure must
// never abort a chat turn.
var ErrGeneration = errors.New("generation failed")

// Generator is the minimal language-generation contract.
// Implementations must honor ctx cancellation and deadlines.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleteJSON runs a completion and unmarshals the response into out.
// Models habitually wrap JSON in markdown code fences; those are stripped
// before unmarshaling.
func CompleteJSON(ctx context.Context, g Generator, prompt string, out any) error {
	text, err := g.Complete(ctx, prompt)
	if err != nil {
		return err
	}
	payload := StripFences(text)
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("%w: malformed JSON response: %w", ErrGeneration, err)
	}
	return nil
}

// StripFences removes a surrounding markdown code fence, if any, and
// trims whitespace. ```json and bare ``` fences are both handled.
func StripFences(text string) string {
	s := text
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	return strings.TrimSpace(s)
}
