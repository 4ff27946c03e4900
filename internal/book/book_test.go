package book

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	local := NewID(SourceLocal)
	if strings.HasPrefix(local, "dyn_") {
		t.Errorf("local ID %q must not carry the dyn_ prefix", local)
	}

	jit := NewID(SourceJustInTime)
	if !strings.HasPrefix(jit, "dyn_") {
		t.Errorf("just-in-time ID %q must carry the dyn_ prefix", jit)
	}
	if len(jit) != len("dyn_")+12 {
		t.Errorf("just-in-time ID length = %d", len(jit))
	}

	if NewID(SourceLocal) == NewID(SourceLocal) {
		t.Error("IDs must be unique")
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		title, author string
		want          string
	}{
		{"Dune", "Frank Herbert", "dune|frank herbert"},
		{"  DUNE  ", "frank   herbert", "dune|frank herbert"},
		{"The  Hobbit", "", "the hobbit|"},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.title, tt.author); got != tt.want {
			t.Errorf("NormalizeKey(%q, %q) = %q, want %q", tt.title, tt.author, got, tt.want)
		}
	}
}

func TestDedupeKeyMatchesAcrossCase(t *testing.T) {
	a := Book{Title: "Dune", Author: "Frank Herbert"}
	b := Book{Title: "DUNE", Author: "frank herbert"}
	if a.DedupeKey() != b.DedupeKey() {
		t.Errorf("keys differ: %q vs %q", a.DedupeKey(), b.DedupeKey())
	}
}

func TestEmbeddingText(t *testing.T) {
	b := Book{
		Title:       "Dune",
		Author:      "Frank Herbert",
		Genre:       "sci-fi",
		Description: "Desert planet politics.",
	}
	text := b.EmbeddingText()
	for _, want := range []string{"Dune", "Frank Herbert", "sci-fi", "Desert planet politics."} {
		if !strings.Contains(text, want) {
			t.Errorf("EmbeddingText missing %q: %q", want, text)
		}
	}

	sparse := Book{Title: "X", Author: "Y"}
	if got := sparse.EmbeddingText(); got != "X by Y" {
		t.Errorf("sparse EmbeddingText = %q", got)
	}
}
