package external

import (
	"context"
	"errors"
	"testing"

	"github.com/shelfmate/shelfmate/internal/book"
	"github.com/shelfmate/shelfmate/internal/log"
)

type scriptedSource struct {
	books  []book.Book
	err    error
	called bool
}

func (s *scriptedSource) Search(ctx context.Context, query string, maxResults int) ([]book.Book, error) {
	s.called = true
	return s.books, s.err
}

func TestChainFirstProviderWins(t *testing.T) {
	first := &scriptedSource{books: []book.Book{{Title: "Dune", Author: "Frank Herbert"}}}
	second := &scriptedSource{books: []book.Book{{Title: "Other", Author: "Other"}}}
	chain := NewChain(log.NewNop(), first, second)

	books, err := chain.Search(context.Background(), "dune", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if books[0].Title != "Dune" {
		t.Errorf("title = %q", books[0].Title)
	}
	if second.called {
		t.Error("second provider called despite first succeeding")
	}
}

func TestChainSkipsFailingProvider(t *testing.T) {
	first := &scriptedSource{err: errors.New("upstream 500")}
	second := &scriptedSource{books: []book.Book{{Title: "Dune", Author: "Frank Herbert"}}}
	chain := NewChain(log.NewNop(), first, second)

	books, err := chain.Search(context.Background(), "dune", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(books) != 1 {
		t.Errorf("books = %d, want 1", len(books))
	}
}

func TestChainAllMiss(t *testing.T) {
	chain := NewChain(log.NewNop(),
		&scriptedSource{err: ErrNotFound},
		&scriptedSource{err: errors.New("down")},
	)

	_, err := chain.Search(context.Background(), "nothing", 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestChainCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := NewChain(log.NewNop(), &scriptedSource{err: errors.New("ctx dead")})
	_, err := chain.Search(ctx, "dune", 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
