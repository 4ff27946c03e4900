package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shelfmate/shelfmate/internal/book"
	"github.com/shelfmate/shelfmate/internal/external"
	"github.com/shelfmate/shelfmate/internal/index"
	"github.com/shelfmate/shelfmate/internal/intent"
	"github.com/shelfmate/shelfmate/internal/log"
)

const testDim = 4

// stubEmbedder maps exact text to fixed vectors. Unknown text gets the
// fallback vector; a non-nil err fails every call.
type stubEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    atomic.Int64
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return s.fallback, nil
}

// stubSource serves a canned result for queries containing the key.
type stubSource struct {
	books map[string]book.Book
	err   error
	calls atomic.Int64
}

func (s *stubSource) Search(ctx context.Context, query string, maxResults int) ([]book.Book, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	for key, b := range s.books {
		if strings.Contains(strings.ToLower(query), strings.ToLower(key)) {
			return []book.Book{b}, nil
		}
	}
	return nil, external.ErrNotFound
}

func newTestOrchestrator(t *testing.T, catalog book.Catalog, emb *stubEmbedder, src *stubSource) (*Orchestrator, *index.Index) {
	t.Helper()
	idx := index.New(testDim)
	if emb == nil {
		emb = &stubEmbedder{fallback: []float32{0, 0, 0, 1}}
	}
	if src == nil {
		src = &stubSource{}
	}
	cfg := Config{TopK: 8, SimilarityFloor: 0.1}
	return New(catalog, idx, emb, src, cfg, log.NewNop()), idx
}

func seedBook(t *testing.T, catalog book.Catalog, idx *index.Index, b book.Book, vec []float32) book.Book {
	t.Helper()
	stored, err := catalog.Insert(context.Background(), b)
	if err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	if vec != nil {
		if err := idx.Insert(stored.ID, vec); err != nil {
			t.Fatalf("seed index: %v", err)
		}
	}
	return stored
}

func TestRetrieveLocalTitleHit(t *testing.T) {
	catalog := book.NewMemoryCatalog()
	o, idx := newTestOrchestrator(t, catalog, nil, &stubSource{})
	seedBook(t, catalog, idx, book.Book{Title: "Dune", Author: "Frank Herbert", Genre: "sci-fi"}, nil)

	res, err := o.Retrieve(context.Background(), intent.Intent{
		NamedBook:      "dune",
		OptimizedQuery: "dune",
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(res.Candidates))
	}
	if res.Candidates[0].Tier != TierLocalTitle {
		t.Errorf("tier = %v, want %v", res.Candidates[0].Tier, TierLocalTitle)
	}
	if res.BookNotFound != "" {
		t.Errorf("BookNotFound = %q, want empty", res.BookNotFound)
	}
}

func TestRetrieveJustInTimeFetch(t *testing.T) {
	catalog := book.NewMemoryCatalog()
	src := &stubSource{books: map[string]book.Book{
		"hyperion": {
			Title:  "Hyperion",
			Author: "Dan Simmons",
			Source: book.SourceJustInTime,
		},
	}}
	emb := &stubEmbedder{fallback: []float32{0, 1, 0, 0}}
	o, idx := newTestOrchestrator(t, catalog, emb, src)

	res, err := o.Retrieve(context.Background(), intent.Intent{
		NamedBook:      "Hyperion",
		OptimizedQuery: "Hyperion",
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(res.Candidates))
	}
	got := res.Candidates[0]
	if got.Tier != TierExternalFetch {
		t.Errorf("tier = %v, want %v", got.Tier, TierExternalFetch)
	}
	if got.Book.Source != book.SourceJustInTime {
		t.Errorf("source = %q, want %q", got.Book.Source, book.SourceJustInTime)
	}
	if !strings.HasPrefix(got.Book.ID, "dyn_") {
		t.Errorf("ID = %q, want dyn_ prefix", got.Book.ID)
	}

	// Persisted and indexed for future turns.
	if _, err := catalog.ByID(context.Background(), got.Book.ID); err != nil {
		t.Errorf("fetched book not persisted: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("index size = %d, want 1", idx.Size())
	}
}

func TestRetrieveJustInTimeIdempotent(t *testing.T) {
	catalog := book.NewMemoryCatalog()
	src := &stubSource{books: map[string]book.Book{
		"hyperion": {Title: "Hyperion", Author: "Dan Simmons", Source: book.SourceJustInTime},
	}}
	o, _ := newTestOrchestrator(t, catalog, nil, src)

	it := intent.Intent{NamedBook: "Hyperion", OptimizedQuery: "Hyperion"}

	first, err := o.Retrieve(context.Background(), it)
	if err != nil {
		t.Fatalf("first Retrieve: %v", err)
	}
	// The second turn resolves at tier 1: the book is in the catalog now.
	second, err := o.Retrieve(context.Background(), it)
	if err != nil {
		t.Fatalf("second Retrieve: %v", err)
	}
	if second.Candidates[0].Tier != TierLocalTitle {
		t.Errorf("second tier = %v, want %v", second.Candidates[0].Tier, TierLocalTitle)
	}
	if first.Candidates[0].Book.ID != second.Candidates[0].Book.ID {
		t.Errorf("IDs differ across turns: %q vs %q",
			first.Candidates[0].Book.ID, second.Candidates[0].Book.ID)
	}
	if catalog.Len() != 1 {
		t.Errorf("catalog has %d books, want 1", catalog.Len())
	}
}

func TestRetrieveConcurrentJITSingleFetch(t *testing.T) {
	catalog := book.NewMemoryCatalog()
	src := &stubSource{books: map[string]book.Book{
		"hyperion": {Title: "Hyperion", Author: "Dan Simmons", Source: book.SourceJustInTime},
	}}
	o, _ := newTestOrchestrator(t, catalog, nil, src)

	it := intent.Intent{NamedBook: "Hyperion", OptimizedQuery: "Hyperion"}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := o.Retrieve(context.Background(), it)
			if err != nil || len(res.Candidates) == 0 {
				t.Errorf("goroutine %d: res=%v err=%v", i, res, err)
				return
			}
			ids[i] = res.Candidates[0].Book.ID
		}(i)
	}
	wg.Wait()

	if catalog.Len() != 1 {
		t.Errorf("catalog has %d books, want 1", catalog.Len())
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[0] {
			t.Errorf("goroutine %d got ID %q, want %q", i, ids[i], ids[0])
		}
	}
}

func TestRetrieveBookNotFoundFallsThrough(t *testing.T) {
	catalog := book.NewMemoryCatalog()
	emb := &stubEmbedder{
		vectors:  map[string][]float32{"space opera": {1, 0, 0, 0}},
		fallback: []float32{0, 0, 0, 1},
	}
	o, idx := newTestOrchestrator(t, catalog, emb, &stubSource{})
	seedBook(t, catalog, idx,
		book.Book{Title: "A Fire Upon the Deep", Author: "Vernor Vinge"},
		[]float32{0.9, 0.1, 0, 0})

	res, err := o.Retrieve(context.Background(), intent.Intent{
		NamedBook:      "The Nonexistent Tome",
		OptimizedQuery: "space opera",
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.BookNotFound != "The Nonexistent Tome" {
		t.Errorf("BookNotFound = %q, want the named book", res.BookNotFound)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Tier != TierSemantic {
		t.Fatalf("expected one semantic candidate, got %+v", res.Candidates)
	}
}

func TestRetrieveSemanticFloorAndOrder(t *testing.T) {
	catalog := book.NewMemoryCatalog()
	emb := &stubEmbedder{
		vectors: map[string][]float32{"melancholy sci-fi": {1, 0, 0, 0}},
	}
	o, idx := newTestOrchestrator(t, catalog, emb, &stubSource{})

	near := seedBook(t, catalog, idx,
		book.Book{Title: "Near", Author: "A"}, []float32{1, 0, 0, 0})
	mid := seedBook(t, catalog, idx,
		book.Book{Title: "Mid", Author: "B"}, []float32{1, 1, 0, 0})
	// Orthogonal to the query, similarity 0, below the floor.
	seedBook(t, catalog, idx,
		book.Book{Title: "Far", Author: "C"}, []float32{0, 0, 1, 0})

	res, err := o.Retrieve(context.Background(), intent.Intent{OptimizedQuery: "melancholy sci-fi"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(res.Candidates))
	}
	if res.Candidates[0].Book.ID != near.ID || res.Candidates[1].Book.ID != mid.ID {
		t.Errorf("order = %q, %q; want %q, %q",
			res.Candidates[0].Book.ID, res.Candidates[1].Book.ID, near.ID, mid.ID)
	}
	if res.Candidates[0].Score <= res.Candidates[1].Score {
		t.Errorf("scores not descending: %f then %f",
			res.Candidates[0].Score, res.Candidates[1].Score)
	}
}

func TestRetrieveEmbedderDownDegradesToKeyword(t *testing.T) {
	catalog := book.NewMemoryCatalog()
	emb := &stubEmbedder{err: errors.New("provider unavailable")}
	o, _ := newTestOrchestrator(t, catalog, emb, &stubSource{})
	seedBook(t, catalog, nil,
		book.Book{Title: "The Martian", Author: "Andy Weir", Genre: "sci-fi"}, nil)

	res, err := o.Retrieve(context.Background(), intent.Intent{OptimizedQuery: "martian"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Tier != TierKeyword {
		t.Fatalf("expected one keyword candidate, got %+v", res.Candidates)
	}
}

func TestRetrieveEmbedFailureDuringJITStillReturnsBook(t *testing.T) {
	catalog := book.NewMemoryCatalog()
	src := &stubSource{books: map[string]book.Book{
		"hyperion": {Title: "Hyperion", Author: "Dan Simmons", Source: book.SourceJustInTime},
	}}
	emb := &stubEmbedder{err: errors.New("provider unavailable")}
	o, idx := newTestOrchestrator(t, catalog, emb, src)

	res, err := o.Retrieve(context.Background(), intent.Intent{
		NamedBook:      "Hyperion",
		OptimizedQuery: "Hyperion",
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Tier != TierExternalFetch {
		t.Fatalf("expected the fetched book despite embed failure, got %+v", res.Candidates)
	}
	if idx.Size() != 0 {
		t.Errorf("index size = %d, want 0 after embed failure", idx.Size())
	}
	// The book itself is committed.
	if catalog.Len() != 1 {
		t.Errorf("catalog has %d books, want 1", catalog.Len())
	}
}

func TestRetrieveTotalMiss(t *testing.T) {
	catalog := book.NewMemoryCatalog()
	o, _ := newTestOrchestrator(t, catalog, nil, &stubSource{})

	res, err := o.Retrieve(context.Background(), intent.Intent{OptimizedQuery: "anything at all"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Candidates) != 0 {
		t.Errorf("candidates = %d, want 0", len(res.Candidates))
	}
	if res.BookNotFound != "anything at all" {
		t.Errorf("BookNotFound = %q, want the query text", res.BookNotFound)
	}
}

func TestRetrieveSourceErrorIsSoft(t *testing.T) {
	catalog := book.NewMemoryCatalog()
	src := &stubSource{err: errors.New("upstream 500")}
	o, _ := newTestOrchestrator(t, catalog, nil, src)
	seedBook(t, catalog, nil,
		book.Book{Title: "Rendezvous with Rama", Author: "Arthur C. Clarke", Genre: "sci-fi"}, nil)

	res, err := o.Retrieve(context.Background(), intent.Intent{
		NamedBook:      "Some Unknown Book",
		OptimizedQuery: "rama",
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.BookNotFound != "Some Unknown Book" {
		t.Errorf("BookNotFound = %q, want the named book", res.BookNotFound)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Tier != TierKeyword {
		t.Fatalf("expected keyword fallback candidates, got %+v", res.Candidates)
	}
}

func TestRetrieveTiersNeverMerge(t *testing.T) {
	catalog := book.NewMemoryCatalog()
	emb := &stubEmbedder{vectors: map[string][]float32{"dune": {1, 0, 0, 0}}}
	o, idx := newTestOrchestrator(t, catalog, emb, &stubSource{})
	seedBook(t, catalog, idx, book.Book{Title: "Dune", Author: "Frank Herbert"}, []float32{1, 0, 0, 0})
	seedBook(t, catalog, idx, book.Book{Title: "Dune Messiah", Author: "Frank Herbert"}, []float32{0.9, 0.4, 0, 0})

	res, err := o.Retrieve(context.Background(), intent.Intent{
		NamedBook:      "Dune Messiah",
		OptimizedQuery: "dune",
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, c := range res.Candidates {
		if c.Tier != TierLocalTitle {
			t.Errorf("candidate %q from tier %v, want all from %v", c.Book.Title, c.Tier, TierLocalTitle)
		}
	}
}

func TestRetrieveCancelledContext(t *testing.T) {
	catalog := book.NewMemoryCatalog()
	o, _ := newTestOrchestrator(t, catalog, nil, &stubSource{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Retrieve(ctx, intent.Intent{OptimizedQuery: "anything"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
