package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shelfmate/shelfmate/internal/book"
)

const openLibraryFixture = `{
	"docs": [
		{
			"title": "Dune",
			"author_name": ["Frank Herbert", "Someone Else"],
			"first_publish_year": 1965,
			"first_sentence": ["A beginning is the time for taking the most delicate care."],
			"subject": ["Science fiction", "Deserts"],
			"isbn": ["9780441172719"],
			"cover_i": 12345,
			"ratings_average": 4.25
		},
		{
			"title": "Untitled draft",
			"author_name": []
		},
		{
			"title": "Dune Messiah",
			"author_name": ["Frank Herbert"]
		}
	]
}`

func newFixtureServer(t *testing.T, status int, body string) (*OpenLibrary, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "" {
			t.Error("missing q parameter")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewOpenLibraryWithBase(srv.URL, srv.Client()), srv
}

func TestOpenLibrarySearch(t *testing.T) {
	ol, _ := newFixtureServer(t, http.StatusOK, openLibraryFixture)

	books, err := ol.Search(context.Background(), "dune", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// The authorless doc is rejected.
	if len(books) != 2 {
		t.Fatalf("books = %d, want 2", len(books))
	}

	b := books[0]
	if b.Title != "Dune" || b.Author != "Frank Herbert" {
		t.Errorf("book = %q by %q", b.Title, b.Author)
	}
	if b.Source != book.SourceJustInTime {
		t.Errorf("source = %q, want %q", b.Source, book.SourceJustInTime)
	}
	if b.Genre != "Science fiction" {
		t.Errorf("genre = %q", b.Genre)
	}
	if b.Year == nil || *b.Year != 1965 {
		t.Errorf("year = %v", b.Year)
	}
	if b.Rating == nil || *b.Rating != 4.25 {
		t.Errorf("rating = %v", b.Rating)
	}
	if b.CoverURL != "https://covers.openlibrary.org/b/id/12345-L.jpg" {
		t.Errorf("cover = %q", b.CoverURL)
	}
	if b.ISBN != "9780441172719" {
		t.Errorf("isbn = %q", b.ISBN)
	}
}

func TestOpenLibrarySearchRespectsMaxResults(t *testing.T) {
	ol, _ := newFixtureServer(t, http.StatusOK, openLibraryFixture)

	books, err := ol.Search(context.Background(), "dune", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(books) != 1 {
		t.Errorf("books = %d, want 1", len(books))
	}
}

func TestOpenLibrarySearchNoUsableDocs(t *testing.T) {
	ol, _ := newFixtureServer(t, http.StatusOK, `{"docs": []}`)

	_, err := ol.Search(context.Background(), "nothing", 3)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOpenLibrarySearchServerError(t *testing.T) {
	ol, _ := newFixtureServer(t, http.StatusInternalServerError, "boom")

	_, err := ol.Search(context.Background(), "dune", 3)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want a transport error", err)
	}
}

func TestOpenLibrarySearchMalformedBody(t *testing.T) {
	ol, _ := newFixtureServer(t, http.StatusOK, "<html>not json</html>")

	if _, err := ol.Search(context.Background(), "dune", 3); err == nil {
		t.Error("expected a decode error")
	}
}

func TestCoverURLByISBN(t *testing.T) {
	tests := []struct {
		isbn, want string
	}{
		{"9780441172719", "https://covers.openlibrary.org/b/isbn/9780441172719-L.jpg"},
		{"0-441-17271-9", "https://covers.openlibrary.org/b/isbn/0441172719-L.jpg"},
		{"12345", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CoverURLByISBN(tt.isbn); got != tt.want {
			t.Errorf("CoverURLByISBN(%q) = %q, want %q", tt.isbn, got, tt.want)
		}
	}
}

func TestClampRating(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-1, 0}, {0, 0}, {3.7, 3.7}, {6, 5},
	}
	for _, tt := range tests {
		if got := clampRating(tt.in); got != tt.want {
			t.Errorf("clampRating(%f) = %f, want %f", tt.in, got, tt.want)
		}
	}
}
