package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shelfmate/shelfmate/internal/book"
)

const (
	openLibrarySearchURL = "https://openlibrary.org/search.json"
	openLibraryCoversURL = "https://covers.openlibrary.org"
)

// OpenLibrary queries the Open Library search API and normalizes its
// documents into catalog books.
type OpenLibrary struct {
	client  *http.Client
	baseURL string
}

// NewOpenLibrary creates a provider with the given request timeout.
func NewOpenLibrary(timeout time.Duration) *OpenLibrary {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &OpenLibrary{
		client:  &http.Client{Timeout: timeout},
		baseURL: openLibrarySearchURL,
	}
}

// NewOpenLibraryWithBase creates a provider against a custom endpoint.
// Used by tests with httptest servers.
func NewOpenLibraryWithBase(baseURL string, client *http.Client) *OpenLibrary {
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	return &OpenLibrary{client: client, baseURL: baseURL}
}

type openLibraryResponse struct {
	Docs []openLibraryDoc `json:"docs"`
}

type openLibraryDoc struct {
	Title            string   `json:"title"`
	AuthorName       []string `json:"author_name"`
	FirstPublishYear int      `json:"first_publish_year"`
	FirstSentence    []string `json:"first_sentence"`
	Subject          []string `json:"subject"`
	ISBN             []string `json:"isbn"`
	CoverID          int      `json:"cover_i"`
	RatingsAverage   float64  `json:"ratings_average"`
}

// Search implements Source.
func (o *OpenLibrary) Search(ctx context.Context, query string, maxResults int) ([]book.Book, error) {
	if maxResults <= 0 {
		maxResults = 3
	}

	u := fmt.Sprintf("%s?q=%s&limit=%d", o.baseURL, url.QueryEscape(query), maxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open library request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open library returned status %d", resp.StatusCode)
	}

	var parsed openLibraryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding open library response: %w", err)
	}

	var books []book.Book
	for _, doc := range parsed.Docs {
		if len(books) >= maxResults {
			break
		}
		b, ok := normalizeDoc(doc)
		if !ok {
			continue
		}
		books = append(books, b)
	}
	if len(books) == 0 {
		return nil, ErrNotFound
	}
	return books, nil
}

// normalizeDoc converts an Open Library document into a Book, rejecting
// docs that cannot satisfy the title/author persistence invariant.
func normalizeDoc(doc openLibraryDoc) (book.Book, bool) {
	if strings.TrimSpace(doc.Title) == "" || len(doc.AuthorName) == 0 {
		return book.Book{}, false
	}

	b := book.Book{
		Title:  doc.Title,
		Author: doc.AuthorName[0],
		Source: book.SourceJustInTime,
	}

	if len(doc.FirstSentence) > 0 {
		b.Description = doc.FirstSentence[0]
	}
	if len(doc.Subject) > 0 {
		b.Genre = doc.Subject[0]
	}
	if doc.RatingsAverage > 0 {
		r := clampRating(doc.RatingsAverage)
		b.Rating = &r
	}
	if doc.FirstPublishYear > 0 {
		y := doc.FirstPublishYear
		b.Year = &y
	}
	if len(doc.ISBN) > 0 {
		b.ISBN = doc.ISBN[0]
	}
	if doc.CoverID > 0 {
		b.CoverURL = fmt.Sprintf("%s/b/id/%d-L.jpg", openLibraryCoversURL, doc.CoverID)
	} else if isbn := cleanISBN(b.ISBN); isbn != "" {
		b.CoverURL = CoverURLByISBN(isbn)
	}

	return b, true
}

// CoverURLByISBN returns the Open Library cover image URL for an ISBN-10
// or ISBN-13, or the empty string for anything else.
func CoverURLByISBN(isbn string) string {
	clean := cleanISBN(isbn)
	if clean == "" {
		return ""
	}
	return fmt.Sprintf("%s/b/isbn/%s-L.jpg", openLibraryCoversURL, clean)
}

func cleanISBN(isbn string) string {
	clean := strings.TrimSpace(strings.ReplaceAll(isbn, "-", ""))
	if len(clean) == 10 || len(clean) == 13 {
		return clean
	}
	return ""
}

func clampRating(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 5 {
		return 5
	}
	return r
}
