package book

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// Querier is the subset of pgxpool.Pool the catalog needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresCatalog is the production Catalog backed by PostgreSQL with the
// pgvector extension. Embeddings are persisted next to the record so index
// rebuilds never re-embed unchanged descriptions.
//
// Safe for concurrent use.
type PostgresCatalog struct {
	db     Querier
	logger *slog.Logger
}

// NewPostgresCatalog creates a catalog over the given connection pool.
func NewPostgresCatalog(db Querier, logger *slog.Logger) *PostgresCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresCatalog{db: db, logger: logger}
}

const bookColumns = `id, title, author, description, genre, rating, cover_url, year_published, isbn, source, embedding`

// FindByTitleFuzzy implements Catalog.
func (c *PostgresCatalog) FindByTitleFuzzy(ctx context.Context, title string) ([]Book, error) {
	needle := strings.TrimSpace(title)
	if needle == "" {
		return nil, nil
	}

	rows, err := c.db.Query(ctx,
		`SELECT `+bookColumns+` FROM books WHERE title ILIKE '%' || $1 || '%' ORDER BY created_at, id`,
		needle)
	if err != nil {
		return nil, fmt.Errorf("title lookup: %w", err)
	}
	return scanBooks(rows)
}

// FindByKeywords implements Catalog. Every token must match at least one
// of title/author/genre/description by case-insensitive substring.
func (c *PostgresCatalog) FindByKeywords(ctx context.Context, query string) ([]Book, error) {
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + bookColumns + ` FROM books WHERE `)
	args := make([]any, 0, len(tokens))
	for i, tok := range tokens {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		fmt.Fprintf(&sb, `(title || ' ' || author || ' ' || genre || ' ' || description) ILIKE '%%' || $%d || '%%'`, i+1)
		args = append(args, tok)
	}
	sb.WriteString(" ORDER BY created_at, id")

	rows, err := c.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("keyword lookup: %w", err)
	}
	return scanBooks(rows)
}

// Insert implements Catalog. An existing ISBN wins first, then ON
// CONFLICT on the normalized title+author key; either way the first
// record keeps its ID and a missing description or cover is backfilled.
func (c *PostgresCatalog) Insert(ctx context.Context, b Book) (Book, error) {
	if strings.TrimSpace(b.Title) == "" || strings.TrimSpace(b.Author) == "" {
		return Book{}, ErrInvalidBook
	}
	if b.ID == "" {
		b.ID = NewID(b.Source)
	}
	if b.Source == "" {
		b.Source = SourceLocal
	}

	if b.ISBN != "" {
		existing, err := c.byISBN(ctx, b.ISBN)
		switch {
		case err == nil:
			return c.backfill(ctx, existing.ID, b)
		case !errors.Is(err, ErrNotFound):
			return Book{}, fmt.Errorf("isbn lookup for %q: %w", b.Title, err)
		}
	}

	var emb *pgvector.Vector
	if len(b.Embedding) > 0 {
		v := pgvector.NewVector(b.Embedding)
		emb = &v
	}

	row := c.db.QueryRow(ctx, `
		INSERT INTO books (id, title, author, description, genre, rating, cover_url, year_published, isbn, source, dedupe_key, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (dedupe_key) DO UPDATE SET
			description = CASE WHEN books.description = '' THEN EXCLUDED.description ELSE books.description END,
			cover_url   = CASE WHEN books.cover_url = ''   THEN EXCLUDED.cover_url   ELSE books.cover_url   END
		RETURNING `+bookColumns,
		b.ID, b.Title, b.Author, b.Description, b.Genre, b.Rating,
		b.CoverURL, b.Year, b.ISBN, string(b.Source), b.DedupeKey(), emb)

	stored, err := scanBook(row)
	if err != nil {
		// A concurrent insert can land the same ISBN between the lookup
		// and the statement; resolve to the record that won.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "books_isbn_idx" {
			if existing, lookupErr := c.byISBN(ctx, b.ISBN); lookupErr == nil {
				return c.backfill(ctx, existing.ID, b)
			}
		}
		return Book{}, fmt.Errorf("inserting book %q: %w", b.Title, err)
	}
	if stored.ID != b.ID {
		c.logger.Debug("insert deduplicated", "title", b.Title, "existing_id", stored.ID)
	}
	return stored, nil
}

// byISBN finds the record holding the given ISBN.
func (c *PostgresCatalog) byISBN(ctx context.Context, isbn string) (Book, error) {
	row := c.db.QueryRow(ctx,
		`SELECT `+bookColumns+` FROM books WHERE isbn = $1`, isbn)
	b, err := scanBook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Book{}, ErrNotFound
		}
		return Book{}, err
	}
	return b, nil
}

// backfill keeps the stored record, filling only a missing description or
// cover from the duplicate, and returns the stored row.
func (c *PostgresCatalog) backfill(ctx context.Context, id string, b Book) (Book, error) {
	row := c.db.QueryRow(ctx, `
		UPDATE books SET
			description = CASE WHEN description = '' THEN $2 ELSE description END,
			cover_url   = CASE WHEN cover_url = ''   THEN $3 ELSE cover_url   END
		WHERE id = $1
		RETURNING `+bookColumns, id, b.Description, b.CoverURL)

	stored, err := scanBook(row)
	if err != nil {
		return Book{}, fmt.Errorf("deduplicating book %q: %w", b.Title, err)
	}
	c.logger.Debug("insert deduplicated", "title", b.Title, "existing_id", id)
	return stored, nil
}

// ByID implements Catalog.
func (c *PostgresCatalog) ByID(ctx context.Context, id string) (Book, error) {
	row := c.db.QueryRow(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = $1`, id)
	b, err := scanBook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Book{}, ErrNotFound
		}
		return Book{}, err
	}
	return b, nil
}

// All implements Catalog.
func (c *PostgresCatalog) All(ctx context.Context) ([]Book, error) {
	rows, err := c.db.Query(ctx,
		`SELECT `+bookColumns+` FROM books ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return scanBooks(rows)
}

// UpdateEmbedding implements Catalog.
func (c *PostgresCatalog) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	v := pgvector.NewVector(embedding)
	if _, err := c.db.Exec(ctx,
		`UPDATE books SET embedding = $2 WHERE id = $1`, id, &v); err != nil {
		return fmt.Errorf("updating embedding for %q: %w", id, err)
	}
	return nil
}

func scanBooks(rows pgx.Rows) ([]Book, error) {
	defer rows.Close()

	var out []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (Book, error) {
	var (
		b      Book
		source string
		emb    *pgvector.Vector
	)
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Description, &b.Genre,
		&b.Rating, &b.CoverURL, &b.Year, &b.ISBN, &source, &emb); err != nil {
		return Book{}, fmt.Errorf("scanning book: %w", err)
	}
	b.Source = Provenance(source)
	if emb != nil {
		b.Embedding = emb.Slice()
	}
	return b, nil
}
