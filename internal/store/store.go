// Package store is the document store shared by every pipeline stage: the
// raw collection holds fetched pages, the clean collection holds their
// extracted text. Both live in one SQLite database in WAL mode so that
// separate stage processes can read and write it concurrently.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure Go driver, registered as "sqlite"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
)

// Collection names, as reported by status and listings.
const (
	RawCollection   = "raw_html"
	CleanCollection = "clean_text"
)

// RawDocument is a fetched page.
type RawDocument struct {
	ID        string
	URL       string
	HTML      []byte
	FetchedAt time.Time
}

// RawSummary describes a raw page without its body.
type RawSummary struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Size       int       `json:"size"`
	StoredSize int       `json:"stored_size"`
	Encoding   string    `json:"encoding"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// CleanDocument is the extracted text of a page.
type CleanDocument struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Text      string    `json:"text"`
	CleanedAt time.Time `json:"cleaned_at"`
}

// Counts holds per-collection document counts.
type Counts struct {
	Raw   int `json:"raw"`
	Clean int `json:"clean"`
}

// DocumentID derives the stable identifier of the page at url.
func DocumentID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:12])
}

// Options configures Open.
type Options struct {
	// Driver is "sqlite" (modernc.org/sqlite) or "sqlite3" (mattn/go-sqlite3).
	Driver      string
	Path        string
	Compression Compression
	CacheMB     int
	Logger      *slog.Logger
}

// SQLiteStore implements the raw and clean collections on SQLite.
type SQLiteStore struct {
	db          *sql.DB
	path        string
	compression Compression
	logger      *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS raw_html (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	encoding   TEXT NOT NULL,
	size       INTEGER NOT NULL,
	html       BLOB NOT NULL,
	fetched_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS clean_text (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	url        TEXT NOT NULL,
	text       TEXT NOT NULL,
	cleaned_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_raw_fetched ON raw_html(fetched_at);
`

// Open opens (creating if needed) the store database.
func Open(ctx context.Context, opts Options) (*SQLiteStore, error) {
	if opts.Path == "" {
		return nil, ragerrors.ValidationError("store path is empty", nil)
	}
	driver := opts.Driver
	if driver == "" {
		driver = "sqlite"
	}
	compression := opts.Compression
	if compression == "" {
		compression = CompressionZstd
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cacheMB := opts.CacheMB
	if cacheMB <= 0 {
		cacheMB = 64
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	var dsn string
	switch driver {
	case "sqlite":
		dsn = opts.Path
	case "sqlite3":
		dsn = opts.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	default:
		return nil, ragerrors.ValidationError(fmt.Sprintf("unknown store driver %q (valid: sqlite, sqlite3)", driver), nil)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeStoreUnavailable, "failed to open document store", err).
			WithDetail("path", opts.Path)
	}

	// One connection per process; cross-process access goes through WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheMB*1024),
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, ragerrors.New(ragerrors.ErrCodeStoreUnavailable, "failed to configure document store", err).
				WithDetail("pragma", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, ragerrors.New(ragerrors.ErrCodeStoreUnavailable, "failed to create schema", err)
	}

	logger.Debug("store_opened",
		slog.String("path", opts.Path),
		slog.String("driver", driver),
		slog.String("compression", string(compression)))

	return &SQLiteStore{db: db, path: opts.Path, compression: compression, logger: logger}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// PutRaw inserts or replaces a raw page. A zero FetchedAt is set to now.
func (s *SQLiteStore) PutRaw(ctx context.Context, doc *RawDocument) error {
	if doc.ID == "" {
		return ragerrors.ValidationError("raw document id is empty", nil)
	}
	if doc.FetchedAt.IsZero() {
		doc.FetchedAt = time.Now().UTC()
	}
	enc, body, err := encode(s.compression, doc.HTML)
	if err != nil {
		return fmt.Errorf("failed to compress raw html: %w", err)
	}
	if body == nil {
		body = []byte{}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raw_html (id, url, encoding, size, html, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			encoding = excluded.encoding,
			size = excluded.size,
			html = excluded.html,
			fetched_at = excluded.fetched_at`,
		doc.ID, doc.URL, string(enc), len(doc.HTML), body, doc.FetchedAt.UnixNano())
	if err != nil {
		return storeErr("failed to store raw document", err).WithDetail("doc_id", doc.ID)
	}
	return nil
}

// GetRaw returns the raw page, or an ErrDocumentNotFound error.
func (s *SQLiteStore) GetRaw(ctx context.Context, id string) (*RawDocument, error) {
	var (
		doc      RawDocument
		encoding string
		size     int
		body     []byte
		fetched  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, url, encoding, size, html, fetched_at FROM raw_html WHERE id = ?`, id).
		Scan(&doc.ID, &doc.URL, &encoding, &size, &body, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(RawCollection, id)
	}
	if err != nil {
		return nil, storeErr("failed to read raw document", err).WithDetail("doc_id", id)
	}
	html, err := decode(Compression(encoding), body, size)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeCorruptDocument, "raw document body is corrupt", err).
			WithDetail("doc_id", id)
	}
	doc.HTML = html
	doc.FetchedAt = time.Unix(0, fetched).UTC()
	return &doc, nil
}

// PutClean inserts or replaces the clean text of a document. Replacing
// keeps the document's original position in the clean collection.
func (s *SQLiteStore) PutClean(ctx context.Context, doc *CleanDocument) error {
	if doc.ID == "" {
		return ragerrors.ValidationError("clean document id is empty", nil)
	}
	if doc.CleanedAt.IsZero() {
		doc.CleanedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clean_text (id, url, text, cleaned_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			text = excluded.text,
			cleaned_at = excluded.cleaned_at`,
		doc.ID, doc.URL, doc.Text, doc.CleanedAt.UnixNano())
	if err != nil {
		return storeErr("failed to store clean document", err).WithDetail("doc_id", doc.ID)
	}
	return nil
}

// GetClean returns one clean document, or an ErrDocumentNotFound error.
func (s *SQLiteStore) GetClean(ctx context.Context, id string) (*CleanDocument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, text, cleaned_at FROM clean_text WHERE id = ?`, id)
	doc, err := scanClean(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(CleanCollection, id)
	}
	if err != nil {
		return nil, storeErr("failed to read clean document", err).WithDetail("doc_id", id)
	}
	return doc, nil
}

// GetCleanMany returns the clean documents that exist among ids, keyed by
// id. Missing ids are simply absent from the map.
func (s *SQLiteStore) GetCleanMany(ctx context.Context, ids []string) (map[string]*CleanDocument, error) {
	out := make(map[string]*CleanDocument, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT id, url, text, cleaned_at FROM clean_text WHERE id IN (?` +
		strings.Repeat(",?", len(ids)-1) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("failed to read clean documents", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		doc, err := scanClean(rows)
		if err != nil {
			return nil, storeErr("failed to scan clean document", err)
		}
		out[doc.ID] = doc
	}
	return out, rows.Err()
}

// HasClean reports whether id has clean text.
func (s *SQLiteStore) HasClean(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM clean_text WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, storeErr("failed to query clean document", err)
	}
	return n > 0, nil
}

// Counts returns the number of documents in each collection.
func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(1) FROM raw_html), (SELECT COUNT(1) FROM clean_text)`).
		Scan(&c.Raw, &c.Clean)
	if err != nil {
		return Counts{}, storeErr("failed to count documents", err)
	}
	return c, nil
}

// ListRaw returns up to limit raw page summaries, most recently fetched first.
func (s *SQLiteStore) ListRaw(ctx context.Context, limit int) ([]RawSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, size, length(html), encoding, fetched_at
		FROM raw_html ORDER BY fetched_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("failed to list raw documents", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RawSummary
	for rows.Next() {
		var (
			r       RawSummary
			fetched int64
		)
		if err := rows.Scan(&r.ID, &r.URL, &r.Size, &r.StoredSize, &r.Encoding, &fetched); err != nil {
			return nil, storeErr("failed to scan raw document", err)
		}
		r.FetchedAt = time.Unix(0, fetched).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListClean returns up to limit clean documents in collection order.
func (s *SQLiteStore) ListClean(ctx context.Context, limit int) ([]CleanDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, text, cleaned_at FROM clean_text ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("failed to list clean documents", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CleanDocument
	for rows.Next() {
		doc, err := scanClean(rows)
		if err != nil {
			return nil, storeErr("failed to scan clean document", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

// CleanIDs returns every clean document id in collection order.
func (s *SQLiteStore) CleanIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM clean_text ORDER BY seq`)
	if err != nil {
		return nil, storeErr("failed to list clean ids", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("failed to scan clean id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EachClean calls fn for every clean document in collection order,
// stopping at the first error. Documents are read in pages so the single
// connection is free between callbacks.
func (s *SQLiteStore) EachClean(ctx context.Context, fn func(*CleanDocument) error) error {
	const page = 256
	var last int64
	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT seq, id, url, text, cleaned_at FROM clean_text
			WHERE seq > ? ORDER BY seq LIMIT ?`, last, page)
		if err != nil {
			return storeErr("failed to iterate clean documents", err)
		}

		var batch []*CleanDocument
		for rows.Next() {
			var (
				doc     CleanDocument
				cleaned int64
			)
			if err := rows.Scan(&last, &doc.ID, &doc.URL, &doc.Text, &cleaned); err != nil {
				_ = rows.Close()
				return storeErr("failed to scan clean document", err)
			}
			doc.CleanedAt = time.Unix(0, cleaned).UTC()
			batch = append(batch, &doc)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return storeErr("failed to iterate clean documents", err)
		}

		for _, doc := range batch {
			if err := fn(doc); err != nil {
				return err
			}
		}
		if len(batch) < page {
			return nil
		}
	}
}

// SizeOnDisk returns the combined size of the database and its WAL.
func (s *SQLiteStore) SizeOnDisk() int64 {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		if st, err := os.Stat(p); err == nil {
			total += st.Size()
		}
	}
	return total
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClean(row scanner) (*CleanDocument, error) {
	var (
		doc     CleanDocument
		cleaned int64
	)
	if err := row.Scan(&doc.ID, &doc.URL, &doc.Text, &cleaned); err != nil {
		return nil, err
	}
	doc.CleanedAt = time.Unix(0, cleaned).UTC()
	return &doc, nil
}

func notFound(collection, id string) *ragerrors.Error {
	return ragerrors.New(ragerrors.ErrCodeDocumentNotFound, "document not found in "+collection, nil).
		WithDetail("doc_id", id)
}

func storeErr(msg string, err error) *ragerrors.Error {
	return ragerrors.New(ragerrors.ErrCodeStoreUnavailable, msg, err)
}
