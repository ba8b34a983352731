package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cryguy/swcache/internal/core"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

// DBFileName is the file OpenSQLite creates inside its data directory.
const DBFileName = "swcache.sqlite3"

const schema = `
CREATE TABLE IF NOT EXISTS buckets (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS entries (
	bucket_id   INTEGER NOT NULL,
	url         TEXT NOT NULL,
	status      INTEGER NOT NULL,
	status_text TEXT NOT NULL DEFAULT '',
	headers     TEXT NOT NULL DEFAULT '{}',
	body        BLOB,
	final_url   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (bucket_id, url)
);
`

// SQLite is a CacheStorage persisted in a single SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ core.CacheStorage = (*SQLite)(nil)

// OpenSQLite opens (or creates) the store at {dataDir}/swcache.sqlite3.
func OpenSQLite(dataDir string) (*SQLite, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache data directory: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dataDir, DBFileName))
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	// Enable WAL mode for better concurrent access.
	_, _ = db.Exec("PRAGMA journal_mode=WAL")
	return newSQLite(db)
}

// NewSQLiteMemory creates an in-memory SQLite store for testing.
func NewSQLiteMemory() (*SQLite, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory cache database: %w", err)
	}
	return newSQLite(db)
}

func newSQLite(db *sql.DB) (*SQLite, error) {
	// A single connection serializes bucket access and keeps :memory:
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLite) Open(ctx context.Context, name string) (core.Cache, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO buckets (name) VALUES (?)`, name); err != nil {
		return nil, fmt.Errorf("opening cache %q: %w", name, err)
	}
	return &sqliteCache{db: s.db, name: name}, nil
}

func (s *SQLite) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM buckets WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking cache %q: %w", name, err)
	}
	return n > 0, nil
}

func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM buckets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing caches: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing caches: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLite) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("deleting cache %q: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM buckets WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("deleting cache %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE bucket_id = ?`, id); err != nil {
		return false, fmt.Errorf("deleting entries of cache %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("deleting cache %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("deleting cache %q: %w", name, err)
	}
	return true, nil
}

type sqliteCache struct {
	db   *sql.DB
	name string
}

func (c *sqliteCache) Name() string { return c.name }

func (c *sqliteCache) Match(ctx context.Context, req *core.Request) (*core.Response, error) {
	if !req.IsGet() {
		return nil, nil
	}
	var (
		resp    core.Response
		headers string
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT e.status, e.status_text, e.headers, e.body, e.final_url
		FROM entries e JOIN buckets b ON b.id = e.bucket_id
		WHERE b.name = ? AND e.url = ?`,
		c.name, core.CacheKey(req.URL),
	).Scan(&resp.StatusCode, &resp.StatusText, &headers, &resp.Body, &resp.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matching %s in cache %q: %w", req.URL, c.name, err)
	}
	if err := json.Unmarshal([]byte(headers), &resp.Headers); err != nil {
		return nil, fmt.Errorf("decoding headers for %s: %w", req.URL, err)
	}
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	return &resp, nil
}

func (c *sqliteCache) Put(ctx context.Context, req *core.Request, resp *core.Response) error {
	return c.PutAll(ctx, []core.Entry{{Request: req, Response: resp}})
}

func (c *sqliteCache) PutAll(ctx context.Context, entries []core.Entry) error {
	for _, e := range entries {
		if err := validateEntry(e); err != nil {
			return err
		}
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("writing cache %q: %w", c.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM buckets WHERE name = ?`, c.name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// The bucket was deleted after this handle was opened.
		return nil
	}
	if err != nil {
		return fmt.Errorf("writing cache %q: %w", c.name, err)
	}

	for _, e := range entries {
		headers, err := json.Marshal(e.Response.Headers)
		if err != nil {
			return fmt.Errorf("encoding headers for %s: %w", e.Request.URL, err)
		}
		body := e.Response.Body
		if body == nil {
			body = []byte{}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entries (bucket_id, url, status, status_text, headers, body, final_url)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (bucket_id, url) DO UPDATE SET
				status = excluded.status,
				status_text = excluded.status_text,
				headers = excluded.headers,
				body = excluded.body,
				final_url = excluded.final_url`,
			id, core.CacheKey(e.Request.URL), e.Response.StatusCode, e.Response.StatusText,
			string(headers), body, e.Response.URL,
		)
		if err != nil {
			return fmt.Errorf("storing %s in cache %q: %w", e.Request.URL, c.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("writing cache %q: %w", c.name, err)
	}
	return nil
}

func (c *sqliteCache) Delete(ctx context.Context, req *core.Request) (bool, error) {
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM entries
		WHERE url = ? AND bucket_id = (SELECT id FROM buckets WHERE name = ?)`,
		core.CacheKey(req.URL), c.name,
	)
	if err != nil {
		return false, fmt.Errorf("deleting %s from cache %q: %w", req.URL, c.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting %s from cache %q: %w", req.URL, c.name, err)
	}
	return n > 0, nil
}

func (c *sqliteCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT e.url FROM entries e JOIN buckets b ON b.id = e.bucket_id
		WHERE b.name = ? ORDER BY e.rowid`, c.name)
	if err != nil {
		return nil, fmt.Errorf("listing cache %q: %w", c.name, err)
	}
	defer func() { _ = rows.Close() }()
	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("listing cache %q: %w", c.name, err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}
