// Package sqlite provides a SQLite-backed origin directory backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gezibash/moq-relay/internal/origin"
	"github.com/gezibash/moq-relay/internal/storage"
)

const (
	KeyPath        = "path"
	KeyJournalMode = "journal_mode"
	KeyBusyTimeout = "busy_timeout"
)

func init() {
	origin.Register("sqlite", NewFactory, Defaults)
}

// Defaults returns the default configuration for the SQLite backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:        "~/.moq/origins.db",
		KeyJournalMode: "wal",
		KeyBusyTimeout: "5000",
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS origins (
    namespace   TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    expires_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_origins_expires ON origins(expires_at);
`

// The upsert only replaces a row held by the same url or already expired.
const claimSQL = `
INSERT INTO origins (namespace, url, expires_at) VALUES (?, ?, ?)
ON CONFLICT(namespace) DO UPDATE SET url = excluded.url, expires_at = excluded.expires_at
WHERE origins.url = excluded.url OR origins.expires_at <= ?`

// NewFactory creates a new SQLite backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (origin.Backend, error) {
	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError("sqlite", KeyPath, "cannot be empty")
	}
	path = storage.ExpandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to create directory", err)
	}

	busyTimeout, err := storage.GetInt(config, KeyBusyTimeout, 5000)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("sqlite", KeyBusyTimeout, config[KeyBusyTimeout], err.Error())
	}
	journalMode := storage.GetString(config, KeyJournalMode, "wal")

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)", path, journalMode, busyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to open database", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to initialize schema", err)
	}

	slog.Info("sqlite origin backend initialized", "path", path, "journal_mode", journalMode)
	return NewWithDB(db, time.Now), nil
}

// Backend is a SQLite implementation of origin.Backend.
type Backend struct {
	db     *sql.DB
	now    func() time.Time
	closed atomic.Bool
}

// NewWithDB creates a backend over an open database with the schema applied.
func NewWithDB(db *sql.DB, now func() time.Time) *Backend {
	return &Backend{db: db, now: now}
}

// Claim implements origin.Backend.
func (b *Backend) Claim(ctx context.Context, namespace, url string, ttl time.Duration) error {
	if b.closed.Load() {
		return origin.ErrClosed
	}
	now := b.now()
	res, err := b.db.ExecContext(ctx, claimSQL, namespace, url, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite claim: %w", err)
	}
	if n == 0 {
		return origin.ErrDuplicate
	}
	return nil
}

// Get implements origin.Backend.
func (b *Backend) Get(ctx context.Context, namespace string) (string, error) {
	if b.closed.Load() {
		return "", origin.ErrClosed
	}
	var url string
	err := b.db.QueryRowContext(ctx,
		`SELECT url FROM origins WHERE namespace = ? AND expires_at > ?`,
		namespace, b.now().UnixMilli(),
	).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", origin.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite get: %w", err)
	}
	return url, nil
}

// Release implements origin.Backend.
func (b *Backend) Release(ctx context.Context, namespace, url string) error {
	if b.closed.Load() {
		return origin.ErrClosed
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM origins WHERE namespace = ? AND url = ?`, namespace, url); err != nil {
		return fmt.Errorf("sqlite release: %w", err)
	}
	return nil
}

// DeleteExpired removes entries that expired before now.
func (b *Backend) DeleteExpired(ctx context.Context) (int, error) {
	if b.closed.Load() {
		return 0, origin.ErrClosed
	}
	res, err := b.db.ExecContext(ctx, `DELETE FROM origins WHERE expires_at <= ?`, b.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite delete expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close implements origin.Backend.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
