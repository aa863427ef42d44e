package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS wifi_credentials (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	ssid       TEXT NOT NULL,
	password   TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// Store persists a single credentials row in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("credentials db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns the stored credentials. An empty store yields empty
// credentials and no error.
func (s *Store) Load(ctx context.Context) (Credentials, error) {
	var c Credentials
	err := s.db.QueryRowContext(ctx, `SELECT ssid, password FROM wifi_credentials WHERE id = 1`).Scan(&c.SSID, &c.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	return c, nil
}

// Save replaces the stored credentials, truncated to MaxTokenLen.
func (s *Store) Save(ctx context.Context, c Credentials) error {
	c = c.Truncated()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wifi_credentials(id, ssid, password, updated_at) VALUES(1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET ssid=excluded.ssid, password=excluded.password, updated_at=excluded.updated_at`,
		c.SSID, c.Password, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
