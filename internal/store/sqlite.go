package store

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

// SQLiteStore keeps the seen-set in a seen_links table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// nowFunc stamps first_seen; tests override it.
var nowFunc = time.Now

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the single-writer semantics of the run.
	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (Set, error) {
	if s == nil || s.db == nil {
		return nil, loadErr(errNotInitialized)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT link FROM seen_links")
	if err != nil {
		return nil, loadErr(fmt.Errorf("query seen links: %w", err))
	}
	defer func() { _ = rows.Close() }()

	set := NewSet()
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, loadErr(fmt.Errorf("scan seen link: %w", err))
		}
		set.Add(link)
	}
	if err := rows.Err(); err != nil {
		return nil, loadErr(fmt.Errorf("iterate seen links: %w", err))
	}
	return set, nil
}

// Save implements Store. Links absent from set are deleted and new ones are
// inserted in one transaction; existing rows keep their first_seen.
func (s *SQLiteStore) Save(ctx context.Context, set Set) error {
	if s == nil || s.db == nil {
		return saveErr(errNotInitialized)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return saveErr(fmt.Errorf("begin transaction: %w", err))
	}
	if err := replaceLinks(ctx, tx, set); err != nil {
		_ = tx.Rollback()
		return saveErr(err)
	}
	if err := tx.Commit(); err != nil {
		return saveErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func replaceLinks(ctx context.Context, tx *sql.Tx, set Set) error {
	rows, err := tx.QueryContext(ctx, "SELECT link FROM seen_links")
	if err != nil {
		return fmt.Errorf("query seen links: %w", err)
	}
	var stale []string
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan seen link: %w", err)
		}
		if _, ok := set[link]; !ok {
			stale = append(stale, link)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate seen links: %w", err)
	}
	_ = rows.Close()

	for _, link := range stale {
		if _, err := tx.ExecContext(ctx, "DELETE FROM seen_links WHERE link = ?", link); err != nil {
			return fmt.Errorf("delete %s: %w", link, err)
		}
	}

	now := formatTime(nowFunc())
	for _, link := range set.Sorted() {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO seen_links(link, first_seen) VALUES(?, ?)", link, now); err != nil {
			return fmt.Errorf("insert %s: %w", link, err)
		}
	}
	return nil
}

// FirstSeen returns when link was first persisted, or the zero time when it
// is unknown.
func (s *SQLiteStore) FirstSeen(ctx context.Context, link string) (time.Time, error) {
	if s == nil || s.db == nil {
		return time.Time{}, errNotInitialized
	}
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT first_seen FROM seen_links WHERE link = ?", link).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read first_seen: %w", err)
	}
	return parseTime(value)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
