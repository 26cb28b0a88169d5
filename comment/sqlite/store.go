// Package sqlite is the local comment store backend. It applies the
// production-safe pragmas (WAL, busy_timeout, foreign keys) on open and
// keeps the whole page's annotation set as the unit of replacement:
// SaveAll is a transactional delete-and-insert, so last write wins.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/pinlay/pinlay/comment"
)

// Store is the SQLite-backed comment store.
type Store struct {
	DB *sql.DB

	notify notifier
}

// Open opens (or creates) the annotation database at path, applies the
// pragmas and schema, and verifies connectivity. Parent directories are
// created as needed.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	return &Store{DB: db}, nil
}

// OpenMemory opens an in-memory store for testing. MaxOpenConns(1) keeps
// every query on the same in-memory database; the store closes itself via
// t.Cleanup.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.OpenMemory: %v", err)
	}
	s.DB.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// LoadAll returns the page's annotations with their replies, ordered by
// creation.
func (s *Store) LoadAll(ctx context.Context, pageKey string) ([]comment.Annotation, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, page_key, x, y, body, author, created_at, resolved, selector
		FROM annotations WHERE page_key = ?
		ORDER BY created_at, id`, pageKey)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load annotations: %w", err)
	}
	defer rows.Close()

	var anns []comment.Annotation
	index := make(map[string]int)
	for rows.Next() {
		var a comment.Annotation
		var resolved int
		if err := rows.Scan(&a.ID, &a.PageKey, &a.X, &a.Y, &a.Body,
			&a.Author, &a.CreatedAt, &resolved, &a.Selector); err != nil {
			return nil, fmt.Errorf("sqlite: scan annotation: %w", err)
		}
		a.Resolved = resolved != 0
		index[a.ID] = len(anns)
		anns = append(anns, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load annotations: %w", err)
	}
	if len(anns) == 0 {
		return nil, nil
	}

	replyRows, err := s.DB.QueryContext(ctx, `
		SELECT r.id, r.annotation_id, r.body, r.author, r.created_at
		FROM replies r
		JOIN annotations a ON a.id = r.annotation_id
		WHERE a.page_key = ?
		ORDER BY r.created_at, r.id`, pageKey)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load replies: %w", err)
	}
	defer replyRows.Close()

	for replyRows.Next() {
		var r comment.Reply
		if err := replyRows.Scan(&r.ID, &r.AnnotationID, &r.Body,
			&r.Author, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan reply: %w", err)
		}
		if i, ok := index[r.AnnotationID]; ok {
			anns[i].Replies = append(anns[i].Replies, r)
		}
	}
	if err := replyRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load replies: %w", err)
	}

	return anns, nil
}

// SaveAll transactionally replaces the page's annotations. Annotations
// failing validation (non-finite coordinates) are rejected before any
// write happens.
func (s *Store) SaveAll(ctx context.Context, pageKey string, anns []comment.Annotation) error {
	for i := range anns {
		if err := anns[i].Validate(); err != nil {
			return fmt.Errorf("sqlite: annotation %s: %w", anns[i].ID, err)
		}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	// Cascade removes the page's replies too.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM annotations WHERE page_key = ?`, pageKey); err != nil {
		return fmt.Errorf("sqlite: clear page: %w", err)
	}

	for i := range anns {
		a := &anns[i]
		resolved := 0
		if a.Resolved {
			resolved = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO annotations
				(id, page_key, x, y, body, author, created_at, resolved, selector)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			a.ID, pageKey, a.X, a.Y, a.Body, a.Author,
			a.CreatedAt, resolved, a.Selector); err != nil {
			return fmt.Errorf("sqlite: insert annotation: %w", err)
		}
		for j := range a.Replies {
			r := &a.Replies[j]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO replies (id, annotation_id, body, author, created_at)
				VALUES (?,?,?,?,?)`,
				r.ID, a.ID, r.Body, r.Author, r.CreatedAt); err != nil {
				return fmt.Errorf("sqlite: insert reply: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}

	s.notifyPage(ctx, pageKey)
	return nil
}

// Pages returns the distinct page keys present in the store.
func (s *Store) Pages(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT DISTINCT page_key FROM annotations ORDER BY page_key`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pages: %w", err)
	}
	defer rows.Close()

	var pages []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("sqlite: scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}
