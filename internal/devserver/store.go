// Package devserver implements a local Second Brain endpoint for development
// and integration testing. The production service is external; this one keeps
// just enough state to exercise the sync protocol end to end.
package devserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	path         TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	tags         TEXT NOT NULL DEFAULT '[]',
	word_count   INTEGER NOT NULL DEFAULT 0,
	modified_at  DATETIME,
	indexed_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Store wraps a sql.DB holding the indexed notes.
type Store struct {
	conn *sql.DB
}

// OpenStore opens (or creates) the SQLite database and applies the schema.
func OpenStore(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("devserver: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("devserver: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("devserver: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// UpsertBatch inserts or replaces the given notes within a transaction.
func (s *Store) UpsertBatch(notes []models.Note) error {
	if len(notes) == 0 {
		return nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("devserver: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.Prepare(`
		INSERT INTO notes (path, title, content, content_hash, tags, word_count, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title        = excluded.title,
			content      = excluded.content,
			content_hash = excluded.content_hash,
			tags         = excluded.tags,
			word_count   = excluded.word_count,
			modified_at  = excluded.modified_at,
			indexed_at   = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("devserver: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, n := range notes {
		tagsJSON, _ := json.Marshal(n.Tags)
		if _, err := stmt.Exec(n.Path, n.Title, n.Content, n.ContentHash, string(tagsJSON), n.WordCount, n.ModifiedAt); err != nil {
			return fmt.Errorf("devserver: upsert %s: %w", n.Path, err)
		}
	}

	return tx.Commit()
}

// Delete removes the given paths and returns the ones that actually existed.
func (s *Store) Delete(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("devserver: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`DELETE FROM notes WHERE path = ?`)
	if err != nil {
		return nil, fmt.Errorf("devserver: prepare delete: %w", err)
	}
	defer stmt.Close()

	var removed []string
	for _, p := range paths {
		res, err := stmt.Exec(p)
		if err != nil {
			return nil, fmt.Errorf("devserver: delete %s: %w", p, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			removed = append(removed, p)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("devserver: commit delete: %w", err)
	}
	return removed, nil
}

// Count returns the number of indexed notes.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("devserver: count: %w", err)
	}
	return n, nil
}

// PathTags returns the tags of every indexed note keyed by path.
func (s *Store) PathTags() (map[string][]string, error) {
	rows, err := s.conn.Query(`SELECT path, tags FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("devserver: path tags: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var p, tagsJSON string
		if err := rows.Scan(&p, &tagsJSON); err != nil {
			return nil, err
		}
		var tags []string
		_ = json.Unmarshal([]byte(tagsJSON), &tags)
		out[p] = tags
	}
	return out, rows.Err()
}

// Hash returns the stored content hash for a note, or empty string when the
// note is not indexed.
func (s *Store) Hash(path string) (string, error) {
	var h string
	err := s.conn.QueryRow(`SELECT content_hash FROM notes WHERE path = ?`, path).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("devserver: hash %s: %w", path, err)
	}
	return h, nil
}
