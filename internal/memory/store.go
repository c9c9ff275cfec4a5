// Package memory provides the SQLite-backed shared memory that carries
// conventions, failure patterns, and interface notes across issues in a
// run. Writes happen at scheduler gate points; reads are injected into
// coder prompts.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	keyConventions = "codebase_conventions"
	keyBuildHealth = "build_health"

	listFailurePatterns = "failure_patterns"
	listBugPatterns     = "bug_patterns"

	maxFailurePatterns = 10
	maxBugPatterns     = 20
)

// DBPath returns the run-local memory database path for a repository.
func DBPath(repoPath string) string {
	return filepath.Join(repoPath, ".foreman", "memory.db")
}

// Store is the SQLite-backed shared memory. Read methods report absent
// on storage errors so a broken store degrades agents to memoryless
// rather than failing the run.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (and if needed creates) the memory database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS fifo (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	list       TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fifo_list ON fifo(list, id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveConventions stores the codebase-conventions note.
func (s *Store) SaveConventions(text string) error {
	return s.setKey(keyConventions, text)
}

// Conventions returns the stored conventions note, if any.
func (s *Store) Conventions() (string, bool) {
	return s.getKey(keyConventions)
}

// AddFailurePattern appends a failure pattern, keeping the newest ten.
func (s *Store) AddFailurePattern(text string) error {
	return s.pushList(listFailurePatterns, text, maxFailurePatterns)
}

// FailurePatterns returns the retained failure patterns, oldest first.
func (s *Store) FailurePatterns() []string {
	return s.readList(listFailurePatterns)
}

// AddBugPattern appends a bug pattern, keeping the newest twenty.
func (s *Store) AddBugPattern(text string) error {
	return s.pushList(listBugPatterns, text, maxBugPatterns)
}

// BugPatterns returns the retained bug patterns, oldest first.
func (s *Store) BugPatterns() []string {
	return s.readList(listBugPatterns)
}

// SetInterface stores the public-interface note for an issue.
func (s *Store) SetInterface(issue, text string) error {
	return s.setKey("interfaces/"+issue, text)
}

// Interface returns the interface note recorded for an issue.
func (s *Store) Interface(issue string) (string, bool) {
	return s.getKey("interfaces/" + issue)
}

// SetBuildHealth stores the latest build-health summary.
func (s *Store) SetBuildHealth(text string) error {
	return s.setKey(keyBuildHealth, text)
}

// BuildHealth returns the latest build-health summary.
func (s *Store) BuildHealth() (string, bool) {
	return s.getKey(keyBuildHealth)
}

func (s *Store) setKey(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) getKey(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, value != ""
}

func (s *Store) pushList(list, value string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("append to %s: %w", list, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO fifo (list, value, created_at) VALUES (?, ?, ?)`, list, value, now()); err != nil {
		return fmt.Errorf("append to %s: %w", list, err)
	}
	if _, err := tx.Exec(`
DELETE FROM fifo WHERE list = ? AND id NOT IN (
	SELECT id FROM fifo WHERE list = ? ORDER BY id DESC LIMIT ?
)`, list, list, keep); err != nil {
		return fmt.Errorf("trim %s: %w", list, err)
	}
	return tx.Commit()
}

func (s *Store) readList(list string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT value FROM fifo WHERE list = ? ORDER BY id ASC`, list)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return out
		}
		out = append(out, v)
	}
	return out
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
