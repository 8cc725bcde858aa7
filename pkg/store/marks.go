package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Mark values written by the mark command.
const (
	MarkDirty = "dirty"
	MarkClean = "clean"
)

// MarkStore persists the update mark of each resource. A resource that was
// never marked has the empty mark.
type MarkStore interface {
	SetMark(resource, mark string) error
	GetMark(resource string) (string, error)
	Close() error
}

// MemoryMarks keeps marks in memory.
type MemoryMarks struct {
	mu    sync.RWMutex
	marks map[string]string
}

// NewMemoryMarks creates an empty in-memory mark store.
func NewMemoryMarks() *MemoryMarks {
	return &MemoryMarks{marks: make(map[string]string)}
}

// SetMark records mark for resource.
func (m *MemoryMarks) SetMark(resource, mark string) error {
	if resource == "" {
		return errors.New("empty resource name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[resource] = mark
	return nil
}

// GetMark returns the mark of resource, or "" if it was never marked.
func (m *MemoryMarks) GetMark(resource string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.marks[resource], nil
}

// Close does nothing.
func (m *MemoryMarks) Close() error { return nil }

// SQLiteMarks keeps marks in a SQLite database so they survive across
// runs, the way a device keeps them across reboots.
type SQLiteMarks struct {
	db *sql.DB
}

// OpenSQLiteMarks opens (and if necessary creates) a mark database.
func OpenSQLiteMarks(path string) (*SQLiteMarks, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open mark database: %w", err)
	}

	s := &SQLiteMarks{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteMarks) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS marks (
		resource TEXT PRIMARY KEY,
		mark TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`)
	return err
}

// SetMark stores mark for resource, replacing any earlier mark.
func (s *SQLiteMarks) SetMark(resource, mark string) error {
	if resource == "" {
		return errors.New("empty resource name")
	}
	_, err := s.db.Exec(`
		INSERT INTO marks (resource, mark, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(resource) DO UPDATE SET mark = excluded.mark, updated_at = CURRENT_TIMESTAMP`,
		resource, mark)
	if err != nil {
		return fmt.Errorf("failed to set mark: %w", err)
	}
	return nil
}

// GetMark returns the stored mark of resource, or "" if there is none.
func (s *SQLiteMarks) GetMark(resource string) (string, error) {
	var mark string
	err := s.db.QueryRow(`SELECT mark FROM marks WHERE resource = ?`, resource).Scan(&mark)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get mark: %w", err)
	}
	return mark, nil
}

// Close closes the database.
func (s *SQLiteMarks) Close() error {
	return s.db.Close()
}

// OpenMarks returns a SQLite mark store for a non-empty path and an
// in-memory one otherwise.
func OpenMarks(path string) (MarkStore, error) {
	if path == "" {
		return NewMemoryMarks(), nil
	}
	return OpenSQLiteMarks(path)
}
