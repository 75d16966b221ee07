package translate

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Cache store kinds accepted by OpenStore.
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

// OpenStore opens the store of the given kind at path. An empty path yields
// a nil store (memory only).
func OpenStore(kind, path string) (Store, error) {
	if path == "" {
		return nil, nil
	}
	switch kind {
	case "", StoreJSON:
		return NewJSONStore(path), nil
	case StoreSQLite:
		s, err := OpenSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache store %q", kind)
	}
}

// cacheFile is the on-disk layout of a JSONStore.
type cacheFile struct {
	Version string  `json:"version"`
	Entries []Entry `json:"entries"`
}

const cacheFileVersion = "1.0"

// JSONStore keeps entries in a single JSON file, rewritten on Close.
type JSONStore struct {
	path string

	mu      sync.Mutex
	entries []Entry
	dirty   bool
}

func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

func (s *JSONStore) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse cache file: %w", err)
	}
	s.entries = f.Entries
	return f.Entries, nil
}

func (s *JSONStore) Put(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	s.dirty = true
	return nil
}

// Flush writes the file if entries were added since the last write.
func (s *JSONStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	entries := append([]Entry(nil), s.entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	data, err := json.MarshalIndent(cacheFile{Version: cacheFileVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *JSONStore) Close() error { return s.Flush() }

// SQLiteStore keeps entries in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `CREATE TABLE IF NOT EXISTS translations (
	key TEXT PRIMARY KEY,
	original TEXT NOT NULL,
	translation TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT key, original, translation, created_at FROM translations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.Key, &e.Original, &e.Translation, &created); err != nil {
			return nil, fmt.Errorf("failed to scan cache row: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Put inserts the entry; an existing row for the key is left as it is.
func (s *SQLiteStore) Put(e Entry) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO translations (key, original, translation, created_at) VALUES (?, ?, ?, ?)`,
		e.Key, e.Original, e.Translation, e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert cache row: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
