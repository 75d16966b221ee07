package translate

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"pdf-translator/internal/logger"
)

// Entry is one cached translation.
type Entry struct {
	Key         string    `json:"hash"`
	Original    string    `json:"original"`
	Translation string    `json:"translation"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists cache entries.
type Store interface {
	Load() ([]Entry, error)
	// Put records a new entry. The cache never calls Put twice for a key.
	Put(e Entry) error
	Close() error
}

// Key derives the cache key for text translated into target by the backend
// identified by fingerprint.
func Key(target, fingerprint, text string) string {
	sum := blake3.Sum256([]byte(target + "\x00" + fingerprint + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Cache maps keys to translations. Entries are immutable once written: a
// second Put for the same key keeps the first translation. A Cache is safe
// for concurrent use and may be shared by many documents.
type Cache struct {
	store Store

	mu      sync.RWMutex
	entries map[string]Entry
	writes  singleflight.Group
}

// NewCache creates a cache backed by store, loading its entries. A nil
// store keeps entries in memory only.
func NewCache(store Store) (*Cache, error) {
	c := &Cache{store: store, entries: make(map[string]Entry)}
	if store == nil {
		return c, nil
	}
	entries, err := store.Load()
	if err != nil {
		return nil, &CacheError{Op: "load", Err: err}
	}
	for _, e := range entries {
		c.entries[e.Key] = e
	}
	logger.Debug("translation cache loaded", logger.Int("entries", len(entries)))
	return c, nil
}

// Get returns the translation stored under key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e.Translation, ok
}

// Put stores translation under key unless the key is already present, and
// returns the translation the cache holds afterwards. Concurrent writers of
// one key are collapsed into a single store write.
func (c *Cache) Put(key, original, translation string) (string, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.writes.Do(key, func() (interface{}, error) {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			c.mu.Unlock()
			return e.Translation, nil
		}
		e := Entry{Key: key, Original: original, Translation: translation, CreatedAt: time.Now()}
		c.entries[key] = e
		c.mu.Unlock()

		if c.store != nil {
			if err := c.store.Put(e); err != nil {
				return translation, &CacheError{Op: "put", Err: err}
			}
		}
		return translation, nil
	})
	return v.(string), err
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close flushes and closes the store.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Close(); err != nil {
		return &CacheError{Op: "close", Err: err}
	}
	return nil
}

// CacheError wraps a failure of the persistent store.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string { return "translation cache " + e.Op + ": " + e.Err.Error() }

func (e *CacheError) Unwrap() error { return e.Err }
