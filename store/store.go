// Package store caches assembled bytecode in SQLite, keyed by a hash of the
// listing text. Entries are stored as CBOR images and revalidated on load.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/tbc/asm"
	"github.com/chazu/tbc/vm"
)

var log = commonlog.GetLogger("tbc.store")

// ErrNotFound indicates the requested entry doesn't exist.
var ErrNotFound = errors.New("cache entry not found")

// keyVersion is mixed into every key so that a change to the assembler or
// image format invalidates old entries.
const keyVersion = "tbc-cache-v1\x00"

// Key returns the cache key for a listing.
func Key(text string) [32]byte {
	return sha256.Sum256([]byte(keyVersion + text))
}

func hexKey(key [32]byte) string {
	return hex.EncodeToString(key[:])
}

// Cache is a SQLite-backed bytecode cache. It is safe for concurrent use.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS bytecode (
		hash TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		image BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Path returns the database path.
func (c *Cache) Path() string { return c.path }

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get loads the object stored under key.
func (c *Cache) Get(ctx context.Context, key [32]byte) (*vm.BytecodeObject, error) {
	var image []byte
	err := c.db.QueryRowContext(ctx, "SELECT image FROM bytecode WHERE hash = ?", hexKey(key)).Scan(&image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying cache: %w", err)
	}

	obj, err := vm.UnmarshalImage(image)
	if err != nil {
		return nil, fmt.Errorf("decoding cached image: %w", err)
	}
	return obj, nil
}

// Put stores obj under key, replacing any existing entry.
func (c *Cache) Put(ctx context.Context, key [32]byte, obj *vm.BytecodeObject) error {
	image, err := vm.MarshalImage(obj)
	if err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO bytecode (hash, name, image, created) VALUES (?, ?, ?, ?)",
		hexKey(key), obj.Name, image, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving cache entry: %w", err)
	}
	return nil
}

// Len returns the number of cached objects.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bytecode").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}

// Assemble returns the object for text, assembling and caching it on a
// miss. A corrupt entry is logged and replaced.
func (c *Cache) Assemble(ctx context.Context, text string) (*vm.BytecodeObject, error) {
	key := Key(text)
	obj, err := c.Get(ctx, key)
	switch {
	case err == nil:
		log.Debugf("cache hit %x", key[:6])
		return obj, nil
	case !errors.Is(err, ErrNotFound):
		log.Warningf("ignoring cache entry %x: %s", key[:6], err)
	}

	obj, err = asm.Assemble(text)
	if err != nil {
		return nil, err
	}
	if err := c.Put(ctx, key, obj); err != nil {
		return nil, err
	}
	log.Debugf("cached %q as %x", obj.Name, key[:6])
	return obj, nil
}
