package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"

	"github.com/born-ml/forge/internal/engine"
)

// DiskCache persists compiled engines in a sqlite database so they
// survive process restarts. Eviction is by least recent access once
// the size budget is exceeded.
type DiskCache struct {
	mu     sync.Mutex
	db     *sql.DB
	budget int64
}

// NewDiskCache opens (creating if needed) the engine database under
// dir with the given byte budget.
func NewDiskCache(dir string, budget int64) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite3", filepath.Join(dir, "engines.sqlite3"))
	if err != nil {
		return nil, fmt.Errorf("failed to open engine cache: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS engines (
		fingerprint TEXT PRIMARY KEY,
		metadata TEXT NOT NULL,
		engine BLOB NOT NULL,
		size INTEGER NOT NULL,
		last_access INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize engine cache: %w", err)
	}
	return &DiskCache{db: db, budget: budget}, nil
}

func (c *DiskCache) Lookup(fingerprint string) (*engine.CompiledEngine, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var metadata, blob []byte
	err := c.db.QueryRow("SELECT metadata, engine FROM engines WHERE fingerprint = ?", fingerprint).Scan(&metadata, &blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("engine cache lookup failed: %w", err)
	}

	if _, err := c.db.Exec("UPDATE engines SET last_access = ? WHERE fingerprint = ?", time.Now().UnixNano(), fingerprint); err != nil {
		klog.Warningf("failed to touch cache entry %s: %v", fingerprint, err)
	}

	result, err := engine.UnmarshalMetadata(metadata, blob)
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

func (c *DiskCache) Store(fingerprint string, result *engine.CompiledEngine) error {
	size := result.Size()
	if size > c.budget {
		klog.Warningf("engine %s (%d bytes) exceeds cache budget (%d bytes), not caching", result.ID, size, c.budget)
		return nil
	}

	metadata, err := result.MarshalMetadata()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.evict(fingerprint, size); err != nil {
		return err
	}
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO engines (fingerprint, metadata, engine, size, last_access) VALUES (?, ?, ?, ?, ?)",
		fingerprint, metadata, result.SerializedEngine, size, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("engine cache store failed: %w", err)
	}
	return nil
}

// evict removes least recently accessed entries until incoming fits
// in the budget. An existing entry for the same fingerprint does not
// count since it is about to be replaced.
func (c *DiskCache) evict(fingerprint string, incoming int64) error {
	var used int64
	err := c.db.QueryRow(
		"SELECT COALESCE(SUM(size), 0) FROM engines WHERE fingerprint != ?", fingerprint).Scan(&used)
	if err != nil {
		return fmt.Errorf("engine cache accounting failed: %w", err)
	}

	for used+incoming > c.budget {
		var victim string
		var size int64
		err := c.db.QueryRow(
			"SELECT fingerprint, size FROM engines WHERE fingerprint != ? ORDER BY last_access ASC LIMIT 1",
			fingerprint).Scan(&victim, &size)
		if err == sql.ErrNoRows {
			break
		} else if err != nil {
			return fmt.Errorf("engine cache eviction failed: %w", err)
		}
		if _, err := c.db.Exec("DELETE FROM engines WHERE fingerprint = ?", victim); err != nil {
			return fmt.Errorf("engine cache eviction failed: %w", err)
		}
		used -= size
		klog.V(2).Infof("evicted engine %s from disk cache", victim)
	}
	return nil
}

// Len returns the number of cached entries.
func (c *DiskCache) Len() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM engines").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close releases the underlying database.
func (c *DiskCache) Close() error {
	return c.db.Close()
}
