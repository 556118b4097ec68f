package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"finlineage/pkg/core/mapping"
)

// MappingCache persists formula mappings keyed by (entity, filing type). A
// hit skips external formula generation entirely. Get returns (nil, nil) on
// a miss; coverage of the required schema is the caller's check, since a
// partially covering entry is still worth reusing for the metrics it maps.
type MappingCache interface {
	Get(ctx context.Context, entity, filingType string) (*mapping.FormulaMapping, error)
	Put(ctx context.Context, entity, filingType string, m *mapping.FormulaMapping) error
	Invalidate(ctx context.Context, entity, filingType string) error
}

// HybridMappingCache stores mappings in Postgres when a pool is configured
// and falls back to JSON files otherwise. Writers are serialized per key:
// two concurrent runs racing to populate the same (entity, filing type)
// entry resolve last-writer-wins with a logged warning, never a crash.
type HybridMappingCache struct {
	pool    *pgxpool.Pool
	fileDir string
	log     *zap.Logger

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

var _ MappingCache = (*HybridMappingCache)(nil)

// NewHybridMappingCache creates a cache over the given pool and/or file
// directory. With a nil pool and empty dir it defaults to a local cache
// directory.
func NewHybridMappingCache(pool *pgxpool.Pool, dir string, log *zap.Logger) *HybridMappingCache {
	if pool == nil && dir == "" {
		dir = filepath.Join(".cache", "mappings")
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil && log != nil {
			log.Warn("failed to create mapping cache dir", zap.String("dir", dir), zap.Error(err))
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HybridMappingCache{
		pool:     pool,
		fileDir:  dir,
		log:      log,
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// Postgres schema assumption:
//
//	CREATE TABLE IF NOT EXISTS formula_mappings (
//	  entity TEXT NOT NULL,
//	  filing_type TEXT NOT NULL,
//	  mapping_json JSONB NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL,
//	  PRIMARY KEY (entity, filing_type)
//	);

func cacheKey(entity, filingType string) string {
	return entity + "|" + filingType
}

func (c *HybridMappingCache) keyLock(entity, filingType string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey(entity, filingType)
	if c.keyLocks[k] == nil {
		c.keyLocks[k] = &sync.Mutex{}
	}
	return c.keyLocks[k]
}

func (c *HybridMappingCache) filePath(entity, filingType string) string {
	safe := strings.ReplaceAll(entity+"_"+filingType, "/", "-")
	return filepath.Join(c.fileDir, safe+".json")
}

// Get retrieves the latest cached mapping for the key, nil on miss.
func (c *HybridMappingCache) Get(ctx context.Context, entity, filingType string) (*mapping.FormulaMapping, error) {
	if c.pool != nil {
		query := `
			SELECT mapping_json
			FROM formula_mappings
			WHERE entity = $1 AND filing_type = $2
			LIMIT 1
		`
		var data []byte
		if err := c.pool.QueryRow(ctx, query, entity, filingType).Scan(&data); err != nil {
			return nil, nil // miss
		}
		var m mapping.FormulaMapping
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cached mapping: %w", err)
		}
		return &m, nil
	}

	if c.fileDir != "" {
		data, err := os.ReadFile(c.filePath(entity, filingType))
		if err != nil {
			return nil, nil // miss
		}
		var m mapping.FormulaMapping
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cached mapping file: %w", err)
		}
		return &m, nil
	}

	return nil, nil
}

// Put stores a mapping under the key, holding the per-key lock for the
// duration of the write. If an entry with different content already exists,
// the conflict is logged and the new write wins.
func (c *HybridMappingCache) Put(ctx context.Context, entity, filingType string, m *mapping.FormulaMapping) error {
	lock := c.keyLock(entity, filingType)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	if existing, _ := c.Get(ctx, entity, filingType); existing != nil {
		existingData, merr := json.Marshal(existing)
		if merr == nil && string(existingData) != string(data) {
			c.log.Warn("mapping cache write conflict, last writer wins",
				zap.String("entity", entity),
				zap.String("filing_type", filingType))
		}
	}

	if c.pool != nil {
		query := `
			INSERT INTO formula_mappings (entity, filing_type, mapping_json, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (entity, filing_type)
			DO UPDATE SET
				mapping_json = EXCLUDED.mapping_json,
				updated_at = EXCLUDED.updated_at;
		`
		if _, err := c.pool.Exec(ctx, query, entity, filingType, data, time.Now()); err != nil {
			return fmt.Errorf("failed to store mapping: %w", err)
		}
		return nil
	}

	if c.fileDir != "" {
		if err := os.WriteFile(c.filePath(entity, filingType), data, 0644); err != nil {
			return fmt.Errorf("failed to write mapping cache file: %w", err)
		}
	}
	return nil
}

// Invalidate removes a cached entry.
func (c *HybridMappingCache) Invalidate(ctx context.Context, entity, filingType string) error {
	lock := c.keyLock(entity, filingType)
	lock.Lock()
	defer lock.Unlock()

	if c.pool != nil {
		_, err := c.pool.Exec(ctx,
			`DELETE FROM formula_mappings WHERE entity = $1 AND filing_type = $2`,
			entity, filingType)
		if err != nil {
			return fmt.Errorf("failed to invalidate mapping: %w", err)
		}
		return nil
	}
	if c.fileDir != "" {
		if err := os.Remove(c.filePath(entity, filingType)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove mapping cache file: %w", err)
		}
	}
	return nil
}

// MemoryMappingCache is an in-memory MappingCache for tests and embedding.
type MemoryMappingCache struct {
	mu      sync.RWMutex
	entries map[string]*mapping.FormulaMapping
}

var _ MappingCache = (*MemoryMappingCache)(nil)

// NewMemoryMappingCache creates an empty in-memory cache.
func NewMemoryMappingCache() *MemoryMappingCache {
	return &MemoryMappingCache{entries: make(map[string]*mapping.FormulaMapping)}
}

// Get returns the cached mapping, nil on miss.
func (c *MemoryMappingCache) Get(_ context.Context, entity, filingType string) (*mapping.FormulaMapping, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[cacheKey(entity, filingType)], nil
}

// Put stores the mapping, last writer wins.
func (c *MemoryMappingCache) Put(_ context.Context, entity, filingType string, m *mapping.FormulaMapping) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(entity, filingType)] = m
	return nil
}

// Invalidate drops the entry.
func (c *MemoryMappingCache) Invalidate(_ context.Context, entity, filingType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(entity, filingType))
	return nil
}
