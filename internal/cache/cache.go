// Package cache provides caching for expression vectors and rendered snapshots.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	SnapshotCacheSizeMB int
	SnapshotTTL         time.Duration
	ExpressionCacheSize int
}

// Manager manages snapshot and expression caches.
type Manager struct {
	snapshotCache   *bigcache.BigCache
	expressionCache *lru.Cache[string, []float64]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 10 * time.Minute
	}
	if cfg.ExpressionCacheSize <= 0 {
		cfg.ExpressionCacheSize = 256
	}

	// Snapshots are whole-slide PNGs, larger than bigcache's default entry size.
	snapshotCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.SnapshotTTL,
		CleanWindow:        cfg.SnapshotTTL / 2,
		MaxEntriesInWindow: 1024,
		MaxEntrySize:       2 * 1024 * 1024,
		HardMaxCacheSize:   cfg.SnapshotCacheSizeMB,
		Verbose:            false,
	}

	snapshotCache, err := bigcache.New(context.Background(), snapshotCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}

	expressionCache, err := lru.New[string, []float64](cfg.ExpressionCacheSize)
	if err != nil {
		snapshotCache.Close()
		return nil, fmt.Errorf("failed to create expression cache: %w", err)
	}

	return &Manager{
		snapshotCache:   snapshotCache,
		expressionCache: expressionCache,
	}, nil
}

// GetSnapshot retrieves a rendered snapshot from cache.
func (m *Manager) GetSnapshot(key string) ([]byte, bool) {
	data, err := m.snapshotCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetSnapshot stores a rendered snapshot in cache.
func (m *Manager) SetSnapshot(key string, data []byte) error {
	return m.snapshotCache.Set(key, data)
}

// GetExpression retrieves a computed expression vector. The slice is shared
// and must not be modified.
func (m *Manager) GetExpression(key string) ([]float64, bool) {
	return m.expressionCache.Get(key)
}

// SetExpression stores a computed expression vector.
func (m *Manager) SetExpression(key string, values []float64) {
	m.expressionCache.Add(key, values)
}

// PurgeDataset drops every expression vector of a dataset. Snapshots are keyed
// by generation and age out on their own.
func (m *Manager) PurgeDataset(dataset string) int {
	prefix := "expr:" + dataset + "/"
	n := 0
	for _, k := range m.expressionCache.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.expressionCache.Remove(k)
			n++
		}
	}
	return n
}

// ExpressionKey generates a cache key for a gene set. Summation is order
// independent, so genes are sorted. Names are NUL separated since a gene name
// may contain a comma.
func ExpressionKey(dataset string, generation uint64, genes []string) string {
	sorted := append([]string(nil), genes...)
	sort.Strings(sorted)
	return fmt.Sprintf("expr:%s/%d:%s", dataset, generation, strings.Join(sorted, "\x00"))
}

// SnapshotKey generates a cache key for a snapshot of one dataset state.
func SnapshotKey(dataset string, generation, version uint64, params map[string]interface{}) string {
	base := fmt.Sprintf("snap:%s/%d/%d", dataset, generation, version)
	if len(params) == 0 {
		return base
	}

	// Hash params for cache key
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	h.Write([]byte(base))
	for _, k := range keys {
		h.Write([]byte(fmt.Sprintf("%s=%v;", k, params[k])))
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"snapshot_cache_len":   m.snapshotCache.Len(),
		"snapshot_cache_cap":   m.snapshotCache.Capacity(),
		"expression_cache_len": m.expressionCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.snapshotCache.Close()
}
