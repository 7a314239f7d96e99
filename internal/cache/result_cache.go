// Package cache provides an in-memory cache of trajectory results.
//
// Runs are deterministic, so a result is keyed by a hash of the vehicle and
// steering that produced it. Entries expire after a TTL and the oldest are
// dropped first once the cache is full. A background loop sweeps expired
// entries so idle memory is released without waiting for a write.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/star/stageflight/internal/metrics"
	"github.com/star/stageflight/internal/trajectory"
)

// Config holds cache configuration loaded from environment variables.
type Config struct {
	TTL           time.Duration // Entry lifetime (default: 600s)
	MaxEntries    int           // Capacity, oldest evicted first (default: 256)
	SweepInterval time.Duration // Expiry sweep period (default: 30s)
}

// Entry wraps a cached result with its insertion time.
type Entry struct {
	Result   *trajectory.Result
	StoredAt time.Time
}

// ResultCache is an in-memory cache of trajectory results.
// Safe for concurrent use by multiple goroutines. Cached results are shared
// and must not be modified by callers.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	config Config
	logger *slog.Logger
	now    func() time.Time

	// Counters (lock-free).
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewResultCache creates a new result cache.
func NewResultCache(config Config, logger *slog.Logger) *ResultCache {
	if config.TTL <= 0 {
		config.TTL = 600 * time.Second
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 256
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}

	logger.Info("cache initialized",
		"ttl_seconds", config.TTL.Seconds(),
		"max_entries", config.MaxEntries,
		"sweep_seconds", config.SweepInterval.Seconds(),
	)

	return &ResultCache{
		entries: make(map[string]*Entry),
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Key returns the cache key for a run of v under cfg.
func Key(v trajectory.Vehicle, cfg trajectory.Config) (string, error) {
	steering, err := trajectory.EncodeConfig(cfg)
	if err != nil {
		return "", err
	}
	doc, err := json.Marshal(struct {
		Vehicle  trajectory.Vehicle `json:"vehicle"`
		Steering json.RawMessage    `json:"steering"`
	}{v, steering})
	if err != nil {
		return "", fmt.Errorf("encoding cache key: %w", err)
	}
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:]), nil
}

// Get returns the result stored under key if it has not expired.
func (c *ResultCache) Get(key string) (*trajectory.Result, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Sub(entry.StoredAt) < c.config.TTL {
		c.hits.Add(1)
		metrics.IncCacheHits()
		return entry.Result, true
	}

	c.misses.Add(1)
	metrics.IncCacheMisses()
	return nil, false
}

// Put stores res under key, evicting the oldest entries when full.
func (c *ResultCache) Put(key string, res *trajectory.Result) {
	entry := &Entry{Result: res, StoredAt: c.now()}

	c.mu.Lock()
	c.entries[key] = entry
	removed := c.evictOldestLocked()
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddCacheEvictions(removed)
	}
	c.updateMetrics()
}

// evictOldestLocked trims the cache to MaxEntries. Caller must hold mu.
func (c *ResultCache) evictOldestLocked() int {
	var removed int
	for len(c.entries) > c.config.MaxEntries {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.StoredAt.Before(oldest) {
				oldestKey, oldest = k, e.StoredAt
			}
		}
		delete(c.entries, oldestKey)
		removed++
	}
	return removed
}

// evictExpired removes entries older than the TTL.
func (c *ResultCache) evictExpired() int {
	cutoff := c.now().Add(-c.config.TTL)
	var removed int

	c.mu.Lock()
	for k, e := range c.entries {
		if !e.StoredAt.After(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddCacheEvictions(removed)
		c.updateMetrics()
		c.logger.Debug("cache eviction", "entries_removed", removed)
	}

	return removed
}

// Purge drops every entry.
func (c *ResultCache) Purge() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()

	if n > 0 {
		c.logger.Info("cache purged", "entries_removed", n)
	}
	c.updateMetrics()
}

// Start runs the expiry sweep until ctx is cancelled.
func (c *ResultCache) Start(ctx context.Context) {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cache sweeper stopped")
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

// Stats holds cache statistics for the stats endpoint.
type Stats struct {
	Entries    int       `json:"entries"`
	MaxEntries int       `json:"max_entries"`
	SizeBytes  int64     `json:"size_bytes"`
	Oldest     time.Time `json:"oldest"`
	Newest     time.Time `json:"newest"`
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Evictions  int64     `json:"evictions"`
	TTLSeconds float64   `json:"ttl_seconds"`
}

// Stats returns current cache statistics.
func (c *ResultCache) Stats() Stats {
	c.mu.RLock()
	count := len(c.entries)

	var oldest, newest time.Time
	for _, e := range c.entries {
		if oldest.IsZero() || e.StoredAt.Before(oldest) {
			oldest = e.StoredAt
		}
		if newest.IsZero() || e.StoredAt.After(newest) {
			newest = e.StoredAt
		}
	}
	c.mu.RUnlock()

	return Stats{
		Entries:    count,
		MaxEntries: c.config.MaxEntries,
		SizeBytes:  c.estimateSizeBytes(),
		Oldest:     oldest,
		Newest:     newest,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
		TTLSeconds: c.config.TTL.Seconds(),
	}
}

// estimateSizeBytes returns a rough estimate of the cache memory footprint.
func (c *ResultCache) estimateSizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stateSize := int64(unsafe.Sizeof(trajectory.State{}))
	burnoutSize := int64(unsafe.Sizeof(trajectory.StageBurnout{}))
	resultSize := int64(unsafe.Sizeof(trajectory.Result{}))

	var total int64
	for k, e := range c.entries {
		total += int64(len(k)) + int64(unsafe.Sizeof(Entry{}))
		if e.Result == nil {
			continue
		}
		total += resultSize +
			int64(cap(e.Result.States))*stateSize +
			int64(cap(e.Result.Burnouts))*burnoutSize
	}
	return total
}

// updateMetrics publishes the current entry count to Prometheus.
func (c *ResultCache) updateMetrics() {
	c.mu.RLock()
	count := len(c.entries)
	c.mu.RUnlock()

	metrics.SetCacheEntries(count)
}
