package presets

import (
	"sync"
	"sync/atomic"
	"time"
)

// Store provides thread-safe access to the current preset catalog.
type Store struct {
	catalog atomic.Pointer[Catalog]
	mu      sync.Mutex // serializes load operations
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current catalog, or nil if none has been loaded.
func (s *Store) Get() *Catalog {
	return s.catalog.Load()
}

// Set atomically replaces the current catalog.
func (s *Store) Set(c *Catalog) {
	s.catalog.Store(c)
}

// Lookup returns the named preset from the current catalog.
func (s *Store) Lookup(name string) (Preset, bool) {
	c := s.catalog.Load()
	if c == nil {
		return Preset{}, false
	}
	p, ok := c.Presets[name]
	return p, ok
}

// Names returns the preset names in the current catalog.
func (s *Store) Names() []string {
	c := s.catalog.Load()
	if c == nil {
		return nil
	}
	return c.Names()
}

// AgeSeconds returns the age of the current catalog in seconds.
// Returns -1 if no catalog is loaded.
func (s *Store) AgeSeconds() float64 {
	c := s.catalog.Load()
	if c == nil {
		return -1
	}
	return time.Since(c.LoadedAt).Seconds()
}

// Lock acquires the load mutex for serializing catalog reloads.
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the load mutex.
func (s *Store) Unlock() {
	s.mu.Unlock()
}
