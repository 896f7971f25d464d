// Package membank holds the ephemeral cross-stage memory for one run. The
// bank is persisted to disk only while a run is in flight and is torn down
// at run end; it must never leak state across runs.
package membank

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Bank is a key->value store with an on-disk JSON snapshot.
type Bank struct {
	path string

	mu    sync.RWMutex
	store map[string]interface{}
}

// New creates a bank persisted at the given snapshot path.
func New(path string) *Bank {
	return &Bank{
		path:  path,
		store: make(map[string]interface{}),
	}
}

// Path returns the snapshot file path.
func (b *Bank) Path() string {
	return b.path
}

// Load replaces the in-memory state with the on-disk snapshot. A missing or
// corrupt snapshot resets the bank to empty, never an error.
func (b *Bank) Load() {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if err != nil {
		b.store = make(map[string]interface{})
		return
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn().Str("path", b.path).Err(err).Msg("Corrupt memory snapshot, resetting")
		b.store = make(map[string]interface{})
		return
	}
	b.store = m
}

// Save overwrites the on-disk snapshot with the current state. The write
// goes through a temp file and rename so readers never observe a torn file.
func (b *Bank) Save() error {
	b.mu.RLock()
	data, err := json.MarshalIndent(b.store, "", "  ")
	b.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal memory snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write memory snapshot: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("failed to replace memory snapshot: %w", err)
	}
	return nil
}

// Clear resets the in-memory state and deletes the on-disk snapshot,
// tolerating absence.
func (b *Bank) Clear() {
	b.mu.Lock()
	b.store = make(map[string]interface{})
	b.mu.Unlock()

	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		log.Warn().Str("path", b.path).Err(err).Msg("Failed to remove memory snapshot")
	}
}

// Get returns the value for key, or def when absent.
func (b *Bank) Get(key string, def interface{}) interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if v, ok := b.store[key]; ok {
		return v
	}
	return def
}

// Set stores a value under key.
func (b *Bank) Set(key string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store[key] = value
}

// Len returns the number of keys held.
func (b *Bank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.store)
}

// Snapshot returns a detached deep copy of the current contents. Work items
// receive this copy, never the live store.
func (b *Bank) Snapshot() map[string]interface{} {
	b.mu.RLock()
	data, err := json.Marshal(b.store)
	b.mu.RUnlock()
	if err != nil {
		return map[string]interface{}{}
	}

	var copy map[string]interface{}
	if err := json.Unmarshal(data, &copy); err != nil {
		return map[string]interface{}{}
	}
	return copy
}
