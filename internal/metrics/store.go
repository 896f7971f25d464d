// Package metrics provides the durable run counters persisted alongside the
// event log. The store is a single JSON object rewritten in full on every
// update; writers are serialized by the orchestrator's own concurrency
// discipline, so no cross-process locking is attempted.
package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is a durable key->value counter store backed by one JSON file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the current snapshot. A missing or corrupt file yields an empty
// map, never an error.
func (s *Store) Load() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() map[string]interface{} {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]interface{}{}
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

// Update sets one key as a load-modify-store cycle and rewrites the snapshot.
func (s *Store) Update(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.loadLocked()
	m[key] = value
	return s.storeLocked(m)
}

// Increment adds delta to a numeric key, treating missing keys as zero.
func (s *Store) Increment(key string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.loadLocked()
	current := 0.0
	if v, ok := m[key]; ok {
		if f, ok := toFloat(v); ok {
			current = f
		}
	}
	current += delta
	m[key] = current
	if err := s.storeLocked(m); err != nil {
		return 0, err
	}
	return current, nil
}

// Merge applies every key from other on top of the current snapshot,
// last-writer-wins, and rewrites it.
func (s *Store) Merge(other map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.loadLocked()
	for k, v := range other {
		m[k] = v
	}
	return s.storeLocked(m)
}

func (s *Store) storeLocked(m map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
