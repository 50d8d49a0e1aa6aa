// Package store provides implementations of the session token store: an
// in-memory map, Redis and the OS keyring.
package store

import (
	"context"
	"maps"
	"sync"
)

// Memory keeps values in a map. It is safe for concurrent use and loses its
// content with the process.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: map[string]string{}}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Snapshot returns a copy of every stored value.
func (m *Memory) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.data)
}
