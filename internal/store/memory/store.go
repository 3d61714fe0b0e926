// Package memory keeps collections in process memory. It backs tests and
// the "memory://" DSN used for throwaway demo runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/shrimpsizemoose/examportal/internal/store"
)

type entry struct {
	payload  []byte
	revision int64
}

type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]entry
	saves map[string]int
	fail  error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  map[string]entry{},
		saves: map[string]int{},
	}
}

func (m *MemoryStore) Load(_ context.Context, name string) (store.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[name]
	if !ok {
		return store.Snapshot{}, store.ErrNotFound
	}
	return store.Snapshot{Payload: slices.Clone(e.payload), Revision: e.revision}, nil
}

func (m *MemoryStore) Revision(_ context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[name].revision, nil
}

func (m *MemoryStore) Save(_ context.Context, name string, payload []byte, expected int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	if cur := m.data[name].revision; cur != expected {
		return 0, fmt.Errorf("collection %s at revision %d, not %d: %w", name, cur, expected, store.ErrConflict)
	}
	m.data[name] = entry{payload: slices.Clone(payload), revision: expected + 1}
	m.saves[name]++
	return expected + 1, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// Put stores a raw payload as a new revision, bypassing Save accounting.
func (m *MemoryStore) Put(name string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = entry{payload: slices.Clone(payload), revision: m.data[name].revision + 1}
}

// Saves reports how many times a collection was written.
func (m *MemoryStore) Saves(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[name]
}

// FailSaves makes every following Save return err; nil restores normal saves.
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}
