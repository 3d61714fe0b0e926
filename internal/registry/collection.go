package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/examportal/internal/store"
)

const schemaVersion = 1

type envelope[T any] struct {
	SchemaVersion int       `json:"schema_version"`
	SavedAt       time.Time `json:"saved_at"`
	Items         []T       `json:"items"`
}

// errUnchanged lets a mutation finish without a write.
var errUnchanged = errors.New("unchanged")

// maxWriteAttempts bounds how often a mutation is replayed after losing a
// write race to another process sharing the store.
const maxWriteAttempts = 5

type collection[T any] struct {
	mu       sync.RWMutex
	name     string
	items    []T
	revision int64
	key      func(T) string
	clone    func(T) T
}

func newCollection[T any](name string, key func(T) string, clone func(T) T) *collection[T] {
	return &collection[T]{name: name, key: key, clone: clone}
}

func (c *collection[T]) snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.items))
	for i, item := range c.items {
		out[i] = c.clone(item)
	}
	return out
}

func (c *collection[T]) get(id string) (T, bool) {
	return c.find(func(item T) bool { return c.key(item) == id })
}

func (c *collection[T]) find(match func(T) bool) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, item := range c.items {
		if match(item) {
			return c.clone(item), true
		}
	}
	var zero T
	return zero, false
}

func (c *collection[T]) filter(match func(T) bool) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []T
	for _, item := range c.items {
		if match(item) {
			out = append(out, c.clone(item))
		}
	}
	return out
}

func (c *collection[T]) indexOf(items []T, id string) int {
	return slices.IndexFunc(items, func(item T) bool { return c.key(item) == id })
}

// mutate hands fn a copy of the latest stored items under the write lock.
// The result is persisted first and becomes the active state only if the
// write succeeded. When another writer got in between, the collection is
// reloaded and fn runs again on the fresh items, so fn must derive all of its
// output from its argument.
func (c *collection[T]) mutate(ctx context.Context, backend store.CollectionStore, now time.Time, fn func([]T) ([]T, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 1; ; attempt++ {
		if err := c.sync(ctx, backend); err != nil {
			return err
		}

		next, err := fn(slices.Clone(c.items))
		if errors.Is(err, errUnchanged) {
			return nil
		}
		if err != nil {
			return err
		}

		revision, err := c.persist(ctx, backend, now, next, c.revision)
		if errors.Is(err, store.ErrConflict) && attempt < maxWriteAttempts {
			logger.Debug.Printf("Concurrent write to %s, retrying (attempt %d)", c.name, attempt)
			continue
		}
		if err != nil {
			return err
		}
		c.items, c.revision = next, revision
		return nil
	}
}

// refresh picks up writes made through the backend by other processes.
func (c *collection[T]) refresh(ctx context.Context, backend store.CollectionStore) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sync(ctx, backend)
}

// sync reloads the items when the stored revision moved. A snapshot that no
// longer decodes keeps the current items and adopts the revision, so the next
// write replaces it. Callers hold c.mu.
func (c *collection[T]) sync(ctx context.Context, backend store.CollectionStore) error {
	revision, err := backend.Revision(ctx, c.name)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", c.name, err)
	}
	if revision == c.revision {
		return nil
	}

	snap, err := backend.Load(ctx, c.name)
	if errors.Is(err, store.ErrNotFound) {
		c.revision = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to reload %s: %w", c.name, err)
	}

	items, err := decode[T](snap.Payload)
	if err != nil {
		logger.Error.Printf("Corrupt snapshot for %s at revision %d, keeping current items: %v", c.name, snap.Revision, err)
		c.revision = snap.Revision
		return nil
	}
	logger.Debug.Printf("Reloaded %s at revision %d (%d items)", c.name, snap.Revision, len(items))
	c.items, c.revision = items, snap.Revision
	return nil
}

func decode[T any](payload []byte) ([]T, error) {
	var env envelope[T]
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if env.SchemaVersion != schemaVersion {
		return nil, fmt.Errorf("schema version %d, expected %d", env.SchemaVersion, schemaVersion)
	}
	return env.Items, nil
}

func (c *collection[T]) persist(ctx context.Context, backend store.CollectionStore, now time.Time, items []T, expected int64) (int64, error) {
	if items == nil {
		items = []T{}
	}
	payload, err := json.Marshal(envelope[T]{
		SchemaVersion: schemaVersion,
		SavedAt:       now,
		Items:         items,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s: %w", c.name, err)
	}
	revision, err := backend.Save(ctx, c.name, payload, expected)
	if err != nil {
		return 0, fmt.Errorf("failed to persist %s: %w", c.name, err)
	}
	return revision, nil
}

// restore loads the collection from the backend. A missing collection is
// seeded and written; an unreadable or corrupt one falls back to the seed in
// memory only, so the stored snapshot stays available for inspection.
func (c *collection[T]) restore(ctx context.Context, backend store.CollectionStore, now time.Time, seed []T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := backend.Load(ctx, c.name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Info.Printf("Collection %s not found, seeding %d bootstrap items", c.name, len(seed))
		c.items = seed
		revision, err := c.persist(ctx, backend, now, seed, 0)
		if errors.Is(err, store.ErrConflict) {
			// another process seeded it first
			if err := c.sync(ctx, backend); err != nil {
				logger.Error.Printf("Failed to pick up bootstrap %s: %v", c.name, err)
			}
			return
		}
		if err != nil {
			logger.Error.Printf("Failed to write bootstrap %s: %v", c.name, err)
			return
		}
		c.revision = revision
		return
	case err != nil:
		logger.Error.Printf("Failed to read %s, using bootstrap data: %v", c.name, err)
		c.items = seed
		return
	}

	c.revision = snap.Revision
	items, err := decode[T](snap.Payload)
	if err != nil {
		logger.Error.Printf("Corrupt snapshot for %s, using bootstrap data: %v", c.name, err)
		c.items = seed
		return
	}

	c.items = items
	logger.Debug.Printf("Restored %d items into %s", len(items), c.name)
}
