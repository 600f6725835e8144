package fingerprint

import (
	"context"
	"fmt"
	"sync"

	"github.com/iudanet/gophsync/pkg/api"
)

// Source источник меток для восстановления дерева (хранилище операций).
type Source interface {
	// AllTimestamps returns every stored timestamp of the owner ordered by byte form.
	AllTimestamps(ctx context.Context, owner api.OwnerID) ([]api.TimestampBytes, error)
}

type cacheEntry struct {
	tree *Tree
	mu   sync.Mutex // сериализует построение дерева владельца
}

// Cache хранит по одному дереву на владельца. Дерево строится лениво из
// хранилища, поэтому потеря кэша (перезапуск, сбой) безопасна.
type Cache struct {
	source  Source
	entries map[api.OwnerID]*cacheEntry
	opts    Options
	mu      sync.Mutex
}

// NewCache создает кэш деревьев.
func NewCache(source Source, opts Options) *Cache {
	return &Cache{
		source:  source,
		entries: make(map[api.OwnerID]*cacheEntry),
		opts:    opts.normalize(),
	}
}

func (c *Cache) entry(owner api.OwnerID) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[owner]
	if !ok {
		e = &cacheEntry{}
		c.entries[owner] = e
	}
	return e
}

// Get возвращает дерево владельца, при необходимости строя его из хранилища.
func (c *Cache) Get(ctx context.Context, owner api.OwnerID) (*Tree, error) {
	e := c.entry(owner)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tree != nil {
		return e.tree, nil
	}

	timestamps, err := c.source.AllTimestamps(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load timestamps for tree rebuild: %w", err)
	}
	e.tree = Build(c.opts, timestamps)
	return e.tree, nil
}

// Insert добавляет метку в дерево владельца, если оно уже загружено.
// Незагруженное дерево будет построено из хранилища и так увидит метку.
func (c *Cache) Insert(owner api.OwnerID, ts api.TimestampBytes) {
	e := c.entry(owner)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tree != nil {
		e.tree.Insert(ts)
	}
}

// Invalidate сбрасывает дерево владельца (например, после обнаружения
// нарушения инварианта или удаления владельца).
func (c *Cache) Invalidate(owner api.OwnerID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, owner)
}
