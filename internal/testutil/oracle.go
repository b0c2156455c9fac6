// Package testutil provides deterministic test doubles: a map-backed world
// oracle with drift injection, fixed ID generators, and plan builders.
package testutil

import (
	"context"
	"sync"

	"github.com/roach88/mason/internal/world"
)

// FakeOracle is a map-backed World State Oracle for tests.
//
// It counts BlockAt queries so tests can assert bounded verification cost,
// and exposes mutation helpers to inject drift mid-scenario.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type FakeOracle struct {
	mu        sync.Mutex
	blocks    map[world.Pos]world.ContentID
	inventory map[string]int64
	queries   int
}

// NewFakeOracle creates an empty world with an empty inventory.
func NewFakeOracle() *FakeOracle {
	return &FakeOracle{
		blocks:    make(map[world.Pos]world.ContentID),
		inventory: make(map[string]int64),
	}
}

// BlockAt implements world.Oracle.
func (o *FakeOracle) BlockAt(_ context.Context, p world.Pos) (world.ContentID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries++
	return o.blocks[p], nil
}

// InventorySnapshot implements world.Oracle. Returns a copy.
func (o *FakeOracle) InventorySnapshot(context.Context) (map[string]int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := make(map[string]int64, len(o.inventory))
	for k, v := range o.inventory {
		snap[k] = v
	}
	return snap, nil
}

// Set places content at p (world.Empty clears the position).
func (o *FakeOracle) Set(p world.Pos, content world.ContentID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if content == world.Empty {
		delete(o.blocks, p)
	} else {
		o.blocks[p] = content
	}
}

// Clear removes the block at p. Shorthand drift injection.
func (o *FakeOracle) Clear(p world.Pos) {
	o.Set(p, world.Empty)
}

// SetInventory sets an inventory item count.
func (o *FakeOracle) SetInventory(item string, count int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inventory[item] = count
}

// Queries returns the number of BlockAt calls made so far.
func (o *FakeOracle) Queries() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queries
}

// ResetQueries zeroes the query counter.
func (o *FakeOracle) ResetQueries() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries = 0
}
