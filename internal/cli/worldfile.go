package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/roach88/mason/internal/plan"
	"github.com/roach88/mason/internal/world"
)

// WorldFile is a JSON-backed world used when no live agent bridge is
// attached: the oracle reads from it and the op runner writes to it. The
// position key format is "x,y,z".
//
// TODO: swap for a real bridge client once the agent transport lands.
type WorldFile struct {
	path string

	mu        sync.Mutex
	Blocks    map[string]world.ContentID `json:"blocks"`
	Inventory map[string]int64           `json:"inventory"`
}

// LoadWorldFile reads a world file, or starts an empty world when the
// file does not exist yet.
func LoadWorldFile(path string) (*WorldFile, error) {
	w := &WorldFile{
		path:      path,
		Blocks:    make(map[string]world.ContentID),
		Inventory: make(map[string]int64),
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read world file: %w", err)
	}
	if err := json.Unmarshal(data, w); err != nil {
		return nil, fmt.Errorf("parse world file %s: %w", path, err)
	}
	if w.Blocks == nil {
		w.Blocks = make(map[string]world.ContentID)
	}
	if w.Inventory == nil {
		w.Inventory = make(map[string]int64)
	}
	return w, nil
}

// Save writes the world back to its file.
func (w *WorldFile) Save() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("encode world file: %w", err)
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		return fmt.Errorf("write world file: %w", err)
	}
	return nil
}

// BlockAt implements world.Oracle.
func (w *WorldFile) BlockAt(_ context.Context, p world.Pos) (world.ContentID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Blocks[posKey(p)], nil
}

// InventorySnapshot implements world.Oracle.
func (w *WorldFile) InventorySnapshot(context.Context) (map[string]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int64, len(w.Inventory))
	for k, v := range w.Inventory {
		out[k] = v
	}
	return out, nil
}

// Run implements exec.OpRunner by applying the op's effect in place.
func (w *WorldFile) Run(_ context.Context, op plan.Op, pos world.Pos) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch op.Kind {
	case plan.OpPlace:
		w.Blocks[posKey(pos)] = op.Content
	case plan.OpRemove:
		delete(w.Blocks, posKey(pos))
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	return nil
}

func posKey(p world.Pos) string {
	return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z)
}
