package testutil

import (
	"fmt"
	"sync"
)

// SeqGenerator returns predictable IDs "prefix-1", "prefix-2", ... for
// deterministic test execution and golden file comparison.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SeqGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqGenerator creates a generator with the given prefix.
func NewSeqGenerator(prefix string) *SeqGenerator {
	if prefix == "" {
		prefix = "test"
	}
	return &SeqGenerator{prefix: prefix}
}

// Generate returns the next ID in sequence.
func (g *SeqGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
