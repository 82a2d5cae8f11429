package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator hands out "<prefix>-1", "<prefix>-2", ... as sync pass
// ids, so golden traces do not depend on UUID randomness.
//
// If prefix is empty, "pass" is used.
//
// Thread-safety: safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator with the given prefix.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "pass"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id. Implements engine.IDGenerator.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
