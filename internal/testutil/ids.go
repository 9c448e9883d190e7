package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/storyflow/internal/ids"
)

// SequentialIDs issues document ids 000…001, 000…002, … so a scenario run
// produces the same ids, field ids and golden output every time.
//
// Unlike ids.UUIDv7Generator it can be reset for test reuse.
//
// Thread-safety: all methods are safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      uint64
}

// NewSequentialIDs creates a generator whose first id ends in 1. prefix (at
// most 8 hex characters) occupies the front of every id so separate
// generators never collide.
func NewSequentialIDs(prefix string) *SequentialIDs {
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() ids.DocumentID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	width := ids.DocumentIDLen - len(g.prefix)
	return ids.DocumentID(fmt.Sprintf("%s%0*x", g.prefix, width, g.n))
}

// Issued returns how many ids have been generated.
func (g *SequentialIDs) Issued() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Reset restarts the sequence. The next Generate ends in 1 again.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
