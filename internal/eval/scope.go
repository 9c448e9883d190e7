package eval

import (
	"maps"

	"github.com/roach88/storyflow/internal/ir"
)

// Scope is the immutable evaluation context of one subtree: the import chain
// leading to it, the arguments bound by the nearest import, loop indices and
// the request's fetch cache. Derivation returns a new Scope; a nil *Scope
// behaves as an empty one.
type Scope struct {
	parent *Scope
	field  string
	depth  int
	params [][]ir.Value
	loops  map[string]int
	cache  *FetchCache
}

// NewScope returns an empty root scope.
func NewScope() *Scope {
	return &Scope{}
}

func (s *Scope) clone() *Scope {
	if s == nil {
		return &Scope{}
	}
	c := *s
	return &c
}

// WithFetchCache attaches the request's fetch memo.
func (s *Scope) WithFetchCache(cache *FetchCache) *Scope {
	c := s.clone()
	c.cache = cache
	return c
}

// FetchCache returns the attached memo, or nil.
func (s *Scope) FetchCache() *FetchCache {
	if s == nil {
		return nil
	}
	return s.cache
}

// WithLoopIndex sets the current iteration of the loop keyed by key.
func (s *Scope) WithLoopIndex(key string, index int) *Scope {
	c := s.clone()
	c.loops = maps.Clone(c.loops)
	if c.loops == nil {
		c.loops = make(map[string]int)
	}
	c.loops[key] = index
	return c
}

// LoopIndex returns the current iteration of the loop keyed by key
// (0 when unset).
func (s *Scope) LoopIndex(key string) int {
	if s == nil {
		return 0
	}
	return s.loops[key]
}

// Param returns the index-th argument bound by the importing field, or nil.
func (s *Scope) Param(index int) []ir.Value {
	if s == nil || index < 0 || index >= len(s.params) {
		return nil
	}
	return s.params[index]
}

// Depth is the number of imports entered to reach this scope.
func (s *Scope) Depth() int {
	if s == nil {
		return 0
	}
	return s.depth
}

// Chain lists the fields entered so far, outermost first.
func (s *Scope) Chain() []string {
	var chain []string
	for cur := s; cur != nil; cur = cur.parent {
		if cur.field != "" {
			chain = append(chain, cur.field)
		}
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Contains reports whether field is already on the import chain.
func (s *Scope) Contains(field string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.field == field {
			return true
		}
	}
	return false
}

// Enter derives the scope for evaluating field with args bound as its
// parameters. Entering a field already on the chain is a cycle.
func (s *Scope) Enter(field string, args [][]ir.Value) (*Scope, error) {
	if s.Contains(field) {
		return nil, &CyclicImportError{Path: append(s.Chain(), field)}
	}
	c := s.clone()
	c.parent = s
	c.field = field
	c.depth = s.Depth() + 1
	c.params = args
	return c, nil
}
