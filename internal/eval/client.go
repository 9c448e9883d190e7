package eval

import (
	"context"

	"github.com/roach88/storyflow/internal/ir"
)

// LookupFunc resolves an import from materialized state. It must not block.
type LookupFunc func(ref ImportRef) ([]ir.Value, error)

// Values is materialized state: computed values per field id.
type Values map[string][]ir.Value

// Lookup returns the stored values of the imported field (empty if absent).
func (v Values) Lookup(ref ImportRef) ([]ir.Value, error) {
	return v[ref.Import.Field], nil
}

// Trees is materialized state in tree form: each import evaluates the
// imported field's tree in the import's scope, so parameters and cycle
// detection apply.
type Trees map[string]*ir.Node

// Lookup evaluates the imported field's tree (empty if absent).
func (t Trees) Lookup(ref ImportRef) ([]ir.Value, error) {
	tree, ok := t[ref.Import.Field]
	if !ok {
		return []ir.Value{}, nil
	}
	return ref.Evaluate(context.Background(), tree)
}

// Prefetched holds fetch results keyed by ir.FetchKey.
type Prefetched map[string][]ir.Object

// Lookup returns the prefetched documents for fs.
func (p Prefetched) Lookup(fs ir.FilterSet) []ir.Object {
	key, err := ir.FetchKey(fs)
	if err != nil {
		return nil
	}
	return p[key]
}

// Client is the synchronous evaluator.
type Client struct {
	w *walker
}

// NewClient creates a client evaluator. Either argument may be nil.
func NewClient(imports LookupFunc, fetched Prefetched, opts ...Option) *Client {
	var imp ImportResolver
	if imports != nil {
		imp = func(_ context.Context, ref ImportRef) ([]ir.Value, error) {
			return imports(ref)
		}
	}
	var fr FetchResolver
	if fetched != nil {
		fr = func(_ context.Context, fs ir.FilterSet) ([]ir.Object, error) {
			return fetched.Lookup(fs), nil
		}
	}
	return &Client{w: newWalker(false, imp, fr, opts)}
}

// Evaluate computes the value array of a tree in an empty scope.
func (c *Client) Evaluate(root *ir.Node) ([]ir.Value, error) {
	return c.EvaluateIn(root, NewScope())
}

// EvaluateIn computes the value array of an element in scope.
func (c *Client) EvaluateIn(el ir.Element, scope *Scope) ([]ir.Value, error) {
	return c.w.eval(context.Background(), el, scope)
}
