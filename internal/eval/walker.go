package eval

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/syntax"
)

// ImportRef is what an import resolver receives: the import token, its
// arguments already evaluated in the importing scope, and the scope the
// imported field must be evaluated in (chain extended, arguments bound).
type ImportRef struct {
	Import ir.Import
	Args   [][]ir.Value
	Scope  *Scope

	eval func(ctx context.Context, tree *ir.Node, scope *Scope) ([]ir.Value, error)
}

// Evaluate evaluates the imported field's tree with the evaluator that issued
// the import, in the import's scope.
func (r ImportRef) Evaluate(ctx context.Context, tree *ir.Node) ([]ir.Value, error) {
	if r.eval == nil {
		return nil, fmt.Errorf("import %s: no evaluator bound", r.Import.Field)
	}
	return r.eval(ctx, tree, r.Scope)
}

// ImportResolver resolves a field import on the server. It may block.
type ImportResolver func(ctx context.Context, ref ImportRef) ([]ir.Value, error)

// FetchResolver returns the documents matching a fully specified filter set.
type FetchResolver func(ctx context.Context, fs ir.FilterSet) ([]ir.Object, error)

const defaultMaxDepth = 64

// Option configures an evaluator.
type Option func(*walker)

// WithMaxDepth bounds the length of import chains.
func WithMaxDepth(n int) Option {
	return func(w *walker) {
		w.maxDepth = n
	}
}

// walker holds the per-kind traversal shared by Client and Server.
type walker struct {
	parallel bool
	imports  ImportResolver
	fetches  FetchResolver
	maxDepth int
}

func newWalker(parallel bool, imports ImportResolver, fetches FetchResolver, opts []Option) *walker {
	w := &walker{
		parallel: parallel,
		imports:  imports,
		fetches:  fetches,
		maxDepth: defaultMaxDepth,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *walker) eval(ctx context.Context, el ir.Element, scope *Scope) ([]ir.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch e := el.(type) {
	case ir.Literal:
		return []ir.Value{e.Value}, nil
	case ir.Parameter:
		return append([]ir.Value{}, scope.Param(e.Index)...), nil
	case ir.Import:
		return w.evalImport(ctx, e, scope)
	case ir.Fetcher:
		return w.fetch(ctx, e, 0, scope)
	case *ir.Node:
		return w.evalNode(ctx, e, scope)
	default:
		return nil, fmt.Errorf("unknown element type: %T", el)
	}
}

func (w *walker) evalNode(ctx context.Context, n *ir.Node, scope *Scope) ([]ir.Value, error) {
	switch n.Type {
	case ir.KindFetch:
		return w.evalFetch(ctx, n, scope)
	case ir.KindSelect:
		return w.evalSelect(ctx, n, scope)
	}

	groups, err := w.evalChildren(ctx, n.Children, scope)
	if err != nil {
		return nil, err
	}
	return combine(n, groups, scope)
}

// evalChildren evaluates siblings and returns their groups in order. The
// server variant fans out and joins before returning.
func (w *walker) evalChildren(ctx context.Context, children []ir.Element, scope *Scope) ([][]ir.Value, error) {
	groups := make([][]ir.Value, len(children))

	if !w.parallel || len(children) < 2 {
		for i, child := range children {
			vals, err := w.eval(ctx, child, scope)
			if err != nil {
				return nil, err
			}
			groups[i] = vals
		}
		return groups, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, child := range children {
		g.Go(func() error {
			vals, err := w.eval(gctx, child, scope)
			if err != nil {
				return err
			}
			groups[i] = vals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return groups, nil
}

// evalImport evaluates the argument streams in the importing scope, enters
// the imported field and hands over to the resolver.
func (w *walker) evalImport(ctx context.Context, imp ir.Import, scope *Scope) ([]ir.Value, error) {
	args := make([][]ir.Value, len(imp.Args))
	for i, arg := range imp.Args {
		tree, err := syntax.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("import %s arg %d: %w", imp.Field, i, err)
		}
		vals, err := w.eval(ctx, tree, scope)
		if err != nil {
			return nil, err
		}
		args[i] = vals
	}

	child, err := scope.Enter(imp.Field, args)
	if err != nil {
		return nil, err
	}
	if w.maxDepth > 0 && child.Depth() > w.maxDepth {
		return nil, &DepthExceededError{Field: imp.Field, Depth: child.Depth(), Limit: w.maxDepth}
	}
	if w.imports == nil {
		return []ir.Value{}, nil
	}

	vals, err := w.imports(ctx, ImportRef{Import: imp, Args: args, Scope: child, eval: w.evalTree})
	if err != nil {
		return nil, err
	}
	if vals == nil {
		vals = []ir.Value{}
	}
	return vals, nil
}

func (w *walker) evalTree(ctx context.Context, tree *ir.Node, scope *Scope) ([]ir.Value, error) {
	return w.eval(ctx, tree, scope)
}

func (w *walker) evalFetch(ctx context.Context, n *ir.Node, scope *Scope) ([]ir.Value, error) {
	if len(n.Children) == 0 {
		return nil, &ShapeError{Kind: string(ir.KindFetch), Msg: "missing fetcher"}
	}
	fetcher, ok := n.Children[0].(ir.Fetcher)
	if !ok {
		return nil, &ShapeError{Kind: string(ir.KindFetch), Msg: fmt.Sprintf("first child must be a fetcher, got %T", n.Children[0])}
	}

	page := 0
	if len(n.Children) > 1 {
		groups, err := w.evalChildren(ctx, n.Children[1:], scope)
		if err != nil {
			return nil, err
		}
		if vals := spread(concat(groups)); len(vals) > 0 {
			page = pageIndex(toNumber(vals[0]))
		}
	}
	return w.fetch(ctx, fetcher, page, scope)
}

// pageIndex truncates a page number. NaN and negative pages read as the
// first page; pages past MaxInt are clamped.
func pageIndex(f float64) int {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f >= math.MaxInt:
		return math.MaxInt
	}
	return int(f)
}

// pageOffset is page*limit, clamped so it cannot overflow.
func pageOffset(page, limit int) int {
	if page <= 0 || limit <= 0 {
		return 0
	}
	if page > math.MaxInt/limit {
		return math.MaxInt / limit * limit
	}
	return page * limit
}

// fetch resolves a fetcher at the given page. A filter whose value evaluates
// to nothing leaves the set incomplete and the result is empty; the resolver
// is not called.
func (w *walker) fetch(ctx context.Context, f ir.Fetcher, page int, scope *Scope) ([]ir.Value, error) {
	fs := ir.FilterSet{
		Filters: make([]ir.ResolvedFilter, 0, len(f.Filters)),
		Sort:    f.Sort,
		Limit:   f.Limit,
		Offset:  pageOffset(page, f.Limit),
	}
	for _, filter := range f.Filters {
		tree, err := syntax.Parse(filter.Value)
		if err != nil {
			return nil, fmt.Errorf("fetch %s filter %q: %w", f.ID, filter.Field, err)
		}
		vals, err := w.eval(ctx, tree, scope)
		if err != nil {
			return nil, err
		}
		vals = spread(vals)
		if len(vals) == 0 {
			slog.Debug("fetch has unset filter", "fetcher", f.ID, "field", filter.Field)
			return []ir.Value{}, nil
		}
		fs.Filters = append(fs.Filters, ir.ResolvedFilter{Field: filter.Field, Operation: filter.Operation, Values: vals})
	}
	if w.fetches == nil {
		return []ir.Value{}, nil
	}

	resolve := func(ctx context.Context) ([]ir.Object, error) {
		return w.fetches(ctx, fs)
	}

	var docs []ir.Object
	if cache := scope.FetchCache(); cache != nil {
		key, err := ir.FetchKey(fs)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", f.ID, err)
		}
		docs, err = cache.Do(ctx, key, resolve)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		docs, err = resolve(ctx)
		if err != nil {
			return nil, err
		}
	}

	out := make([]ir.Value, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out, nil
}

// evalSelect imports the field addressed by n.ID (a template field id) from
// every document its children produce.
func (w *walker) evalSelect(ctx context.Context, n *ir.Node, scope *Scope) ([]ir.Value, error) {
	groups, err := w.evalChildren(ctx, n.Children, scope)
	if err != nil {
		return nil, err
	}

	out := []ir.Value{}
	for _, v := range spread(concat(groups)) {
		doc, ok := v.(ir.Object)
		if !ok {
			continue
		}
		docID, ok := doc.ID()
		if !ok {
			continue
		}
		field := ids.FieldInDocument(ids.DocumentID(docID), ids.TemplateFieldID(n.ID))
		vals, err := w.evalImport(ctx, ir.Import{ID: n.ID, Field: string(field), Inline: true}, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}
