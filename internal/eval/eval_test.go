package eval

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/syntax"
)

func mustParse(t *testing.T, tokens ...ir.Token) *ir.Node {
	t.Helper()
	tree, err := syntax.Parse(ir.Computation(tokens))
	require.NoError(t, err)
	return tree
}

func valuesJSON(t *testing.T, vals []ir.Value) string {
	t.Helper()
	data, err := ir.MarshalValue(ir.Array(vals))
	require.NoError(t, err)
	return string(data)
}

func evalClient(t *testing.T, tree *ir.Node) []ir.Value {
	t.Helper()
	vals, err := NewClient(nil, nil).Evaluate(tree)
	require.NoError(t, err)
	return vals
}

// =============================================================================
// Per-kind rules
// =============================================================================

func TestEvaluateLiterals(t *testing.T) {
	tree := mustParse(t, ir.Str("a"), ir.Comma(), ir.Num(1), ir.Comma(), ir.Boolean(true))
	assert.JSONEq(t, `["a",1,true]`, valuesJSON(t, evalClient(t, tree)))
}

func TestEvaluateEmptyRoot(t *testing.T) {
	assert.Empty(t, evalClient(t, mustParse(t)))
}

func TestEvaluateOperatorGrouping(t *testing.T) {
	tree := mustParse(t, ir.Num(5), ir.Op(ir.KindMul), ir.Num(2))
	assert.JSONEq(t, `[10]`, valuesJSON(t, evalClient(t, tree)))
}

func TestEvaluateArithmetic(t *testing.T) {
	tests := []struct {
		name   string
		tokens []ir.Token
		want   string
	}{
		{"precedence", []ir.Token{ir.Num(1), ir.Op(ir.KindAdd), ir.Num(2), ir.Op(ir.KindMul), ir.Num(3)}, `[7]`},
		{"left assoc", []ir.Token{ir.Num(8), ir.Op(ir.KindSub), ir.Num(2), ir.Op(ir.KindSub), ir.Num(1)}, `[5]`},
		{"division", []ir.Token{ir.Num(7), ir.Op(ir.KindDiv), ir.Num(2)}, `[3.5]`},
		{"numeric string", []ir.Token{ir.Str("4"), ir.Op(ir.KindMul), ir.Num(2)}, `[8]`},
		{"function form folds", []ir.Token{ir.Open(), ir.Num(2), ir.Comma(), ir.Num(3), ir.Comma(), ir.Num(4), ir.CloseAs(ir.KindMul)}, `[24]`},
		{"broadcast", []ir.Token{ir.ArrayOpen(), ir.Num(1), ir.Comma(), ir.Num(2), ir.ArrayClose(), ir.Op(ir.KindMul), ir.Num(10)}, `[10,20]`},
		{"empty operand", []ir.Token{ir.ArrayOpen(), ir.ArrayClose(), ir.Op(ir.KindAdd), ir.Num(1)}, `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, valuesJSON(t, evalClient(t, mustParse(t, tt.tokens...))))
		})
	}
}

func TestEvaluateDivisionByZero(t *testing.T) {
	vals := evalClient(t, mustParse(t, ir.Num(1), ir.Op(ir.KindDiv), ir.Num(0)))
	require.Len(t, vals, 1)
	n, ok := vals[0].(ir.Number)
	require.True(t, ok)
	assert.True(t, float64(n) > 1e308)
}

func TestEvaluateLogic(t *testing.T) {
	tests := []struct {
		name string
		node *ir.Node
		want string
	}{
		{"and", ir.NewNode(ir.KindAnd, ir.Boolean(true), ir.Boolean(false)), `[false]`},
		{"or", ir.NewNode(ir.KindOr, ir.Boolean(false), ir.Boolean(false)), `[false]`},
		{"or true", ir.NewNode(ir.KindOr, ir.Boolean(false), ir.Boolean(true)), `[true]`},
		{"equal", ir.NewNode(ir.KindEq, ir.Num(1), ir.Num(1)), `[true]`},
		{"not equal", ir.NewNode(ir.KindNe, ir.Num(1), ir.Str("1")), `[true]`},
		{"less", ir.NewNode(ir.KindLt, ir.Num(1), ir.Num(2)), `[true]`},
		{"string order", ir.NewNode(ir.KindGe, ir.Str("b"), ir.Str("a")), `[true]`},
		{"nan compares false", ir.NewNode(ir.KindLe, ir.Str("x"), ir.Num(2)), `[false]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := ir.NewNode(ir.KindRoot, tt.node)
			assert.JSONEq(t, tt.want, valuesJSON(t, evalClient(t, tree)))
		})
	}
}

func TestEvaluateArrayFlattening(t *testing.T) {
	tree := mustParse(t,
		ir.Num(3), ir.Comma(), ir.ArrayOpen(), ir.Num(4), ir.Comma(), ir.Num(5), ir.ArrayClose(),
	)
	assert.JSONEq(t, `[3,[4,5]]`, valuesJSON(t, evalClient(t, tree)))
}

func TestEvaluateGroupSpreadsArrays(t *testing.T) {
	tree := mustParse(t,
		ir.Open(),
		ir.Num(1), ir.Comma(),
		ir.ArrayOpen(), ir.Num(2), ir.Comma(), ir.ArrayOpen(), ir.Num(3), ir.ArrayClose(), ir.ArrayClose(),
		ir.Close(),
	)
	assert.JSONEq(t, `[1,2,3]`, valuesJSON(t, evalClient(t, tree)))
}

func TestEvaluateMergeKeepsAdjacency(t *testing.T) {
	tree := mustParse(t, ir.Str("Hej "), ir.Num(5))
	assert.JSONEq(t, `["Hej ",5]`, valuesJSON(t, evalClient(t, tree)))
}

func TestEvaluateSlug(t *testing.T) {
	tree := mustParse(t,
		ir.Open(), ir.Str("Hello Wörld"), ir.Comma(), ir.Str("Ça va?"), ir.Comma(), ir.Num(2), ir.CloseAs(ir.KindSlug),
	)
	assert.JSONEq(t, `["hello-world-ca-va-2"]`, valuesJSON(t, evalClient(t, tree)))
}

func TestEvaluateLoop(t *testing.T) {
	tree := mustParse(t,
		ir.Open(), ir.Str("a"), ir.Comma(), ir.Str("b"), ir.Comma(), ir.Str("c"), ir.CloseWithID(ir.KindLoop, "i"),
	)
	c := NewClient(nil, nil)

	vals, err := c.Evaluate(tree)
	require.NoError(t, err)
	assert.JSONEq(t, `["a"]`, valuesJSON(t, vals))

	vals, err = c.EvaluateIn(tree, NewScope().WithLoopIndex("i", 2))
	require.NoError(t, err)
	assert.JSONEq(t, `["c"]`, valuesJSON(t, vals))

	vals, err = c.EvaluateIn(tree, NewScope().WithLoopIndex("i", 9))
	require.NoError(t, err)
	assert.Empty(t, vals)
}

func TestEvaluateUnknownKind(t *testing.T) {
	tree := ir.NewNode(ir.KindRoot, ir.NewNode(ir.Kind("explode")))
	_, err := NewClient(nil, nil).Evaluate(tree)
	var se *ShapeError
	assert.ErrorAs(t, err, &se)
}

// =============================================================================
// Imports
// =============================================================================

func nestedTrees(t *testing.T) Trees {
	return Trees{
		"nested1": mustParse(t, ir.Num(5)),
		"nested2": mustParse(t, ir.Num(2), ir.Op(ir.KindMul), ir.Import{ID: "i1", Field: "nested1"}),
		"nested3": mustParse(t, ir.Num(2), ir.Op(ir.KindMul), ir.Import{ID: "i2", Field: "nested2"}),
	}
}

func TestClientNestedImportArithmetic(t *testing.T) {
	c := NewClient(nestedTrees(t).Lookup, nil)

	vals, err := c.Evaluate(mustParse(t, ir.Import{ID: "x", Field: "nested2"}))
	require.NoError(t, err)
	assert.JSONEq(t, `[10]`, valuesJSON(t, vals))

	vals, err = c.Evaluate(mustParse(t, ir.Import{ID: "x", Field: "nested3"}))
	require.NoError(t, err)
	assert.JSONEq(t, `[20]`, valuesJSON(t, vals))
}

func TestClientValuesLookup(t *testing.T) {
	c := NewClient(Values{"nested1": {ir.Number(5)}}.Lookup, nil)
	vals, err := c.Evaluate(mustParse(t, ir.Num(2), ir.Op(ir.KindMul), ir.Import{ID: "x", Field: "nested1"}))
	require.NoError(t, err)
	assert.JSONEq(t, `[10]`, valuesJSON(t, vals))

	vals, err = c.Evaluate(mustParse(t, ir.Import{ID: "x", Field: "missing"}))
	require.NoError(t, err)
	assert.Empty(t, vals)
}

func TestImportArgumentsBindParameters(t *testing.T) {
	trees := Trees{
		"double": mustParse(t, ir.Parameter{Index: 0}, ir.Op(ir.KindMul), ir.Num(2)),
	}
	c := NewClient(trees.Lookup, nil)

	imp := ir.Import{ID: "x", Field: "double", Args: []ir.Computation{{ir.Num(3), ir.Op(ir.KindAdd), ir.Num(4)}}}
	vals, err := c.Evaluate(mustParse(t, imp))
	require.NoError(t, err)
	assert.JSONEq(t, `[14]`, valuesJSON(t, vals))
}

func TestImportArgumentsUseImportingScope(t *testing.T) {
	trees := Trees{
		"echo":  mustParse(t, ir.Parameter{Index: 0}),
		"outer": mustParse(t, ir.Import{ID: "e", Field: "echo", Args: []ir.Computation{{ir.Parameter{Index: 0}}}}),
	}
	c := NewClient(trees.Lookup, nil)

	imp := ir.Import{ID: "x", Field: "outer", Args: []ir.Computation{{ir.Str("hi")}}}
	vals, err := c.Evaluate(mustParse(t, imp))
	require.NoError(t, err)
	assert.JSONEq(t, `["hi"]`, valuesJSON(t, vals))
}

func TestCyclicImportDirect(t *testing.T) {
	trees := Trees{}
	trees["self"] = mustParse(t, ir.Num(1), ir.Op(ir.KindAdd), ir.Import{ID: "s", Field: "self"})
	c := NewClient(trees.Lookup, nil)

	_, err := c.Evaluate(mustParse(t, ir.Import{ID: "x", Field: "self"}))
	require.Error(t, err)
	assert.True(t, IsCyclicImport(err))

	var ce *CyclicImportError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"self", "self"}, ce.Path)
}

func TestCyclicImportThroughChain(t *testing.T) {
	trees := Trees{
		"a": mustParse(t, ir.Import{ID: "1", Field: "b"}),
		"b": mustParse(t, ir.Import{ID: "2", Field: "c"}),
		"c": mustParse(t, ir.Import{ID: "3", Field: "a"}),
	}
	c := NewClient(trees.Lookup, nil)

	_, err := c.Evaluate(mustParse(t, ir.Import{ID: "x", Field: "a"}))
	var ce *CyclicImportError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"a", "b", "c", "a"}, ce.Path)
	assert.Contains(t, err.Error(), "a -> b -> c -> a")
}

func TestRepeatedImportIsNotACycle(t *testing.T) {
	c := NewClient(nestedTrees(t).Lookup, nil)
	vals, err := c.Evaluate(mustParse(t,
		ir.Import{ID: "1", Field: "nested1"}, ir.Op(ir.KindAdd), ir.Import{ID: "2", Field: "nested1"},
	))
	require.NoError(t, err)
	assert.JSONEq(t, `[10]`, valuesJSON(t, vals))
}

func TestDepthExceeded(t *testing.T) {
	trees := Trees{
		"a": mustParse(t, ir.Import{ID: "1", Field: "b"}),
		"b": mustParse(t, ir.Import{ID: "2", Field: "c"}),
		"c": mustParse(t, ir.Import{ID: "3", Field: "d"}),
		"d": mustParse(t, ir.Num(1)),
	}

	_, err := NewClient(trees.Lookup, nil, WithMaxDepth(3)).Evaluate(mustParse(t, ir.Import{ID: "x", Field: "a"}))
	require.Error(t, err)
	assert.True(t, IsDepthExceeded(err))

	vals, err := NewClient(trees.Lookup, nil, WithMaxDepth(4)).Evaluate(mustParse(t, ir.Import{ID: "x", Field: "a"}))
	require.NoError(t, err)
	assert.JSONEq(t, `[1]`, valuesJSON(t, vals))
}

// =============================================================================
// Fetch and select
// =============================================================================

func titleFetcher(value ir.Computation) ir.Fetcher {
	return ir.Fetcher{
		ID:      "f1",
		Filters: []ir.Filter{{Field: "label", Operation: "=", Value: value}},
		Sort:    []string{"-label"},
		Limit:   2,
	}
}

func TestClientFetchPrefetched(t *testing.T) {
	f := titleFetcher(ir.Computation{ir.Str("News")})
	fs := ir.FilterSet{
		Filters: []ir.ResolvedFilter{{Field: "label", Operation: "=", Values: []ir.Value{ir.String("News")}}},
		Sort:    []string{"-label"},
		Limit:   2,
		Offset:  2,
	}
	fetched := Prefetched{ir.MustFetchKey(fs): {ir.Object{"id": ir.String("d1")}}}

	tree := mustParse(t, ir.Open(), f, ir.Comma(), ir.Num(1), ir.CloseAs(ir.KindFetch))
	vals, err := NewClient(nil, fetched).Evaluate(tree)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"d1"}]`, valuesJSON(t, vals))
}

func TestFetchPageIsClamped(t *testing.T) {
	var offsets []int
	fetches := func(ctx context.Context, fs ir.FilterSet) ([]ir.Object, error) {
		offsets = append(offsets, fs.Offset)
		return nil, nil
	}
	f := titleFetcher(ir.Computation{ir.Str("News")})
	pages := []ir.Token{ir.Str("abc"), ir.Num(-3), ir.Num(1e300), ir.Num(2.7)}
	for _, page := range pages {
		tree := mustParse(t, ir.Open(), f, ir.Comma(), page, ir.CloseAs(ir.KindFetch))
		_, err := NewClient(nil, nil).Evaluate(tree)
		require.NoError(t, err)
		_, err = NewServer(nil, fetches).Evaluate(context.Background(), tree)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 0, math.MaxInt / 2 * 2, 4}, offsets)
}

func TestPageOffset(t *testing.T) {
	tests := []struct {
		page, limit, want int
	}{
		{0, 10, 0},
		{3, 10, 30},
		{-1, 10, 0},
		{5, 0, 0},
		{math.MaxInt, 3, math.MaxInt / 3 * 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pageOffset(tt.page, tt.limit), "page=%d limit=%d", tt.page, tt.limit)
	}
	assert.Equal(t, 0, pageIndex(math.NaN()))
	assert.Equal(t, 0, pageIndex(math.Inf(-1)))
	assert.Equal(t, math.MaxInt, pageIndex(math.Inf(1)))
	assert.Equal(t, 7, pageIndex(7.9))
}

func TestFetchUnsetFilterIsEmpty(t *testing.T) {
	calls := 0
	fetches := func(ctx context.Context, fs ir.FilterSet) ([]ir.Object, error) {
		calls++
		return []ir.Object{{"id": ir.String("d1")}}, nil
	}
	s := NewServer(nil, fetches)

	tree := mustParse(t, titleFetcher(ir.Computation{ir.Parameter{Index: 0}}))
	vals, err := s.Evaluate(context.Background(), tree)
	require.NoError(t, err)
	assert.Empty(t, vals)
	assert.Equal(t, 0, calls)

	tree = mustParse(t, titleFetcher(ir.Computation{ir.Str("News")}))
	vals, err = s.Evaluate(context.Background(), tree)
	require.NoError(t, err)
	assert.Len(t, vals, 1)
	assert.Equal(t, 1, calls)
}

func TestFetchShapeError(t *testing.T) {
	tree := mustParse(t, ir.Open(), ir.Num(1), ir.CloseAs(ir.KindFetch))
	_, err := NewClient(nil, nil).Evaluate(tree)
	var se *ShapeError
	assert.ErrorAs(t, err, &se)
}

func TestSelectImportsFieldOfEachDocument(t *testing.T) {
	tmplField := "0000000011112222" + "00000001"
	docA := "aaaaaaaaaaaaaaaaaaaaaaaa"
	docB := "bbbbbbbbbbbbbbbbbbbbbbbb"

	fetched := func(ctx context.Context, fs ir.FilterSet) ([]ir.Object, error) {
		return []ir.Object{{"id": ir.String(docA)}, {"id": ir.String(docB)}, {"label": ir.String("no id")}}, nil
	}
	values := Values{
		docA + tmplField: {ir.String("Title A")},
		docB + tmplField: {ir.String("Title B")},
	}
	s := NewServer(func(ctx context.Context, ref ImportRef) ([]ir.Value, error) {
		return values.Lookup(ref)
	}, fetched)

	tree := mustParse(t,
		ir.Open(),
		ir.Open(), titleFetcher(ir.Computation{ir.Str("News")}), ir.CloseAs(ir.KindFetch),
		ir.CloseWithID(ir.KindSelect, tmplField),
	)
	vals, err := s.Evaluate(context.Background(), tree)
	require.NoError(t, err)
	assert.JSONEq(t, `["Title A","Title B"]`, valuesJSON(t, vals))
}
