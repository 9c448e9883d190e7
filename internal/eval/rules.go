package eval

import (
	"math"
	"strconv"
	"strings"

	"github.com/roach88/storyflow/internal/ir"
)

// concat joins child value groups in order.
func concat(groups [][]ir.Value) []ir.Value {
	out := []ir.Value{}
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// spread flattens nested arrays one level.
func spread(values []ir.Value) []ir.Value {
	out := make([]ir.Value, 0, len(values))
	for _, v := range values {
		if arr, ok := v.(ir.Array); ok {
			out = append(out, arr...)
			continue
		}
		out = append(out, v)
	}
	return out
}

// combine applies the rule of a node kind to its evaluated children. Fetch
// and select nodes need the resolvers and are handled by the walker.
func combine(n *ir.Node, groups [][]ir.Value, scope *Scope) ([]ir.Value, error) {
	switch {
	case n.Type == ir.KindRoot, n.Type == ir.KindMerge:
		return concat(groups), nil

	case n.Type == ir.KindGroup:
		return spread(concat(groups)), nil

	case n.Type == ir.KindArray:
		return []ir.Value{ir.Array(spread(concat(groups)))}, nil

	case n.Type == ir.KindSlug:
		parts := spread(concat(groups))
		strs := make([]string, len(parts))
		for i, p := range parts {
			strs[i] = ir.Stringify(p)
		}
		return []ir.Value{ir.String(Slugify(strings.Join(strs, SlugSeparator)))}, nil

	case n.Type == ir.KindLoop:
		items := spread(concat(groups))
		idx := scope.LoopIndex(n.ID)
		if idx < 0 || idx >= len(items) {
			return []ir.Value{}, nil
		}
		return []ir.Value{items[idx]}, nil

	case n.Type.IsOperator():
		return applyOperator(n.Type, groups), nil

	default:
		return nil, &ShapeError{Kind: string(n.Type), Msg: "no evaluation rule for this kind"}
	}
}

// applyOperator folds the operand groups left to right. A group of length 1
// broadcasts; longer groups combine element-wise up to the longest length
// (missing elements read as null). Any empty operand group yields an empty
// result.
func applyOperator(op ir.Kind, groups [][]ir.Value) []ir.Value {
	if len(groups) == 0 {
		return []ir.Value{}
	}
	width := 0
	operands := make([][]ir.Value, len(groups))
	for i, g := range groups {
		operands[i] = spread(g)
		if len(operands[i]) == 0 {
			return []ir.Value{}
		}
		width = max(width, len(operands[i]))
	}

	at := func(g []ir.Value, i int) ir.Value {
		switch {
		case len(g) == 1:
			return g[0]
		case i < len(g):
			return g[i]
		default:
			return ir.Null{}
		}
	}

	out := make([]ir.Value, width)
	for i := 0; i < width; i++ {
		acc := at(operands[0], i)
		for _, g := range operands[1:] {
			acc = binary(op, acc, at(g, i))
		}
		out[i] = acc
	}
	return out
}

func binary(op ir.Kind, a, b ir.Value) ir.Value {
	switch op {
	case ir.KindAdd:
		return ir.Number(toNumber(a) + toNumber(b))
	case ir.KindSub:
		return ir.Number(toNumber(a) - toNumber(b))
	case ir.KindMul:
		return ir.Number(toNumber(a) * toNumber(b))
	case ir.KindDiv:
		return ir.Number(toNumber(a) / toNumber(b))
	case ir.KindAnd:
		return ir.Bool(ir.Truthy(a) && ir.Truthy(b))
	case ir.KindOr:
		return ir.Bool(ir.Truthy(a) || ir.Truthy(b))
	case ir.KindEq:
		return ir.Bool(ir.Equal(a, b))
	case ir.KindNe:
		return ir.Bool(!ir.Equal(a, b))
	case ir.KindLt, ir.KindGt, ir.KindLe, ir.KindGe:
		return ir.Bool(compare(op, a, b))
	default:
		return ir.Null{}
	}
}

// compare orders two strings lexically and anything else numerically.
// NaN compares false.
func compare(op ir.Kind, a, b ir.Value) bool {
	as, aStr := a.(ir.String)
	bs, bStr := b.(ir.String)
	if aStr && bStr {
		c := strings.Compare(string(as), string(bs))
		switch op {
		case ir.KindLt:
			return c < 0
		case ir.KindGt:
			return c > 0
		case ir.KindLe:
			return c <= 0
		default:
			return c >= 0
		}
	}

	x, y := toNumber(a), toNumber(b)
	switch op {
	case ir.KindLt:
		return x < y
	case ir.KindGt:
		return x > y
	case ir.KindLe:
		return x <= y
	default:
		return x >= y
	}
}

// toNumber reads a value as a float. Strings are parsed; anything that is
// not numeric becomes NaN, except null (0) and booleans (0/1).
func toNumber(v ir.Value) float64 {
	switch val := v.(type) {
	case ir.Number:
		return float64(val)
	case ir.Bool:
		if val {
			return 1
		}
		return 0
	case ir.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	case nil, ir.Null:
		return 0
	default:
		return math.NaN()
	}
}
