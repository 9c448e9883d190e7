package syntax

import (
	"github.com/roach88/storyflow/internal/ir"
)

// Serialize flattens a tree back into a token stream. Operators and explicit
// merges use function form; a merge of two or more inline elements is
// written as plain adjacency when the enclosing frame merges adjacent
// elements again on parse. Siblings are separated by commas.
func Serialize(root *ir.Node) ir.Computation {
	out := ir.Computation{}
	if root == nil {
		return out
	}
	if root.Type == ir.KindRoot {
		return writeChildren(out, root.Children, true)
	}
	return writeElement(out, root, true)
}

// autoMerge reports whether the frame being written coalesces adjacent
// inline elements when parsed; only an explicit merge frame does not.
func writeChildren(out ir.Computation, children []ir.Element, autoMerge bool) ir.Computation {
	for i, child := range children {
		if i > 0 {
			out = append(out, ir.Comma())
		}
		out = writeElement(out, child, autoMerge)
	}
	return out
}

func writeElement(out ir.Computation, el ir.Element, autoMerge bool) ir.Computation {
	switch e := el.(type) {
	case ir.Literal:
		return append(out, e)
	case ir.Import:
		return append(out, e)
	case ir.Fetcher:
		return append(out, e)
	case ir.Parameter:
		return append(out, e)
	case *ir.Node:
		return writeNode(out, e, autoMerge)
	default:
		return out
	}
}

func writeNode(out ir.Computation, n *ir.Node, autoMerge bool) ir.Computation {
	switch {
	case n.Type == ir.KindArray:
		out = append(out, ir.ArrayOpen())
		out = writeChildren(out, n.Children, true)
		return append(out, ir.ArrayClose())

	case n.Type == ir.KindMerge && autoMerge && isAdjacentMerge(n):
		for _, child := range n.Children {
			out = append(out, child.(ir.Token))
		}
		return out

	case n.Type == ir.KindRoot:
		// a nested root is not produced by Parse; keep its children
		out = append(out, ir.Open())
		out = writeChildren(out, n.Children, true)
		return append(out, ir.Close())

	default:
		out = append(out, ir.Open())
		out = writeChildren(out, n.Children, n.Type != ir.KindMerge)
		return append(out, ir.CloseWithID(n.Type, n.ID))
	}
}

func isAdjacentMerge(n *ir.Node) bool {
	if len(n.Children) < 2 || n.ID != "" {
		return false
	}
	for _, child := range n.Children {
		if !IsInline(child) {
			return false
		}
	}
	return true
}
