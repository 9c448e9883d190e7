package syntax

import (
	"fmt"

	"github.com/roach88/storyflow/internal/ir"
)

// item is a buffered frame entry: an element, an infix operator or a comma.
type item struct {
	el    ir.Element
	op    ir.Kind
	comma bool
	index int
}

type frame struct {
	open  ir.Mark // "" for the root frame
	index int
	items []item
}

// Parse builds the syntax tree of a flat computation. An empty stream yields
// a root with no children.
func Parse(c ir.Computation) (*ir.Node, error) {
	stack := []*frame{{index: -1}}

	for i, tok := range c {
		top := stack[len(stack)-1]

		switch t := tok.(type) {
		case ir.Literal:
			top.items = append(top.items, item{el: t, index: i})
		case ir.Import:
			top.items = append(top.items, item{el: t, index: i})
		case ir.Fetcher:
			top.items = append(top.items, item{el: t, index: i})
		case ir.Parameter:
			top.items = append(top.items, item{el: t, index: i})

		case ir.Operator:
			if !t.Op.IsOperator() {
				return nil, malformed(i, "unknown operator %q", t.Op)
			}
			top.items = append(top.items, item{op: t.Op, index: i})

		case ir.Bracket:
			switch t.Mark {
			case ir.MarkOpen, ir.MarkArrayOpen:
				stack = append(stack, &frame{open: t.Mark, index: i})

			case ir.MarkComma:
				top.items = append(top.items, item{comma: true, index: i})

			case ir.MarkClose:
				if top.open != ir.MarkOpen {
					return nil, malformed(i, "unexpected %q", t.Mark)
				}
				kind := ir.Kind(t.Func)
				if kind != ir.KindGroup && !kind.IsFunction() {
					return nil, malformed(i, "unknown function %q", t.Func)
				}
				children, err := reduce(top.items, kind != ir.KindMerge)
				if err != nil {
					return nil, err
				}
				stack = stack[:len(stack)-1]
				node := &ir.Node{Type: kind, ID: t.ID, Children: children}
				parent := stack[len(stack)-1]
				parent.items = append(parent.items, item{el: node, index: top.index})

			case ir.MarkArrayClose:
				if top.open != ir.MarkArrayOpen {
					return nil, malformed(i, "unexpected %q", t.Mark)
				}
				children, err := reduce(top.items, true)
				if err != nil {
					return nil, err
				}
				stack = stack[:len(stack)-1]
				node := ir.NewNode(ir.KindArray, children...)
				parent := stack[len(stack)-1]
				parent.items = append(parent.items, item{el: node, index: top.index})

			default:
				return nil, malformed(i, "unknown bracket %q", t.Mark)
			}

		default:
			return nil, malformed(i, "unknown token type %T", tok)
		}
	}

	if len(stack) > 1 {
		open := stack[len(stack)-1]
		return nil, malformed(-1, "unclosed %q opened at token %d", open.open, open.index)
	}

	children, err := reduce(stack[0].items, true)
	if err != nil {
		return nil, err
	}
	return ir.NewNode(ir.KindRoot, children...), nil
}

// Check reports whether c parses.
func Check(c ir.Computation) error {
	_, err := Parse(c)
	return err
}

// ParseJSON decodes a stream from its wire form and parses it.
func ParseJSON(data []byte) (*ir.Node, error) {
	c, err := ir.UnmarshalComputation(data)
	if err != nil {
		return nil, fmt.Errorf("decode stream: %w", err)
	}
	return Parse(c)
}

// reduce turns a frame's buffered items into the frame node's children.
func reduce(items []item, autoMerge bool) ([]ir.Element, error) {
	children := []ir.Element{}
	start := 0
	for i := 0; i <= len(items); i++ {
		if i < len(items) && !items[i].comma {
			continue
		}
		segment, err := reduceSegment(items[start:i])
		if err != nil {
			return nil, err
		}
		if autoMerge {
			segment = mergeInline(segment)
		}
		children = append(children, segment...)
		start = i + 1
	}
	return children, nil
}

// reduceSegment groups operator chains. An element that follows a pending
// operator is its right operand; any other element starts a new chain.
func reduceSegment(items []item) ([]ir.Element, error) {
	var out []ir.Element
	var operands []ir.Element
	var ops []ir.Kind

	flush := func() {
		if len(operands) > 0 {
			out = append(out, buildChain(operands, ops))
		}
		operands, ops = nil, nil
	}

	for _, it := range items {
		pending := len(ops) > 0 && len(ops) == len(operands)
		if it.el == nil {
			if len(operands) == 0 || pending {
				return nil, malformed(it.index, "operator %q has no left operand", it.op)
			}
			ops = append(ops, it.op)
			continue
		}
		if pending {
			operands = append(operands, it.el)
			continue
		}
		flush()
		operands = []ir.Element{it.el}
	}

	if len(ops) > 0 && len(ops) == len(operands) {
		return nil, malformed(items[len(items)-1].index, "operator %q has no right operand", ops[len(ops)-1])
	}
	flush()
	return out, nil
}

// buildChain splits at the loosest-binding operator, taking the rightmost
// among equals so that chains associate to the left.
func buildChain(operands []ir.Element, ops []ir.Kind) ir.Element {
	if len(ops) == 0 {
		return operands[0]
	}
	split := 0
	for i, op := range ops {
		if op.Precedence() <= ops[split].Precedence() {
			split = i
		}
	}
	left := buildChain(operands[:split+1], ops[:split])
	right := buildChain(operands[split+1:], ops[split+1:])
	return ir.NewNode(ops[split], left, right)
}

// mergeInline coalesces runs of two or more adjacent inline elements.
func mergeInline(els []ir.Element) []ir.Element {
	out := make([]ir.Element, 0, len(els))
	var run []ir.Element

	flush := func() {
		switch len(run) {
		case 0:
		case 1:
			out = append(out, run[0])
		default:
			out = append(out, ir.NewNode(ir.KindMerge, run...))
		}
		run = nil
	}

	for _, el := range els {
		if IsInline(el) {
			run = append(run, el)
			continue
		}
		flush()
		out = append(out, el)
	}
	flush()
	return out
}

// IsInline classifies elements that take part in auto-merge: string and
// number literals, inline imports and parameters.
func IsInline(el ir.Element) bool {
	switch e := el.(type) {
	case ir.Literal:
		switch e.Value.(type) {
		case ir.String, ir.Number:
			return true
		}
		return false
	case ir.Import:
		return e.Inline
	case ir.Parameter:
		return true
	case ir.Fetcher, *ir.Node:
		return false
	default:
		return false
	}
}
