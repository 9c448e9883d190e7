package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is the type of a syntax tree node. KindGroup (the empty string) is a
// plain bracket group and serializes as JSON null.
type Kind string

// Node kinds.
const (
	KindRoot   Kind = "root"
	KindGroup  Kind = ""
	KindArray  Kind = "array"
	KindMerge  Kind = "merge"
	KindSlug   Kind = "slug"
	KindFetch  Kind = "fetch"
	KindLoop   Kind = "loop"
	KindSelect Kind = "select"

	KindAdd Kind = "+"
	KindSub Kind = "-"
	KindMul Kind = "*"
	KindDiv Kind = "/"
	KindAnd Kind = "&"
	KindOr  Kind = "|"
	KindEq  Kind = "="
	KindNe  Kind = "!="
	KindLt  Kind = "<"
	KindGt  Kind = ">"
	KindLe  Kind = "<="
	KindGe  Kind = ">="
)

// operatorPrecedence ranks infix operators; higher binds tighter.
var operatorPrecedence = map[Kind]int{
	KindMul: 5, KindDiv: 5,
	KindAdd: 4, KindSub: 4,
	KindEq: 3, KindNe: 3, KindLt: 3, KindGt: 3, KindLe: 3, KindGe: 3,
	KindAnd: 2,
	KindOr:  1,
}

// IsOperator reports whether k is an arithmetic or logic operator.
func (k Kind) IsOperator() bool {
	_, ok := operatorPrecedence[k]
	return ok
}

// Precedence returns the binding strength of an operator kind (0 if k is not
// an operator).
func (k Kind) Precedence() int {
	return operatorPrecedence[k]
}

// IsFunction reports whether k may name a closing paren.
func (k Kind) IsFunction() bool {
	switch k {
	case KindMerge, KindSlug, KindFetch, KindLoop, KindSelect:
		return true
	}
	return k.IsOperator()
}

// MarshalJSON encodes KindGroup as null.
func (k Kind) MarshalJSON() ([]byte, error) {
	if k == KindGroup {
		return []byte("null"), nil
	}
	return json.Marshal(string(k))
}

// Element is a child of a syntax tree node: either a nested *Node or a leaf
// (Literal, Import, Fetcher, Parameter).
type Element interface {
	irElement() // Sealed
}

// Node is an interior syntax tree node.
type Node struct {
	Type     Kind
	ID       string
	Children []Element
}

func (*Node) irElement() {}

// NewNode builds a node; a nil children slice becomes empty.
func NewNode(kind Kind, children ...Element) *Node {
	if children == nil {
		children = []Element{}
	}
	return &Node{Type: kind, Children: children}
}

// MarshalJSON encodes {"type": ..., "children": [...]} (plus "id" if set).
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	typ, err := n.Type.MarshalJSON()
	if err != nil {
		return nil, err
	}
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if n.ID != "" {
		id, _ := json.Marshal(n.ID)
		buf.WriteString(`,"id":`)
		buf.Write(id)
	}
	buf.WriteString(`,"children":[`)
	for i, child := range n.Children {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := MarshalElement(child)
		if err != nil {
			return nil, fmt.Errorf("children[%d]: %w", i, err)
		}
		buf.Write(data)
	}
	buf.WriteString(`]}`)
	return buf.Bytes(), nil
}

// MarshalElement encodes a tree element; leaves use their token shape.
func MarshalElement(el Element) ([]byte, error) {
	switch e := el.(type) {
	case *Node:
		return e.MarshalJSON()
	case Literal:
		return MarshalToken(e)
	case Import:
		return MarshalToken(e)
	case Fetcher:
		return MarshalToken(e)
	case Parameter:
		return MarshalToken(e)
	default:
		return nil, fmt.Errorf("unknown element type: %T", el)
	}
}

// EqualElement reports structural equality on type and children.
// Leaves compare by their wire encoding.
func EqualElement(a, b Element) bool {
	an, aNode := a.(*Node)
	bn, bNode := b.(*Node)
	if aNode != bNode {
		return false
	}
	if aNode {
		if an.Type != bn.Type || an.ID != bn.ID || len(an.Children) != len(bn.Children) {
			return false
		}
		for i := range an.Children {
			if !EqualElement(an.Children[i], bn.Children[i]) {
				return false
			}
		}
		return true
	}
	ad, errA := MarshalElement(a)
	bd, errB := MarshalElement(b)
	return errA == nil && errB == nil && bytes.Equal(ad, bd)
}
