package queryir

import (
	"strings"

	"github.com/roach88/storyflow/internal/ir"
)

// Query is an abstract document query.
type Query interface {
	queryNode() // Sealed
}

// Predicate is a filter condition over documents.
type Predicate interface {
	predicateNode() // Sealed
}

// SourceDocuments is the only source a fetcher reads.
const SourceDocuments = "documents"

// Select reads documents from a source, filtered, ordered and paged.
//
//	Select{
//	  From: SourceDocuments,
//	  Filter: And{Predicates: []Predicate{
//	    Equals{Field: "folder", Value: ir.String("0a1b2c3d4e5f60718293a4b5")},
//	    FieldMatch{Key: "3f2a000000000002", Op: OpGt, Values: []ir.Value{ir.Number(3)}},
//	  }},
//	  Sort:  []OrderKey{{Field: "label"}},
//	  Limit: 10,
//	}
//
// Results always end in a stable tiebreak so that equal sort keys page the
// same way every time. Limit 0 means unbounded.
type Select struct {
	From   string
	Filter Predicate // nil = no filter
	Sort   []OrderKey
	Limit  int
	Offset int
}

func (Select) queryNode() {}

// OrderKey is one sort key.
type OrderKey struct {
	Field string
	Desc  bool
}

// ParseOrderKey reads a fetcher sort key; a leading "-" means descending.
func ParseOrderKey(s string) OrderKey {
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		return OrderKey{Field: rest, Desc: true}
	}
	return OrderKey{Field: s}
}

// Op is a comparison operation.
type Op string

// Comparison operations.
const (
	OpEq       Op = "="
	OpNe       Op = "!="
	OpLt       Op = "<"
	OpGt       Op = ">"
	OpLe       Op = "<="
	OpGe       Op = ">="
	OpContains Op = "contains"
)

// Valid reports whether o is a known operation.
func (o Op) Valid() bool {
	switch o {
	case OpEq, OpNe, OpLt, OpGt, OpLe, OpGe, OpContains:
		return true
	}
	return false
}

// Ordering reports whether o orders its operands.
func (o Op) Ordering() bool {
	switch o {
	case OpLt, OpGt, OpLe, OpGe:
		return true
	}
	return false
}

var columns = map[string]bool{
	"id":       true,
	"label":    true,
	"folder":   true,
	"template": true,
	"seq":      true,
}

// IsColumn reports whether name is a document column rather than a field key.
func IsColumn(name string) bool {
	return columns[name]
}

// Equals matches documents whose column equals one literal.
type Equals struct {
	Field string
	Value ir.Value
}

func (Equals) predicateNode() {}

// Compare matches a document column against a set of literals.
type Compare struct {
	Field  string
	Op     Op
	Values []ir.Value
}

func (Compare) predicateNode() {}

// FieldMatch matches documents holding a literal under the field key Key.
// A document field with several literal values matches if any of them does.
type FieldMatch struct {
	Key    string
	Op     Op
	Values []ir.Value
}

func (FieldMatch) predicateNode() {}

// And requires all predicates. An empty And is true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}
