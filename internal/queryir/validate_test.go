package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/storyflow/internal/ir"
)

func TestValidate_ValidQuery(t *testing.T) {
	q := Select{
		From: SourceDocuments,
		Filter: And{Predicates: []Predicate{
			Equals{Field: "folder", Value: ir.String("f1")},
			Compare{Field: "seq", Op: OpGe, Values: []ir.Value{ir.Number(3)}},
			FieldMatch{Key: "k", Op: OpContains, Values: []ir.Value{ir.String("x")}},
			FieldMatch{Key: "k", Op: OpEq, Values: []ir.Value{ir.Bool(true), ir.Number(2)}},
		}},
		Sort:  []OrderKey{{Field: "label"}},
		Limit: 10,
	}

	result := Validate(q)
	assert.True(t, result.Valid, result.Problems)
	assert.Empty(t, result.Problems)

	ptr := Validate(&q)
	assert.True(t, ptr.Valid)
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		problem string
	}{
		{"nil query", nil, "nil query"},
		{"unknown source", Select{From: "blocks"}, `unknown source "blocks"`},
		{"negative limit", Select{From: SourceDocuments, Limit: -1}, "negative limit -1"},
		{"negative offset", Select{From: SourceDocuments, Offset: -2}, "negative offset -2"},
		{"empty sort key", Select{From: SourceDocuments, Sort: []OrderKey{{Desc: true}}}, "sort key 0 has no field"},
		{
			"unknown operation",
			Select{From: SourceDocuments, Filter: FieldMatch{Key: "k", Op: "~", Values: []ir.Value{ir.String("a")}}},
			`field "k": unknown operation "~"`,
		},
		{
			"no values",
			Select{From: SourceDocuments, Filter: FieldMatch{Key: "k", Op: OpEq}},
			`field "k": = without values`,
		},
		{
			"null literal",
			Select{From: SourceDocuments, Filter: Equals{Field: "id", Value: ir.Null{}}},
			`field "id" compared to null`,
		},
		{
			"composite literal",
			Select{From: SourceDocuments, Filter: FieldMatch{Key: "k", Op: OpEq, Values: []ir.Value{ir.Array{}}}},
			`field "k": ir.Array is not a literal`,
		},
		{
			"number against string column",
			Select{From: SourceDocuments, Filter: Compare{Field: "label", Op: OpLt, Values: []ir.Value{ir.Number(1)}}},
			`field "label": column compares against strings`,
		},
		{
			"string against seq",
			Select{From: SourceDocuments, Filter: Compare{Field: "seq", Op: OpLt, Values: []ir.Value{ir.String("1")}}},
			`field "seq": seq compares against numbers`,
		},
		{
			"contains with number",
			Select{From: SourceDocuments, Filter: FieldMatch{Key: "k", Op: OpContains, Values: []ir.Value{ir.Number(1)}}},
			`field "k": contains needs a string`,
		},
		{
			"unknown column",
			Select{From: SourceDocuments, Filter: Equals{Field: "color", Value: ir.String("red")}},
			`equals on unknown column "color"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(tt.query)
			assert.False(t, result.Valid)
			assert.Contains(t, result.Problems, tt.problem)
		})
	}
}

func TestValidate_NestedAnd(t *testing.T) {
	q := Select{
		From: SourceDocuments,
		Filter: And{Predicates: []Predicate{
			And{Predicates: []Predicate{
				FieldMatch{Key: "", Op: OpEq, Values: []ir.Value{ir.String("a")}},
			}},
		}},
	}
	result := Validate(q)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"field match without key"}, result.Problems)
}
