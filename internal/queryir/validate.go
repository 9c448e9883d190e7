package queryir

import (
	"fmt"

	"github.com/roach88/storyflow/internal/ir"
)

// ValidationResult lists the problems that keep a query from compiling.
type ValidationResult struct {
	Valid    bool
	Problems []string
}

// Validate checks a query before it reaches a backend:
//  1. the source is known
//  2. operations are known and have at least one literal
//  3. literals are strings, numbers or booleans (never null or composite)
//  4. document columns compare against strings, except seq (numbers)
//  5. contains takes strings only
//  6. paging is non-negative and sort keys are named
//
// Validate is a pure function.
func Validate(query Query) ValidationResult {
	v := &validator{problems: []string{}}
	v.validateQuery(query)
	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case nil:
		v.addProblem("nil query")
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	default:
		v.addProblem("unknown query type: %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if sel.From != SourceDocuments {
		v.addProblem("unknown source %q", sel.From)
	}
	if sel.Limit < 0 {
		v.addProblem("negative limit %d", sel.Limit)
	}
	if sel.Offset < 0 {
		v.addProblem("negative offset %d", sel.Offset)
	}
	for i, key := range sel.Sort {
		if key.Field == "" {
			v.addProblem("sort key %d has no field", i)
		}
	}
	if sel.Filter != nil {
		v.validatePredicate(sel.Filter)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
	case Equals:
		if !IsColumn(pred.Field) {
			v.addProblem("equals on unknown column %q", pred.Field)
		}
		v.validateLiteral(pred.Field, OpEq, pred.Value, true)
	case Compare:
		if !IsColumn(pred.Field) {
			v.addProblem("compare on unknown column %q", pred.Field)
		}
		v.validateValues(pred.Field, pred.Op, pred.Values, true)
	case FieldMatch:
		if pred.Key == "" {
			v.addProblem("field match without key")
		}
		v.validateValues(pred.Key, pred.Op, pred.Values, false)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	default:
		v.addProblem("unknown predicate type: %T", p)
	}
}

func (v *validator) validateValues(field string, op Op, values []ir.Value, column bool) {
	if !op.Valid() {
		v.addProblem("field %q: unknown operation %q", field, op)
		return
	}
	if len(values) == 0 {
		v.addProblem("field %q: %s without values", field, op)
	}
	for _, val := range values {
		v.validateLiteral(field, op, val, column)
	}
}

func (v *validator) validateLiteral(field string, op Op, val ir.Value, column bool) {
	switch val.(type) {
	case ir.String:
	case ir.Number:
		if op == OpContains {
			v.addProblem("field %q: contains needs a string", field)
		} else if column && field != "seq" {
			v.addProblem("field %q: column compares against strings", field)
		}
	case ir.Bool:
		if op == OpContains {
			v.addProblem("field %q: contains needs a string", field)
		} else if column {
			v.addProblem("field %q: column compares against strings", field)
		}
	case nil, ir.Null:
		v.addProblem("field %q compared to null", field)
	default:
		v.addProblem("field %q: %T is not a literal", field, val)
	}
	if column && field == "seq" {
		if _, ok := val.(ir.String); ok {
			v.addProblem("field %q: seq compares against numbers", field)
		}
	}
}
