package queryir

import "github.com/roach88/storyflow/internal/ir"

// FromFilterSet builds the document query for an evaluated fetcher.
// An empty operation means OpEq. Filters on the same field are kept apart
// and all must hold.
func FromFilterSet(fs ir.FilterSet) Select {
	preds := make([]Predicate, 0, len(fs.Filters))
	for _, f := range fs.Filters {
		preds = append(preds, filterPredicate(f))
	}

	sel := Select{
		From:   SourceDocuments,
		Limit:  fs.Limit,
		Offset: fs.Offset,
	}
	switch len(preds) {
	case 0:
	case 1:
		sel.Filter = preds[0]
	default:
		sel.Filter = And{Predicates: preds}
	}
	for _, key := range fs.Sort {
		sel.Sort = append(sel.Sort, ParseOrderKey(key))
	}
	return sel
}

func filterPredicate(f ir.ResolvedFilter) Predicate {
	op := Op(f.Operation)
	if op == "" {
		op = OpEq
	}
	if !IsColumn(f.Field) {
		return FieldMatch{Key: f.Field, Op: op, Values: f.Values}
	}
	if op == OpEq && len(f.Values) == 1 {
		return Equals{Field: f.Field, Value: f.Values[0]}
	}
	return Compare{Field: f.Field, Op: op, Values: f.Values}
}
