// Package queryir is the abstract query representation behind fetchers.
//
// A fetcher's filters are evaluated to an ir.FilterSet; FromFilterSet turns
// that into a Select over the document source. Backends (querysql) compile
// the IR; nothing above this package writes SQL.
//
//	[fetcher token] -> eval -> [ir.FilterSet] -> [queryir.Select] -> [querysql]
//
// Query and Predicate are sealed interfaces using the marker method pattern,
// so backends can switch over them exhaustively:
//
//	switch p := pred.(type) {
//	case Equals:     // document column equals one literal
//	case Compare:    // document column against a set of literals
//	case FieldMatch: // literal projection of a document field
//	case And:        // conjunction
//	}
//
// Document columns are id, label, folder, template and seq. Any other filter
// field names a field key and matches against the literal values stored for
// that field in the document.
//
// Multi-valued predicates match when any value matches, except OpNe, which
// matches when no value is equal.
package queryir
