package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/queryir"
)

// Literal kinds stored in document_values.kind.
const (
	KindText   = "s"
	KindNumber = "n"
	KindBool   = "b"
)

// DocumentColumns is the column list every compiled select returns, in scan
// order: id, folder_id, template_id, label, seq.
const DocumentColumns = "d.id, d.folder_id, d.template_id, d.label, d.seq"

var columnNames = map[string]string{
	"id":       "d.id",
	"label":    "d.label",
	"folder":   "d.folder_id",
	"template": "d.template_id",
	"seq":      "d.seq",
}

var sourceTables = map[string]string{
	queryir.SourceDocuments: "documents",
}

// SQLCompiler compiles query IR to parameterized SQLite.
//
// Every query ends in a stable tiebreak (seq, then id COLLATE BINARY), and
// every literal is a ? parameter.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a query to (sql, params).
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	switch query := q.(type) {
	case nil:
		return "", nil, fmt.Errorf("cannot compile nil query")
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	table, ok := sourceTables[q.From]
	if !ok {
		return "", nil, fmt.Errorf("unknown source %q", q.From)
	}

	var sb strings.Builder
	var params []any
	fmt.Fprintf(&sb, "SELECT %s FROM %s d", DocumentColumns, table)

	if q.Filter != nil {
		where, whereParams, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
		params = append(params, whereParams...)
	}

	order, orderParams := c.orderBy(q.Sort)
	sb.WriteString(" ORDER BY ")
	sb.WriteString(order)
	params = append(params, orderParams...)

	switch {
	case q.Limit > 0:
		sb.WriteString(" LIMIT ? OFFSET ?")
		params = append(params, q.Limit, q.Offset)
	case q.Offset > 0:
		sb.WriteString(" LIMIT -1 OFFSET ?")
		params = append(params, q.Offset)
	}

	return sb.String(), params, nil
}

// orderBy renders the sort keys followed by the mandatory tiebreak.
// Field keys sort by the first literal stored for the field.
func (c *SQLCompiler) orderBy(keys []queryir.OrderKey) (string, []any) {
	var parts []string
	var params []any
	for _, key := range keys {
		dir := "ASC"
		if key.Desc {
			dir = "DESC"
		}
		if col, ok := columnNames[key.Field]; ok {
			if key.Field == "seq" {
				parts = append(parts, col+" "+dir)
			} else {
				parts = append(parts, col+" COLLATE BINARY "+dir)
			}
			continue
		}
		parts = append(parts, "(SELECT COALESCE(v.text, v.num) FROM document_values v"+
			" WHERE v.document_id = d.id AND v.field_key = ? ORDER BY v.position ASC LIMIT 1) "+dir)
		params = append(params, key.Field)
	}
	parts = append(parts, stableOrderKey())
	return strings.Join(parts, ", "), params
}

// stableOrderKey is appended to every ORDER BY.
func stableOrderKey() string {
	return "d.seq ASC, d.id COLLATE BINARY ASC"
}

func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.Equals:
		return c.compileCompare(queryir.Compare{Field: pred.Field, Op: queryir.OpEq, Values: []ir.Value{pred.Value}})
	case queryir.Compare:
		return c.compileCompare(pred)
	case queryir.FieldMatch:
		return c.compileFieldMatch(pred)
	case queryir.And:
		return c.compileAnd(pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileCompare(cmp queryir.Compare) (string, []any, error) {
	col, ok := columnNames[cmp.Field]
	if !ok {
		return "", nil, fmt.Errorf("unknown column %q", cmp.Field)
	}
	if len(cmp.Values) == 0 {
		return "", nil, fmt.Errorf("column %q: no values", cmp.Field)
	}

	params := make([]any, 0, len(cmp.Values))
	for _, v := range cmp.Values {
		param, err := irValueToParam(v)
		if err != nil {
			return "", nil, fmt.Errorf("column %q: %w", cmp.Field, err)
		}
		params = append(params, param)
	}

	switch cmp.Op {
	case queryir.OpEq:
		if len(params) == 1 {
			return col + " = ?", params, nil
		}
		return col + " IN (" + placeholders(len(params)) + ")", params, nil
	case queryir.OpNe:
		return col + " NOT IN (" + placeholders(len(params)) + ")", params, nil
	case queryir.OpContains:
		return anyOf(len(params), "instr("+col+", ?) > 0"), params, nil
	default:
		if !cmp.Op.Ordering() {
			return "", nil, fmt.Errorf("column %q: unknown operation %q", cmp.Field, cmp.Op)
		}
		return anyOf(len(params), col+" "+string(cmp.Op)+" ?"), params, nil
	}
}

// compileFieldMatch tests the literal projection of a document field.
// OpNe compiles to NOT EXISTS over the equality match.
func (c *SQLCompiler) compileFieldMatch(m queryir.FieldMatch) (string, []any, error) {
	if len(m.Values) == 0 {
		return "", nil, fmt.Errorf("field %q: no values", m.Key)
	}

	op := m.Op
	prefix := "EXISTS"
	if op == queryir.OpNe {
		op = queryir.OpEq
		prefix = "NOT EXISTS"
	}

	conds := make([]string, 0, len(m.Values))
	params := []any{m.Key}
	for _, v := range m.Values {
		cond, param, err := valueCondition(op, v)
		if err != nil {
			return "", nil, fmt.Errorf("field %q: %w", m.Key, err)
		}
		conds = append(conds, cond)
		params = append(params, param)
	}

	sql := prefix + " (SELECT 1 FROM document_values v WHERE v.document_id = d.id AND v.field_key = ? AND (" +
		strings.Join(conds, " OR ") + "))"
	return sql, params, nil
}

func valueCondition(op queryir.Op, v ir.Value) (string, any, error) {
	param, err := irValueToParam(v)
	if err != nil {
		return "", nil, err
	}

	var kind, col string
	switch v.(type) {
	case ir.String:
		kind, col = KindText, "v.text"
	case ir.Number:
		kind, col = KindNumber, "v.num"
	case ir.Bool:
		kind, col = KindBool, "v.num"
	}

	switch {
	case op == queryir.OpContains:
		if kind != KindText {
			return "", nil, fmt.Errorf("contains needs a string, got %T", v)
		}
		return "(v.kind = '" + kind + "' AND instr(v.text, ?) > 0)", param, nil
	case op == queryir.OpEq || op.Ordering():
		return "(v.kind = '" + kind + "' AND " + col + " " + string(op) + " ?)", param, nil
	default:
		return "", nil, fmt.Errorf("unknown operation %q", op)
	}
}

func (c *SQLCompiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	var parts []string
	var all []any
	for _, pred := range and.Predicates {
		sql, params, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		if _, nested := pred.(queryir.And); nested {
			sql = "(" + sql + ")"
		}
		parts = append(parts, sql)
		all = append(all, params...)
	}
	return strings.Join(parts, " AND "), all, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func anyOf(n int, cond string) string {
	if n == 1 {
		return cond
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = cond
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// irValueToParam converts a literal to a SQL parameter. Booleans become 0/1
// to match their stored projection.
func irValueToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Number:
		return float64(val), nil
	case ir.Bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case ir.Array:
		return nil, fmt.Errorf("array cannot be used as SQL parameter")
	case ir.Object:
		return nil, fmt.Errorf("object cannot be used as SQL parameter")
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
