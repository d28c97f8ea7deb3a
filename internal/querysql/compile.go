package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/realm/internal/ir"
	"github.com/roach88/realm/internal/query"
)

// SQLCompiler compiles predicates to parameterized SQL over the objects
// table of the SQLite engine:
//
//	objects(class TEXT, id TEXT, fields TEXT)
//
// Field values are read with json_type/json_extract against the canonical
// JSON in the fields column. The generated SQL agrees with query.Match: a
// missing field equals null, mixed-kind comparisons are false, and NOT
// never leaks SQL NULL.
//
// All queries include ORDER BY id for deterministic results, and all values
// are parameterized, never interpolated.
type SQLCompiler struct {
	// Table is the object table name. Defaults to "objects".
	Table string
}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{Table: "objects"}
}

// Compile returns a SELECT of (id, fields) for every object of class that
// satisfies p, ordered by id.
func (c *SQLCompiler) Compile(class string, p query.Predicate) (string, []any, error) {
	where, params, err := c.where(class, p)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("SELECT id, fields FROM %s WHERE %s ORDER BY %s",
		c.table(), where, stableOrderKey())
	return sql, params, nil
}

// CompileCount returns a SELECT COUNT(*) for the same filter as Compile.
func (c *SQLCompiler) CompileCount(class string, p query.Predicate) (string, []any, error) {
	where, params, err := c.where(class, p)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", c.table(), where), params, nil
}

func (c *SQLCompiler) table() string {
	if c.Table == "" {
		return "objects"
	}
	return c.Table
}

func (c *SQLCompiler) where(class string, p query.Predicate) (string, []any, error) {
	if class == "" {
		return "", nil, fmt.Errorf("cannot compile query without a class")
	}
	predSQL, params, err := c.compilePredicate(p)
	if err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}
	if predSQL == "1" {
		return "class = ?", []any{class}, nil
	}
	return "class = ? AND " + predSQL, append([]any{class}, params...), nil
}

// stableOrderKey returns the ORDER BY clause. COLLATE BINARY matches the
// byte ordering the in-memory engine uses for ids.
func stableOrderKey() string {
	return "id ASC COLLATE BINARY"
}

// compilePredicate compiles a predicate to a SQL expression that is always
// 0 or 1, never NULL.
func (c *SQLCompiler) compilePredicate(p query.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil, query.True:
		return "1", nil, nil
	case query.False:
		return "0", nil, nil
	case query.Comparison:
		return compileComparison(pred)
	case query.And:
		return c.compileJunction(pred.Predicates, " AND ", "1")
	case query.Or:
		return c.compileJunction(pred.Predicates, " OR ", "0")
	case query.Not:
		inner, params, err := c.compilePredicate(pred.Predicate)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + inner + ")", params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileJunction(preds []query.Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}

	var sqlParts []string
	var allParams []any
	for _, pred := range preds {
		sql, params, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, "("+sql+")")
		allParams = append(allParams, params...)
	}
	return strings.Join(sqlParts, sep), allParams, nil
}

// compileComparison compiles one field comparison. The JSON path is a
// parameter like every value.
func compileComparison(cmp query.Comparison) (string, []any, error) {
	path := jsonPath(cmp.Field)

	if ir.IsNull(cmp.Value) {
		nullCheck := "COALESCE(json_type(fields, ?), 'null') = 'null'"
		switch cmp.Op {
		case query.OpEq:
			return nullCheck, []any{path}, nil
		case query.OpNe:
			return "NOT (" + nullCheck + ")", []any{path}, nil
		default:
			return "", nil, fmt.Errorf("operator %s cannot compare against null", cmp.Op)
		}
	}

	expr, exprParams, err := typedExtract(cmp.Value, path)
	if err != nil {
		return "", nil, err
	}
	param, err := valueToParam(cmp.Value)
	if err != nil {
		return "", nil, fmt.Errorf("convert value: %w", err)
	}

	if cmp.Op.Ordering() {
		switch cmp.Value.(type) {
		case ir.Array, ir.Map:
			return "", nil, fmt.Errorf("operator %s cannot order %s values", cmp.Op, ir.KindOf(cmp.Value))
		}
	}

	// The typed extraction is NULL when the field is missing or has another
	// kind. Equality-style operators treat that as "not equal".
	var sql string
	switch cmp.Op {
	case query.OpEq, query.OpLt, query.OpLe, query.OpGt, query.OpGe:
		sql = fmt.Sprintf("COALESCE(%s %s ?, 0)", expr, sqlOp(cmp.Op))
	case query.OpNe:
		sql = fmt.Sprintf("COALESCE(%s != ?, 1)", expr)
	default:
		return "", nil, fmt.Errorf("unsupported operator: %s", cmp.Op)
	}
	return sql, append(exprParams, param), nil
}

// typedExtract returns an expression yielding the field's value only when
// its JSON type matches the kind of v, else NULL.
func typedExtract(v ir.Value, path string) (string, []any, error) {
	switch v.(type) {
	case ir.String:
		return "(CASE WHEN json_type(fields, ?) = 'text' THEN json_extract(fields, ?) END)", []any{path, path}, nil
	case ir.Int:
		return "(CASE WHEN json_type(fields, ?) = 'integer' THEN json_extract(fields, ?) END)", []any{path, path}, nil
	case ir.Bool:
		return "(CASE json_type(fields, ?) WHEN 'true' THEN 1 WHEN 'false' THEN 0 END)", []any{path}, nil
	case ir.Array:
		return "(CASE WHEN json_type(fields, ?) = 'array' THEN json(json_extract(fields, ?)) END)", []any{path, path}, nil
	case ir.Map:
		return "(CASE WHEN json_type(fields, ?) = 'object' THEN json(json_extract(fields, ?)) END)", []any{path, path}, nil
	default:
		return "", nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

func sqlOp(op query.Op) string {
	if op == query.OpEq {
		return "="
	}
	return string(op)
}

// jsonPath builds the SQLite JSON path for a top-level field. Field names
// are quoted so that any identifier is addressed literally.
func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}

// valueToParam converts a value to a Go native SQL parameter. Containers
// are passed as canonical JSON text, which is how the engine stores them.
func valueToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Int:
		return int64(val), nil
	case ir.Bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case ir.Array, ir.Map:
		b, err := ir.MarshalCanonical(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
