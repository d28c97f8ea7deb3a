package querysql

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/realm/internal/ir"
	"github.com/roach88/realm/internal/query"
)

func TestCompile_SimpleEquals(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile("Sample", query.Eq("category", ir.String("widgets")))
	require.NoError(t, err)

	assert.Contains(t, sql, "SELECT id, fields FROM objects")
	assert.Contains(t, sql, "WHERE class = ? AND")
	assert.Contains(t, sql, "ORDER BY id ASC COLLATE BINARY")

	// Values are never interpolated.
	assert.NotContains(t, sql, "widgets")
	assert.NotContains(t, sql, "category")
	assert.Equal(t, []any{"Sample", `$."category"`, `$."category"`, "widgets"}, params)
}

func TestCompile_TruePredicate(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile("Sample", query.True{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, fields FROM objects WHERE class = ? ORDER BY id ASC COLLATE BINARY", sql)
	assert.Equal(t, []any{"Sample"}, params)
}

func TestCompileCount(t *testing.T) {
	compiler := &SQLCompiler{Table: "snapshot_objects"}

	sql, params, err := compiler.CompileCount("Sample", query.Not{Predicate: query.Eq("n", ir.Null{})})
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM snapshot_objects WHERE class = ? AND NOT (COALESCE(json_type(fields, ?), 'null') = 'null')", sql)
	assert.Equal(t, []any{"Sample", `$."n"`}, params)
}

func TestCompile_Errors(t *testing.T) {
	compiler := NewSQLCompiler()

	_, _, err := compiler.Compile("", query.True{})
	require.Error(t, err)

	_, _, err = compiler.Compile("Sample", query.Comparison{Field: "tags", Op: query.OpLt, Value: ir.Array{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot order")

	_, _, err = compiler.Compile("Sample", query.Comparison{Field: "x", Op: query.OpGt, Value: ir.Null{}})
	require.Error(t, err)
}

// TestCompile_AgreesWithMatch runs every predicate through SQLite and
// through query.Match over the same objects and requires identical ids.
func TestCompile_AgreesWithMatch(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE objects (class TEXT NOT NULL, id TEXT NOT NULL, fields TEXT NOT NULL, PRIMARY KEY (class, id))`)
	require.NoError(t, err)

	objects := []ir.Object{
		{Class: "Sample", ID: "a", Fields: ir.Map{"name": ir.String("Foo"), "count": ir.Int(1), "done": ir.Bool(true), "tags": ir.Array{ir.String("x")}}},
		{Class: "Sample", ID: "b", Fields: ir.Map{"name": ir.String("Bar"), "count": ir.Int(2), "done": ir.Bool(false)}},
		{Class: "Sample", ID: "c", Fields: ir.Map{"name": ir.String("Baz"), "count": ir.String("3"), "note": ir.Null{}}},
		{Class: "Sample", ID: "d", Fields: ir.Map{"count": ir.Int(10), "meta": ir.Map{"k": ir.Int(1)}}},
		{Class: "Other", ID: "a", Fields: ir.Map{"name": ir.String("Foo")}},
	}
	for _, obj := range objects {
		fields, err := obj.MarshalFields()
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO objects (class, id, fields) VALUES (?, ?, ?)`, obj.Class, obj.ID, string(fields))
		require.NoError(t, err)
	}

	predicates := []string{
		"TRUEPREDICATE",
		"FALSEPREDICATE",
		"name == 'Foo'",
		"name != 'Foo'",
		"name > 'Bar'",
		"name <= 'Baz'",
		"count == 2",
		"count != 2",
		"count >= 2",
		"count < 5",
		"count == '3'",
		"done == true",
		"done != false",
		"done < true",
		"note == null",
		"note != null",
		"name == null",
		"NOT (count > 1)",
		"NOT missing > 1",
		"count > 1 AND name != null",
		"done == true OR count == 10",
		"NOT (done == true OR count == 10) AND TRUEPREDICATE",
	}

	compiler := NewSQLCompiler()
	for _, src := range predicates {
		t.Run(src, func(t *testing.T) {
			pred := query.MustParse(src)

			var want []string
			for _, obj := range objects {
				if obj.Class == "Sample" && query.Match(pred, obj) {
					want = append(want, obj.ID)
				}
			}

			stmt, params, err := compiler.Compile("Sample", pred)
			require.NoError(t, err)
			rows, err := db.Query(stmt, params...)
			require.NoError(t, err)
			defer rows.Close()

			var got []string
			for rows.Next() {
				var id, fields string
				require.NoError(t, rows.Scan(&id, &fields))
				got = append(got, id)
			}
			require.NoError(t, rows.Err())
			assert.Equal(t, want, got)
		})
	}

	t.Run("containers", func(t *testing.T) {
		for _, pred := range []query.Predicate{
			query.Eq("tags", ir.Array{ir.String("x")}),
			query.Eq("meta", ir.Map{"k": ir.Int(1)}),
			query.Comparison{Field: "tags", Op: query.OpNe, Value: ir.Array{}},
		} {
			var want []string
			for _, obj := range objects {
				if obj.Class == "Sample" && query.Match(pred, obj) {
					want = append(want, obj.ID)
				}
			}

			stmt, params, err := compiler.Compile("Sample", pred)
			require.NoError(t, err)
			rows, err := db.Query(stmt, params...)
			require.NoError(t, err)
			var got []string
			for rows.Next() {
				var id, fields string
				require.NoError(t, rows.Scan(&id, &fields))
				got = append(got, id)
			}
			require.NoError(t, rows.Err())
			rows.Close()
			assert.Equal(t, want, got, pred.String())
		}
	})
}
