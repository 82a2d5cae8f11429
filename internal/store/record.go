package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Record is one row keyed by column name. Values read back are int64, string
// or nil.
type Record map[string]any

// Int returns an integer column, 0 when NULL or absent.
func (r Record) Int(col string) int64 {
	n, _ := r[col].(int64)
	return n
}

// Text returns a text column, "" when NULL or absent.
func (r Record) Text(col string) string {
	s, _ := r[col].(string)
	return s
}

// Bool reports whether an integer column is non-zero.
func (r Record) Bool(col string) bool {
	return r.Int(col) != 0
}

// IsNull reports whether a column is NULL or absent.
func (r Record) IsNull(col string) bool {
	return r[col] == nil
}

// Where is an equality predicate: every column must equal its value, and a
// nil value matches NULL. An empty Where matches every row.
type Where map[string]any

// convert coerces a Go value to the storage class of col.
func convert(table string, col Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case Integer:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case bool:
			if n {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case Text:
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%s.%s: cannot store %T in %s column", table, col.Name, v, col.Type)
}

// compileWhere renders a parameterized WHERE clause. Columns are emitted in
// sorted order so equal predicates produce identical SQL.
func compileWhere(t Table, where Where) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	cols := make([]string, 0, len(where))
	for name := range where {
		cols = append(cols, name)
	}
	sort.Strings(cols)

	conds := make([]string, 0, len(cols))
	params := make([]any, 0, len(cols))
	for _, name := range cols {
		col, ok := t.Column(name)
		if !ok {
			return "", nil, fmt.Errorf("%s: unknown column %q in predicate", t.Name, name)
		}
		v, err := convert(t.Name, col, where[name])
		if err != nil {
			return "", nil, err
		}
		if v == nil {
			conds = append(conds, name+" IS NULL")
			continue
		}
		conds = append(conds, name+" = ?")
		params = append(params, v)
	}
	return " WHERE " + strings.Join(conds, " AND "), params, nil
}

// scanTargets allocates typed scan destinations for the given columns.
func scanTargets(t Table, cols []string) []any {
	dest := make([]any, len(cols))
	for i, name := range cols {
		col, _ := t.Column(name)
		if col.Type == Integer {
			dest[i] = new(sql.NullInt64)
		} else {
			dest[i] = new(sql.NullString)
		}
	}
	return dest
}

func toRecord(cols []string, dest []any) Record {
	rec := make(Record, len(cols))
	for i, name := range cols {
		switch v := dest[i].(type) {
		case *sql.NullInt64:
			if v.Valid {
				rec[name] = v.Int64
			} else {
				rec[name] = nil
			}
		case *sql.NullString:
			if v.Valid {
				rec[name] = v.String
			} else {
				rec[name] = nil
			}
		}
	}
	return rec
}
