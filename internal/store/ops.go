package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Upsert inserts rec, or replaces the row whose primary-key columns match it.
// Columns missing from rec are stored as NULL. An overwritten row keeps its
// original insertion position.
func (s *Store) Upsert(ctx context.Context, table string, rec Record) error {
	t, err := s.table(ctx, table)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}

	for name := range rec {
		if _, ok := t.Column(name); !ok {
			return fmt.Errorf("upsert %s: unknown column %q", table, name)
		}
	}

	cols := t.columnNames()
	args := make([]any, len(cols))
	var updates []string
	for i, col := range t.Columns {
		v, err := convert(t.Name, col, rec[col.Name])
		if err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
		if v == nil && (col.NotNull || t.isKey(col.Name)) {
			return fmt.Errorf("upsert %s: column %s must not be null", table, col.Name)
		}
		args[i] = v
		if !t.isKey(col.Name) {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col.Name, col.Name))
		}
	}

	conflict := "DO NOTHING"
	if len(updates) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(updates, ", ")
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) %s",
		t.Name,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(t.PrimaryKey, ", "),
		conflict,
	)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storageErr(s.siteID, "upsert "+table, err)
	}
	return nil
}

// Find returns the matching rows in insertion order. No match is an empty
// slice, not an error.
func (s *Store) Find(ctx context.Context, table string, where Where) ([]Record, error) {
	t, err := s.table(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", table, err)
	}
	whereSQL, params, err := compileWhere(t, where)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", table, err)
	}

	cols := t.columnNames()
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY rowid ASC", strings.Join(cols, ", "), t.Name, whereSQL)
	return s.query(ctx, t, cols, query, params)
}

// Count returns the number of matching rows.
func (s *Store) Count(ctx context.Context, table string, where Where) (int64, error) {
	t, err := s.table(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	whereSQL, params, err := compileWhere(t, where)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}

	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", t.Name, whereSQL)
	if err := s.db.QueryRowContext(ctx, query, params...).Scan(&n); err != nil {
		return 0, storageErr(s.siteID, "count "+table, err)
	}
	return n, nil
}

// Distinct returns each distinct combination of cols among the matching rows,
// ordered by the first insertion of each combination.
func (s *Store) Distinct(ctx context.Context, table string, cols []string, where Where) ([]Record, error) {
	t, err := s.table(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("distinct %s: no columns", table)
	}
	for _, name := range cols {
		if _, ok := t.Column(name); !ok {
			return nil, fmt.Errorf("distinct %s: unknown column %q", table, name)
		}
	}
	whereSQL, params, err := compileWhere(t, where)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", table, err)
	}

	list := strings.Join(cols, ", ")
	query := fmt.Sprintf("SELECT %s FROM %s%s GROUP BY %s ORDER BY MIN(rowid) ASC", list, t.Name, whereSQL, list)
	return s.query(ctx, t, cols, query, params)
}

// Update sets columns on every matching row and returns how many changed.
// Primary-key columns may be rewritten; the new key must not collide.
func (s *Store) Update(ctx context.Context, table string, set Record, where Where) (int64, error) {
	t, err := s.table(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	if len(set) == 0 {
		return 0, fmt.Errorf("update %s: nothing to set", table)
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	assigns := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+len(where))
	for _, name := range names {
		col, ok := t.Column(name)
		if !ok {
			return 0, fmt.Errorf("update %s: unknown column %q", table, name)
		}
		v, err := convert(t.Name, col, set[name])
		if err != nil {
			return 0, fmt.Errorf("update %s: %w", table, err)
		}
		if v == nil && (col.NotNull || t.isKey(name)) {
			return 0, fmt.Errorf("update %s: column %s must not be null", table, name)
		}
		assigns = append(assigns, name+" = ?")
		args = append(args, v)
	}

	whereSQL, params, err := compileWhere(t, where)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	args = append(args, params...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", t.Name, strings.Join(assigns, ", "), whereSQL)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr(s.siteID, "update "+table, err)
	}
	return rowsAffected(s.siteID, table, res)
}

// Delete removes every matching row and returns how many were deleted.
// Deleting nothing is not an error.
func (s *Store) Delete(ctx context.Context, table string, where Where) (int64, error) {
	t, err := s.table(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	whereSQL, params, err := compileWhere(t, where)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", t.Name, whereSQL), params...)
	if err != nil {
		return 0, storageErr(s.siteID, "delete "+table, err)
	}
	return rowsAffected(s.siteID, table, res)
}

func (s *Store) query(ctx context.Context, t Table, cols []string, query string, params []any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, storageErr(s.siteID, "query "+t.Name, err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		dest := scanTargets(t, cols)
		if err := rows.Scan(dest...); err != nil {
			return nil, storageErr(s.siteID, "scan "+t.Name, err)
		}
		out = append(out, toRecord(cols, dest))
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(s.siteID, "query "+t.Name, err)
	}
	return out, nil
}

func rowsAffected(siteID, table string, res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr(siteID, "rows affected "+table, err)
	}
	return n, nil
}
