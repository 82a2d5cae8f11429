package store

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/learnsync/internal/syncerr"
)

// ColumnType is the SQLite storage class of a column.
type ColumnType string

const (
	// Integer columns hold int64 values. Booleans are stored as 0/1.
	Integer ColumnType = "INTEGER"

	// Text columns hold strings, including serialized payloads.
	Text ColumnType = "TEXT"
)

// Column declares one table column.
type Column struct {
	Name    string
	Type    ColumnType
	NotNull bool
}

// Table declares a table: its columns in order and its primary key, which may
// be composite.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks identifiers, column types and that every primary-key column
// is declared.
func (t Table) Validate() error {
	if !identRe.MatchString(t.Name) {
		return fmt.Errorf("invalid table name %q", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	if len(t.PrimaryKey) == 0 {
		return fmt.Errorf("table %s: no primary key", t.Name)
	}

	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if !identRe.MatchString(c.Name) {
			return fmt.Errorf("table %s: invalid column name %q", t.Name, c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %q", t.Name, c.Name)
		}
		seen[c.Name] = true
		if c.Type != Integer && c.Type != Text {
			return fmt.Errorf("table %s: column %s: unsupported type %q", t.Name, c.Name, c.Type)
		}
	}
	for _, pk := range t.PrimaryKey {
		if !seen[pk] {
			return fmt.Errorf("table %s: primary key column %q is not declared", t.Name, pk)
		}
	}
	return nil
}

// Column returns the declared column with the given name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (t Table) isKey(name string) bool {
	return slices.Contains(t.PrimaryKey, name)
}

func (t Table) columnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (t Table) equal(o Table) bool {
	return t.Name == o.Name &&
		slices.Equal(t.Columns, o.Columns) &&
		slices.Equal(t.PrimaryKey, o.PrimaryKey)
}

// createSQL renders the CREATE TABLE statement. Identifiers are validated
// before they reach here.
func (t Table) createSQL() string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		def := c.Name + " " + string(c.Type)
		if c.NotNull {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	defs = append(defs, "PRIMARY KEY ("+strings.Join(t.PrimaryKey, ", ")+")")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.Name, strings.Join(defs, ",\n\t"))
}

// Registry holds the table definitions shared by every site namespace.
// Registration is process-scoped: a table registered once is available in all
// sites, including sites opened later.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]Table
	order  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]Table)}
}

// Register declares a table. Registering an identical definition again is a
// no-op; a different definition under the same name is a SchemaConflict.
func (r *Registry) Register(t Table) error {
	if err := t.Validate(); err != nil {
		return syncerr.SchemaConflict(t.Name, err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tables[t.Name]; ok {
		if existing.equal(t) {
			return nil
		}
		return syncerr.SchemaConflict(t.Name, "table re-registered with a different definition")
	}

	t.Columns = slices.Clone(t.Columns)
	t.PrimaryKey = slices.Clone(t.PrimaryKey)
	r.tables[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Lookup returns the registered definition of a table.
func (r *Registry) Lookup(name string) (Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns all definitions in registration order.
func (r *Registry) Tables() []Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Table, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tables[name])
	}
	return out
}
