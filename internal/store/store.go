package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/roach88/learnsync/internal/syncerr"
)

// Driver names accepted by WithDriver.
const (
	// DriverCgo is github.com/mattn/go-sqlite3.
	DriverCgo = "sqlite3"

	// DriverPure is modernc.org/sqlite, for builds without cgo.
	DriverPure = "sqlite"
)

// Option configures Open.
type Option func(*options)

type options struct {
	driver string
	siteID string
}

// WithDriver selects the database/sql driver. Defaults to DriverCgo.
func WithDriver(name string) Option {
	return func(o *options) { o.driver = name }
}

// WithSiteID tags storage errors with the namespace they came from.
func WithSiteID(id string) Option {
	return func(o *options) { o.siteID = id }
}

// Store is one storage namespace backed by a single SQLite file. Tables come
// from the shared Registry and are created on first use.
type Store struct {
	db     *sql.DB
	reg    *Registry
	siteID string

	mu      sync.Mutex
	ensured map[string]bool
}

// Open creates or opens a SQLite database at path and creates every table
// currently in reg.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Failures are reported as StorageUnavailable. A table already persisted
// with a different shape is a SchemaConflict.
func Open(ctx context.Context, path string, reg *Registry, opts ...Option) (*Store, error) {
	o := options{driver: DriverCgo}
	for _, opt := range opts {
		opt(&o)
	}
	if o.driver != DriverCgo && o.driver != DriverPure {
		return nil, fmt.Errorf("unsupported sqlite driver %q", o.driver)
	}

	db, err := sql.Open(o.driver, path)
	if err != nil {
		return nil, storageErr(o.siteID, "open database", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storageErr(o.siteID, "connect to database", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, storageErr(o.siteID, "apply pragmas", err)
	}

	s := &Store{
		db:      db,
		reg:     reg,
		siteID:  o.siteID,
		ensured: make(map[string]bool),
	}
	for _, t := range reg.Tables() {
		if err := s.ensure(ctx, t); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SiteID returns the namespace this store belongs to.
func (s *Store) SiteID() string {
	return s.siteID
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// table resolves a registered table and makes sure it exists in this file.
func (s *Store) table(ctx context.Context, name string) (Table, error) {
	t, ok := s.reg.Lookup(name)
	if !ok {
		return Table{}, fmt.Errorf("table %q is not registered", name)
	}
	if err := s.ensure(ctx, t); err != nil {
		return Table{}, err
	}
	return t, nil
}

func (s *Store) ensure(ctx context.Context, t Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ensured[t.Name] {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, t.createSQL()); err != nil {
		return storageErr(s.siteID, "create table "+t.Name, err)
	}
	if err := s.checkPersisted(ctx, t); err != nil {
		return err
	}
	s.ensured[t.Name] = true
	return nil
}

// checkPersisted compares the on-disk table with its declaration. CREATE TABLE
// IF NOT EXISTS silently keeps an older shape, so mismatches are caught here.
func (s *Store) checkPersisted(ctx context.Context, t Table) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", t.Name))
	if err != nil {
		return storageErr(s.siteID, "inspect table "+t.Name, err)
	}
	defer rows.Close()

	var got []Column
	pk := make(map[int]string)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pkPos   int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pkPos); err != nil {
			return storageErr(s.siteID, "inspect table "+t.Name, err)
		}
		got = append(got, Column{Name: name, Type: ColumnType(strings.ToUpper(typ)), NotNull: notNull != 0})
		if pkPos > 0 {
			pk[pkPos] = name
		}
	}
	if err := rows.Err(); err != nil {
		return storageErr(s.siteID, "inspect table "+t.Name, err)
	}

	persisted := Table{Name: t.Name, Columns: got, PrimaryKey: make([]string, len(pk))}
	for pos, name := range pk {
		if pos > len(pk) {
			return syncerr.SchemaConflict(t.Name, "persisted primary key is malformed")
		}
		persisted.PrimaryKey[pos-1] = name
	}
	if !persisted.equal(t) {
		e := syncerr.SchemaConflict(t.Name, "persisted table differs from its registered definition")
		e.SiteID = s.siteID
		return e
	}
	return nil
}

func storageErr(siteID, msg string, err error) error {
	e := syncerr.StorageUnavailable(msg, err)
	e.SiteID = siteID
	return e
}
