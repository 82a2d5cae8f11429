// Package store is the per-site staging store: a thin keyed-table layer over
// SQLite.
//
// Tables are declared once in a process-scoped Registry and materialize lazily
// in each site's database file. Rows are plain Records; the store never
// interprets serialized payload columns, repositories own that.
//
// # Guarantees
//
//   - Upsert never fails on an existing key; it overwrites the row in place
//     (ON CONFLICT DO UPDATE), so the row keeps its insertion position.
//   - Find and Distinct return rows in insertion order (rowid ASC), and an
//     empty slice when nothing matches.
//   - All values are parameterized; identifiers come only from validated
//     table declarations.
//   - Each site lives in its own file, so a Store cannot reach another site's
//     rows.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
