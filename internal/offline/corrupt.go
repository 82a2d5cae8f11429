package offline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/learnsync/internal/store"
	"github.com/roach88/learnsync/internal/syncerr"
)

// Corruption describes one stored row that could not be decoded.
type Corruption struct {
	Table string
	Key   string
	Err   error
}

// Error implements the error interface.
func (c Corruption) Error() string {
	return fmt.Sprintf("%s[%s]: %v", c.Table, c.Key, c.Err)
}

// Unwrap returns the decode failure.
func (c Corruption) Unwrap() error {
	return c.Err
}

// KeyString renders the primary-key columns of rec, e.g. "postid=5,userid=2".
func KeyString(rec store.Record, cols ...string) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("%s=%v", c, rec[c]))
	}
	return strings.Join(parts, ",")
}

// Corruptions collects rows skipped during a bulk read. The zero value is
// ready to use.
type Corruptions struct {
	items []Corruption
}

// Add records a skipped row and logs it at WARN.
func (c *Corruptions) Add(ctx context.Context, logger *slog.Logger, table, key string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	cerr := syncerr.CorruptRecord(table, "decode "+key, err)
	logger.WarnContext(ctx, "skipping corrupt staged row", "table", table, "key", key, "error", err)
	c.items = append(c.items, Corruption{Table: table, Key: key, Err: cerr})
}

// Items returns the skipped rows sorted by table then key.
func (c *Corruptions) Items() []Corruption {
	out := append([]Corruption{}, c.items...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Key < out[j].Key
	})
	return out
}
