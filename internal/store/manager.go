package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/roach88/learnsync/internal/syncerr"
)

var siteIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidSiteID reports whether id can name a storage namespace.
func ValidSiteID(id string) bool {
	return siteIDRe.MatchString(id)
}

// Manager owns one Store per site, each in its own file under
// <dir>/sites/<siteID>.db. Stores are opened lazily and kept open until Close.
type Manager struct {
	dir  string
	reg  *Registry
	opts []Option

	mu     sync.Mutex
	stores map[string]*Store
	closed bool
}

// NewManager returns a manager rooted at dir. reg is shared by every site.
func NewManager(dir string, reg *Registry, opts ...Option) *Manager {
	return &Manager{
		dir:    dir,
		reg:    reg,
		opts:   opts,
		stores: make(map[string]*Store),
	}
}

// Registry returns the schema registry shared by all sites.
func (m *Manager) Registry() *Registry {
	return m.reg
}

// RegisterSchema declares a table for every site. Sites already open create
// the table on their next access to it.
func (m *Manager) RegisterSchema(t Table) error {
	return m.reg.Register(t)
}

// Site returns the store for siteID, opening it on first use.
func (m *Manager) Site(ctx context.Context, siteID string) (*Store, error) {
	if !ValidSiteID(siteID) {
		return nil, fmt.Errorf("invalid site id %q", siteID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, syncerr.StorageUnavailable("store manager is closed", nil)
	}
	if s, ok := m.stores[siteID]; ok {
		return s, nil
	}

	dir := filepath.Join(m.dir, "sites")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErr(siteID, "create site directory", err)
	}

	opts := append(append([]Option{}, m.opts...), WithSiteID(siteID))
	s, err := Open(ctx, filepath.Join(dir, siteID+".db"), m.reg, opts...)
	if err != nil {
		return nil, err
	}
	m.stores[siteID] = s
	return s, nil
}

// Drop closes and deletes the storage of one site.
func (m *Manager) Drop(siteID string) error {
	if !ValidSiteID(siteID) {
		return fmt.Errorf("invalid site id %q", siteID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[siteID]; ok {
		s.Close()
		delete(m.stores, siteID)
	}
	base := filepath.Join(m.dir, "sites", siteID+".db")
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(base + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return storageErr(siteID, "remove site database", err)
		}
	}
	return nil
}

// Close closes every open store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, s := range m.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close site %s: %w", id, err))
		}
	}
	m.stores = make(map[string]*Store)
	m.closed = true
	return errors.Join(errs...)
}
