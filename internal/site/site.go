// Package site keeps the list of sites (remote platform instances) the user
// is logged into, and resolves a site id to that site's storage namespace.
package site

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/roach88/learnsync/internal/store"
	"github.com/roach88/learnsync/internal/syncerr"
)

// Site is one remote platform account.
type Site struct {
	ID        string `json:"id" yaml:"id"`
	URL       string `json:"url" yaml:"url"`
	UserID    int64  `json:"user_id" yaml:"user_id"`
	Token     string `json:"-" yaml:"token"`
	CreatedAt int64  `json:"created_at" yaml:"-"`
}

const (
	sitesTable    = "sites"
	appStateTable = "app_state"
	currentKey    = "current_site"
)

var appTables = []store.Table{
	{
		Name: sitesTable,
		Columns: []store.Column{
			{Name: "id", Type: store.Text, NotNull: true},
			{Name: "url", Type: store.Text, NotNull: true},
			{Name: "user_id", Type: store.Integer, NotNull: true},
			{Name: "token", Type: store.Text},
			{Name: "created_at", Type: store.Integer, NotNull: true},
		},
		PrimaryKey: []string{"id"},
	},
	{
		Name: appStateTable,
		Columns: []store.Column{
			{Name: "name", Type: store.Text, NotNull: true},
			{Name: "value", Type: store.Text},
		},
		PrimaryKey: []string{"name"},
	},
}

// Registry persists known sites in the app-level database (<dataDir>/app.db),
// separate from every site namespace.
type Registry struct {
	db  *store.Store
	now func() time.Time
}

// OpenRegistry opens the app database under dataDir.
func OpenRegistry(ctx context.Context, dataDir string, opts ...store.Option) (*Registry, error) {
	reg := store.NewRegistry()
	for _, t := range appTables {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	db, err := store.Open(ctx, filepath.Join(dataDir, "app.db"), reg, opts...)
	if err != nil {
		return nil, fmt.Errorf("open site registry: %w", err)
	}
	return &Registry{db: db, now: time.Now}, nil
}

// Close closes the app database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Add registers a site or replaces its details. The first site added becomes
// the current site.
func (r *Registry) Add(ctx context.Context, s Site) (Site, error) {
	if !store.ValidSiteID(s.ID) {
		return Site{}, fmt.Errorf("add site: invalid site id %q", s.ID)
	}
	if s.URL == "" {
		return Site{}, fmt.Errorf("add site %s: url is required", s.ID)
	}

	if existing, err := r.Get(ctx, s.ID); err == nil {
		s.CreatedAt = existing.CreatedAt
	} else if !syncerr.Is(err, syncerr.CodeSiteNotFound) {
		return Site{}, err
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = r.now().Unix()
	}

	err := r.db.Upsert(ctx, sitesTable, store.Record{
		"id":         s.ID,
		"url":        s.URL,
		"user_id":    s.UserID,
		"token":      s.Token,
		"created_at": s.CreatedAt,
	})
	if err != nil {
		return Site{}, fmt.Errorf("add site %s: %w", s.ID, err)
	}

	if _, err := r.currentID(ctx); syncerr.Is(err, syncerr.CodeSiteNotFound) {
		if err := r.SetCurrent(ctx, s.ID); err != nil {
			return Site{}, err
		}
	}
	return s, nil
}

// Get returns one site, or SiteNotFound.
func (r *Registry) Get(ctx context.Context, id string) (Site, error) {
	rows, err := r.db.Find(ctx, sitesTable, store.Where{"id": id})
	if err != nil {
		return Site{}, fmt.Errorf("get site %s: %w", id, err)
	}
	if len(rows) == 0 {
		return Site{}, syncerr.SiteNotFound(id)
	}
	return fromRecord(rows[0]), nil
}

// List returns every site in the order they were first added.
func (r *Registry) List(ctx context.Context) ([]Site, error) {
	rows, err := r.db.Find(ctx, sitesTable, nil)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	sites := make([]Site, 0, len(rows))
	for _, row := range rows {
		sites = append(sites, fromRecord(row))
	}
	return sites, nil
}

// Remove forgets a site. Removing the current site clears the selection.
func (r *Registry) Remove(ctx context.Context, id string) error {
	n, err := r.db.Delete(ctx, sitesTable, store.Where{"id": id})
	if err != nil {
		return fmt.Errorf("remove site %s: %w", id, err)
	}
	if n == 0 {
		return syncerr.SiteNotFound(id)
	}

	if cur, err := r.currentID(ctx); err == nil && cur == id {
		if _, err := r.db.Delete(ctx, appStateTable, store.Where{"name": currentKey}); err != nil {
			return fmt.Errorf("remove site %s: %w", id, err)
		}
	}
	return nil
}

// SetCurrent selects the site used when callers pass an empty site id.
func (r *Registry) SetCurrent(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	if err := r.db.Upsert(ctx, appStateTable, store.Record{"name": currentKey, "value": id}); err != nil {
		return fmt.Errorf("set current site: %w", err)
	}
	return nil
}

// Current returns the selected site, or SiteNotFound when none is selected.
func (r *Registry) Current(ctx context.Context) (Site, error) {
	id, err := r.currentID(ctx)
	if err != nil {
		return Site{}, err
	}
	return r.Get(ctx, id)
}

func (r *Registry) currentID(ctx context.Context) (string, error) {
	rows, err := r.db.Find(ctx, appStateTable, store.Where{"name": currentKey})
	if err != nil {
		return "", fmt.Errorf("read current site: %w", err)
	}
	if len(rows) == 0 || rows[0].Text("value") == "" {
		e := syncerr.SiteNotFound("")
		e.Message = "no current site selected"
		return "", e
	}
	return rows[0].Text("value"), nil
}

func fromRecord(rec store.Record) Site {
	return Site{
		ID:        rec.Text("id"),
		URL:       rec.Text("url"),
		UserID:    rec.Int("user_id"),
		Token:     rec.Text("token"),
		CreatedAt: rec.Int("created_at"),
	}
}
