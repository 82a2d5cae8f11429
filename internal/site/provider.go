package site

import (
	"context"
	"fmt"

	"github.com/roach88/learnsync/internal/store"
)

// Handle is a resolved site together with its storage namespace.
type Handle struct {
	Site Site
	DB   *store.Store
}

// Provider resolves site ids to handles. An empty id means the current site.
type Provider struct {
	sites  *Registry
	stores *store.Manager
}

// NewProvider wires the site registry to the per-site stores.
func NewProvider(sites *Registry, stores *store.Manager) *Provider {
	return &Provider{sites: sites, stores: stores}
}

// Sites returns the underlying registry.
func (p *Provider) Sites() *Registry {
	return p.sites
}

// Stores returns the per-site store manager.
func (p *Provider) Stores() *store.Manager {
	return p.stores
}

// Get resolves siteID ("" for the current site) and opens its store.
func (p *Provider) Get(ctx context.Context, siteID string) (*Handle, error) {
	var (
		s   Site
		err error
	)
	if siteID == "" {
		s, err = p.sites.Current(ctx)
	} else {
		s, err = p.sites.Get(ctx, siteID)
	}
	if err != nil {
		return nil, err
	}

	db, err := p.stores.Site(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("open site %s: %w", s.ID, err)
	}
	return &Handle{Site: s, DB: db}, nil
}

// SiteIDs lists every known site.
func (p *Provider) SiteIDs(ctx context.Context) ([]string, error) {
	sites, err := p.sites.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(sites))
	for i, s := range sites {
		ids[i] = s.ID
	}
	return ids, nil
}

// Remove forgets a site and deletes its staged data.
func (p *Provider) Remove(ctx context.Context, siteID string) error {
	if err := p.sites.Remove(ctx, siteID); err != nil {
		return err
	}
	return p.stores.Drop(siteID)
}
