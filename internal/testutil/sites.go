package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/learnsync/internal/site"
	"github.com/roach88/learnsync/internal/store"
)

// DefaultSite is the site NewSiteProvider registers when given none.
var DefaultSite = site.Site{ID: "campus", URL: "https://campus.example", UserID: 7, Token: "secret"}

// NewSiteProvider builds a site provider over a temporary data directory with
// tables registered and sites added. The first site is current. Everything is
// closed when the test ends.
func NewSiteProvider(t testing.TB, tables []store.Table, sites ...site.Site) *site.Provider {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	reg := store.NewRegistry()
	for _, tbl := range tables {
		require.NoError(t, reg.Register(tbl))
	}

	registry, err := site.OpenRegistry(ctx, dir)
	require.NoError(t, err)
	stores := store.NewManager(dir, reg)
	t.Cleanup(func() {
		stores.Close()
		registry.Close()
	})

	if len(sites) == 0 {
		sites = []site.Site{DefaultSite}
	}
	for _, s := range sites {
		_, err := registry.Add(ctx, s)
		require.NoError(t, err)
	}
	return site.NewProvider(registry, stores)
}
