package site

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/learnsync/internal/store"
	"github.com/roach88/learnsync/internal/syncerr"
)

func setupProvider(t *testing.T) *Provider {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	sites, err := OpenRegistry(ctx, dir)
	require.NoError(t, err)
	sites.now = func() time.Time { return time.Unix(1700000000, 0) }

	stores := store.NewManager(dir, store.NewRegistry())
	t.Cleanup(func() {
		stores.Close()
		sites.Close()
	})
	return NewProvider(sites, stores)
}

func TestRegistry_FirstSiteBecomesCurrent(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	_, err := p.Sites().Current(ctx)
	assert.True(t, syncerr.Is(err, syncerr.CodeSiteNotFound))

	_, err = p.Sites().Add(ctx, Site{ID: "campus", URL: "https://campus.example", UserID: 7})
	require.NoError(t, err)
	_, err = p.Sites().Add(ctx, Site{ID: "school", URL: "https://school.example", UserID: 3})
	require.NoError(t, err)

	cur, err := p.Sites().Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "campus", cur.ID)
	assert.Equal(t, int64(7), cur.UserID)
	assert.Equal(t, int64(1700000000), cur.CreatedAt)

	require.NoError(t, p.Sites().SetCurrent(ctx, "school"))
	h, err := p.Get(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "school", h.Site.ID)
	assert.Equal(t, "school", h.DB.SiteID())
}

func TestRegistry_AddKeepsCreatedAt(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	_, err := p.Sites().Add(ctx, Site{ID: "campus", URL: "https://old.example", UserID: 7})
	require.NoError(t, err)

	p.Sites().now = func() time.Time { return time.Unix(1800000000, 0) }
	_, err = p.Sites().Add(ctx, Site{ID: "campus", URL: "https://new.example", UserID: 7, Token: "t"})
	require.NoError(t, err)

	s, err := p.Sites().Get(ctx, "campus")
	require.NoError(t, err)
	assert.Equal(t, "https://new.example", s.URL)
	assert.Equal(t, "t", s.Token)
	assert.Equal(t, int64(1700000000), s.CreatedAt)
}

func TestRegistry_Validation(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	_, err := p.Sites().Add(ctx, Site{ID: "../x", URL: "https://x"})
	require.Error(t, err)
	_, err = p.Sites().Add(ctx, Site{ID: "x"})
	require.Error(t, err)

	err = p.Sites().SetCurrent(ctx, "missing")
	assert.True(t, syncerr.Is(err, syncerr.CodeSiteNotFound))

	_, err = p.Get(ctx, "missing")
	assert.True(t, syncerr.Is(err, syncerr.CodeSiteNotFound))
}

func TestProvider_RemoveClearsCurrent(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	_, err := p.Sites().Add(ctx, Site{ID: "a", URL: "https://a"})
	require.NoError(t, err)
	_, err = p.Sites().Add(ctx, Site{ID: "b", URL: "https://b"})
	require.NoError(t, err)

	ids, err := p.SiteIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, p.Remove(ctx, "a"))
	_, err = p.Sites().Current(ctx)
	assert.True(t, syncerr.Is(err, syncerr.CodeSiteNotFound))

	err = p.Remove(ctx, "a")
	assert.True(t, syncerr.Is(err, syncerr.CodeSiteNotFound))

	ids, err = p.SiteIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}
