package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SitesAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir(), NewRegistry())
	t.Cleanup(func() { m.Close() })
	require.NoError(t, m.RegisterSchema(retakesTable))

	a, err := m.Site(ctx, "site-a")
	require.NoError(t, err)
	b, err := m.Site(ctx, "site-b")
	require.NoError(t, err)

	require.NoError(t, a.Upsert(ctx, "retakes", Record{"lessonid": 1, "retake": 1}))

	rows, err := b.Find(ctx, "retakes", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	again, err := m.Site(ctx, "site-a")
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.Equal(t, "site-a", a.SiteID())
}

func TestManager_SchemaRegisteredAfterOpen(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir(), NewRegistry())
	t.Cleanup(func() { m.Close() })

	s, err := m.Site(ctx, "site-a")
	require.NoError(t, err)

	require.NoError(t, m.RegisterSchema(repliesTable))
	require.NoError(t, s.Upsert(ctx, "replies", Record{"postid": 1, "userid": 1, "timecreated": 1}))

	n, err := s.Count(ctx, "replies", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestManager_RejectsUnsafeSiteIDs(t *testing.T) {
	m := NewManager(t.TempDir(), NewRegistry())
	t.Cleanup(func() { m.Close() })

	for _, id := range []string{"", "../etc", "a/b", ".hidden"} {
		_, err := m.Site(context.Background(), id)
		assert.Error(t, err, id)
	}
}

func TestManager_Drop(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := NewManager(dir, NewRegistry())
	t.Cleanup(func() { m.Close() })

	_, err := m.Site(ctx, "gone")
	require.NoError(t, err)
	require.NoError(t, m.Drop("gone"))

	_, err = os.Stat(filepath.Join(dir, "sites", "gone.db"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, m.Drop("never-opened"))
}

func TestManager_ClosedRefusesSites(t *testing.T) {
	m := NewManager(t.TempDir(), NewRegistry())
	require.NoError(t, m.Close())

	_, err := m.Site(context.Background(), "site-a")
	require.Error(t, err)
}
