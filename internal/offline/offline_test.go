package offline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/learnsync/internal/site"
	"github.com/roach88/learnsync/internal/store"
	"github.com/roach88/learnsync/internal/syncerr"
)

func TestSystemClock_StrictlyIncreasing(t *testing.T) {
	frozen := time.UnixMilli(5000)
	c := &SystemClock{now: func() time.Time { return frozen }}

	assert.Equal(t, int64(5000), c.Now())
	assert.Equal(t, int64(5001), c.Now())
	assert.Equal(t, int64(5002), c.Now())
}

func TestSystemClock_Concurrent(t *testing.T) {
	c := NewSystemClock()

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				v := c.Now()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1000)
}

type stubSites struct {
	handle *site.Handle
	err    error
	asked  string
}

func (s *stubSites) Get(_ context.Context, id string) (*site.Handle, error) {
	s.asked = id
	return s.handle, s.err
}

func TestResolve_DefaultsUser(t *testing.T) {
	sites := &stubSites{handle: &site.Handle{Site: site.Site{ID: "campus", UserID: 7}}}

	r, err := Resolve(context.Background(), sites, Scope{})
	require.NoError(t, err)
	assert.Equal(t, "", sites.asked)
	assert.Equal(t, "campus", r.SiteID)
	assert.Equal(t, int64(7), r.UserID)

	r, err = Resolve(context.Background(), sites, Scope{SiteID: "campus", UserID: 9})
	require.NoError(t, err)
	assert.Equal(t, "campus", sites.asked)
	assert.Equal(t, int64(9), r.UserID)
}

func TestResolve_PropagatesSiteErrors(t *testing.T) {
	sites := &stubSites{err: syncerr.SiteNotFound("nope")}

	_, err := Resolve(context.Background(), sites, Scope{SiteID: "nope"})
	assert.True(t, syncerr.Is(err, syncerr.CodeSiteNotFound))
}

func TestCorruptions(t *testing.T) {
	var c Corruptions
	ctx := context.Background()

	rec := store.Record{"postid": int64(5), "userid": int64(2)}
	c.Add(ctx, nil, "forum_replies", KeyString(rec, "postid", "userid"), errors.New("unexpected EOF"))
	c.Add(ctx, nil, "forum_discussions", "forumid=1", errors.New("bad"))

	items := c.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "forum_discussions", items[0].Table)
	assert.Equal(t, "postid=5,userid=2", items[1].Key)
	assert.True(t, syncerr.Is(items[1], syncerr.CodeCorruptRecord))
	assert.Contains(t, items[1].Error(), "forum_replies[postid=5,userid=2]")
}
