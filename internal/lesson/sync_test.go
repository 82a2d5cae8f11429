package lesson

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/learnsync/internal/engine"
	"github.com/roach88/learnsync/internal/syncerr"
)

type fakeRemote struct {
	mu         sync.Mutex
	current    int64
	currentErr error
	rejectPage map[int64]error
	calls      []string
}

func newFakeRemote(current int64) *fakeRemote {
	return &fakeRemote{current: current, rejectPage: make(map[int64]error)}
}

func (f *fakeRemote) CurrentRetake(context.Context, string, int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.currentErr
}

func (f *fakeRemote) ProcessPage(_ context.Context, _ string, a PageAttempt, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.rejectPage[a.PageID]; err != nil {
		return err
	}
	f.calls = append(f.calls, fmt.Sprintf("page:%d:retake=%d", a.PageID, a.Retake))
	return nil
}

func (f *fakeRemote) FinishRetake(_ context.Context, _ string, r Retake, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("finish:retake=%d:outoftime=%t", r.Retake, r.OutOfTime))
	return nil
}

func (f *fakeRemote) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func setupSync(t *testing.T, current int64) (*Repository, *fakeRemote, *engine.Engine) {
	t.Helper()
	repo, sites := setupRepo(t)
	remote := newFakeRemote(current)
	e := engine.New(sites, []engine.ActivitySyncer{NewSyncer(repo, remote)})
	return repo, remote, e
}

var lessonKey = engine.Key{SiteID: "campus", Component: Component, ActivityID: 5}

func TestSync_AttemptsThenFinish(t *testing.T) {
	repo, remote, e := setupSync(t, 1)
	ctx := context.Background()

	for _, p := range []Page{question(1), structure(2), question(3)} {
		_, err := repo.ProcessPage(ctx, 5, Answer{CourseID: 2, Retake: 1, Page: p}, "")
		require.NoError(t, err)
	}
	_, err := repo.FinishRetake(ctx, 5, 2, 1, true, false, "")
	require.NoError(t, err)

	res, err := e.SyncActivity(ctx, lessonKey)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSucceeded, res.Status)
	assert.Equal(t, 4, res.Submitted)
	assert.False(t, res.StillPending)
	assert.Equal(t, []string{
		"page:1:retake=1",
		"page:2:retake=1",
		"page:3:retake=1",
		"finish:retake=1:outoftime=false",
	}, remote.callList())

	has, err := repo.HasOfflineData(ctx, 5, "")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSync_StaleAttemptsAreDiscarded(t *testing.T) {
	repo, remote, e := setupSync(t, 2)
	ctx := context.Background()

	_, err := repo.ProcessPage(ctx, 5, Answer{Retake: 1, Page: structure(1)}, "")
	require.NoError(t, err)
	_, err = repo.ProcessPage(ctx, 5, Answer{Retake: 2, Page: structure(2)}, "")
	require.NoError(t, err)
	_, err = repo.FinishRetake(ctx, 5, 0, 1, true, false, "")
	require.NoError(t, err)

	res, err := e.SyncActivity(ctx, lessonKey)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Submitted)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Discarded, 2)
	assert.Equal(t, KindPageAttempt, res.Discarded[0].Kind)
	assert.Equal(t, KindRetake, res.Discarded[1].Kind)
	assert.Equal(t, "staged for retake 1, current retake is 2", res.Discarded[1].Reason)
	assert.Equal(t, []string{"page:2:retake=2"}, remote.callList())

	has, err := repo.HasOfflineData(ctx, 5, "")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSync_FinishWaitsForRejectedAttempt(t *testing.T) {
	repo, remote, e := setupSync(t, 1)
	ctx := context.Background()
	remote.rejectPage[2] = syncerr.RemoteRejected("invalidanswer", "answer rejected")

	_, err := repo.ProcessPage(ctx, 5, Answer{Retake: 1, Page: structure(1)}, "")
	require.NoError(t, err)
	_, err = repo.ProcessPage(ctx, 5, Answer{Retake: 1, Page: structure(2)}, "")
	require.NoError(t, err)
	_, err = repo.FinishRetake(ctx, 5, 0, 1, true, false, "")
	require.NoError(t, err)

	res, err := e.SyncActivity(ctx, lessonKey)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPartiallyFailed, res.Status)
	assert.Equal(t, 1, res.Submitted)
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, syncerr.CodeRemoteRejected, res.Warnings[0].Code)
	assert.Equal(t, engine.CodeDeferred, res.Warnings[1].Code)
	assert.Equal(t, KindRetake, res.Warnings[1].Kind)

	finished, err := repo.HasFinishedRetake(ctx, 5, "")
	require.NoError(t, err)
	assert.True(t, finished)

	delete(remote.rejectPage, 2)
	res, err = e.SyncActivity(ctx, lessonKey)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Submitted)
	assert.Equal(t, []string{
		"page:1:retake=1",
		"page:2:retake=1",
		"finish:retake=1:outoftime=false",
	}, remote.callList())
}

func TestSync_UnfinishedRetakeIsClearedOnceDrained(t *testing.T) {
	repo, remote, e := setupSync(t, 1)
	ctx := context.Background()

	_, err := repo.ProcessPage(ctx, 5, Answer{Retake: 1, Page: question(1)}, "")
	require.NoError(t, err)

	res, err := e.SyncActivity(ctx, lessonKey)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, []string{"page:1:retake=1"}, remote.callList())

	has, err := repo.HasOfflineData(ctx, 5, "")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSync_RemoteUnavailableKeepsEverything(t *testing.T) {
	repo, remote, e := setupSync(t, 1)
	ctx := context.Background()
	remote.currentErr = syncerr.RemoteUnavailable("campus", assert.AnError)

	_, err := repo.ProcessPage(ctx, 5, Answer{Retake: 1, Page: structure(1)}, "")
	require.NoError(t, err)

	res, err := e.SyncActivity(ctx, lessonKey)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, res.Status)
	assert.True(t, res.OnlyUnavailable())
	assert.Empty(t, remote.callList())

	has, err := repo.HasRetakeAttempts(ctx, 5, 1, "")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestSync_ActivitiesWithPending(t *testing.T) {
	repo, remote, _ := setupSync(t, 1)
	ctx := context.Background()
	s := NewSyncer(repo, remote)

	_, err := repo.FinishRetake(ctx, 9, 1, 1, true, false, "")
	require.NoError(t, err)
	_, err = repo.ProcessPage(ctx, 5, Answer{Retake: 1, Page: structure(1)}, "")
	require.NoError(t, err)

	ids, err := s.ActivitiesWithPending(ctx, "campus")
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 9}, ids)
	assert.Equal(t, Component, s.Component())
}
