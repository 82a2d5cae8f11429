package assign

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/learnsync/internal/engine"
	"github.com/roach88/learnsync/internal/offline"
	"github.com/roach88/learnsync/internal/payload"
	"github.com/roach88/learnsync/internal/site"
	"github.com/roach88/learnsync/internal/store"
	"github.com/roach88/learnsync/internal/syncerr"
	"github.com/roach88/learnsync/internal/testutil"
)

func setupRepo(t *testing.T) (*Repository, *site.Provider) {
	t.Helper()
	sites := testutil.NewSiteProvider(t, Tables())
	return NewRepository(sites, testutil.NewDeterministicClockAt(1000), nil), sites
}

func TestSaveDraft_Overwrites(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	_, err := repo.SaveDraft(ctx, 4, 30, PluginComments, CommentsDraft("first"), offline.Scope{})
	require.NoError(t, err)
	d, err := repo.SaveDraft(ctx, 4, 30, PluginComments, CommentsDraft("second"), offline.Scope{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), d.GraderID)
	assert.Equal(t, int64(1002), d.TimeModified)

	got, err := repo.Draft(ctx, 4, 30, PluginComments, offline.Scope{})
	require.NoError(t, err)
	assert.Equal(t, d, got)
	assert.Equal(t, "second", CommentsText(got))
	assert.Equal(t, payload.Int(FormatHTML), got.Data["format"])

	list, _, err := repo.Drafts(ctx, 4, offline.Scope{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSaveDraft_RequiresPlugin(t *testing.T) {
	repo, _ := setupRepo(t)

	_, err := repo.SaveDraft(context.Background(), 4, 30, "", nil, offline.Scope{})
	assert.Error(t, err)
}

func TestDraft_NotFound(t *testing.T) {
	repo, _ := setupRepo(t)

	_, err := repo.Draft(context.Background(), 4, 30, PluginComments, offline.Scope{})
	assert.True(t, syncerr.Is(err, syncerr.CodeNotFound))
}

func TestDrafts_ScopedByGrader(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	_, err := repo.SaveDraft(ctx, 4, 30, PluginComments, CommentsDraft("mine"), offline.Scope{})
	require.NoError(t, err)
	_, err = repo.SaveDraft(ctx, 4, 31, "editpdf", nil, offline.Scope{})
	require.NoError(t, err)
	_, err = repo.SaveDraft(ctx, 4, 30, PluginComments, CommentsDraft("theirs"), offline.Scope{UserID: 99})
	require.NoError(t, err)
	_, err = repo.SaveDraft(ctx, 9, 30, PluginComments, nil, offline.Scope{UserID: 99})
	require.NoError(t, err)

	mine, _, err := repo.Drafts(ctx, 4, offline.Scope{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	student, _, err := repo.StudentDrafts(ctx, 4, 30, offline.Scope{})
	require.NoError(t, err)
	require.Len(t, student, 1)
	assert.Equal(t, "mine", CommentsText(student[0]))

	has, err := repo.HasDrafts(ctx, 9, offline.Scope{})
	require.NoError(t, err)
	assert.False(t, has)

	ids, err := repo.AssignmentsWithDrafts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, ids)

	require.NoError(t, repo.RemoveDraft(ctx, 4, 31, "editpdf", offline.Scope{}))
	require.NoError(t, repo.RemoveDraft(ctx, 4, 31, "editpdf", offline.Scope{}))
	mine, _, err = repo.Drafts(ctx, 4, offline.Scope{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestPluginField(t *testing.T) {
	assert.Equal(t, CommentsField, PluginField(PluginComments))
	assert.Equal(t, "assignfeedback_editpdf", PluginField("editpdf"))
}

type fakeRemote struct {
	mu     sync.Mutex
	sent   []Feedback
	keys   []string
	reject map[int64]error
}

func (f *fakeRemote) SaveFeedback(_ context.Context, _ string, fb Feedback, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reject[fb.UserID]; err != nil {
		return err
	}
	f.sent = append(f.sent, fb)
	f.keys = append(f.keys, key)
	return nil
}

func setupSync(t *testing.T) (*Repository, *site.Provider, *fakeRemote, *engine.Engine) {
	t.Helper()
	repo, sites := setupRepo(t)
	remote := &fakeRemote{reject: make(map[int64]error)}
	e := engine.New(sites, []engine.ActivitySyncer{NewSyncer(repo, remote)})
	return repo, sites, remote, e
}

var assignKey = engine.Key{SiteID: "campus", Component: Component, ActivityID: 4}

func TestSync_CombinesPluginsPerStudent(t *testing.T) {
	repo, _, remote, e := setupSync(t)
	ctx := context.Background()

	_, err := repo.SaveDraft(ctx, 4, 31, PluginComments, CommentsDraft("b"), offline.Scope{})
	require.NoError(t, err)
	_, err = repo.SaveDraft(ctx, 4, 30, PluginComments, CommentsDraft("a"), offline.Scope{})
	require.NoError(t, err)
	_, err = repo.SaveDraft(ctx, 4, 30, "editpdf", payload.Object{"pages": payload.Int(2)}, offline.Scope{})
	require.NoError(t, err)

	res, err := e.SyncActivity(ctx, assignKey)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSucceeded, res.Status)
	assert.Equal(t, 2, res.Submitted)

	require.Len(t, remote.sent, 2)
	assert.Equal(t, int64(31), remote.sent[0].UserID)
	assert.Equal(t, int64(30), remote.sent[1].UserID)
	assert.Equal(t, int64(1003), remote.sent[1].TimeModified)
	assert.Equal(t, payload.Object{
		CommentsField:            CommentsDraft("a"),
		"assignfeedback_editpdf": payload.Object{"pages": payload.Int(2)},
	}, remote.sent[1].PluginData)

	want, err := remote.sent[1].Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, want, remote.keys[1])

	has, err := repo.HasDrafts(ctx, 4, offline.Scope{})
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSync_RejectedStudentKeepsDrafts(t *testing.T) {
	repo, _, remote, e := setupSync(t)
	ctx := context.Background()
	remote.reject[30] = syncerr.RemoteRejected("nopermission", "cannot grade")

	_, err := repo.SaveDraft(ctx, 4, 30, PluginComments, CommentsDraft("a"), offline.Scope{})
	require.NoError(t, err)
	_, err = repo.SaveDraft(ctx, 4, 31, PluginComments, CommentsDraft("b"), offline.Scope{})
	require.NoError(t, err)

	res, err := e.SyncActivity(ctx, assignKey)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPartiallyFailed, res.Status)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, fmt.Sprintf("assignid=%d,userid=%d", 4, 30), res.Warnings[0].Action)
	assert.Equal(t, "nopermission", res.Warnings[0].Reason)

	left, _, err := repo.StudentDrafts(ctx, 4, 30, offline.Scope{})
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestSync_CorruptDraftIsReported(t *testing.T) {
	repo, sites, _, e := setupSync(t)
	ctx := context.Background()

	h, err := sites.Get(ctx, "")
	require.NoError(t, err)
	require.NoError(t, h.DB.Upsert(ctx, DraftsTable, store.Record{
		"assignid": 4, "userid": 30, "plugin": "comments", "graderid": 7, "data": "{",
	}))

	res, err := e.SyncActivity(ctx, assignKey)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, res.Status)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, syncerr.CodeCorruptRecord, res.Warnings[0].Code)
	assert.Equal(t, "assignid=4,userid=30,plugin=comments,graderid=7", res.Warnings[0].Action)

	has, err := repo.HasDrafts(ctx, 4, offline.Scope{})
	require.NoError(t, err)
	assert.True(t, has)
}
