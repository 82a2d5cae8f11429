package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/learnsync/internal/syncerr"
)

type fakeAction struct {
	id    string
	seq   int64
	fail  error
	block chan struct{}
	onRun func()
}

// fakeSyncer keeps staged actions in memory, keyed by site then activity.
type fakeSyncer struct {
	mu        sync.Mutex
	pending   map[string]map[int64][]fakeAction
	enumErr   map[string]error
	submitted []string
	started   chan struct{}
	panicMsg  string
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{
		pending: make(map[string]map[int64][]fakeAction),
		enumErr: make(map[string]error),
		started: make(chan struct{}, 16),
	}
}

func (f *fakeSyncer) stage(site string, activity int64, actions ...fakeAction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending[site] == nil {
		f.pending[site] = make(map[int64][]fakeAction)
	}
	f.pending[site][activity] = append(f.pending[site][activity], actions...)
}

func (f *fakeSyncer) remaining(site string, activity int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, a := range f.pending[site][activity] {
		ids = append(ids, a.id)
	}
	return ids
}

func (f *fakeSyncer) submittedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.submitted)
}

func (f *fakeSyncer) Component() string { return "mod_fake" }

func (f *fakeSyncer) ActivitiesWithPending(_ context.Context, siteID string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enumErr[siteID]; err != nil {
		return nil, err
	}
	var ids []int64
	for id, actions := range f.pending[siteID] {
		if len(actions) > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *fakeSyncer) Sync(ctx context.Context, b *Batch) error {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.started <- struct{}{}

	key := b.Key()
	f.mu.Lock()
	staged := slices.Clone(f.pending[key.SiteID][key.ActivityID])
	f.mu.Unlock()

	actions := make([]Action, 0, len(staged))
	for _, fa := range staged {
		actions = append(actions, Action{
			Kind: "fake",
			Key:  fa.id,
			Seq:  fa.seq,
			Submit: func(ctx context.Context) error {
				if fa.onRun != nil {
					fa.onRun()
				}
				if fa.block != nil {
					select {
					case <-fa.block:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				if fa.fail != nil {
					return fa.fail
				}
				f.mu.Lock()
				defer f.mu.Unlock()
				f.submitted = append(f.submitted, fa.id)
				list := f.pending[key.SiteID][key.ActivityID]
				f.pending[key.SiteID][key.ActivityID] = slices.DeleteFunc(list, func(x fakeAction) bool { return x.id == fa.id })
				return nil
			},
		})
	}
	return b.Run(ctx, actions)
}

type staticSites []string

func (s staticSites) SiteIDs(context.Context) ([]string, error) { return s, nil }

// recordHandler captures log messages so tests can wait on them.
type recordHandler struct {
	mu   sync.Mutex
	msgs []string
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, r.Message)
	return nil
}
func (h *recordHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordHandler) count(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.msgs {
		if m == msg {
			n++
		}
	}
	return n
}

func newTestEngine(f *fakeSyncer, sites []string, opts ...Option) *Engine {
	base := []Option{
		WithLogger(slog.New(&recordHandler{})),
		WithNow(func() time.Time { return time.Unix(0, 0).UTC() }),
	}
	return New(staticSites(sites), []ActivitySyncer{f}, append(base, opts...)...)
}

var fakeKey = Key{SiteID: "s1", Component: "mod_fake", ActivityID: 10}

func TestSyncActivity_SubmitsInSequenceOrder(t *testing.T) {
	f := newFakeSyncer()
	f.stage("s1", 10,
		fakeAction{id: "C", seq: 300},
		fakeAction{id: "A", seq: 100},
		fakeAction{id: "B", seq: 200},
	)
	e := newTestEngine(f, []string{"s1"})

	res, err := e.SyncActivity(context.Background(), fakeKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, f.submittedIDs())
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 3, res.Submitted)
	assert.False(t, res.StillPending)
	assert.Empty(t, res.Warnings)
}

func TestSyncActivity_PartialFailureIsolation(t *testing.T) {
	f := newFakeSyncer()
	f.stage("s1", 10,
		fakeAction{id: "A", seq: 1, fail: syncerr.RemoteRejected("invalidpost", "post is locked")},
		fakeAction{id: "B", seq: 2},
	)
	e := newTestEngine(f, []string{"s1"})

	res, err := e.SyncActivity(context.Background(), fakeKey)
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, f.submittedIDs())
	assert.Equal(t, []string{"A"}, f.remaining("s1", 10))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "A", res.Warnings[0].Action)
	assert.Equal(t, syncerr.CodeRemoteRejected, res.Warnings[0].Code)
	assert.Equal(t, "invalidpost", res.Warnings[0].Reason)
	assert.Equal(t, StatusPartiallyFailed, res.Status)
	assert.True(t, res.StillPending)
}

func TestSyncActivity_AllFailedIsFailed(t *testing.T) {
	f := newFakeSyncer()
	f.stage("s1", 10, fakeAction{id: "A", seq: 1, fail: errors.New("boom")})
	e := newTestEngine(f, []string{"s1"})

	res, err := e.SyncActivity(context.Background(), fakeKey)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, CodeUnknown, res.Warnings[0].Code)
}

func TestSyncActivity_IdempotentDrain(t *testing.T) {
	f := newFakeSyncer()
	f.stage("s1", 10, fakeAction{id: "A", seq: 1}, fakeAction{id: "B", seq: 2})
	e := newTestEngine(f, []string{"s1"})
	ctx := context.Background()

	first, err := e.SyncActivity(ctx, fakeKey)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Submitted)

	second, err := e.SyncActivity(ctx, fakeKey)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Submitted)
	assert.Equal(t, StatusSucceeded, second.Status)
	assert.Len(t, f.submittedIDs(), 2)
}

func TestSyncActivity_ConcurrentCallsCollapse(t *testing.T) {
	f := newFakeSyncer()
	release := make(chan struct{})
	f.stage("s1", 10,
		fakeAction{id: "A", seq: 1, block: release},
		fakeAction{id: "B", seq: 2},
	)
	logs := &recordHandler{}
	e := New(staticSites{"s1"}, []ActivitySyncer{f}, WithLogger(slog.New(logs)), WithIDGenerator(NewFixedGenerator("pass-1")))
	ctx := context.Background()

	type outcome struct {
		res *Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := e.SyncActivity(ctx, fakeKey)
		first <- outcome{res, err}
	}()
	<-f.started

	second := make(chan outcome, 1)
	go func() {
		res, err := e.SyncActivity(ctx, fakeKey)
		second <- outcome{res, err}
	}()
	require.Eventually(t, func() bool { return logs.count("joining running sync pass") == 1 }, time.Second, time.Millisecond)

	close(release)
	a, b := <-first, <-second
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	assert.Same(t, a.res, b.res)
	assert.Equal(t, "pass-1", a.res.PassID)
	assert.Equal(t, []string{"A", "B"}, f.submittedIDs())

	// The lock entry is gone once the pass settles.
	e.mu.Lock()
	assert.Empty(t, e.inflight)
	e.mu.Unlock()
}

func TestSyncActivity_DifferentKeysRunConcurrently(t *testing.T) {
	f := newFakeSyncer()
	release := make(chan struct{})
	f.stage("s1", 10, fakeAction{id: "A", seq: 1, block: release})
	f.stage("s1", 11, fakeAction{id: "B", seq: 1})
	e := newTestEngine(f, []string{"s1"})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.SyncActivity(ctx, fakeKey)
	}()
	<-f.started

	res, err := e.SyncActivity(ctx, Key{SiteID: "s1", Component: "mod_fake", ActivityID: 11})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Submitted)

	close(release)
	<-done
}

func TestSyncActivity_StorageFailureAbortsPass(t *testing.T) {
	f := newFakeSyncer()
	f.stage("s1", 10,
		fakeAction{id: "A", seq: 1},
		fakeAction{id: "B", seq: 2, fail: syncerr.StorageUnavailable("delete reply", errors.New("disk I/O error"))},
		fakeAction{id: "C", seq: 3},
	)
	e := newTestEngine(f, []string{"s1"})

	res, err := e.SyncActivity(context.Background(), fakeKey)
	require.Error(t, err)
	assert.True(t, syncerr.IsStorage(err))
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, res.StillPending)
	assert.Equal(t, []string{"A"}, f.submittedIDs())
}

func TestSyncActivity_CancellationBetweenSubmissions(t *testing.T) {
	f := newFakeSyncer()
	ctx, cancel := context.WithCancel(context.Background())
	f.stage("s1", 10,
		fakeAction{id: "A", seq: 1, onRun: cancel},
		fakeAction{id: "B", seq: 2},
	)
	e := newTestEngine(f, []string{"s1"})

	res, err := e.SyncActivity(ctx, fakeKey)
	require.ErrorIs(t, err, context.Canceled)
	// A was already running when the cancel arrived and completes.
	assert.Equal(t, []string{"A"}, f.submittedIDs())
	assert.Equal(t, []string{"B"}, f.remaining("s1", 10))
	assert.True(t, res.StillPending)
}

func TestSyncActivity_SubmitTimeoutIsUnavailable(t *testing.T) {
	f := newFakeSyncer()
	never := make(chan struct{})
	f.stage("s1", 10,
		fakeAction{id: "A", seq: 1, block: never},
		fakeAction{id: "B", seq: 2},
	)
	e := newTestEngine(f, []string{"s1"}, WithSubmitTimeout(10*time.Millisecond))

	res, err := e.SyncActivity(context.Background(), fakeKey)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, syncerr.CodeRemoteUnavailable, res.Warnings[0].Code)
	assert.Equal(t, []string{"B"}, f.submittedIDs())
}

func TestSyncActivity_UnknownComponent(t *testing.T) {
	e := newTestEngine(newFakeSyncer(), nil)

	_, err := e.SyncActivity(context.Background(), Key{SiteID: "s1", Component: "mod_quiz", ActivityID: 1})
	require.Error(t, err)
}

func TestSyncActivity_PanicBecomesFailure(t *testing.T) {
	f := newFakeSyncer()
	f.panicMsg = "kaboom"
	e := newTestEngine(f, nil)

	res, err := e.SyncActivity(context.Background(), fakeKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, StatusFailed, res.Status)

	e.mu.Lock()
	assert.Empty(t, e.inflight)
	e.mu.Unlock()
}

func TestSyncSite_RunsEveryPendingActivity(t *testing.T) {
	f := newFakeSyncer()
	f.stage("s1", 12, fakeAction{id: "X", seq: 1})
	f.stage("s1", 10, fakeAction{id: "Y", seq: 1})
	e := newTestEngine(f, []string{"s1"}, WithConcurrency(2))

	results, err := e.SyncSite(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(10), results[0].Key.ActivityID)
	assert.Equal(t, int64(12), results[1].Key.ActivityID)
	assert.ElementsMatch(t, []string{"X", "Y"}, f.submittedIDs())
}

func TestSyncSite_OnSettledFollowsEachPass(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(ev string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	f := newFakeSyncer()
	f.stage("s1", 10, fakeAction{id: "X", seq: 1, onRun: func() { record("submit X") }})
	f.stage("s1", 12, fakeAction{id: "Y", seq: 1, onRun: func() { record("submit Y") }})
	e := newTestEngine(f, []string{"s1"},
		WithConcurrency(1),
		WithOnSettled(func(res *Result) {
			record(fmt.Sprintf("settled %d %s", res.Key.ActivityID, res.Status))
		}),
	)

	_, err := e.SyncSite(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"submit X", "settled 10 succeeded",
		"submit Y", "settled 12 succeeded",
	}, events)
}

func TestSyncAllSites_IsolatesEnumerationFailures(t *testing.T) {
	f := newFakeSyncer()
	f.stage("good", 1, fakeAction{id: "A", seq: 1})
	f.enumErr["bad"] = syncerr.StorageUnavailable("open site db", errors.New("locked"))
	e := newTestEngine(f, []string{"bad", "good"})

	reports, err := e.SyncAllSites(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Contains(t, reports["bad"].Error, "STORAGE_UNAVAILABLE")
	require.Len(t, reports["good"].Results, 1)
	assert.Equal(t, 1, reports["good"].Results[0].Submitted)
}

func TestPending(t *testing.T) {
	f := newFakeSyncer()
	f.stage("s1", 3, fakeAction{id: "A", seq: 1})
	e := newTestEngine(f, nil)

	keys, err := e.Pending(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []Key{{SiteID: "s1", Component: "mod_fake", ActivityID: 3}}, keys)
	assert.Equal(t, "s1/mod_fake/3", keys[0].String())
}

func TestNew_DuplicateComponentPanics(t *testing.T) {
	f := newFakeSyncer()
	assert.Panics(t, func() {
		New(staticSites{}, []ActivitySyncer{f, f})
	})
}

func TestBatch_DeferAndDiscard(t *testing.T) {
	res := &Result{Warnings: []Warning{}}
	b := &Batch{logger: slog.New(&recordHandler{}), res: res}

	b.Defer("reply", "postid=-5", "discussion is still staged")
	b.Discard("page_attempt", "pageid=3", "retake 1 is over")
	res.settle(nil)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, CodeDeferred, res.Warnings[0].Code)
	require.Len(t, res.Discarded, 1)
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, res.StillPending)
}

func TestResult_OnlyUnavailable(t *testing.T) {
	unavailable := Warning{Code: syncerr.CodeRemoteUnavailable}
	rejected := Warning{Code: syncerr.CodeRemoteRejected}

	assert.True(t, (&Result{Warnings: []Warning{unavailable}}).OnlyUnavailable())
	assert.False(t, (&Result{Warnings: []Warning{unavailable, rejected}}).OnlyUnavailable())
	assert.False(t, (&Result{Warnings: []Warning{unavailable}, Submitted: 1}).OnlyUnavailable())
	assert.False(t, (&Result{}).OnlyUnavailable())
}

func ExampleKey_String() {
	fmt.Println(Key{SiteID: "campus", Component: "mod_forum", ActivityID: 42})
	// Output: campus/mod_forum/42
}

func TestWarningMessageCarriesCause(t *testing.T) {
	f := newFakeSyncer()
	f.stage("s1", 10, fakeAction{id: "A", seq: 1, fail: syncerr.RemoteUnavailable("call mod_forum_add_discussion", errors.New("connection refused"))})
	e := newTestEngine(f, nil)

	res, err := e.SyncActivity(context.Background(), fakeKey)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.True(t, strings.Contains(res.Warnings[0].Message, "connection refused"))
	assert.True(t, res.OnlyUnavailable())
}
