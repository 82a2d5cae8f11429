package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/learnsync/internal/engine"
	"github.com/roach88/learnsync/internal/syncerr"
)

type stubEngine struct {
	keys    []engine.Key
	lastKey engine.Key
	allRuns int
}

func (s *stubEngine) SyncAllSites(context.Context) (map[string]engine.SiteReport, error) {
	s.allRuns++
	return map[string]engine.SiteReport{"campus": {Results: []*engine.Result{}}}, nil
}

func (s *stubEngine) SyncSite(_ context.Context, siteID string) ([]*engine.Result, error) {
	if siteID != "campus" {
		return nil, syncerr.SiteNotFound(siteID)
	}
	return []*engine.Result{{Status: engine.StatusSucceeded, Submitted: 2}}, nil
}

func (s *stubEngine) SyncActivity(_ context.Context, key engine.Key) (*engine.Result, error) {
	s.lastKey = key
	if key.Component != "mod_forum" {
		return nil, fmt.Errorf("sync %s: %w", key, engine.ErrUnknownComponent)
	}
	return &engine.Result{Key: key, Status: engine.StatusSucceeded, Submitted: 1}, nil
}

func (s *stubEngine) Pending(_ context.Context, siteID string) ([]engine.Key, error) {
	if siteID != "campus" {
		return nil, fmt.Errorf("list pending: %w", syncerr.SiteNotFound(siteID))
	}
	return s.keys, nil
}

type countingTrigger struct{ n int }

func (c *countingTrigger) Trigger() { c.n++ }

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealthz(t *testing.T) {
	h := NewServer(&stubEngine{}, nil, nil).Router()

	rec, body := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
}

func TestSyncAll(t *testing.T) {
	e := &stubEngine{}
	h := NewServer(e, nil, nil).Router()

	rec, body := do(t, h, http.MethodPost, "/sync")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["sites"], "campus")
	assert.Equal(t, 1, e.allRuns)
}

func TestConnectivity_TriggersScheduler(t *testing.T) {
	e := &stubEngine{}
	trig := &countingTrigger{}
	h := NewServer(e, trig, nil).Router()

	rec, _ := do(t, h, http.MethodPost, "/connectivity")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, trig.n)
	assert.Zero(t, e.allRuns)
}

func TestConnectivity_WithoutSchedulerSyncsInline(t *testing.T) {
	e := &stubEngine{}
	h := NewServer(e, nil, nil).Router()

	rec, _ := do(t, h, http.MethodPost, "/connectivity")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, e.allRuns)
}

func TestSyncSite(t *testing.T) {
	h := NewServer(&stubEngine{}, nil, nil).Router()

	rec, body := do(t, h, http.MethodPost, "/sites/campus/sync")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["results"], 1)

	rec, _ = do(t, h, http.MethodPost, "/sites/elsewhere/sync")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncActivity(t *testing.T) {
	e := &stubEngine{}
	h := NewServer(e, nil, nil).Router()

	rec, body := do(t, h, http.MethodPost, "/sites/campus/mod_forum/3/sync")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "succeeded", body["status"])
	assert.Equal(t, engine.Key{SiteID: "campus", Component: "mod_forum", ActivityID: 3}, e.lastKey)

	rec, _ = do(t, h, http.MethodPost, "/sites/campus/mod_quiz/3/sync")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/sites/campus/mod_forum/abc/sync")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPending(t *testing.T) {
	e := &stubEngine{}
	h := NewServer(e, nil, nil).Router()

	rec, body := do(t, h, http.MethodGet, "/sites/campus/pending")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["pending"])

	e.keys = []engine.Key{{SiteID: "campus", Component: "mod_lesson", ActivityID: 5}}
	_, body = do(t, h, http.MethodGet, "/sites/campus/pending")
	require.Len(t, body["pending"], 1)

	rec, body = do(t, h, http.MethodGet, "/sites/elsewhere/pending")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body, "error")
}
