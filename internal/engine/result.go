package engine

import (
	"fmt"
	"time"

	"github.com/roach88/learnsync/internal/syncerr"
)

// Key identifies one sync unit: an activity of a component on a site.
type Key struct {
	SiteID     string `json:"site_id"`
	Component  string `json:"component"`
	ActivityID int64  `json:"activity_id"`
}

// String renders the key as "site/component/activity".
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.SiteID, k.Component, k.ActivityID)
}

// Status is the terminal state of a pass.
type Status string

const (
	// StatusSucceeded means every staged action was submitted.
	StatusSucceeded Status = "succeeded"

	// StatusPartiallyFailed means some actions were submitted and some were
	// left staged.
	StatusPartiallyFailed Status = "partially_failed"

	// StatusFailed means nothing was submitted and something was left
	// staged, or the pass itself aborted.
	StatusFailed Status = "failed"
)

// CodeDeferred marks an action skipped because it depends on another action
// that is still staged.
const CodeDeferred syncerr.Code = "DEFERRED"

// Warning reports one action that was not submitted.
type Warning struct {
	Kind    string       `json:"kind"`
	Action  string       `json:"action"`
	Code    syncerr.Code `json:"code"`
	Reason  string       `json:"reason,omitempty"`
	Message string       `json:"message"`
}

// Discard reports a staged action dropped without submission because it can
// never be submitted (e.g. it belongs to an attempt the server has closed).
type Discard struct {
	Kind   string `json:"kind"`
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// Result aggregates one pass.
type Result struct {
	Key          Key       `json:"key"`
	PassID       string    `json:"pass_id"`
	Status       Status    `json:"status"`
	Submitted    int       `json:"submitted"`
	Warnings     []Warning `json:"warnings"`
	Discarded    []Discard `json:"discarded,omitempty"`
	StillPending bool      `json:"still_pending"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// OnlyUnavailable reports whether every warning is a RemoteUnavailable one
// and nothing got through, i.e. the remote looked offline for this pass.
func (r *Result) OnlyUnavailable() bool {
	if r == nil || r.Submitted > 0 || len(r.Warnings) == 0 {
		return false
	}
	for _, w := range r.Warnings {
		if w.Code != syncerr.CodeRemoteUnavailable {
			return false
		}
	}
	return true
}

func (r *Result) settle(err error) {
	switch {
	case err != nil:
		r.Status = StatusFailed
		r.Error = err.Error()
		r.StillPending = true
	case len(r.Warnings) == 0:
		r.Status = StatusSucceeded
	case r.Submitted > 0:
		r.Status = StatusPartiallyFailed
	default:
		r.Status = StatusFailed
	}
	if len(r.Warnings) > 0 {
		r.StillPending = true
	}
}

// SiteReport is the outcome of syncing one site.
type SiteReport struct {
	Results []*Result `json:"results"`
	Error   string    `json:"error,omitempty"`
}
