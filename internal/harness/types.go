package harness

import (
	"strconv"

	"github.com/roach88/learnsync/internal/engine"
	"github.com/roach88/learnsync/internal/payload"
)

// Trace event types.
const (
	// EventCall is a call the sync engine made to the remote service.
	EventCall = "call"

	// EventResult is the outcome of one sync pass.
	EventResult = "result"
)

// Call outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeRejected    = "rejected"
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Type string `json:"type"`

	// Action is the remote call ("lesson.process_page") for calls and the
	// sync key ("mod_lesson/5") for results.
	Action string         `json:"action"`
	Args   payload.Object `json:"args"`

	// Outcome is set on calls: ok, unavailable, or rejected:<reason>.
	Outcome string `json:"outcome,omitempty"`
	Seq     int64  `json:"seq"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains every remote call and pass result in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Passes holds the raw result of every sync pass, in order.
	Passes []*engine.Result `json:"passes,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) nextSeq() int64 {
	return int64(len(r.Trace) + 1)
}

// AddCallTrace records a remote call.
func (r *Result) AddCallTrace(action string, args payload.Object, outcome string) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:    EventCall,
		Action:  action,
		Args:    args,
		Outcome: outcome,
		Seq:     r.nextSeq(),
	})
}

// AddPassTrace records the result of a sync pass. Only outcome-relevant
// fields are kept so traces stay stable across runs.
func (r *Result) AddPassTrace(res *engine.Result) {
	r.Passes = append(r.Passes, res)

	warnings := make(payload.Array, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		warnings = append(warnings, payload.String(w.Kind+":"+string(w.Code)))
	}
	discarded := make(payload.Array, 0, len(res.Discarded))
	for _, d := range res.Discarded {
		discarded = append(discarded, payload.String(d.Kind))
	}

	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventResult,
		Action: res.Key.Component + "/" + strconv.FormatInt(res.Key.ActivityID, 10),
		Args: payload.Object{
			"status":        payload.String(res.Status),
			"submitted":     payload.Int(res.Submitted),
			"warnings":      warnings,
			"discarded":     discarded,
			"still_pending": payload.Bool(res.StillPending),
		},
		Seq: r.nextSeq(),
	})
}
