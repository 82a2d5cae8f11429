package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/learnsync/internal/syncerr"
)

// CodeUnknown marks a failed submission whose error carries no code.
const CodeUnknown syncerr.Code = "UNKNOWN"

// Action is one staged action ready for submission.
type Action struct {
	// Kind names the staged shape ("discussion", "reply", "page_attempt"...).
	Kind string

	// Key is the rendered composite key of the staged row.
	Key string

	// Seq is the sequence key. Actions run in ascending Seq order.
	Seq int64

	// Submit sends the action to the remote service and, on success,
	// removes the staged row before returning.
	Submit func(ctx context.Context) error
}

// Batch is the pass handed to an ActivitySyncer. It submits actions one at
// a time and records the outcome of each in the pass Result.
//
// A Batch belongs to a single pass and is not safe for concurrent use.
type Batch struct {
	key     Key
	passID  string
	logger  *slog.Logger
	timeout time.Duration
	res     *Result
}

// Key returns the sync key of the pass.
func (b *Batch) Key() Key { return b.key }

// PassID returns the id used to correlate this pass in logs.
func (b *Batch) PassID() string { return b.passID }

// Logger returns a logger tagged with the pass.
func (b *Batch) Logger() *slog.Logger { return b.logger }

// Run submits actions in ascending Seq order. Ties keep their given order.
//
// A failed submission is recorded as a warning and the remaining actions
// still run. Run returns early only when ctx is cancelled between two
// submissions or when local storage fails; in both cases the unsubmitted
// actions stay staged.
func (b *Batch) Run(ctx context.Context, actions []Action) error {
	ordered := slices.Clone(actions)
	slices.SortStableFunc(ordered, func(x, y Action) int {
		return cmp.Compare(x.Seq, y.Seq)
	})

	for _, a := range ordered {
		if err := ctx.Err(); err != nil {
			b.res.StillPending = true
			return err
		}

		err := b.submit(ctx, a)
		if err == nil {
			b.res.Submitted++
			b.logger.DebugContext(ctx, "submitted staged action", "kind", a.Kind, "action", a.Key)
			continue
		}
		if syncerr.IsStorage(err) {
			return fmt.Errorf("%s %s: %w", a.Kind, a.Key, err)
		}
		b.Warn(a.Kind, a.Key, err)
	}
	return nil
}

func (b *Batch) submit(ctx context.Context, a Action) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return a.Submit(ctx)
}

// Warn records an action left staged, e.g. a rejected submission or a row
// that no longer decodes.
func (b *Batch) Warn(kind, action string, err error) {
	code := syncerr.CodeOf(err)
	switch {
	case code != "":
	case errors.Is(err, context.DeadlineExceeded):
		code = syncerr.CodeRemoteUnavailable
	default:
		code = CodeUnknown
	}

	b.res.Warnings = append(b.res.Warnings, Warning{
		Kind:    kind,
		Action:  action,
		Code:    code,
		Reason:  syncerr.ReasonOf(err),
		Message: err.Error(),
	})
	b.res.StillPending = true
	b.logger.Warn("staged action left pending", "kind", kind, "action", action, "code", code, "error", err)
}

// Deferred returns the error a Submit func reports when its action depends
// on another action that is still staged.
func Deferred(message string) error {
	return &syncerr.Error{Code: CodeDeferred, Message: message}
}

// Defer records an action skipped because it depends on one still staged.
func (b *Batch) Defer(kind, action, message string) {
	b.Warn(kind, action, Deferred(message))
}

// Discard records a staged action dropped without submission.
func (b *Batch) Discard(kind, action, reason string) {
	b.res.Discarded = append(b.res.Discarded, Discard{Kind: kind, Action: action, Reason: reason})
	b.logger.Warn("discarded staged action", "kind", kind, "action", action, "reason", reason)
}

// MarkPending flags that staged data remains even though no action failed.
func (b *Batch) MarkPending() {
	b.res.StillPending = true
}
