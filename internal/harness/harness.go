package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/learnsync/internal/assign"
	"github.com/roach88/learnsync/internal/engine"
	"github.com/roach88/learnsync/internal/forum"
	"github.com/roach88/learnsync/internal/lesson"
	"github.com/roach88/learnsync/internal/offline"
	"github.com/roach88/learnsync/internal/site"
	"github.com/roach88/learnsync/internal/stage"
	"github.com/roach88/learnsync/internal/store"
	"github.com/roach88/learnsync/internal/testutil"
)

// epoch stamps pass results so traces do not depend on wall time.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock and pass ids.
type Harness struct {
	sites  *site.Provider
	repos  stage.Repos
	engine *engine.Engine
	remote *scriptedRemote
	siteID string
	userID int64
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh data directory for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create a data directory with one site
// 2. Wire the repositories and syncers to a scripted remote
// 3. Execute steps with expect validation
// 4. Evaluate assertions
// 5. Return result with pass/fail, trace, and errors
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "learnsync-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()

	reg := store.NewRegistry()
	var tables []store.Table
	tables = append(tables, forum.Tables()...)
	tables = append(tables, lesson.Tables()...)
	tables = append(tables, assign.Tables()...)
	for _, t := range tables {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}

	registry, err := site.OpenRegistry(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer registry.Close()
	stores := store.NewManager(dir, reg)
	defer stores.Close()

	_, err = registry.Add(ctx, site.Site{
		ID:     scenario.Site.ID,
		URL:    "https://" + scenario.Site.ID + ".invalid",
		UserID: scenario.Site.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register site: %w", err)
	}
	sites := site.NewProvider(registry, stores)

	// Suppress logs in tests
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewDeterministicClock()
	repos := stage.Repos{
		Forums:  forum.NewRepository(sites, clock, logger),
		Lessons: lesson.NewRepository(sites, clock, logger),
		Assigns: assign.NewRepository(sites, clock, logger),
	}

	result := NewResult()
	remote := newScriptedRemote(scenario.Remote, result)

	eng := engine.New(sites, []engine.ActivitySyncer{
		forum.NewSyncer(repos.Forums, remote),
		lesson.NewSyncer(repos.Lessons, remote),
		assign.NewSyncer(repos.Assigns, remote),
	},
		engine.WithIDGenerator(testutil.NewSequenceGenerator("pass")),
		engine.WithLogger(logger),
		// One pass at a time keeps remote calls in a stable order.
		engine.WithConcurrency(1),
		engine.WithNow(func() time.Time { return epoch }),
		// Results land in the trace right after the calls of their pass.
		engine.WithOnSettled(result.AddPassTrace),
	)

	h := &Harness{
		sites:  sites,
		repos:  repos,
		engine: eng,
		remote: remote,
		siteID: scenario.Site.ID,
		userID: scenario.Site.UserID,
	}

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{Sites: sites, SiteID: scenario.Site.ID, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeStep runs one step. Mismatches with the step's expect clause are
// recorded on result; only infrastructure failures are returned.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	switch {
	case step.Remote != nil:
		h.remote.setSpec(*step.Remote)
		return nil
	case step.Sync != nil:
		return h.executeSync(ctx, index, step, result)
	default:
		return h.executeStage(ctx, index, step, result)
	}
}

func (h *Harness) executeStage(ctx context.Context, index int, step Step, result *Result) error {
	input, err := yaml.Marshal(step.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}

	var expectErr string
	if step.Expect != nil {
		expectErr = step.Expect.Error
	}

	action, err := stage.Decode(step.Stage, input)
	if err == nil {
		userID := h.userID
		if step.User != 0 {
			userID = step.User
		}
		_, err = action.Stage(ctx, h.repos, offline.Scope{SiteID: h.siteID, UserID: userID})
	}

	switch {
	case err == nil && expectErr != "":
		result.AddError(fmt.Sprintf("steps[%d]: expected stage %s to fail with %q, it succeeded", index, step.Stage, expectErr))
	case err != nil && expectErr == "":
		result.AddError(fmt.Sprintf("steps[%d]: stage %s failed: %v", index, step.Stage, err))
	case err != nil && !strings.Contains(err.Error(), expectErr):
		result.AddError(fmt.Sprintf("steps[%d]: stage %s error %q does not contain %q", index, step.Stage, err, expectErr))
	}
	return nil
}

func (h *Harness) executeSync(ctx context.Context, index int, step Step, result *Result) error {
	var passes []*engine.Result
	if step.Sync.Component != "" {
		key := engine.Key{SiteID: h.siteID, Component: step.Sync.Component, ActivityID: step.Sync.Activity}
		res, err := h.engine.SyncActivity(ctx, key)
		if res == nil {
			return err
		}
		passes = append(passes, res)
	} else {
		results, err := h.engine.SyncSite(ctx, h.siteID)
		if err != nil {
			return err
		}
		passes = results
	}

	if step.Expect != nil {
		for _, msg := range checkExpect(index, step.Expect, passes) {
			result.AddError(msg)
		}
	}
	return nil
}

// checkExpect compares passes against an expect clause.
func checkExpect(index int, expect *ExpectClause, passes []*engine.Result) []string {
	var (
		errs                           []string
		submitted, warnings, discarded int
		stillPending                   bool
	)
	for _, res := range passes {
		submitted += res.Submitted
		warnings += len(res.Warnings)
		discarded += len(res.Discarded)
		stillPending = stillPending || res.StillPending
		if expect.Status != "" && string(res.Status) != expect.Status {
			errs = append(errs, fmt.Sprintf("steps[%d]: %s: expected status %s, got %s", index, res.Key, expect.Status, res.Status))
		}
	}

	checkInt := func(field string, want *int, got int) {
		if want != nil && *want != got {
			errs = append(errs, fmt.Sprintf("steps[%d]: expected %s %d, got %d", index, field, *want, got))
		}
	}
	checkInt("passes", expect.Passes, len(passes))
	checkInt("submitted", expect.Submitted, submitted)
	checkInt("warnings", expect.Warnings, warnings)
	checkInt("discarded", expect.Discarded, discarded)
	if expect.StillPending != nil && *expect.StillPending != stillPending {
		errs = append(errs, fmt.Sprintf("steps[%d]: expected still_pending %t, got %t", index, *expect.StillPending, stillPending))
	}
	return errs
}
