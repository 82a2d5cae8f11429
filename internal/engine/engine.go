package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ActivitySyncer drains the staged actions of one component (forum, lesson,
// assignment...). Implementations live next to their repositories.
type ActivitySyncer interface {
	// Component names the activity type, e.g. "mod_forum".
	Component() string

	// ActivitiesWithPending lists activity ids on siteID that have staged
	// data, in ascending id order.
	ActivitiesWithPending(ctx context.Context, siteID string) ([]int64, error)

	// Sync runs one pass for b.Key(). Failures of single actions are recorded
	// on the batch; a returned error aborts the pass.
	Sync(ctx context.Context, b *Batch) error
}

// SiteLister enumerates known sites. *site.Provider implements it.
type SiteLister interface {
	SiteIDs(ctx context.Context) ([]string, error)
}

// ErrUnknownComponent is returned for keys whose component has no syncer.
var ErrUnknownComponent = errors.New("unknown component")

// Defaults for Engine options.
const (
	DefaultConcurrency   = 4
	DefaultSubmitTimeout = 30 * time.Second
)

// Engine orchestrates sync passes.
//
// At most one pass runs per Key. A SyncActivity call that arrives while a
// pass for the same key is running does not start a second pass; it waits
// for the running one and receives the same *Result. Passes for different
// keys run concurrently.
//
// Thread-safety: all methods are safe for concurrent use.
type Engine struct {
	sites         SiteLister
	syncers       map[string]ActivitySyncer
	order         []string
	ids           IDGenerator
	logger        *slog.Logger
	concurrency   int
	submitTimeout time.Duration
	now           func() time.Time
	onSettled     func(*Result)

	mu       sync.Mutex
	inflight map[Key]*call
}

// call is an in-flight pass. done is closed after res and err are set and
// the entry has left the in-flight map.
type call struct {
	done chan struct{}
	res  *Result
	err  error
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator sets the pass id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithConcurrency bounds how many passes SyncSite runs at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithSubmitTimeout bounds each single submission. Zero disables it.
func WithSubmitTimeout(d time.Duration) Option {
	return func(e *Engine) { e.submitTimeout = d }
}

// WithNow sets the time source used for result timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOnSettled registers fn to receive each pass result as soon as the pass
// settles, before callers waiting on it are released. fn runs on the pass's
// goroutine and must not start sync passes.
func WithOnSettled(fn func(*Result)) Option {
	return func(e *Engine) { e.onSettled = fn }
}

// New creates an Engine. Syncers are consulted in the given order when
// enumerating a site; duplicate components panic.
func New(sites SiteLister, syncers []ActivitySyncer, opts ...Option) *Engine {
	e := &Engine{
		sites:         sites,
		syncers:       make(map[string]ActivitySyncer, len(syncers)),
		ids:           UUIDv7Generator{},
		logger:        slog.Default(),
		concurrency:   DefaultConcurrency,
		submitTimeout: DefaultSubmitTimeout,
		now:           time.Now,
		inflight:      make(map[Key]*call),
	}
	for _, s := range syncers {
		name := s.Component()
		if _, dup := e.syncers[name]; dup {
			panic(fmt.Sprintf("engine: duplicate syncer for component %q", name))
		}
		e.syncers[name] = s
		e.order = append(e.order, name)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Components returns the registered component names in registration order.
func (e *Engine) Components() []string {
	return slices.Clone(e.order)
}

// SyncActivity runs one pass for key, or joins the pass already running for
// it. The pass runs under the context of the call that started it; a joining
// caller whose ctx ends stops waiting but does not stop the pass.
func (e *Engine) SyncActivity(ctx context.Context, key Key) (*Result, error) {
	syncer, ok := e.syncers[key.Component]
	if !ok {
		return nil, fmt.Errorf("sync %s: %w %q", key, ErrUnknownComponent, key.Component)
	}

	e.mu.Lock()
	if c, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		e.logger.DebugContext(ctx, "joining running sync pass", "key", key.String())
		select {
		case <-c.done:
			return c.res, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	e.inflight[key] = c
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
		close(c.done)
	}()

	c.res, c.err = e.runPass(ctx, key, syncer)
	return c.res, c.err
}

func (e *Engine) runPass(ctx context.Context, key Key, syncer ActivitySyncer) (res *Result, err error) {
	passID := e.ids.Generate()
	logger := e.logger.With(
		"pass_id", passID,
		"site", key.SiteID,
		"component", key.Component,
		"activity", key.ActivityID,
	)

	res = &Result{Key: key, PassID: passID, Warnings: []Warning{}, StartedAt: e.now()}
	b := &Batch{key: key, passID: passID, logger: logger, timeout: e.submitTimeout, res: res}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sync %s: panic: %v", key, p)
		}
		res.FinishedAt = e.now()
		res.settle(err)
		if e.onSettled != nil {
			e.onSettled(res)
		}
		if err != nil {
			logger.Error("sync pass failed", "error", err, "submitted", res.Submitted, "warnings", len(res.Warnings))
			return
		}
		logger.Info("sync pass finished",
			"status", res.Status,
			"submitted", res.Submitted,
			"warnings", len(res.Warnings),
			"discarded", len(res.Discarded),
			"still_pending", res.StillPending,
		)
	}()

	logger.DebugContext(ctx, "sync pass started")
	if err := syncer.Sync(ctx, b); err != nil {
		return res, fmt.Errorf("sync %s: %w", key, err)
	}
	return res, nil
}

// Pending lists the keys on siteID that have staged data, grouped by
// component in registration order.
func (e *Engine) Pending(ctx context.Context, siteID string) ([]Key, error) {
	var keys []Key
	for _, name := range e.order {
		ids, err := e.syncers[name].ActivitiesWithPending(ctx, siteID)
		if err != nil {
			return nil, fmt.Errorf("list pending %s on %s: %w", name, siteID, err)
		}
		for _, id := range ids {
			keys = append(keys, Key{SiteID: siteID, Component: name, ActivityID: id})
		}
	}
	return keys, nil
}

// SyncSite syncs every activity on siteID that has staged data, running up to
// the configured number of passes at once. Results follow Pending order. A
// failed pass is reported in its Result; the returned error is only for
// failing to enumerate the site.
func (e *Engine) SyncSite(ctx context.Context, siteID string) ([]*Result, error) {
	keys, err := e.Pending(ctx, siteID)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, len(keys))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			res, err := e.SyncActivity(ctx, key)
			if res == nil {
				// Joined a pass and gave up waiting.
				res = &Result{Key: key, Status: StatusFailed, Warnings: []Warning{}, StillPending: true}
				if err != nil {
					res.Error = err.Error()
				}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// SyncAllSites syncs every known site. One site failing to enumerate does not
// stop the others; its report carries the error instead.
func (e *Engine) SyncAllSites(ctx context.Context) (map[string]SiteReport, error) {
	ids, err := e.sites.SiteIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}

	reports := make(map[string]SiteReport, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		results, err := e.SyncSite(ctx, id)
		if err != nil {
			e.logger.Error("site sync failed", "site", id, "error", err)
			reports[id] = SiteReport{Results: []*Result{}, Error: err.Error()}
			continue
		}
		reports[id] = SiteReport{Results: results}
	}
	return reports, nil
}
