package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/learnsync/internal/assign"
	"github.com/roach88/learnsync/internal/config"
	"github.com/roach88/learnsync/internal/engine"
	"github.com/roach88/learnsync/internal/forum"
	"github.com/roach88/learnsync/internal/lesson"
	"github.com/roach88/learnsync/internal/offline"
	"github.com/roach88/learnsync/internal/remote"
	"github.com/roach88/learnsync/internal/site"
	"github.com/roach88/learnsync/internal/stage"
	"github.com/roach88/learnsync/internal/store"
)

// app is everything a command needs, opened from the resolved config.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	stores   *store.Manager
	registry *site.Registry
	sites    *site.Provider

	forums  *forum.Repository
	lessons *lesson.Repository
	assigns *assign.Repository

	remote *remote.Client
	engine *engine.Engine
}

// Tables returns every table of every component, for registering with a
// store.Registry.
func Tables() []store.Table {
	var tables []store.Table
	tables = append(tables, forum.Tables()...)
	tables = append(tables, lesson.Tables()...)
	tables = append(tables, assign.Tables()...)
	return tables
}

func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	logger := cfg.Log.Logger(os.Stderr, opts.Verbose)

	reg := store.NewRegistry()
	for _, t := range Tables() {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}

	registry, err := site.OpenRegistry(ctx, cfg.DataDir, store.WithDriver(cfg.Driver))
	if err != nil {
		return nil, err
	}
	stores := store.NewManager(cfg.DataDir, reg, store.WithDriver(cfg.Driver))
	sites := site.NewProvider(registry, stores)
	clock := offline.NewSystemClock()

	a := &app{
		cfg:      cfg,
		logger:   logger,
		stores:   stores,
		registry: registry,
		sites:    sites,
		forums:   forum.NewRepository(sites, clock, logger),
		lessons:  lesson.NewRepository(sites, clock, logger),
		assigns:  assign.NewRepository(sites, clock, logger),
		remote:   remote.New(sites, remote.WithTimeout(cfg.Remote.Timeout), remote.WithLogger(logger)),
	}

	a.engine = engine.New(sites, []engine.ActivitySyncer{
		forum.NewSyncer(a.forums, a.remote),
		lesson.NewSyncer(a.lessons, a.remote),
		assign.NewSyncer(a.assigns, a.remote),
	},
		engine.WithLogger(logger),
		engine.WithConcurrency(cfg.Sync.Concurrency),
		engine.WithSubmitTimeout(cfg.Sync.SubmitTimeout),
	)
	return a, nil
}

func (a *app) repos() stage.Repos {
	return stage.Repos{Forums: a.forums, Lessons: a.lessons, Assigns: a.assigns}
}

// siteID resolves "" to the current site.
func (a *app) siteID(ctx context.Context, id string) (string, error) {
	h, err := a.sites.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return h.Site.ID, nil
}

func (a *app) Close() error {
	return errors.Join(a.stores.Close(), a.registry.Close())
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	a, err := openApp(ctx, opts)
	if err != nil {
		return f.Fail("open data", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.logger.Error("error closing stores", "error", closeErr)
		}
	}()
	return fn(ctx, a)
}
