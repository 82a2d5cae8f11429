package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/learnsync/internal/engine"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	SiteID     string
	AllSites   bool
	Component  string
	ActivityID int64
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Submit staged actions to the site",
		Long: `Submit staged actions. By default every activity with staged data on the
current site is synced. Actions that cannot be submitted stay staged and are
reported as warnings; the command then exits with status 1.

Example:
  learnsync sync
  learnsync sync --all
  learnsync sync --site campus --component mod_lesson --activity 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.SiteID, "site", "", "site id (default: current site)")
	cmd.Flags().BoolVar(&opts.AllSites, "all", false, "sync every registered site")
	cmd.Flags().StringVar(&opts.Component, "component", "", "sync one activity of this component (requires --activity)")
	cmd.Flags().Int64Var(&opts.ActivityID, "activity", 0, "activity id (requires --component)")
	cmd.MarkFlagsRequiredTogether("component", "activity")
	cmd.MarkFlagsMutuallyExclusive("all", "site")
	cmd.MarkFlagsMutuallyExclusive("all", "component")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	f := opts.formatter(cmd)
	return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
		var (
			report syncReport
			err    error
		)
		switch {
		case opts.AllSites:
			report, err = syncAll(ctx, a)
		case opts.Component != "":
			report, err = syncActivity(ctx, a, opts)
		default:
			report, err = syncSite(ctx, a, opts.SiteID)
		}
		if err != nil {
			return f.Fail("sync", err)
		}

		if err := f.Success(report); err != nil {
			return err
		}
		if report.stillPending() {
			exitErr := NewExitError(ExitFailure, "some actions are still staged")
			exitErr.Reported = true
			return exitErr
		}
		return nil
	})
}

func syncAll(ctx context.Context, a *app) (syncReport, error) {
	reports, err := a.engine.SyncAllSites(ctx)
	if err != nil {
		return syncReport{}, err
	}
	return syncReport{Sites: reports}, nil
}

func syncSite(ctx context.Context, a *app, id string) (syncReport, error) {
	siteID, err := a.siteID(ctx, id)
	if err != nil {
		return syncReport{}, err
	}
	results, err := a.engine.SyncSite(ctx, siteID)
	if err != nil {
		return syncReport{}, err
	}
	return syncReport{Sites: map[string]engine.SiteReport{siteID: {Results: results}}}, nil
}

func syncActivity(ctx context.Context, a *app, opts *SyncOptions) (syncReport, error) {
	siteID, err := a.siteID(ctx, opts.SiteID)
	if err != nil {
		return syncReport{}, err
	}
	key := engine.Key{SiteID: siteID, Component: opts.Component, ActivityID: opts.ActivityID}
	res, err := a.engine.SyncActivity(ctx, key)
	if res == nil {
		return syncReport{}, err
	}
	return syncReport{Sites: map[string]engine.SiteReport{
		siteID: {Results: []*engine.Result{res}},
	}}, nil
}

// syncReport is the output of the sync command.
type syncReport struct {
	Sites map[string]engine.SiteReport `json:"sites"`
}

func (r syncReport) stillPending() bool {
	for _, rep := range r.Sites {
		if rep.Error != "" {
			return true
		}
		for _, res := range rep.Results {
			if res.StillPending {
				return true
			}
		}
	}
	return false
}

func (r syncReport) RenderText(w io.Writer) error {
	var errs []error
	for _, siteID := range slices.Sorted(maps.Keys(r.Sites)) {
		rep := r.Sites[siteID]
		fmt.Fprintf(w, "Site %s:\n", siteID)
		if rep.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", rep.Error)
		}
		if len(rep.Results) == 0 && rep.Error == "" {
			fmt.Fprintln(w, "  nothing staged")
		}
		for _, res := range rep.Results {
			errs = append(errs, renderResult(w, res))
		}
	}
	return errors.Join(errs...)
}

func renderResult(w io.Writer, res *engine.Result) error {
	_, err := fmt.Fprintf(w, "  %s/%d: %s, %d submitted\n",
		res.Key.Component, res.Key.ActivityID, res.Status, res.Submitted)
	if res.Error != "" {
		fmt.Fprintf(w, "    error: %s\n", res.Error)
	}
	for _, warn := range res.Warnings {
		reason := ""
		if warn.Reason != "" {
			reason = " (" + warn.Reason + ")"
		}
		fmt.Fprintf(w, "    warning: %s %s: %s%s\n", warn.Kind, warn.Action, strings.ToLower(string(warn.Code)), reason)
	}
	for _, d := range res.Discarded {
		fmt.Fprintf(w, "    discarded: %s %s: %s\n", d.Kind, d.Action, d.Reason)
	}
	return err
}
