package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/learnsync/internal/engine"
)

// PendingOptions holds flags for the pending command.
type PendingOptions struct {
	*RootOptions
	SiteID string
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "pending",
		Short:         "List activities with staged actions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				siteID, err := a.siteID(ctx, opts.SiteID)
				if err != nil {
					return f.Fail("list pending", err)
				}
				keys, err := a.engine.Pending(ctx, siteID)
				if err != nil {
					return f.Fail("list pending", err)
				}
				if keys == nil {
					keys = []engine.Key{}
				}
				return f.Success(pendingList{Site: siteID, Pending: keys})
			})
		},
	}

	cmd.Flags().StringVar(&opts.SiteID, "site", "", "site id (default: current site)")
	return cmd
}

type pendingList struct {
	Site    string       `json:"site"`
	Pending []engine.Key `json:"pending"`
}

func (p pendingList) RenderText(w io.Writer) error {
	if len(p.Pending) == 0 {
		_, err := fmt.Fprintf(w, "Nothing staged on %s.\n", p.Site)
		return err
	}
	fmt.Fprintf(w, "Staged on %s:\n", p.Site)
	for _, k := range p.Pending {
		fmt.Fprintf(w, "  %s %d\n", k.Component, k.ActivityID)
	}
	return nil
}
