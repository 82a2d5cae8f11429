package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/learnsync/internal/site"
	"github.com/roach88/learnsync/internal/syncerr"
)

// SitesOptions holds flags for the sites add command.
type SitesOptions struct {
	*RootOptions
	URL    string
	UserID int64
	Token  string
}

// NewSitesCommand creates the sites command group.
func NewSitesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sites",
		Short: "Manage the sites staged actions belong to",
	}
	cmd.AddCommand(newSitesAddCommand(rootOpts))
	cmd.AddCommand(newSitesListCommand(rootOpts))
	cmd.AddCommand(newSitesUseCommand(rootOpts))
	cmd.AddCommand(newSitesRemoveCommand(rootOpts))
	return cmd
}

func newSitesAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SitesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <site-id>",
		Short: "Register a site or update its details",
		Long: `Register a site. The first site registered becomes the current site,
which commands use when --site is not given.

Example:
  learnsync sites add campus --url https://campus.example --user 7 --token abc123`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				s, err := a.registry.Add(ctx, site.Site{
					ID:     args[0],
					URL:    opts.URL,
					UserID: opts.UserID,
					Token:  opts.Token,
				})
				if err != nil {
					return opts.formatter(cmd).Fail("add site", err)
				}
				return opts.formatter(cmd).Success(siteList{s})
			})
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "base URL of the site (required)")
	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "id of the logged-in user (required)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "web-service token")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newSitesListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List registered sites",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				sites, err := a.registry.List(ctx)
				if err != nil {
					return opts.formatter(cmd).Fail("list sites", err)
				}
				cur := ""
				if s, err := a.registry.Current(ctx); err == nil {
					cur = s.ID
				} else if !syncerr.Is(err, syncerr.CodeSiteNotFound) {
					return opts.formatter(cmd).Fail("list sites", err)
				}
				return opts.formatter(cmd).Success(siteListing{Sites: siteList(sites), Current: cur})
			})
		},
	}
}

func newSitesUseCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "use <site-id>",
		Short:         "Select the current site",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.registry.SetCurrent(ctx, args[0]); err != nil {
					return opts.formatter(cmd).Fail("select site", err)
				}
				return opts.formatter(cmd).Success(message(fmt.Sprintf("Current site: %s", args[0])))
			})
		},
	}
}

func newSitesRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <site-id>",
		Short: "Forget a site and delete everything staged for it",
		Long: `Forget a site. Its storage namespace is deleted, including staged
actions that were never synced.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.sites.Remove(ctx, args[0]); err != nil {
					return opts.formatter(cmd).Fail("remove site", err)
				}
				return opts.formatter(cmd).Success(message(fmt.Sprintf("Removed site %s", args[0])))
			})
		},
	}
}

// message is a plain text result.
type message string

func (m message) RenderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, string(m))
	return err
}

type siteList []site.Site

func (l siteList) RenderText(w io.Writer) error {
	return siteListing{Sites: l}.RenderText(w)
}

type siteListing struct {
	Sites   siteList `json:"sites"`
	Current string   `json:"current,omitempty"`
}

func (l siteListing) RenderText(w io.Writer) error {
	if len(l.Sites) == 0 {
		_, err := fmt.Fprintln(w, "No sites registered.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tURL\tUSER")
	for _, s := range l.Sites {
		mark := ""
		if s.ID == l.Current {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", mark, s.ID, s.URL, s.UserID)
	}
	return tw.Flush()
}
