package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/learnsync/internal/offline"
	"github.com/roach88/learnsync/internal/stage"
)

// StageOptions holds flags shared by the stage subcommands.
type StageOptions struct {
	*RootOptions
	File   string // YAML input, "-" for stdin
	SiteID string
	UserID int64
}

// NewStageCommand creates the stage command group.
func NewStageCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Stage an action for the next sync",
		Long: `Stage an action taken while offline. Each subcommand reads the action
from a YAML file (or stdin with -f -) and stores it in the site's queue.

Example:
  learnsync stage discussion -f discussion.yaml
  echo 'lesson: 5
retake: 0
page: {id: 11}' | learnsync stage page -f -`,
	}

	cmd.PersistentFlags().StringVarP(&opts.File, "file", "f", "", "YAML file describing the action (- for stdin)")
	cmd.PersistentFlags().StringVar(&opts.SiteID, "site", "", "site id (default: current site)")
	cmd.PersistentFlags().Int64Var(&opts.UserID, "user", 0, "user id (default: the site's user)")
	_ = cmd.MarkPersistentFlagRequired("file")

	short := map[string]string{
		stage.KindDiscussion: "Stage a new forum discussion",
		stage.KindReply:      "Stage a reply to a forum post",
		stage.KindPage:       "Stage the answer to a lesson page",
		stage.KindFinish:     "Stage the end of a lesson retake",
		stage.KindFeedback:   "Stage an assignment feedback draft",
	}
	for _, kind := range stage.Kinds {
		cmd.AddCommand(stageSubcommand(opts, kind, short[kind]))
	}

	return cmd
}

func stageSubcommand(opts *StageOptions, kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:           kind,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			input, err := readInput(cmd, opts.File)
			if err != nil {
				return f.Fail("read input", err)
			}
			action, err := stage.Decode(kind, input)
			if err != nil {
				return f.Fail("stage "+kind, err)
			}

			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				sc := offline.Scope{SiteID: opts.SiteID, UserID: opts.UserID}
				staged, err := action.Stage(ctx, a.repos(), sc)
				if err != nil {
					return f.Fail("stage "+kind, err)
				}
				f.VerboseLog("staged %s", kind)
				return f.Success(stagedResult{Kind: kind, Staged: staged})
			})
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

type stagedResult struct {
	Kind   string `json:"kind"`
	Staged any    `json:"staged"`
}

func (r stagedResult) RenderText(w io.Writer) error {
	body, err := json.MarshalIndent(r.Staged, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Staged %s:\n%s\n", r.Kind, body)
	return err
}
