// Command learnsync stages actions taken offline on learning sites and syncs
// them once the site is reachable.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/learnsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) || !exitErr.Reported {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
