package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	taskv1 "github.com/kralicky/voicebox/pkg/apis/task/v1"
	"github.com/kralicky/voicebox/pkg/tasks"
	"github.com/kralicky/voicebox/pkg/util"
)

func BuildStopCmd() *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:     "stop <category>",
		GroupID: GroupIdClientCommands,
		Short:   "Stop the running task of a category.",
		Long: `
Stops the active run of a category, then waits for it to exit.

Interactive tasks are first sent their stop token on stdin; other tasks are
sent SIGTERM. If the process does not exit within the grace period, it is
forcefully killed with SIGKILL.
`[1:],
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeCategories,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ok := taskv1.ClientFromContext(cmd.Context())
			if !ok {
				cmd.PrintErrln("failed to get client from context")
				return nil
			}
			resp, err := client.Stop(cmd.Context(), &taskv1.StopRequest{
				Category:    args[0],
				GraceMillis: grace.Milliseconds(),
			})
			if err != nil {
				err = util.ErrorFromStatus(err)
				if errors.Is(err, tasks.ErrNotRunning) {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s is not running\n", args[0])
					return nil
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Outcome)
			return nil
		},
	}
	cmd.Flags().DurationVarP(&grace, "grace", "g", 0, "how long to wait before killing the process (default is the category's grace period)")
	return cmd
}
