package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	taskv1 "github.com/kralicky/voicebox/pkg/apis/task/v1"
	"github.com/kralicky/voicebox/pkg/tasks"
	"github.com/kralicky/voicebox/pkg/util"
)

func BuildLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "logs <category>",
		GroupID: GroupIdClientCommands,
		Short:   "Stream the output of a task.",
		Long: `
Streams the output of the latest run of a category, starting from the
beginning of the run.

If the run is still active, this will continue to stream its output in real
time until either the run ends, or the command is interrupted with Ctrl-C.
Diagnostics are written to stderr, and the run's result is written last.
`[1:],
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeCategories,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ok := taskv1.ClientFromContext(cmd.Context())
			if !ok {
				cmd.PrintErrln("failed to get client from context")
				return nil
			}
			return streamLogs(cmd, client, args[0])
		},
	}
	return cmd
}

func streamLogs(cmd *cobra.Command, client taskv1.TaskClient, category string) error {
	stream, err := client.Logs(cmd.Context(), &taskv1.CategoryRef{Category: category})
	if err != nil {
		return util.ErrorFromStatus(err)
	}
	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return util.ErrorFromStatus(err)
		}
		printEvent(cmd, ev)
	}
}

func printEvent(cmd *cobra.Command, ev *tasks.Event) {
	switch ev.Stream {
	case tasks.StreamOutput:
		fmt.Fprintln(cmd.OutOrStdout(), ev.Text)
	case tasks.StreamError, tasks.StreamNotice:
		fmt.Fprintln(cmd.ErrOrStderr(), ev.Text)
	case tasks.StreamTerminal:
		if ev.Text != "" {
			fmt.Fprintln(cmd.OutOrStdout(), ev.Text)
		}
		if ev.Artifact != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "artifact: %s\n", ev.Artifact)
		}
		if ev.ExitCode != 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "exit code: %d\n", ev.ExitCode)
		}
	}
}
