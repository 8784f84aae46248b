package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	taskv1 "github.com/kralicky/voicebox/pkg/apis/task/v1"
	"github.com/kralicky/voicebox/pkg/tasks"
	"github.com/kralicky/voicebox/pkg/util"
)

func BuildStatusCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:     "status <category>",
		GroupID: GroupIdClientCommands,
		Short:   "Show the status of a task category.",
		Long: `
Shows whether a category is running, along with its pid and start time, and
how its last run ended.
`[1:],
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeCategories,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ok := taskv1.ClientFromContext(cmd.Context())
			if !ok {
				cmd.PrintErrln("failed to get client from context")
				return nil
			}
			st, err := client.Status(cmd.Context(), &taskv1.CategoryRef{Category: args[0]})
			if err != nil {
				return util.ErrorFromStatus(err)
			}
			switch output {
			case "json":
				data, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			case "text":
				fmt.Fprint(cmd.OutOrStdout(), formatStatus(st))
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (json|text)")
	cmd.RegisterFlagCompletionFunc("output", cobra.FixedCompletions([]string{"json", "text"}, cobra.ShellCompDirectiveNoFileComp))
	return cmd
}

func formatStatus(st *taskv1.TaskStatus) string {
	out := fmt.Sprintf("category: %s\nstate:    %s\n", st.Category, stateText(st.State))
	if st.State == tasks.Running {
		out += fmt.Sprintf("run:      %s\npid:      %d\nstarted:  %s (%s ago)\n",
			st.RunID, st.PID, st.Started.Format(time.DateTime), time.Since(st.Started).Round(time.Second))
	}
	if last := st.Last; last != nil {
		out += fmt.Sprintf("last run: %s\n  result: %s\n  ended:  %s\n",
			last.RunID, terminationText(last), last.Ended.Format(time.DateTime))
	}
	return out
}

func stateText(s tasks.State) string {
	if s == tasks.Running {
		return text.FgGreen.Sprint(s)
	}
	return s.String()
}

func terminationText(t *tasks.Termination) string {
	switch {
	case t.Signal != "":
		return text.FgYellow.Sprintf("%s (%s)", t.Sentinel, t.Signal)
	case t.ExitCode != 0:
		return text.FgRed.Sprintf("%s (exit code %d)", t.Sentinel, t.ExitCode)
	default:
		return t.Sentinel.String()
	}
}
