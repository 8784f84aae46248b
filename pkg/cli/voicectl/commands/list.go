package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	taskv1 "github.com/kralicky/voicebox/pkg/apis/task/v1"
	"github.com/kralicky/voicebox/pkg/tasks"
	"github.com/kralicky/voicebox/pkg/util"
)

func BuildListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		GroupID: GroupIdClientCommands,
		Short:   "Show the status of all task categories.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ok := taskv1.ClientFromContext(cmd.Context())
			if !ok {
				cmd.PrintErrln("failed to get client from context")
				return nil
			}
			list, err := client.List(cmd.Context(), &taskv1.Empty{})
			if err != nil {
				return util.ErrorFromStatus(err)
			}
			tab := table.NewWriter()
			tab.AppendHeader(table.Row{"CATEGORY", "STATE", "PID", "STARTED", "LAST RUN"})
			for _, st := range list.Items {
				row := table.Row{st.Category, stateText(st.State), "", "", ""}
				if st.State == tasks.Running {
					row[2] = st.PID
					row[3] = st.Started.Format(time.DateTime)
				}
				if st.Last != nil {
					row[4] = terminationText(st.Last)
				}
				tab.AppendRow(row)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tab.Render())
			return nil
		},
	}

	return cmd
}
