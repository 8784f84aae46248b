package commands

import (
	"strings"

	"github.com/spf13/cobra"

	taskv1 "github.com/kralicky/voicebox/pkg/apis/task/v1"
	"github.com/kralicky/voicebox/pkg/lines"
	"github.com/kralicky/voicebox/pkg/util"
)

func BuildInputCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "input <category> [payload...]",
		GroupID: GroupIdClientCommands,
		Short:   "Send input to an interactive task.",
		Long: `
Writes a line to the stdin of the active run of an interactive category.

If no payload is given, each line read from stdin is sent in turn until
stdin is closed.
`[1:],
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeCategories,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ok := taskv1.ClientFromContext(cmd.Context())
			if !ok {
				cmd.PrintErrln("failed to get client from context")
				return nil
			}
			send := func(payload string) error {
				_, err := client.SendInput(cmd.Context(), &taskv1.InputRequest{
					Category: args[0],
					Payload:  payload,
				})
				return util.ErrorFromStatus(err)
			}
			if len(args) > 1 {
				return send(strings.Join(args[1:], " "))
			}
			r := lines.NewReader(cmd.InOrStdin())
			for line := range r.All() {
				if err := send(line); err != nil {
					return err
				}
			}
			return r.Err()
		},
	}
	return cmd
}
