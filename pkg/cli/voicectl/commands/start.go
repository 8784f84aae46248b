package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	taskv1 "github.com/kralicky/voicebox/pkg/apis/task/v1"
	"github.com/kralicky/voicebox/pkg/util"
)

func BuildStartCmd() *cobra.Command {
	var params []string
	var follow bool

	cmd := &cobra.Command{
		Use:     "start <category> [--param name=value]...",
		GroupID: GroupIdClientCommands,
		Short:   "Start a task.",
		Long: fmt.Sprintf(`
Starts a run of the given task category, and prints its run ID and the name
of the file it will produce, if any.

Only one run of each category may be active at a time. Params are checked by
the server against the category's declared params; paths are relative to the
roots configured on the server.

To stream the output of the run, use the command '%[1]s logs <category>'.
`[1:], os.Args[0]),
		Example: fmt.Sprintf(`
  Synthesize speech, then wait for it to finish:
    $ %[1]s start speech-synthesis -f \
        --param model=sambert \
        --param text="hello world" \
        --param speech_rate=1.2

  Start a training run with the GPU:
    $ %[1]s start vits-training --param dataset=my_dataset --param use_gpu=true
`[1:], os.Args[0]),
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeCategories,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ok := taskv1.ClientFromContext(cmd.Context())
			if !ok {
				cmd.PrintErrln("failed to get client from context")
				return nil
			}
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			resp, err := client.Start(cmd.Context(), &taskv1.StartRequest{
				Category: args[0],
				Params:   parsed,
			})
			if err != nil {
				return util.ErrorFromStatus(err)
			}
			if follow {
				return streamLogs(cmd, client, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.RunID)
			if resp.Artifact != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "artifact: %s\n", resp.Artifact)
			}
			if resp.ModelDir != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "model dir: %s\n", resp.ModelDir)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "task param (ex: 'text=hello world'); may be repeated")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow the output of the run")
	return cmd
}

func parseParams(params []string) (map[string]string, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(params))
	for _, p := range params {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid param %q: expecting 'name=value'", p)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("param %q given more than once", name)
		}
		out[name] = value
	}
	return out, nil
}
