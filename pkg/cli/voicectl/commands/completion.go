package commands

import (
	"slices"

	"github.com/spf13/cobra"

	taskv1 "github.com/kralicky/voicebox/pkg/apis/task/v1"
)

const (
	GroupIdClientCommands = "client"
	GroupIdEventCommands  = "events"
)

func completeCategories(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	client, ok := taskv1.ClientFromContext(cmd.Context())
	if !ok {
		return nil, cobra.ShellCompDirectiveError
	}
	resp, err := client.List(cmd.Context(), &taskv1.Empty{})
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	var names []string
	for _, st := range resp.Items {
		names = append(names, string(st.Category))
	}
	slices.Sort(names)
	return names, cobra.ShellCompDirectiveNoFileComp
}
