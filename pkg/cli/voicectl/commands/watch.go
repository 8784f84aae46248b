package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/kralicky/voicebox/pkg/natsbus"
	"github.com/kralicky/voicebox/pkg/tasks"
)

func BuildWatchCmd() *cobra.Command {
	var url string
	var prefix string
	cmd := &cobra.Command{
		Use:     "watch [category]",
		GroupID: GroupIdEventCommands,
		Short:   "Watch task events published to NATS.",
		Long: `
Subscribes to the events voiceboxd publishes to NATS, for one category or for
all of them, and prints each as it arrives. Events published before the
command started are not shown.
`[1:],
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var category tasks.Category
			if len(args) == 1 {
				category = tasks.Category(args[0])
			}
			nc, err := nats.Connect(url, nats.Name("voicectl"))
			if err != nil {
				return fmt.Errorf("failed to connect to nats: %w", err)
			}
			defer nc.Close()
			err = natsbus.Watch(cmd.Context(), nc, prefix, category, func(ev tasks.Event) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-22s %-8s %s\n",
					ev.Time.Local().Format(time.TimeOnly), ev.Category, ev.Stream, eventText(ev))
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&url, "nats-url", nats.DefaultURL, "url of the NATS server voiceboxd publishes to")
	cmd.Flags().StringVar(&prefix, "subject-prefix", natsbus.DefaultSubjectPrefix, "subject prefix of task events")
	return cmd
}

func eventText(ev tasks.Event) string {
	if !ev.IsTerminal() {
		return ev.Text
	}
	out := fmt.Sprintf("[%s exit=%d]", ev.Sentinel, ev.ExitCode)
	if ev.Text != "" {
		out = ev.Text + " " + out
	}
	if ev.Artifact != "" {
		out += " " + ev.Artifact
	}
	return out
}
