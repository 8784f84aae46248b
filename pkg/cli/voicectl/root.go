package voicectl

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	taskv1 "github.com/kralicky/voicebox/pkg/apis/task/v1"
	"github.com/kralicky/voicebox/pkg/cli/voicectl/commands"
	"github.com/kralicky/voicebox/pkg/logger"
)

const maxRecvMsgSize = 8 << 20

type connFlags struct {
	address string
	caCert  string
	cert    string
	key     string
}

func (f *connFlags) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&f.address, "address", "a", "127.0.0.1:9097", "address of the voiceboxd control API")
	flags.StringVar(&f.caCert, "cacert", "", "path to the server's CA certificate")
	flags.StringVar(&f.cert, "cert", "", "path to a client certificate (connects without TLS if unset)")
	flags.StringVar(&f.key, "key", "", "path to the client certificate's key")
	cmd.MarkFlagsRequiredTogether("cacert", "cert", "key")
}

// credentials returns mTLS credentials when a client certificate is set.
func (f *connFlags) credentials() (credentials.TransportCredentials, error) {
	if f.cert == "" {
		return insecure.NewCredentials(), nil
	}
	pem, err := os.ReadFile(f.caCert)
	if err != nil {
		return nil, fmt.Errorf("failed to read server CA file: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", f.caCert)
	}
	pair, err := tls.LoadX509KeyPair(f.cert, f.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	return credentials.NewTLS(&tls.Config{
		MinVersion:   tls.VersionTLS13,
		RootCAs:      roots,
		Certificates: []tls.Certificate{pair},
	}), nil
}

func (f *connFlags) dial() (taskv1.TaskClient, error) {
	creds, err := f.credentials()
	if err != nil {
		return nil, err
	}
	cc, err := grpc.NewClient(f.address,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvMsgSize)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to voiceboxd: %w", err)
	}
	return taskv1.NewTaskClient(cc), nil
}

func BuildRootCmd() *cobra.Command {
	var logLevel string
	var conn connFlags
	cmd := &cobra.Command{
		Use:          "voicectl",
		Short:        "Controls tasks running on voiceboxd",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.SetLevel(logLevel); err != nil {
				return err
			}
			// Only commands talking to the control API need a connection.
			if cmd.GroupID != commands.GroupIdClientCommands {
				return nil
			}
			client, err := conn.dial()
			if err != nil {
				return err
			}
			cmd.SetContext(taskv1.ContextWithClient(cmd.Context(), client))
			return nil
		},
	}

	cmd.AddGroup(
		&cobra.Group{ID: commands.GroupIdClientCommands, Title: "Task Commands:"},
		&cobra.Group{ID: commands.GroupIdEventCommands, Title: "Event Commands:"},
	)
	cmd.InitDefaultCompletionCmd()
	cmd.InitDefaultHelpCmd()

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	conn.register(cmd)

	cmd.AddCommand(
		commands.BuildStartCmd(),
		commands.BuildStopCmd(),
		commands.BuildStatusCmd(),
		commands.BuildListCmd(),
		commands.BuildLogsCmd(),
		commands.BuildInputCmd(),
		commands.BuildWatchCmd(),
	)
	return cmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := BuildRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
