package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kralicky/voicebox/pkg/artifacts"
	"github.com/kralicky/voicebox/pkg/cgroups"
	"github.com/kralicky/voicebox/pkg/cgroups/cgroupsv2"
	"github.com/kralicky/voicebox/pkg/config"
	"github.com/kralicky/voicebox/pkg/natsbus"
	"github.com/kralicky/voicebox/pkg/process"
	"github.com/kralicky/voicebox/pkg/server"
	"github.com/kralicky/voicebox/pkg/supervisor"
	"github.com/kralicky/voicebox/pkg/tasks"
)

// ServeCmd represents the serve command
func BuildServeCmd() *cobra.Command {
	var configFile string
	var embeddedNATS bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voicebox server.",
		Long: `
Runs the task supervisor along with its gRPC control API and, if configured,
the HTTP API used by the browser frontend.

Without --config, the built-in configuration is used. Paths in a configuration
file are resolved relative to the file.
`[1:],
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if embeddedNATS {
				conf.NATS.Embedded.Enabled = true
			}
			return serve(cmd.Context(), conf)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to a configuration file")
	cmd.Flags().BoolVar(&embeddedNATS, "embedded-nats", false, "run a NATS server with JetStream in-process")
	return cmd
}

func serve(ctx context.Context, conf *config.Config) error {
	cat, err := conf.Catalog()
	if err != nil {
		return err
	}
	if conf.RBAC != nil {
		if err := conf.RBAC.Validate(server.RBACService(conf.CategoryNames())); err != nil {
			return fmt.Errorf("invalid rbac configuration: %w", err)
		}
	}
	var confine config.ConfinerFunc
	if conf.HasLimits() {
		mgr, err := cgroupsv2.NewManager()
		if err != nil {
			return fmt.Errorf("resource limits are configured but cgroups are unavailable: %w", err)
		}
		confine = func(category tasks.Category, limits cgroups.Limits) (process.Confiner, error) {
			return mgr.Confiner(category, limits), nil
		}
	}
	categories, err := conf.SupervisorCategories(confine)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(conf.ArtifactDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	dir, err := artifacts.OpenDir(conf.ArtifactDir())
	if err != nil {
		return err
	}
	defer dir.Close()

	opts := supervisor.Options{
		Categories:   categories,
		DrainTimeout: conf.DrainTimeout,
		Artifacts:    dir,
	}
	t := &server.Tasks{
		Catalog:   cat,
		Artifacts: dir,
	}

	if conf.NATS.Enabled() {
		natsConf := conf.NATS
		natsConf.Embedded.StoreDir = conf.Path(natsConf.Embedded.StoreDir)
		nc, closeNATS, err := connectNATS(natsConf)
		if err != nil {
			return err
		}
		defer closeNATS()
		opts.Sinks = append(opts.Sinks, natsbus.NewPublisher(nc, conf.NATS.SubjectPrefix))

		if conf.Artifacts.Bucket != "" {
			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to initialize jetstream: %w", err)
			}
			store, err := artifacts.NewObjectStore(ctx, js, artifacts.ObjectStoreOptions{
				Bucket:      conf.Artifacts.Bucket,
				RemoveLocal: conf.Artifacts.RemoveLocal,
			})
			if err != nil {
				return err
			}
			opts.Artifacts = store
			t.Artifacts = store
		}
	}

	t.Supervisor = supervisor.New(opts)
	slog.With(
		"categories", len(categories),
		"artifacts", conf.ArtifactDir(),
		"bucket", conf.Artifacts.Bucket,
	).Info("supervisor ready")

	eg, ctx := errgroup.WithContext(ctx)
	if conf.GRPC.ListenAddress != "" {
		srv := server.NewServer(t, server.Options{
			ListenAddress: conf.GRPC.ListenAddress,
			CaCertFile:    conf.Path(conf.GRPC.TLS.CACert),
			CertFile:      conf.Path(conf.GRPC.TLS.Cert),
			KeyFile:       conf.Path(conf.GRPC.TLS.Key),
			RBAC:          conf.RBAC,
		})
		eg.Go(func() error {
			return srv.ListenAndServe(ctx)
		})
	}
	if conf.HTTP.ListenAddress != "" {
		h := server.NewHTTPHandler(t, server.HTTPOptions{
			ListenAddress:   conf.HTTP.ListenAddress,
			ShutdownTimeout: conf.HTTP.ShutdownTimeout,
		})
		eg.Go(func() error {
			return h.ListenAndServe(ctx)
		})
	}
	// stopping the runs ends any log streams the servers are waiting on
	eg.Go(func() error {
		<-ctx.Done()
		slog.Info("stopping all tasks")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout(conf))
		defer cancel()
		return t.Supervisor.Shutdown(shutdownCtx)
	})
	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func shutdownTimeout(conf *config.Config) time.Duration {
	var longest time.Duration
	for _, c := range conf.Categories {
		longest = max(longest, c.Grace)
	}
	return longest + conf.DrainTimeout + 5*time.Second
}

// connectNATS connects to the configured NATS server, starting the embedded
// server first if enabled. The returned function flushes and closes the
// connection, then stops the embedded server.
func connectNATS(conf config.NATS) (*nats.Conn, func(), error) {
	url := conf.URL
	var ns *natsserver.Server
	if conf.Embedded.Enabled {
		var err error
		ns, err = natsserver.NewServer(&natsserver.Options{
			ServerName: "voicebox",
			Host:       conf.Embedded.Host,
			Port:       conf.Embedded.Port,
			JetStream:  true,
			StoreDir:   conf.Embedded.StoreDir,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure embedded nats server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return nil, nil, errors.New("embedded nats server did not become ready")
		}
		url = ns.ClientURL()
		slog.With("url", url, "storeDir", conf.Embedded.StoreDir).Info("embedded nats server started")
	}
	nc, err := nats.Connect(url,
		nats.Name("voiceboxd"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.With("error", err).Warn("disconnected from nats")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.With("url", nc.ConnectedUrl()).Info("reconnected to nats")
		}),
	)
	if err != nil {
		if ns != nil {
			ns.Shutdown()
		}
		return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, func() {
		if err := nc.FlushTimeout(2 * time.Second); err != nil {
			slog.With("error", err).Warn("failed to flush nats connection")
		}
		nc.Close()
		if ns != nil {
			ns.Shutdown()
			ns.WaitForShutdown()
		}
	}, nil
}
