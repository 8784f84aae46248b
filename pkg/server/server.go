package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"time"

	rbacv1 "github.com/kralicky/voicebox/pkg/apis/rbac/v1"
	taskv1 "github.com/kralicky/voicebox/pkg/apis/task/v1"
	"github.com/kralicky/voicebox/pkg/auth"
	"github.com/kralicky/voicebox/pkg/rbac"
	"github.com/kralicky/voicebox/pkg/tasks"
	"github.com/kralicky/voicebox/pkg/util"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// LocalUser is the name given to every caller when the server listens
// without TLS.
const LocalUser auth.AuthenticatedUser = "local"

type Options struct {
	ListenAddress string
	// If CertFile is empty the server listens without TLS, and every caller
	// is authenticated as LocalUser.
	CaCertFile string
	CertFile   string
	KeyFile    string
	// If nil, every authenticated user may call every method.
	RBAC *rbacv1.Config
}

func (o Options) tlsEnabled() bool {
	return o.CertFile != ""
}

type Server struct {
	Options
	taskv1.UnimplementedTaskServer
	tasks       *Tasks
	middlewares []auth.Middleware
}

func NewServer(t *Tasks, options Options) *Server {
	s := &Server{
		Options: options,
		tasks:   t,
	}
	if options.tlsEnabled() {
		s.middlewares = append(s.middlewares, auth.NewMiddleware(auth.NewMTLSAuthenticator()))
	} else {
		s.middlewares = append(s.middlewares, auth.NewMiddleware(auth.NewStaticAuthenticator(LocalUser)))
	}
	if options.RBAC != nil {
		s.middlewares = append(s.middlewares, rbac.NewAllowedMethodsMiddleware(options.RBAC))
	}
	return s
}

// RBACService describes the Task service for validating rbac configurations.
func RBACService(categories []tasks.Category) rbacv1.Service {
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, string(c))
	}
	return rbacv1.Service{
		Desc:           &taskv1.Task_ServiceDesc,
		CategoryScoped: taskv1.CategoryScopedMethods,
		Categories:     names,
	}
}

func (s *Server) verifyCategory(ctx context.Context, category string) error {
	if s.RBAC == nil {
		return nil
	}
	return rbac.VerifyCategory(ctx, tasks.Category(category))
}

// Start implements taskv1.TaskServer.
func (s *Server) Start(ctx context.Context, in *taskv1.StartRequest) (*taskv1.StartResponse, error) {
	if err := s.verifyCategory(ctx, in.Category); err != nil {
		return nil, err
	}
	launched, err := s.tasks.Launch(ctx, tasks.Category(in.Category), in.Params)
	if err != nil {
		slog.With(
			"category", in.Category,
			"user", auth.AuthenticatedUserFromContext(ctx),
			"error", err,
		).Warn("failed to start task")
		return nil, util.StatusFromError(err)
	}
	return &taskv1.StartResponse{
		RunID:    launched.RunID,
		PID:      launched.PID,
		Artifact: launched.Artifact,
		ModelDir: launched.ModelDir,
	}, nil
}

// Stop implements taskv1.TaskServer.
func (s *Server) Stop(ctx context.Context, in *taskv1.StopRequest) (*taskv1.StopResponse, error) {
	if err := s.verifyCategory(ctx, in.Category); err != nil {
		return nil, err
	}
	grace := time.Duration(in.GraceMillis) * time.Millisecond
	outcome, err := s.tasks.Supervisor.Stop(ctx, tasks.Category(in.Category), grace)
	if err != nil {
		return nil, util.StatusFromError(err)
	}
	return &taskv1.StopResponse{Outcome: outcome}, nil
}

// Status implements taskv1.TaskServer.
func (s *Server) Status(ctx context.Context, in *taskv1.CategoryRef) (*taskv1.TaskStatus, error) {
	if err := s.verifyCategory(ctx, in.Category); err != nil {
		return nil, err
	}
	st, err := s.tasks.Supervisor.Status(tasks.Category(in.Category))
	if err != nil {
		return nil, util.StatusFromError(err)
	}
	return &st, nil
}

type scopedStatus struct {
	tasks.Status
}

func (s scopedStatus) AssignedCategory() tasks.Category {
	return s.Category
}

// List implements taskv1.TaskServer.
func (s *Server) List(ctx context.Context, _ *taskv1.Empty) (*taskv1.TaskStatusList, error) {
	items := s.tasks.Supervisor.List()
	if s.RBAC == nil {
		return &taskv1.TaskStatusList{Items: items}, nil
	}
	scoped := make([]scopedStatus, 0, len(items))
	for _, st := range items {
		scoped = append(scoped, scopedStatus{st})
	}
	filtered, err := rbac.FilterByCategory(ctx, scoped)
	if err != nil {
		return nil, err
	}
	list := &taskv1.TaskStatusList{Items: make([]tasks.Status, 0, len(filtered))}
	for _, st := range filtered {
		list.Items = append(list.Items, st.Status)
	}
	return list, nil
}

// SendInput implements taskv1.TaskServer.
func (s *Server) SendInput(ctx context.Context, in *taskv1.InputRequest) (*taskv1.Empty, error) {
	if err := s.verifyCategory(ctx, in.Category); err != nil {
		return nil, err
	}
	if err := s.tasks.Supervisor.SendInput(tasks.Category(in.Category), in.Payload); err != nil {
		return nil, util.StatusFromError(err)
	}
	return &taskv1.Empty{}, nil
}

// Logs implements taskv1.TaskServer.
func (s *Server) Logs(in *taskv1.CategoryRef, stream grpc.ServerStreamingServer[taskv1.LogEvent]) error {
	ctx := stream.Context()
	if err := s.verifyCategory(ctx, in.Category); err != nil {
		return err
	}
	events, err := s.tasks.Supervisor.Logs(ctx, tasks.Category(in.Category))
	if err != nil {
		return util.StatusFromError(err)
	}
	for ev := range events {
		if err := stream.Send(&ev); err != nil {
			return err
		}
	}
	return nil
}

var _ taskv1.TaskServer = (*Server)(nil)

var (
	keepaliveEnforcement = keepalive.EnforcementPolicy{
		MinTime:             15 * time.Second,
		PermitWithoutStream: true,
	}
	keepaliveParams = keepalive.ServerParameters{
		Time:    15 * time.Second,
		Timeout: 5 * time.Second,
	}
	// Followed log streams only end when the server stops, so a graceful
	// stop is cut short after this long.
	gracefulStopTimeout = 2 * time.Second
)

// tlsConfig requires clients to present a certificate signed by CaCertFile.
func (o Options) tlsConfig() (*tls.Config, error) {
	pair, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	pem, err := os.ReadFile(o.CaCertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	clientCAs := x509.NewCertPool()
	if !clientCAs.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", o.CaCertFile)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{pair},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    clientCAs,
	}, nil
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.ListenAddress)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve serves the Task service on lis until ctx is canceled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	defer lis.Close()
	creds := insecure.NewCredentials()
	if s.tlsEnabled() {
		conf, err := s.tlsConfig()
		if err != nil {
			return err
		}
		creds = credentials.NewTLS(conf)
	}
	gs := grpc.NewServer(
		grpc.Creds(creds),
		grpc.KeepaliveEnforcementPolicy(keepaliveEnforcement),
		grpc.KeepaliveParams(keepaliveParams),
		grpc.NumStreamWorkers(uint32(runtime.NumCPU())),
		grpc.ChainUnaryInterceptor(auth.UnaryServerInterceptor(s.middlewares)),
		grpc.ChainStreamInterceptor(auth.StreamServerInterceptor(s.middlewares)),
	)
	taskv1.RegisterTaskServer(gs, s)

	lg := slog.With("address", lis.Addr().String(), "tls", s.tlsEnabled(), "rbac", s.RBAC != nil)
	if !s.tlsEnabled() {
		lg.Warn("control server is listening without TLS")
	}
	lg.Info("control server starting")

	served := make(chan error, 1)
	go func() { served <- gs.Serve(lis) }()

	var err error
	select {
	case err = <-served:
	case <-ctx.Done():
		stopped := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(gracefulStopTimeout):
			lg.Debug("closing remaining streams")
			gs.Stop()
		}
		err = <-served
	}
	if err != nil {
		lg.With("error", err).Error("control server exited with error")
		return err
	}
	lg.Info("control server stopped")
	return nil
}
