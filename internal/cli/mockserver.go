package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pitabwire/restkit/internal/config"
	"github.com/pitabwire/restkit/internal/mockapi"
	"github.com/pitabwire/restkit/internal/observability"
)

const shutdownTimeout = 10 * time.Second

// MockServerOptions are the options of the mock-server command.
type MockServerOptions struct {
	ConfigFile   string
	Addr         string
	JWTSecretEnv string
	Seed         bool

	// ready is called with the bound address once the server accepts
	// connections.
	ready func(addr string)
}

// DefaultMockServerOptions returns the default mock-server options.
func DefaultMockServerOptions() *MockServerOptions {
	return &MockServerOptions{Addr: ":8080", Seed: true}
}

// NewCmdMockServer returns the mock-server command, which serves the
// widgets API locally.
func NewCmdMockServer() *cobra.Command {
	o := DefaultMockServerOptions()
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve the widgets API from memory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

// Bind registers the mock-server flags.
func (o *MockServerOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "Path to a YAML configuration file.")
	fs.StringVar(&o.Addr, "addr", o.Addr, "Address to listen on.")
	fs.StringVar(&o.JWTSecretEnv, "jwt-secret-env", o.JWTSecretEnv, "Environment variable holding the HS256 secret. Unset disables authentication.")
	fs.BoolVar(&o.Seed, "seed", o.Seed, "Start with demo widgets.")
}

// Validate checks the mock-server flags.
func (o *MockServerOptions) Validate(args []string) error {
	if o.Addr == "" {
		return fmt.Errorf("--addr must not be empty")
	}
	if o.JWTSecretEnv != "" && os.Getenv(o.JWTSecretEnv) == "" {
		return fmt.Errorf("environment variable %s is empty", o.JWTSecretEnv)
	}
	return nil
}

// Run serves until ctx is done or the process is signalled.
func (o *MockServerOptions) Run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	logger = logger.Named("mock-server")
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "restkit-mock", observability.Version)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	reg := prometheus.NewRegistry()
	deps := mockapi.Dependencies{
		Store:    mockapi.NewStore(),
		Logger:   logger,
		Metrics:  observability.InitMetrics(reg),
		Gatherer: reg,
	}
	if o.Seed {
		deps.Store = mockapi.NewStore(demoWidgets()...)
	}
	if o.JWTSecretEnv != "" {
		deps.Secret = []byte(os.Getenv(o.JWTSecretEnv))
	}

	ln, err := net.Listen("tcp", o.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", o.Addr, err)
	}
	srv := &http.Server{
		Handler:           mockapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("mock server started",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("auth", len(deps.Secret) > 0),
		zap.Int("widgets", deps.Store.Len()),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving widgets API on http://%s\n", ln.Addr())
	if o.ready != nil {
		o.ready(ln.Addr().String())
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}
	logger.Info("mock server stopped")

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", serveErr)
	}
	return nil
}

func demoWidgets() []mockapi.Widget {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	weight := 2.5
	return []mockapi.Widget{
		{
			Name: "sprocket", Color: "red", Shape: "round", Weight: &weight,
			Parts:       []mockapi.Part{{Name: "tooth", Quantity: 24}, {Name: "hub", Quantity: 1}},
			Description: "A toothed wheel.", CreatedAt: &created,
		},
		{Name: "gizmo", Color: "green", Shape: "square", CreatedAt: &created},
		{Name: "doohickey", Color: "blue", CreatedAt: &created},
		{Name: "thingamajig", Color: "mauve", Description: "Its color is newer than most clients."},
	}
}
