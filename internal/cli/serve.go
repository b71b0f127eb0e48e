package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ggg436/greenloops/feed-sync/config"
	"github.com/ggg436/greenloops/feed-sync/internal/adapters/primary/auth"
	"github.com/ggg436/greenloops/feed-sync/internal/adapters/primary/events"
	"github.com/ggg436/greenloops/feed-sync/internal/adapters/primary/ws"
	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
	"github.com/ggg436/greenloops/feed-sync/internal/core/ports"
	"github.com/ggg436/greenloops/feed-sync/internal/core/services"
)

// NewServeCommand creates the long-running server command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve live feeds over WebSocket",
		Long: `Serves one live feed session per WebSocket connection on /feed, a gRPC health
service, and the counter repair request subject on NATS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts.Config)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("🚀 Starting feed-sync", "config", cfg)

	// 1. Telemetry (Tracing)
	defer startTracing(ctx, cfg)()

	// 2. Infrastructure (Driven Adapters)
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	validator, err := loadValidator(cfg)
	if err != nil {
		return err
	}

	// 3. Core
	reconciler := services.NewCounterReconciler(b.scanner, cfg.RepairBatchSize)
	feedOpts := services.Options{RecentLimit: cfg.RecentLimit, PageSize: cfg.PageSize}
	newSession := func(viewer domain.Viewer) ports.FeedSession {
		return services.NewFeed(b.posts, b.profiles, b.graph, ports.StaticViewer(viewer), feedOpts)
	}

	// 4. NATS maintenance responder (Driving Adapter - Async)
	if b.nc != nil {
		sub, err := events.NewMaintenanceHandler(reconciler).Subscribe(b.nc)
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", events.SubjectRepair, err)
		}
		defer func() { _ = sub.Unsubscribe() }()
		slog.Info("👂 Listening for repair requests (NATS)", "subject", events.SubjectRepair)
	}

	// 5. WebSocket boundary (Driving Adapter - Sync)
	feedHandler := ws.NewHandler(newSession, cfg.AllowedOrigins)
	srvHTTP := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           newHTTPHandler(cfg, feedHandler, validator),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 6. gRPC health
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen on gRPC port: %w", err)
	}
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	errCh := make(chan error, 2)
	go func() {
		slog.Info("📡 gRPC health listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		slog.Info("📡 Feed WebSocket listening", "port", cfg.HTTPPort, "path", "/feed")
		if err := srvHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	// Graceful Shutdown
	slog.Info("🛑 Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	feedHandler.Close()
	grpcServer.GracefulStop()

	slog.Info("👋 Server exited")
	return runErr
}

// newHTTPHandler builds the middleware chain: OTEL HTTP, then CORS, then auth.
func newHTTPHandler(cfg config.Config, feed http.Handler, validator *auth.Validator) http.Handler {
	h := feed

	// A. Auth (injects the viewer)
	if validator != nil {
		h = auth.Middleware(validator)(h)
	}

	// B. CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "baggage", "sentry-trace"},
		AllowCredentials: true,
	})
	h = c.Handler(h)

	// C. OTEL HTTP (root span)
	h = otelhttp.NewHandler(h, "feed-ws", otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
		return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)
	}))

	mux := http.NewServeMux()
	mux.Handle("/feed", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}

// loadValidator reads the identity service public key. The in-memory mode runs without
// one: every viewer is anonymous.
func loadValidator(cfg config.Config) (*auth.Validator, error) {
	pem, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		if cfg.InMemory() {
			slog.Warn("No JWT public key, every viewer is anonymous", "path", cfg.JWTPublicKeyPath)
			return nil, nil
		}
		return nil, fmt.Errorf("read JWT public key: %w", err)
	}
	return auth.NewValidator(pem)
}
