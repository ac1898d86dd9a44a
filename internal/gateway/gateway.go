// ABOUTME: Gateway orchestrator that coordinates the HTTP/WebSocket and gRPC health servers
// ABOUTME: Owns the replay store, conversation service, maintenance loop and shutdown lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/tsnet"

	"github.com/2389/converse-gateway/internal/auth"
	"github.com/2389/converse-gateway/internal/config"
	"github.com/2389/converse-gateway/internal/conversation"
	"github.com/2389/converse-gateway/internal/envelope"
	"github.com/2389/converse-gateway/internal/flush"
	"github.com/2389/converse-gateway/internal/generator"
	"github.com/2389/converse-gateway/internal/replay"
)

// HealthService is the gRPC health service name reported alongside the
// overall ("") status.
const HealthService = "converse.Gateway"

// readyTimeout bounds the replay store ping behind /health/ready.
const readyTimeout = 2 * time.Second

// Option customizes a Gateway.
type Option func(*options)

type options struct {
	store     replay.Store
	generator generator.Adapter
}

// WithReplayStore uses store instead of opening the configured backend.
func WithReplayStore(store replay.Store) Option {
	return func(o *options) { o.store = store }
}

// WithGenerator uses gen instead of the configured provider.
func WithGenerator(gen generator.Adapter) Option {
	return func(o *options) { o.generator = gen }
}

// Gateway orchestrates the converse-gateway server components.
type Gateway struct {
	config       *config.Config
	store        replay.Store
	conversation *conversation.Service
	codec        *envelope.Codec
	builder      *envelope.Builder
	verifier     auth.Verifier
	httpServer   *http.Server
	grpcServer   *grpc.Server
	health       *health.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger

	connMu sync.Mutex
	conns  map[*wsPeer]context.CancelFunc
}

// openReplayStore creates the replay store selected by cfg.
func openReplayStore(ctx context.Context, cfg config.ReplayConfig, logger *slog.Logger) (replay.Store, error) {
	opts := []replay.Option{replay.WithTTL(cfg.TTL), replay.WithLogger(logger)}
	switch cfg.Backend {
	case "", config.ReplayBackendMemory:
		return replay.NewMemoryStore(opts...), nil
	case config.ReplayBackendRedis:
		return replay.NewRedisStore(ctx, cfg.RedisURL, cfg.KeyPrefix, opts...)
	case config.ReplayBackendSQLite:
		return replay.NewSQLiteStore(cfg.SQLitePath, opts...)
	default:
		return nil, fmt.Errorf("unknown replay backend %q", cfg.Backend)
	}
}

// flushPolicy converts the flush section into a buffer policy.
func flushPolicy(cfg config.FlushConfig) flush.Policy {
	p := flush.Policy{MaxChars: cfg.MaxChars, MinSentenceChars: cfg.MinSentenceChars, CR: flush.CRStrip}
	if cfg.NormalizeCR == config.NormalizeCRNewline {
		p.CR = flush.CRNewline
	}
	return p
}

// createGRPCServer creates the gRPC server carrying the health service.
func createGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	return server, hs
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		var err error
		store, err = openReplayStore(context.Background(), cfg.Replay, logger)
		if err != nil {
			return nil, fmt.Errorf("opening replay store: %w", err)
		}
	}

	gen := o.generator
	if gen == nil {
		var err error
		gen, err = generator.New(cfg.Generator)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("creating generator: %w", err)
		}
	}

	codec, err := envelope.NewCodec()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("compiling envelope schemas: %w", err)
	}
	builder := envelope.NewBuilder()

	convService, err := conversation.NewService(conversation.Config{
		Generator:     gen,
		Store:         store,
		Builder:       builder,
		Flush:         flushPolicy(cfg.Flush),
		CancelPolicy:  cfg.Conversation.CancelPolicy,
		DefaultUserID: cfg.Conversation.DefaultUserID,
		IdleTimeout:   cfg.Conversation.IdleTimeout,
		Logger:        logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	grpcServer, hs := createGRPCServer()
	gw := &Gateway{
		config:       cfg,
		store:        store,
		conversation: convService,
		codec:        codec,
		builder:      builder,
		grpcServer:   grpcServer,
		health:       hs,
		logger:       logger.With("component", "gateway"),
		conns:        make(map[*wsPeer]context.CancelFunc),
	}

	if cfg.Auth.JWTSecret != "" {
		gw.verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		gw.logger.Info("stream auth enabled (JWT)")
	} else {
		gw.logger.Warn("stream auth disabled - no jwt_secret configured")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	mux.Handle(cfg.Server.StreamPath, auth.Middleware(gw.verifier, logger)(http.HandlerFunc(gw.handleStream)))
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler serving the stream, health and metrics endpoints.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates standard TCP listeners. The gRPC listener is nil
// when no grpc_addr is configured.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.config.Server.GRPCAddr == "" {
		return nil, httpLn, nil
	}
	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning the error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String(), "stream_path", g.config.Server.StreamPath)
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and the maintenance loop and blocks until ctx is
// canceled. Returns nil on graceful shutdown, or the first server error.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	maintCtx, stopMaintenance := context.WithCancel(ctx)
	maintDone := make(chan struct{})
	go func() {
		defer close(maintDone)
		g.maintenanceLoop(maintCtx)
	}()

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	stopMaintenance()
	<-maintDone
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the servers, closes live streams, ends running generation
// tasks and releases the replay store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.closeStreams()

	g.shutdownGRPCServer(ctx)
	g.conversation.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "replay store close", g.store.Close())

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the replay store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "replay store unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d conversations)", g.conversation.Len())
}
