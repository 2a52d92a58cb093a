package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/volc-tts-gateway/internal/config"
	"github.com/lexiqai/volc-tts-gateway/internal/gateway"
	"github.com/lexiqai/volc-tts-gateway/internal/grpchealth"
	"github.com/lexiqai/volc-tts-gateway/internal/observability"
	"github.com/lexiqai/volc-tts-gateway/internal/resilience"
	"github.com/lexiqai/volc-tts-gateway/internal/segment"
	"github.com/lexiqai/volc-tts-gateway/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_port", cfg.GRPCPort).
		Str("endpoint", cfg.VolcEndpoint).
		Str("cluster", cfg.VolcCluster).
		Str("segment_store", cfg.SegmentStore).
		Str("output_encoding", cfg.OutputEncoding).
		Int("output_sample_rate", cfg.OutputSampleRate).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("TTS Gateway Service starting")

	startCtx, startCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	alloc, nc, err := segmentAllocator(startCtx, cfg, logger)
	startCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up segment store")
	}
	if nc != nil {
		defer nc.Close()
	}

	client := tts.NewVolcClient(cfg, alloc, logger)
	breaker := resilience.NewCircuitBreaker("volcengine", cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	breaker.SetLogger(logger.With().Str("component", "circuit_breaker").Logger())
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	caller := gateway.NewCaller(client, breaker, retry, logger)
	srv := gateway.NewServer(caller, cfg, logger)

	// Create HTTP server
	mux := http.NewServeMux()
	srv.Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	checks := []observability.DependencyCheck{{
		Name: "volcengine",
		Check: func(ctx context.Context) (bool, error) {
			if breaker.GetState() == resilience.StateOpen {
				return false, resilience.ErrCircuitOpen
			}
			return true, nil
		},
	}}
	if nc != nil {
		checks = append(checks, observability.DependencyCheck{
			Name: "nats",
			Check: func(ctx context.Context) (bool, error) {
				if !nc.IsConnected() {
					return false, fmt.Errorf("nats connection is %s", nc.Status())
				}
				return true, nil
			},
		})
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks...))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Streaming responses outlive a fixed write timeout; sessions are bounded
	// by the per-frame read deadline instead.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	healthServer := grpchealth.NewServer(logger)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		logger.Fatal().Err(err).Str("grpc_port", cfg.GRPCPort).Msg("Failed to listen for gRPC")
	}
	go func() {
		if err := healthServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC health server stopped")
		}
	}()

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("http_endpoint", fmt.Sprintf("http://localhost:%s/v1/synthesize", cfg.Port)).
			Str("ws_endpoint", fmt.Sprintf("ws://localhost:%s/streams/tts", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	healthServer.SetServing(false)

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	healthServer.Stop()

	logger.Info().Int("active_sessions", client.ActiveSessions()).Msg("Server exited gracefully")
}

// segmentAllocator picks where intermediate segments live. For the NATS
// store the returned connection must be closed by the caller.
func segmentAllocator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (segment.Allocator, *nats.Conn, error) {
	switch cfg.SegmentStore {
	case config.StoreDisk:
		if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create temp dir %s: %w", cfg.TempDir, err)
		}
		return segment.DirAllocator(cfg.TempDir), nil, nil

	case config.StoreNATS:
		var nc *nats.Conn
		err := resilience.Reconnect(ctx, "nats", func() error {
			conn, err := nats.Connect(cfg.NATSURL,
				nats.Name("volc-tts-gateway"),
				nats.MaxReconnects(-1),
				nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
					logger.Warn().Err(err).Msg("NATS disconnected")
				}),
				nats.ReconnectHandler(func(c *nats.Conn) {
					logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
				}),
			)
			if err != nil {
				return err
			}
			nc = conn
			return nil
		}, nil, logger)
		if err != nil {
			return nil, nil, err
		}

		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}
		store, err := segment.OpenBucket(js, cfg.NATSSegmentsBucket)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		logger.Info().Str("bucket", cfg.NATSSegmentsBucket).Msg("Segments stored in NATS object store")
		return segment.NATSAllocator(store), nc, nil

	default:
		return segment.MemoryAllocator(), nil, nil
	}
}
