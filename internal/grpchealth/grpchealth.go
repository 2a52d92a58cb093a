// Package grpchealth serves the standard gRPC health protocol for the
// gateway and probes it from the CLI.
package grpchealth

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the health service key for synthesis.
const ServiceName = "volc.tts.Synthesis"

// Server hosts the gRPC health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewServer creates a health server reporting SERVING for the whole server
// and for ServiceName.
func NewServer(logger zerolog.Logger) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger.With().Str("component", "grpc_health").Logger(),
	}
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(true)
	return s
}

// SetServing flips both the overall and the synthesis status.
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
	return s.grpc.Serve(lis)
}

// Stop reports NOT_SERVING and drains in-flight checks.
func (s *Server) Stop() {
	s.SetServing(false)
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Client checks a remote gateway over one long-lived connection.
type Client struct {
	addr string

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// NewClient returns a client for addr. The connection is made lazily.
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

func (c *Client) connect(ctx context.Context) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	conn, err := grpc.DialContext(ctx, c.addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway at %s: %w", c.addr, err)
	}
	c.conn = conn
	return conn, nil
}

// Check returns the serving status of service ("" for the whole server).
func (c *Client) Check(ctx context.Context, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.Status, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
