// Package flightsql serves the semantic layer over Arrow Flight SQL. Clients
// send the same SELECT dialect as PG-wire clients and receive Arrow record
// batches.
package flightsql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	arrowflight "github.com/apache/arrow-go/v18/arrow/flight"
	arrowflightsql "github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"google.golang.org/grpc"
	grpcHealth "google.golang.org/grpc/health"
	grpcHealthV1 "google.golang.org/grpc/health/grpc_health_v1"

	"mimir/internal/domain"
	"mimir/internal/engine"
	"mimir/internal/registry"
)

// Engine is the part of *engine.Engine the server needs.
type Engine interface {
	Query(ctx context.Context, inq *domain.Inquiry) (*engine.Result, error)
	Registry() *registry.Registry
}

// Server is a Flight SQL listener in front of an Engine.
type Server struct {
	addr    string
	engine  Engine
	logger  *slog.Logger
	version string

	mu         sync.Mutex
	ln         net.Listener
	grpcServer *grpc.Server
	wg         sync.WaitGroup
}

// NewServer creates a server for addr. version is reported through SqlInfo.
func NewServer(addr string, eng Engine, logger *slog.Logger, version string) (*Server, error) {
	if eng == nil {
		return nil, errors.New("flightsql: engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	return &Server{addr: addr, engine: eng, logger: logger.With("component", "flightsql"), version: version}, nil
}

// Start begins serving.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return fmt.Errorf("flight sql listener already started")
	}

	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen flight sql: %w", err)
	}
	grpcSrv := grpc.NewServer()
	arrowflight.RegisterFlightServiceServer(grpcSrv, arrowflightsql.NewFlightServer(newQueryServer(s.engine, s.logger, s.version)))
	healthSrv := grpcHealth.NewServer()
	healthSrv.SetServingStatus("", grpcHealthV1.HealthCheckResponse_SERVING)
	grpcHealthV1.RegisterHealthServer(grpcSrv, healthSrv)

	s.ln = ln
	s.grpcServer = grpcSrv
	s.wg.Add(1)
	go s.serve(ln, grpcSrv)
	s.logger.Info("Flight SQL listener enabled", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the gRPC server gracefully, forcing it closed when ctx
// ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	grpcSrv := s.grpcServer
	s.ln = nil
	s.grpcServer = nil
	s.mu.Unlock()
	if grpcSrv == nil {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		grpcSrv.Stop()
		s.wg.Wait()
		return fmt.Errorf("flight sql shutdown: %w", ctx.Err())
	case <-time.After(5 * time.Second):
		grpcSrv.Stop()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) serve(ln net.Listener, grpcSrv *grpc.Server) {
	defer s.wg.Done()
	if err := grpcSrv.Serve(ln); err != nil {
		s.logger.Debug("flight sql gRPC server stopped", "error", err)
	}
}
