// Package pgwire serves the semantic layer over the PostgreSQL v3 wire
// protocol. Clients query the virtual relation mimir.metrics with a
// restricted SELECT dialect; see package mimirsql.
package pgwire

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgproto3"

	"mimir/internal/connection"
	"mimir/internal/domain"
	"mimir/internal/engine"
)

// Engine answers inquiries. Implemented by *engine.Engine.
type Engine interface {
	Query(ctx context.Context, inq *domain.Inquiry) (*engine.Result, error)
}

// Options configures a Server.
type Options struct {
	Logger *slog.Logger
	// RequirePassword makes the server request a cleartext password during
	// startup. The password is not checked.
	RequirePassword bool
	// ServerVersion is reported in the server_version parameter.
	ServerVersion string
}

// Server is a PostgreSQL wire listener in front of an Engine.
type Server struct {
	addr   string
	engine Engine
	probe  domain.Connection
	opts   Options
	logger *slog.Logger

	// observe, when set, sees every session state transition.
	observe func(State)

	// ctx parents every session; Shutdown cancels it.
	ctx  context.Context
	stop context.CancelFunc

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup

	queryMu       sync.Mutex
	activeQueries map[backendKey]context.CancelFunc
}

type backendKey struct {
	processID uint32
	secretKey uint32
}

// NewServer creates a server for addr. Probe statements (SELECT without
// FROM) run against a private in-memory DuckDB with external access
// disabled.
func NewServer(addr string, eng Engine, opts Options) (*Server, error) {
	if eng == nil {
		return nil, errors.New("pgwire: engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ServerVersion == "" {
		opts.ServerVersion = "16.0"
	}
	logger := opts.Logger.With("component", "pgwire")

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open probe duckdb: %w", err)
	}
	if _, err := db.Exec("SET enable_external_access = false"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure probe duckdb: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		ctx:           ctx,
		stop:          stop,
		addr:          addr,
		engine:        eng,
		probe:         connection.NewSQLConnection("probe", db, logger),
		opts:          opts,
		logger:        logger,
		conns:         make(map[net.Conn]struct{}),
		activeQueries: make(map[backendKey]context.CancelFunc),
	}, nil
}

// Start begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return errors.New("pgwire listener already started")
	}

	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen pgwire: %w", err)
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop(ln)
	s.logger.Info("PG-wire listener enabled", "addr", ln.Addr().String())
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

// Shutdown stops accepting, cancels running queries, closes open sessions
// and waits for them to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil {
			return fmt.Errorf("close pgwire listener: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return s.probe.Close()
	case <-ctx.Done():
		return fmt.Errorf("pgwire shutdown: %w", ctx.Err())
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// handleConn negotiates startup and then runs a session. SSL and GSS
// encryption requests are declined.
func (s *Server) handleConn(conn net.Conn) {
	backend := pgproto3.NewBackend(conn, conn)
	for {
		msg, err := backend.ReceiveStartupMessage()
		if err != nil {
			if !isClosed(err) {
				backend.Send(protocolError(err.Error()))
				_ = backend.Flush()
			}
			return
		}
		switch m := msg.(type) {
		case *pgproto3.SSLRequest, *pgproto3.GSSEncRequest:
			if _, err := conn.Write([]byte{'N'}); err != nil {
				return
			}
		case *pgproto3.CancelRequest:
			s.cancelQuery(backendKey{processID: m.ProcessID, secretKey: m.SecretKey})
			return
		case *pgproto3.StartupMessage:
			if m.ProtocolVersion != pgproto3.ProtocolVersionNumber {
				backend.Send(protocolError(fmt.Sprintf("unsupported protocol version %d", m.ProtocolVersion)))
				_ = backend.Flush()
				return
			}
			newSession(s, conn, backend, m.Parameters).run()
			return
		default:
			backend.Send(protocolError(fmt.Sprintf("unexpected startup message %T", msg)))
			_ = backend.Flush()
			return
		}
	}
}

func (s *Server) trackQuery(key backendKey, cancel context.CancelFunc) {
	s.queryMu.Lock()
	defer s.queryMu.Unlock()
	s.activeQueries[key] = cancel
}

func (s *Server) untrackQuery(key backendKey) {
	s.queryMu.Lock()
	defer s.queryMu.Unlock()
	delete(s.activeQueries, key)
}

func (s *Server) cancelQuery(key backendKey) {
	s.queryMu.Lock()
	cancel := s.activeQueries[key]
	s.queryMu.Unlock()
	if cancel != nil {
		s.logger.Info("query cancel requested", "pid", key.processID)
		cancel()
	}
}

// newBackendKey derives a process ID and secret from a random UUID.
func newBackendKey() backendKey {
	id := uuid.New()
	return backendKey{
		processID: binary.BigEndian.Uint32(id[0:4])&0x7fffffff | 1,
		secretKey: binary.BigEndian.Uint32(id[8:12]),
	}
}
