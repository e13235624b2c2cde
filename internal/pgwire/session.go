package pgwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"

	"mimir/internal/domain"
	"mimir/internal/mimirsql"
)

// State is a session's position in the query lifecycle.
type State int

// Session states.
const (
	StateConnected State = iota
	StateAuthenticated
	StateAwaitingQuery
	StateParsing
	StateTranslating
	StateExecuting
	StateRendering
	StateClosed
)

var stateNames = [...]string{
	"connected", "authenticated", "awaiting_query", "parsing",
	"translating", "executing", "rendering", "closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transaction status bytes for ReadyForQuery.
const (
	txIdle  = 'I'
	txBlock = 'T'
)

// outcome is the answer to one statement: a table for SELECT, or only a
// command tag for session commands.
type outcome struct {
	table *domain.ResultTable
	tag   string
}

// session serves one client connection.
type session struct {
	// ctx is cancelled when the session ends or the server shuts down.
	ctx     context.Context
	cancel  context.CancelFunc
	srv     *Server
	backend *pgproto3.Backend
	types   *pgtype.Map
	key     backendKey
	params  map[string]string
	logger  *slog.Logger

	state    State
	txStatus byte

	// Extended protocol.
	statements map[string]*statement
	portals    map[string]*portal
	// failed discards extended-protocol messages until the next Sync.
	failed bool
}

type statement struct {
	query string
	oids  []uint32
}

type portal struct {
	query     string
	result    *outcome
	described bool
}

func newSession(srv *Server, conn net.Conn, backend *pgproto3.Backend, params map[string]string) *session {
	key := newBackendKey()
	user := strings.TrimSpace(params["user"])
	if user == "" {
		user = "anonymous"
	}
	ctx, cancel := context.WithCancel(srv.ctx)
	return &session{
		ctx:        ctx,
		cancel:     cancel,
		srv:        srv,
		backend:    backend,
		types:      pgtype.NewMap(),
		key:        key,
		params:     params,
		logger:     srv.logger.With("remote", conn.RemoteAddr().String(), "user", user, "pid", key.processID),
		state:      StateConnected,
		txStatus:   txIdle,
		statements: make(map[string]*statement),
		portals:    make(map[string]*portal),
	}
}

func (s *session) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.srv.observe != nil {
		s.srv.observe(st)
	}
}

func (s *session) send(msg pgproto3.BackendMessage) {
	s.backend.Send(msg)
}

func (s *session) readyForQuery() {
	s.send(&pgproto3.ReadyForQuery{TxStatus: s.txStatus})
}

// run authenticates the client and serves messages until it disconnects.
func (s *session) run() {
	defer s.setState(StateClosed)
	defer s.cancel()
	if s.srv.observe != nil {
		s.srv.observe(StateConnected)
	}
	if err := s.authenticate(); err != nil {
		s.logger.Debug("startup failed", "error", err)
		return
	}
	s.setState(StateAuthenticated)
	s.greet()
	s.setState(StateAwaitingQuery)
	s.logger.Debug("session started", "database", s.params["database"], "application", s.params["application_name"])

	for {
		if err := s.backend.Flush(); err != nil {
			return
		}
		msg, err := s.backend.Receive()
		if err != nil {
			if !isClosed(err) {
				s.send(protocolError(err.Error()))
				_ = s.backend.Flush()
			}
			return
		}
		if s.failed {
			switch msg.(type) {
			case *pgproto3.Sync, *pgproto3.Terminate, *pgproto3.Query:
			default:
				continue
			}
		}

		switch m := msg.(type) {
		case *pgproto3.Query:
			s.simpleQuery(m.String)
		case *pgproto3.Parse:
			s.parse(m)
		case *pgproto3.Bind:
			s.bind(m)
		case *pgproto3.Describe:
			s.describe(m)
		case *pgproto3.Execute:
			s.execute(m)
		case *pgproto3.Close:
			s.closeTarget(m)
		case *pgproto3.Flush:
			// Flush happens at the top of the loop.
		case *pgproto3.Sync:
			s.failed = false
			s.readyForQuery()
		case *pgproto3.Terminate:
			return
		default:
			s.send(protocolError(fmt.Sprintf("unsupported frontend message %T", msg)))
			s.readyForQuery()
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}

// authenticate optionally requests a cleartext password, then accepts.
func (s *session) authenticate() error {
	if s.srv.opts.RequirePassword {
		if err := s.backend.SetAuthType(pgproto3.AuthTypeCleartextPassword); err != nil {
			return err
		}
		s.send(&pgproto3.AuthenticationCleartextPassword{})
		if err := s.backend.Flush(); err != nil {
			return err
		}
		msg, err := s.backend.Receive()
		if err != nil {
			return err
		}
		if _, ok := msg.(*pgproto3.PasswordMessage); !ok {
			s.send(protocolError("expected password message"))
			_ = s.backend.Flush()
			return fmt.Errorf("expected password message, got %T", msg)
		}
	}
	s.send(&pgproto3.AuthenticationOk{})
	return nil
}

func (s *session) greet() {
	for _, kv := range [][2]string{
		{"server_version", s.srv.opts.ServerVersion},
		{"server_encoding", "UTF8"},
		{"client_encoding", "UTF8"},
		{"DateStyle", "ISO, MDY"},
		{"TimeZone", "UTC"},
		{"integer_datetimes", "on"},
		{"standard_conforming_strings", "on"},
		{"application_name", s.params["application_name"]},
	} {
		s.send(&pgproto3.ParameterStatus{Name: kv[0], Value: kv[1]})
	}
	s.send(&pgproto3.BackendKeyData{ProcessID: s.key.processID, SecretKey: s.key.secretKey})
	s.readyForQuery()
}

func isEmptyStatement(q string) bool {
	return strings.Trim(q, " \t\r\n;") == ""
}

func (s *session) simpleQuery(query string) {
	s.failed = false
	query = strings.TrimSpace(query)
	defer func() {
		s.setState(StateAwaitingQuery)
		s.readyForQuery()
	}()

	if isEmptyStatement(query) {
		s.send(&pgproto3.EmptyQueryResponse{})
		return
	}
	out, err := s.answer(query)
	if err != nil {
		s.reportError(query, err)
		return
	}
	s.setState(StateRendering)
	if out.table != nil {
		desc := describe(out.table)
		s.send(desc)
		s.sendRows(out.table, desc)
	}
	s.send(&pgproto3.CommandComplete{CommandTag: []byte(out.tag)})
}

func (s *session) reportError(query string, err error) {
	s.logger.Info("statement failed", "sql", query, "sqlstate", sqlState(err), "error", err)
	s.send(queryError(err))
}

// sendRows queues one DataRow per table row. The backend buffers them until
// the next flush.
func (s *session) sendRows(table *domain.ResultTable, desc *pgproto3.RowDescription) {
	for i := 0; i < table.NumRows(); i++ {
		values := make([][]byte, len(table.Columns))
		for c := range table.Columns {
			values[c] = formatValue(table.Columns[c].Values[i], desc.Fields[c].DataTypeOID)
		}
		s.send(&pgproto3.DataRow{Values: values})
	}
}

// answer runs one statement through parsing, translation and execution.
// The query can be cancelled with a CancelRequest carrying this session's
// backend key.
func (s *session) answer(query string) (*outcome, error) {
	s.setState(StateParsing)
	stmt, err := mimirsql.Parse(query)
	if err != nil {
		return nil, err
	}

	s.setState(StateTranslating)
	tr, err := mimirsql.TranslateStmt(stmt)
	if err != nil {
		return nil, err
	}

	s.setState(StateExecuting)
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	s.srv.trackQuery(s.key, cancel)
	defer s.srv.untrackQuery(s.key)

	switch tr.Kind {
	case mimirsql.KindSession:
		s.applySession(tr.Command)
		return &outcome{tag: tr.Command}, nil
	case mimirsql.KindProbe:
		table, err := s.srv.probe.Execute(ctx, tr.Probe)
		if err != nil {
			return nil, err
		}
		return selected(table), nil
	default:
		res, err := s.srv.engine.Query(ctx, tr.Inquiry)
		if err != nil {
			return nil, err
		}
		table, err := tr.Project(res.Table)
		if err != nil {
			return nil, err
		}
		return selected(table), nil
	}
}

func selected(table *domain.ResultTable) *outcome {
	return &outcome{table: table, tag: fmt.Sprintf("SELECT %d", table.NumRows())}
}

func (s *session) applySession(command string) {
	switch command {
	case "BEGIN":
		s.txStatus = txBlock
	case "COMMIT", "ROLLBACK":
		s.txStatus = txIdle
	}
}
