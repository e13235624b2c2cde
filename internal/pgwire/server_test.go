package pgwire

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimir/internal/domain"
	"mimir/internal/engine"
)

type fakeEngine struct {
	mu      sync.Mutex
	calls   []*domain.Inquiry
	table   *domain.ResultTable
	err     error
	release chan struct{}
	// cancelled records that a blocked query saw its context end.
	cancelled atomic.Bool
}

func (f *fakeEngine) Query(ctx context.Context, inq *domain.Inquiry) (*engine.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inq)
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			f.cancelled.Store(true)
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Result{Table: f.table}, nil
}

func (f *fakeEngine) Calls() []*domain.Inquiry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Inquiry(nil), f.calls...)
}

func rentalsByCategory() *domain.ResultTable {
	t := domain.NewResultTable(
		[]string{"dim_rental_category", "movies_rented"},
		[]string{"VARCHAR", "BIGINT"},
	)
	t.AppendRow([]any{"Action", int64(12)})
	t.AppendRow([]any{"Drama", int64(7)})
	t.AppendRow([]any{nil, int64(1)})
	return t
}

func startServer(t *testing.T, eng Engine, observe func(State)) *Server {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0", eng, Options{})
	require.NoError(t, err)
	srv.observe = observe
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

// === protocol client ===

// reply is a copy of one backend message. The frontend reuses its message
// buffers between reads, so every field is copied out on arrival.
type reply struct {
	typ    byte
	names  []string
	oids   []uint32
	values []any
	tag    string
	fields map[byte]string
	pos    int32
	status byte
	param  string
	auth   string
	pid    uint32
	secret uint32
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	fe   *pgproto3.Frontend
	pid  uint32
	key  uint32
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	return &testClient{t: t, conn: conn, fe: pgproto3.NewFrontend(conn, conn)}
}

func (c *testClient) startup(params map[string]string) {
	c.t.Helper()
	c.send(&pgproto3.StartupMessage{ProtocolVersion: pgproto3.ProtocolVersionNumber, Parameters: params})
}

func dialStartup(t *testing.T, srv *Server) *testClient {
	t.Helper()
	c := dial(t, srv)
	c.startup(map[string]string{"user": "analyst", "database": "mimir"})

	msgs := c.untilReady()
	require.Equal(t, byte('R'), msgs[0].typ)
	require.Equal(t, "ok", msgs[0].auth)
	for _, m := range msgs {
		if m.typ == 'K' {
			c.pid, c.key = m.pid, m.secret
		}
	}
	require.NotZero(t, c.pid)
	return c
}

func (c *testClient) send(msgs ...pgproto3.FrontendMessage) {
	c.t.Helper()
	for _, m := range msgs {
		c.fe.Send(m)
	}
	require.NoError(c.t, c.fe.Flush())
}

func (c *testClient) read() reply {
	c.t.Helper()
	msg, err := c.fe.Receive()
	require.NoError(c.t, err)

	switch m := msg.(type) {
	case *pgproto3.AuthenticationOk:
		return reply{typ: 'R', auth: "ok"}
	case *pgproto3.AuthenticationCleartextPassword:
		return reply{typ: 'R', auth: "cleartext"}
	case *pgproto3.ParameterStatus:
		return reply{typ: 'S', param: m.Name}
	case *pgproto3.BackendKeyData:
		return reply{typ: 'K', pid: m.ProcessID, secret: m.SecretKey}
	case *pgproto3.ReadyForQuery:
		return reply{typ: 'Z', status: m.TxStatus}
	case *pgproto3.RowDescription:
		r := reply{typ: 'T'}
		for _, f := range m.Fields {
			r.names = append(r.names, string(f.Name))
			r.oids = append(r.oids, f.DataTypeOID)
		}
		return r
	case *pgproto3.DataRow:
		r := reply{typ: 'D', values: make([]any, len(m.Values))}
		for i, v := range m.Values {
			if v != nil {
				r.values[i] = string(v)
			}
		}
		return r
	case *pgproto3.CommandComplete:
		return reply{typ: 'C', tag: string(m.CommandTag)}
	case *pgproto3.ErrorResponse:
		return reply{typ: 'E', pos: m.Position, fields: map[byte]string{
			'S': m.Severity, 'C': m.Code, 'M': m.Message,
		}}
	case *pgproto3.EmptyQueryResponse:
		return reply{typ: 'I'}
	case *pgproto3.ParseComplete:
		return reply{typ: '1'}
	case *pgproto3.BindComplete:
		return reply{typ: '2'}
	case *pgproto3.CloseComplete:
		return reply{typ: '3'}
	case *pgproto3.NoData:
		return reply{typ: 'n'}
	case *pgproto3.ParameterDescription:
		return reply{typ: 't', oids: append([]uint32(nil), m.ParameterOIDs...)}
	default:
		c.t.Fatalf("unexpected backend message %T", msg)
		return reply{}
	}
}

// untilReady reads messages up to and including ReadyForQuery.
func (c *testClient) untilReady() []reply {
	c.t.Helper()
	var out []reply
	for {
		m := c.read()
		out = append(out, m)
		if m.typ == 'Z' {
			return out
		}
	}
}

func (c *testClient) query(sql string) []reply {
	c.t.Helper()
	c.send(&pgproto3.Query{String: sql})
	return c.untilReady()
}

func msgTypes(msgs []reply) string {
	b := make([]byte, len(msgs))
	for i, m := range msgs {
		b[i] = m.typ
	}
	return string(b)
}

func find(msgs []reply, typ byte) *reply {
	for i := range msgs {
		if msgs[i].typ == typ {
			return &msgs[i]
		}
	}
	return nil
}

func dataRows(msgs []reply) [][]any {
	var rows [][]any
	for _, m := range msgs {
		if m.typ == 'D' {
			rows = append(rows, m.values)
		}
	}
	return rows
}

// === tests ===

func TestServer_StartupAndShutdown(t *testing.T) {
	srv := startServer(t, &fakeEngine{}, nil)
	require.NotEmpty(t, srv.Addr())

	c := dial(t, srv)

	// SSL is declined, then the client continues in plaintext.
	c.send(&pgproto3.SSLRequest{})
	answer := make([]byte, 1)
	_, err := io.ReadFull(c.conn, answer)
	require.NoError(t, err)
	assert.Equal(t, byte('N'), answer[0])

	c.startup(map[string]string{"user": "", "application_name": "psql"})
	msgs := c.untilReady()
	assert.Equal(t, byte('R'), msgs[0].typ)
	assert.NotNil(t, find(msgs, 'K'))
	assert.Equal(t, byte('I'), msgs[len(msgs)-1].status)

	var params []string
	for _, m := range msgs {
		if m.typ == 'S' {
			params = append(params, m.param)
		}
	}
	assert.Contains(t, params, "server_version")
	assert.Contains(t, params, "standard_conforming_strings")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Empty(t, srv.Addr())
}

func TestServer_RequiresEngine(t *testing.T) {
	_, err := NewServer("127.0.0.1:0", nil, Options{})
	require.Error(t, err)
}

func TestServer_SimpleQueryReordersColumns(t *testing.T) {
	eng := &fakeEngine{table: rentalsByCategory()}
	srv := startServer(t, eng, nil)
	c := dialStartup(t, srv)

	msgs := c.query(`SELECT AGG(movies_rented), dim_rental_category
		FROM mimir.metrics GROUP BY dim_rental_category`)
	require.Equal(t, "TDDDCZ", msgTypes(msgs))

	assert.Equal(t, []string{"movies_rented", "dim_rental_category"}, msgs[0].names)
	assert.Equal(t, []uint32{pgtype.Int8OID, pgtype.TextOID}, msgs[0].oids)
	assert.Equal(t, [][]any{
		{"12", "Action"},
		{"7", "Drama"},
		{"1", nil},
	}, dataRows(msgs))
	assert.Equal(t, "SELECT 3", msgs[4].tag)

	calls := eng.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"movies_rented"}, calls[0].Metrics)
	assert.Equal(t, []string{"dim_rental_category"}, calls[0].Dimensions)
}

func TestServer_ErrorsCarrySQLState(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		engineErr error
		wantCode  string
		wantCalls int
	}{
		{
			name:     "join is rejected before the engine",
			sql:      "SELECT * FROM mimir.metrics m JOIN other o ON m.a = o.a",
			wantCode: "0A000",
		},
		{
			name:     "malformed sql",
			sql:      "SELECT FROM mimir.metrics",
			wantCode: "42601",
		},
		{
			name:      "unknown metric",
			sql:       "SELECT AGG(nope) FROM mimir.metrics",
			engineErr: domain.ErrPlanning("unknown metric %q", "nope"),
			wantCode:  "42703",
			wantCalls: 1,
		},
		{
			name:      "source failure",
			sql:       "SELECT AGG(movies_rented) FROM mimir.metrics",
			engineErr: &domain.ExecutionError{Source: "rentals", Err: errors.New("connection refused")},
			wantCode:  "58000",
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{err: tt.engineErr}
			srv := startServer(t, eng, nil)
			c := dialStartup(t, srv)

			msgs := c.query(tt.sql)
			require.Equal(t, "EZ", msgTypes(msgs))
			fields := msgs[0].fields
			assert.Equal(t, tt.wantCode, fields['C'])
			assert.Equal(t, "ERROR", fields['S'])
			assert.NotEmpty(t, fields['M'])
			assert.Len(t, eng.Calls(), tt.wantCalls)

			// The session survives the error.
			msgs = c.query("SELECT 1")
			assert.Equal(t, "TDCZ", msgTypes(msgs))
		})
	}
}

func TestServer_ParseErrorPosition(t *testing.T) {
	srv := startServer(t, &fakeEngine{}, nil)
	c := dialStartup(t, srv)

	msgs := c.query("SELECT FROM mimir.metrics")
	assert.Equal(t, "42601", msgs[0].fields['C'])
	assert.Equal(t, int32(8), msgs[0].pos)
}

func TestServer_ProbeAndSessionCommands(t *testing.T) {
	eng := &fakeEngine{}
	srv := startServer(t, eng, nil)
	c := dialStartup(t, srv)

	msgs := c.query("SELECT 1")
	require.Equal(t, "TDCZ", msgTypes(msgs))
	assert.Equal(t, [][]any{{"1"}}, dataRows(msgs))
	assert.Equal(t, "SELECT 1", msgs[2].tag)

	msgs = c.query("SET extra_float_digits = 3")
	require.Equal(t, "CZ", msgTypes(msgs))
	assert.Equal(t, "SET", msgs[0].tag)

	msgs = c.query("BEGIN")
	assert.Equal(t, byte('T'), msgs[len(msgs)-1].status)
	msgs = c.query("COMMIT")
	assert.Equal(t, byte('I'), msgs[len(msgs)-1].status)

	msgs = c.query(" ; ")
	assert.Equal(t, "IZ", msgTypes(msgs))

	assert.Empty(t, eng.Calls())
}

func TestServer_StateTransitions(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)
	observe := func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	}
	srv := startServer(t, &fakeEngine{table: rentalsByCategory()}, observe)
	c := dialStartup(t, srv)
	c.query("SELECT dim_rental_category, AGG(movies_rented) FROM mimir.metrics")

	mu.Lock()
	got := append([]State(nil), states...)
	mu.Unlock()
	assert.Equal(t, []State{
		StateConnected, StateAuthenticated, StateAwaitingQuery,
		StateParsing, StateTranslating, StateExecuting, StateRendering,
		StateAwaitingQuery,
	}, got)
	assert.Equal(t, "awaiting_query", StateAwaitingQuery.String())
}

func TestServer_ExtendedProtocol(t *testing.T) {
	eng := &fakeEngine{table: rentalsByCategory()}
	srv := startServer(t, eng, nil)
	c := dialStartup(t, srv)

	c.send(
		&pgproto3.Parse{
			Query:         "SELECT dim_rental_category, AGG(movies_rented) FROM mimir.metrics WHERE dim_rental_category = $1 LIMIT $2",
			ParameterOIDs: []uint32{0, pgtype.Int8OID},
		},
		&pgproto3.Describe{ObjectType: 'S'},
		&pgproto3.Bind{Parameters: [][]byte{[]byte("Action"), []byte("5")}},
		&pgproto3.Describe{ObjectType: 'P'},
		&pgproto3.Execute{},
		&pgproto3.Sync{},
	)
	msgs := c.untilReady()
	require.Equal(t, "1tn2TDDDCZ", msgTypes(msgs))
	assert.Equal(t, []uint32{pgtype.TextOID, pgtype.Int8OID}, msgs[1].oids)

	calls := eng.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"dim_rental_category = 'Action'"}, calls[0].Filters)
	require.NotNil(t, calls[0].Limit)
	assert.Equal(t, 5, *calls[0].Limit)
}

func TestServer_ExtendedProtocolBinaryParam(t *testing.T) {
	eng := &fakeEngine{table: rentalsByCategory()}
	srv := startServer(t, eng, nil)
	c := dialStartup(t, srv)

	c.send(
		&pgproto3.Parse{
			Name:          "top",
			Query:         "SELECT dim_rental_category, AGG(movies_rented) FROM mimir.metrics LIMIT $1",
			ParameterOIDs: []uint32{pgtype.Int4OID},
		},
		&pgproto3.Bind{
			PreparedStatement:    "top",
			ParameterFormatCodes: []int16{pgtype.BinaryFormatCode},
			Parameters:           [][]byte{binary.BigEndian.AppendUint32(nil, 2)},
		},
		&pgproto3.Execute{},
		&pgproto3.Sync{},
	)
	msgs := c.untilReady()
	require.Equal(t, "12TDDDCZ", msgTypes(msgs))

	calls := eng.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Limit)
	assert.Equal(t, 2, *calls[0].Limit)
}

func TestServer_ExtendedProtocolErrorSkipsToSync(t *testing.T) {
	eng := &fakeEngine{}
	srv := startServer(t, eng, nil)
	c := dialStartup(t, srv)

	c.send(
		&pgproto3.Parse{Query: "SELECT * FROM mimir.metrics a JOIN b ON a.x = b.x"},
		&pgproto3.Bind{},
		&pgproto3.Describe{ObjectType: 'P'},
		&pgproto3.Execute{},
		&pgproto3.Sync{},
	)
	msgs := c.untilReady()
	require.Equal(t, "12EZ", msgTypes(msgs))
	assert.Equal(t, "0A000", msgs[2].fields['C'])
	assert.Empty(t, eng.Calls())

	c.send(&pgproto3.Bind{PreparedStatement: "missing"}, &pgproto3.Sync{})
	msgs = c.untilReady()
	require.Equal(t, "EZ", msgTypes(msgs))
	assert.Equal(t, "08P01", msgs[0].fields['C'])
}

func TestServer_CloseStatementAndPortal(t *testing.T) {
	srv := startServer(t, &fakeEngine{}, nil)
	c := dialStartup(t, srv)

	c.send(
		&pgproto3.Parse{Name: "one", Query: "SELECT 1"},
		&pgproto3.Bind{DestinationPortal: "p", PreparedStatement: "one"},
		&pgproto3.Close{ObjectType: 'P', Name: "p"},
		&pgproto3.Close{ObjectType: 'S', Name: "one"},
		&pgproto3.Sync{},
	)
	require.Equal(t, "1233Z", msgTypes(c.untilReady()))

	c.send(&pgproto3.Execute{Portal: "p"}, &pgproto3.Sync{})
	msgs := c.untilReady()
	require.Equal(t, "EZ", msgTypes(msgs))
	assert.Equal(t, "08P01", msgs[0].fields['C'])
}

func TestServer_CancelRequest(t *testing.T) {
	eng := &fakeEngine{table: rentalsByCategory(), release: make(chan struct{})}
	srv := startServer(t, eng, nil)
	c := dialStartup(t, srv)

	c.send(&pgproto3.Query{String: "SELECT AGG(movies_rented) FROM mimir.metrics"})
	require.Eventually(t, func() bool { return len(eng.Calls()) == 1 }, 5*time.Second, 10*time.Millisecond)

	canceller := dial(t, srv)
	canceller.send(&pgproto3.CancelRequest{ProcessID: c.pid, SecretKey: c.key})

	msgs := c.untilReady()
	require.Equal(t, "EZ", msgTypes(msgs))
	assert.Equal(t, "57014", msgs[0].fields['C'])
}

func TestServer_ShutdownCancelsRunningQuery(t *testing.T) {
	eng := &fakeEngine{table: rentalsByCategory(), release: make(chan struct{})}
	srv := startServer(t, eng, nil)
	c := dialStartup(t, srv)

	c.send(&pgproto3.Query{String: "SELECT AGG(movies_rented) FROM mimir.metrics"})
	require.Eventually(t, func() bool { return len(eng.Calls()) == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.True(t, eng.cancelled.Load())
}

func TestServer_PasswordIsRequestedButNotChecked(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", &fakeEngine{}, Options{RequirePassword: true})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Shutdown(context.Background()) //nolint:errcheck

	c := dial(t, srv)
	c.startup(map[string]string{"user": "analyst"})
	m := c.read()
	require.Equal(t, byte('R'), m.typ)
	assert.Equal(t, "cleartext", m.auth)

	c.send(&pgproto3.PasswordMessage{Password: "anything"})
	msgs := c.untilReady()
	assert.Equal(t, "ok", msgs[0].auth)
}

func TestServer_PGXClient(t *testing.T) {
	srv := startServer(t, &fakeEngine{table: rentalsByCategory()}, nil)

	cfg, err := pgx.ParseConfig("postgres://analyst@" + srv.Addr() + "/mimir?sslmode=disable")
	require.NoError(t, err)
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := pgx.ConnectConfig(ctx, cfg)
	require.NoError(t, err)
	defer conn.Close(ctx) //nolint:errcheck

	rows, err := conn.Query(ctx, "SELECT dim_rental_category, AGG(movies_rented) FROM mimir.metrics GROUP BY dim_rental_category")
	require.NoError(t, err)
	defer rows.Close()

	got := map[string]int64{}
	for rows.Next() {
		var (
			category *string
			rented   int64
		)
		require.NoError(t, rows.Scan(&category, &rented))
		key := "<null>"
		if category != nil {
			key = *category
		}
		got[key] = rented
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, map[string]int64{"Action": 12, "Drama": 7, "<null>": 1}, got)
}

// === unit tests ===

func TestSQLState(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{domain.ErrParse(3, "bad"), "42601"},
		{domain.ErrUnsupportedSQL("JOIN", ""), "0A000"},
		{domain.ErrPlanning("unknown dimension"), "42703"},
		{domain.ErrNotFound(domain.KindMetric, "x"), "42704"},
		{&domain.ConfigError{Violations: []string{"v"}}, "F0000"},
		{&domain.ExecutionError{Source: "s", Err: errors.New("boom")}, "58000"},
		{&domain.ExecutionError{Source: "s", Err: context.DeadlineExceeded}, "57014"},
		{domain.ErrCombine(nil, "mismatch"), "XX000"},
		{domain.ErrValidation("bad"), "22023"},
		{errors.New("other"), "XX000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqlState(tt.err), tt.err.Error())
	}
}

func TestPlaceholdersAndSubstitute(t *testing.T) {
	q := `SELECT d FROM mimir.metrics WHERE d = $2 AND e = '$9' AND "$7" = $1`
	assert.Equal(t, 2, placeholders(q))

	got, err := substitute(q, []string{"10", quoteLiteral("it's")})
	require.NoError(t, err)
	assert.Equal(t, `SELECT d FROM mimir.metrics WHERE d = 'it''s' AND e = '$9' AND "$7" = 10`, got)

	_, err = substitute("SELECT $3", []string{"1"})
	require.Error(t, err)
}

func TestParamLiteral(t *testing.T) {
	types := pgtype.NewMap()
	tests := []struct {
		name   string
		format int16
		oid    uint32
		raw    []byte
		want   string
	}{
		{"text numeric", pgtype.TextFormatCode, pgtype.Int8OID, []byte("42"), "42"},
		{"text bool", pgtype.TextFormatCode, pgtype.BoolOID, []byte("t"), "TRUE"},
		{"text string", pgtype.TextFormatCode, 0, []byte("Drama"), "'Drama'"},
		{"binary int2", pgtype.BinaryFormatCode, pgtype.Int2OID, []byte{0xff, 0xfe}, "-2"},
		{"binary int8", pgtype.BinaryFormatCode, pgtype.Int8OID, binary.BigEndian.AppendUint64(nil, 9), "9"},
		{"binary date", pgtype.BinaryFormatCode, pgtype.DateOID, binary.BigEndian.AppendUint32(nil, 31), "'2000-02-01'"},
		{"binary text", pgtype.BinaryFormatCode, pgtype.TextOID, []byte("x"), "'x'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := paramLiteral(types, tt.format, tt.oid, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := paramLiteral(types, pgtype.TextFormatCode, pgtype.Int4OID, []byte("1; DROP TABLE x"))
	require.Error(t, err)
	_, err = paramLiteral(types, pgtype.BinaryFormatCode, pgtype.Int4OID, []byte{1})
	require.Error(t, err)
	_, err = paramLiteral(types, 2, pgtype.TextOID, []byte("x"))
	require.Error(t, err)
}

func TestBindParams_FormatCodeCount(t *testing.T) {
	_, err := bindParams(pgtype.NewMap(), &pgproto3.Bind{
		ParameterFormatCodes: []int16{0, 0},
		Parameters:           [][]byte{[]byte("a"), []byte("b"), []byte("c")},
	}, nil)
	require.Error(t, err)

	got, err := bindParams(pgtype.NewMap(), &pgproto3.Bind{Parameters: [][]byte{nil, []byte("b")}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"NULL", "'b'"}, got)
}

func TestColumnOIDAndFormat(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, uint32(pgtype.Int8OID), columnOID(domain.Column{Type: "HUGEINT"}))
	assert.Equal(t, uint32(pgtype.Float8OID), columnOID(domain.Column{Type: "DECIMAL(18,3)"}))
	assert.Equal(t, uint32(pgtype.TextOID), columnOID(domain.Column{Type: "INTERVAL"}))
	assert.Equal(t, uint32(pgtype.TimestamptzOID), columnOID(domain.Column{Type: "TIMESTAMP WITH TIME ZONE"}))
	assert.Equal(t, uint32(pgtype.DateOID), columnOID(domain.Column{Type: "DATE"}))
	assert.Equal(t, uint32(pgtype.Float8OID), columnOID(domain.Column{Values: []any{nil, 1.5}}))
	assert.Equal(t, uint32(pgtype.TextOID), columnOID(domain.Column{Values: []any{"a", int64(1)}}))

	assert.Nil(t, formatValue(nil, pgtype.TextOID))
	assert.Equal(t, "t", string(formatValue(true, pgtype.BoolOID)))
	assert.Equal(t, "0.25", string(formatValue(0.25, pgtype.Float8OID)))
	assert.Equal(t, "2024-03-05", string(formatValue(ts, pgtype.DateOID)))
	assert.Equal(t, "2024-03-05 14:30:00", string(formatValue(ts, pgtype.TimestampOID)))
	assert.Equal(t, "2024-03-05 14:30:00Z", string(formatValue(ts, pgtype.TimestamptzOID)))
}
