package flightsql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	arrowflight "github.com/apache/arrow-go/v18/arrow/flight"
	arrowflightsql "github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"mimir/internal/arrowconv"
	"mimir/internal/domain"
	"mimir/internal/mimirsql"
	"mimir/internal/registry"
)

// The virtual relation clients select from.
const (
	relationSchema = "mimir"
	relationName   = "metrics"
	relationType   = "VIEW"
)

type queryServer struct {
	arrowflightsql.BaseServer

	engine Engine
	logger *slog.Logger
	mem    memory.Allocator

	mu      sync.Mutex
	tickets map[string]*domain.ResultTable
}

func newQueryServer(eng Engine, logger *slog.Logger, version string) *queryServer {
	srv := &queryServer{
		engine:  eng,
		logger:  logger,
		mem:     memory.DefaultAllocator,
		tickets: make(map[string]*domain.ResultTable),
	}
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerName, "mimir")
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerVersion, version)
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerArrowVersion, "18")
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerSql, true)
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerReadOnly, true)
	return srv
}

// answer translates sql and runs the resulting inquiry.
func (s *queryServer) answer(ctx context.Context, sql string) (*domain.ResultTable, error) {
	tr, err := mimirsql.Translate(sql)
	if err != nil {
		return nil, grpcError(err)
	}
	if tr.Kind != mimirsql.KindInquiry {
		return nil, grpcError(domain.ErrUnsupportedSQL(tr.Kind.String(),
			"only SELECT ... FROM %s.%s is answered over Flight SQL", relationSchema, relationName))
	}

	res, err := s.engine.Query(ctx, tr.Inquiry)
	if err != nil {
		s.logger.Debug("flight sql inquiry failed", "error", err)
		return nil, grpcError(err)
	}
	table, err := tr.Project(res.Table)
	if err != nil {
		return nil, grpcError(err)
	}
	return table, nil
}

func (s *queryServer) GetFlightInfoStatement(ctx context.Context, stmt arrowflightsql.StatementQuery, desc *arrowflight.FlightDescriptor) (*arrowflight.FlightInfo, error) {
	table, err := s.answer(ctx, stmt.GetQuery())
	if err != nil {
		return nil, err
	}

	handle := uuid.NewString()
	s.mu.Lock()
	s.tickets[handle] = table
	s.mu.Unlock()

	ticket, err := arrowflightsql.CreateStatementQueryTicket([]byte(handle))
	if err != nil {
		return nil, fmt.Errorf("create statement query ticket: %w", err)
	}

	return &arrowflight.FlightInfo{
		Schema:           arrowflight.SerializeSchema(arrowconv.Schema(table), s.mem),
		FlightDescriptor: desc,
		Endpoint: []*arrowflight.FlightEndpoint{{
			Ticket:   &arrowflight.Ticket{Ticket: ticket},
			Location: []*arrowflight.Location{{Uri: arrowflight.LocationReuseConnection}},
		}},
		TotalRecords: int64(table.NumRows()),
		TotalBytes:   -1,
		Ordered:      true,
	}, nil
}

func (s *queryServer) GetSchemaStatement(ctx context.Context, stmt arrowflightsql.StatementQuery, _ *arrowflight.FlightDescriptor) (*arrowflight.SchemaResult, error) {
	table, err := s.answer(ctx, stmt.GetQuery())
	if err != nil {
		return nil, err
	}
	return &arrowflight.SchemaResult{Schema: arrowflight.SerializeSchema(arrowconv.Schema(table), s.mem)}, nil
}

func (s *queryServer) DoGetStatement(ctx context.Context, ticket arrowflightsql.StatementQueryTicket) (*arrow.Schema, <-chan arrowflight.StreamChunk, error) {
	handle := string(ticket.GetStatementHandle())

	s.mu.Lock()
	table, ok := s.tickets[handle]
	delete(s.tickets, handle)
	s.mu.Unlock()
	if !ok {
		return nil, nil, status.Error(codes.NotFound, "unknown statement handle")
	}

	record, err := arrowconv.Record(s.mem, table)
	if err != nil {
		return nil, nil, grpcError(domain.ErrCombine(err, "encode result"))
	}
	return streamSingleRecord(ctx, record)
}

func (s *queryServer) GetFlightInfoTables(_ context.Context, req arrowflightsql.GetTables, desc *arrowflight.FlightDescriptor) (*arrowflight.FlightInfo, error) {
	return &arrowflight.FlightInfo{
		Schema:           arrowflight.SerializeSchema(tablesSchema(req.GetIncludeSchema()), s.mem),
		FlightDescriptor: desc,
		Endpoint: []*arrowflight.FlightEndpoint{{
			Ticket:   &arrowflight.Ticket{Ticket: desc.Cmd},
			Location: []*arrowflight.Location{{Uri: arrowflight.LocationReuseConnection}},
		}},
		TotalRecords: -1,
		TotalBytes:   -1,
		Ordered:      true,
	}, nil
}

func (s *queryServer) GetSchemaTables(_ context.Context, req arrowflightsql.GetTables, _ *arrowflight.FlightDescriptor) (*arrowflight.SchemaResult, error) {
	return &arrowflight.SchemaResult{Schema: arrowflight.SerializeSchema(tablesSchema(req.GetIncludeSchema()), s.mem)}, nil
}

// DoGetTables lists mimir.metrics when it passes the request's filters.
func (s *queryServer) DoGetTables(ctx context.Context, req arrowflightsql.GetTables) (*arrow.Schema, <-chan arrowflight.StreamChunk, error) {
	schema := tablesSchema(req.GetIncludeSchema())
	listed := relationMatches(req)

	catalogB := array.NewStringBuilder(s.mem)
	schemaB := array.NewStringBuilder(s.mem)
	nameB := array.NewStringBuilder(s.mem)
	typeB := array.NewStringBuilder(s.mem)
	builders := []array.Builder{catalogB, schemaB, nameB, typeB}
	var tableSchemaB *array.BinaryBuilder
	if req.GetIncludeSchema() {
		tableSchemaB = array.NewBinaryBuilder(s.mem, arrow.BinaryTypes.Binary)
		builders = append(builders, tableSchemaB)
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	rows := 0
	if listed {
		rows = 1
		catalogB.AppendNull()
		schemaB.Append(relationSchema)
		nameB.Append(relationName)
		typeB.Append(relationType)
		if tableSchemaB != nil {
			tableSchemaB.Append(arrowflight.SerializeSchema(relationArrowSchema(s.engine.Registry()), s.mem))
		}
	}

	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
	}
	record := array.NewRecord(schema, cols, int64(rows))
	for _, c := range cols {
		c.Release()
	}
	return streamSingleRecord(ctx, record)
}

func relationMatches(req arrowflightsql.GetTables) bool {
	if c := req.GetCatalog(); c != nil && *c != "" {
		return false
	}
	if p := req.GetDBSchemaFilterPattern(); p != nil && !likeMatch(*p, relationSchema) {
		return false
	}
	if p := req.GetTableNameFilterPattern(); p != nil && !likeMatch(*p, relationName) {
		return false
	}
	if types := req.GetTableTypes(); len(types) > 0 {
		for _, t := range types {
			if strings.EqualFold(strings.TrimSpace(t), relationType) {
				return true
			}
		}
		return false
	}
	return true
}

// likeMatch evaluates a SQL LIKE pattern (% and _ wildcards).
func likeMatch(pattern, s string) bool {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String()).MatchString(s)
}

// relationArrowSchema describes mimir.metrics: every dimension, then every
// metric. Metric types depend on the source database, so they are
// advertised as DOUBLE.
func relationArrowSchema(reg *registry.Registry) *arrow.Schema {
	var fields []arrow.Field
	add := func(name, typeName string, dt arrow.DataType, remarks string) {
		md := arrow.NewMetadata(
			[]string{
				arrowflightsql.SchemaNameKey,
				arrowflightsql.TableNameKey,
				arrowflightsql.TypeNameKey,
				arrowflightsql.IsReadOnlyKey,
				arrowflightsql.IsSearchableKey,
				arrowflightsql.RemarksKey,
			},
			[]string{relationSchema, relationName, typeName, "1", "1", remarks},
		)
		fields = append(fields, arrow.Field{Name: name, Type: dt, Nullable: true, Metadata: md})
	}
	for _, d := range reg.Dimensions() {
		add(d.Name, "VARCHAR", arrow.BinaryTypes.String, d.Description)
	}
	for _, m := range reg.Metrics() {
		add(m.Name, "DOUBLE", arrow.PrimitiveTypes.Float64, m.Description)
	}
	return arrow.NewSchema(fields, nil)
}

func tablesSchema(includeSchema bool) *arrow.Schema {
	fields := []arrow.Field{
		{Name: "catalog_name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "db_schema_name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "table_name", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "table_type", Type: arrow.BinaryTypes.String, Nullable: false},
	}
	if includeSchema {
		fields = append(fields, arrow.Field{Name: "table_schema", Type: arrow.BinaryTypes.Binary, Nullable: false})
	}
	return arrow.NewSchema(fields, nil)
}

func streamSingleRecord(ctx context.Context, record arrow.Record) (*arrow.Schema, <-chan arrowflight.StreamChunk, error) {
	defer record.Release()
	schema := record.Schema()
	rdr, err := array.NewRecordReader(schema, []arrow.RecordBatch{record})
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan arrowflight.StreamChunk)
	go arrowflight.StreamChunksFromReader(ctx, rdr, ch)
	return schema, ch, nil
}

// grpcError maps domain errors to gRPC status codes.
func grpcError(err error) error {
	var (
		notFound    *domain.NotFoundError
		validation  *domain.ValidationError
		planning    *domain.PlanningError
		parseErr    *domain.ParseError
		unsupported *domain.UnsupportedSQLError
		execution   *domain.ExecutionError
	)
	switch {
	case errors.As(err, &parseErr), errors.As(err, &unsupported),
		errors.As(err, &validation), errors.As(err, &planning):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &notFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &execution):
		if execution.Timeout() {
			return status.Error(codes.DeadlineExceeded, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
