package pgwire

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgproto3"

	"mimir/internal/domain"
)

// SQLSTATE codes sent in ErrorResponse.
const (
	stateSyntaxError        = "42601"
	stateFeatureUnsupported = "0A000"
	stateUndefinedColumn    = "42703"
	stateUndefinedObject    = "42704"
	stateConfigFile         = "F0000"
	stateSystemError        = "58000"
	stateInternalError      = "XX000"
	stateQueryCanceled      = "57014"
	stateInvalidParameter   = "22023"
	stateProtocolViolation  = "08P01"
)

// sqlState maps an engine or SQL layer error to its SQLSTATE.
func sqlState(err error) string {
	var (
		parseErr    *domain.ParseError
		unsupported *domain.UnsupportedSQLError
		planning    *domain.PlanningError
		notFound    *domain.NotFoundError
		configErr   *domain.ConfigError
		execution   *domain.ExecutionError
		combine     *domain.CombineError
		validation  *domain.ValidationError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return stateQueryCanceled
	case errors.As(err, &parseErr):
		return stateSyntaxError
	case errors.As(err, &unsupported):
		return stateFeatureUnsupported
	case errors.As(err, &planning):
		return stateUndefinedColumn
	case errors.As(err, &notFound):
		return stateUndefinedObject
	case errors.As(err, &configErr):
		return stateConfigFile
	case errors.As(err, &execution):
		return stateSystemError
	case errors.As(err, &combine):
		return stateInternalError
	case errors.As(err, &validation):
		return stateInvalidParameter
	default:
		return stateInternalError
	}
}

func errorResponse(code, msg string) *pgproto3.ErrorResponse {
	return &pgproto3.ErrorResponse{
		Severity:            "ERROR",
		SeverityUnlocalized: "ERROR",
		Code:                code,
		Message:             msg,
	}
}

// queryError builds the ErrorResponse for err. Parse errors carry their
// 1-based character position.
func queryError(err error) *pgproto3.ErrorResponse {
	resp := errorResponse(sqlState(err), err.Error())
	var parseErr *domain.ParseError
	if errors.As(err, &parseErr) {
		resp.Position = int32(parseErr.Pos + 1)
	}
	return resp
}

func protocolError(msg string) *pgproto3.ErrorResponse {
	return errorResponse(stateProtocolViolation, msg)
}
