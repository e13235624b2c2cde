package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"mimir/internal/domain"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code       int      `json:"code"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var (
		notFound    *domain.NotFoundError
		validation  *domain.ValidationError
		planning    *domain.PlanningError
		parseErr    *domain.ParseError
		unsupported *domain.UnsupportedSQLError
		configErr   *domain.ConfigError
		execution   *domain.ExecutionError
	)

	switch {
	case errors.As(err, &execution):
		if execution.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation), errors.As(err, &planning),
		errors.As(err, &parseErr), errors.As(err, &unsupported):
		return http.StatusBadRequest
	case errors.As(err, &configErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatusFromDomainError(err)
	body := errorBody{Code: status, Message: err.Error()}
	var configErr *domain.ConfigError
	if errors.As(err, &configErr) {
		body.Violations = configErr.Violations
	}
	writeJSON(w, status, body)
}
