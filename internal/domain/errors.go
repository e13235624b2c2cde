// Package domain defines core types, interfaces, and errors for the semantic layer.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError indicates a definition was not found in the registry.
type NotFoundError struct {
	Kind Kind
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// ValidationError indicates invalid input that does not belong to a more
// specific category (malformed request bodies, bad flags).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConfigError carries every referential-integrity violation found while
// building a registry.
type ConfigError struct {
	Violations []string
}

func (e *ConfigError) Error() string {
	switch len(e.Violations) {
	case 0:
		return "invalid configuration"
	case 1:
		return "invalid configuration: " + e.Violations[0]
	default:
		return fmt.Sprintf("invalid configuration (%d violations): %s",
			len(e.Violations), strings.Join(e.Violations, "; "))
	}
}

// PlanningError indicates an Inquiry that cannot be planned against the
// current registry.
type PlanningError struct {
	Message string
}

func (e *PlanningError) Error() string { return e.Message }

// ExecutionError indicates an atomic query failed on its source.
type ExecutionError struct {
	Source string
	SQL    string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("source %q: %v", e.Source, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was caused by an expired deadline.
func (e *ExecutionError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// CombineError indicates per-source results could not be joined.
type CombineError struct {
	Message string
	Err     error
}

func (e *CombineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CombineError) Unwrap() error { return e.Err }

// UnsupportedSQLError indicates a syntactically valid construct the SQL
// layer refuses to translate.
type UnsupportedSQLError struct {
	Construct string
	Message   string
}

func (e *UnsupportedSQLError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unsupported SQL: %s is not supported", e.Construct)
	}
	return fmt.Sprintf("unsupported SQL: %s", e.Message)
}

// ParseError indicates malformed SQL text.
type ParseError struct {
	Message string
	Pos     int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s", e.Pos, e.Message)
}

// ErrNotFound creates a NotFoundError for the given definition.
func ErrNotFound(kind Kind, name string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrPlanning creates a PlanningError with a formatted message.
func ErrPlanning(format string, args ...interface{}) *PlanningError {
	return &PlanningError{Message: fmt.Sprintf(format, args...)}
}

// ErrCombine creates a CombineError with a formatted message.
func ErrCombine(err error, format string, args ...interface{}) *CombineError {
	return &CombineError{Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrUnsupportedSQL creates an UnsupportedSQLError naming the rejected construct.
func ErrUnsupportedSQL(construct, format string, args ...interface{}) *UnsupportedSQLError {
	return &UnsupportedSQLError{Construct: construct, Message: fmt.Sprintf(format, args...)}
}

// ErrParse creates a ParseError at the given byte offset.
func ErrParse(pos int, format string, args ...interface{}) *ParseError {
	return &ParseError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}
