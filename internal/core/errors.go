package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatGateway       ErrorCategory = "gateway"       // Model call failed or returned nothing usable
	ErrCatSchema        ErrorCategory = "schema"        // Output could not be parsed into the expected shape
	ErrCatConfiguration ErrorCategory = "configuration" // Stage invoked without its predecessor data
	ErrCatValidation    ErrorCategory = "validation"    // Invalid input
	ErrCatCancelled     ErrorCategory = "cancelled"     // Run aborted by the operator
	ErrCatState         ErrorCategory = "state"         // Record invariant violated
)

// Error codes.
const (
	CodeGatewayFailed      = "GATEWAY_FAILED"
	CodeGatewayTimeout     = "GATEWAY_TIMEOUT"
	CodeGatewayRateLimited = "GATEWAY_RATE_LIMITED"
	CodeGatewayAuth        = "GATEWAY_AUTH"
	CodeEmptyResponse      = "EMPTY_RESPONSE"
	CodeSchemaViolation    = "SCHEMA_VIOLATION"
	CodeMissingPredecessor = "MISSING_PREDECESSOR"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeInvalidIterations  = "INVALID_MAX_ITERATIONS"
	CodeInvalidAudience    = "INVALID_AUDIENCE"
	CodeInvalidIntake      = "INVALID_INTAKE"
	CodeRunCancelled       = "RUN_CANCELLED"
	CodeSectionReopened    = "SECTION_REOPENED"
	CodeUnknownStage       = "UNKNOWN_STAGE"
	CodeInvalidExpression  = "INVALID_EXPRESSION"
	CodeExpressionFailed   = "EXPRESSION_FAILED"
	CodeRunNotFound        = "RUN_NOT_FOUND"
	CodeChecksumMismatch   = "CHECKSUM_MISMATCH"
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError with the same category and code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrGateway creates a non-retryable gateway error.
func ErrGateway(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatGateway,
		Code:     code,
		Message:  message,
	}
}

// ErrGatewayTransient creates a gateway error the gateway's own retry policy
// may retry (rate limits, timeouts, 5xx).
func ErrGatewayTransient(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatGateway,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrSchemaViolation creates a schema error carrying the offending raw text.
func ErrSchemaViolation(schema, raw string, violations []string) *DomainError {
	msg := fmt.Sprintf("output does not match schema %q", schema)
	if len(violations) > 0 {
		msg += ": " + strings.Join(violations, "; ")
	}
	return &DomainError{
		Category: ErrCatSchema,
		Code:     CodeSchemaViolation,
		Message:  msg,
		Details: map[string]interface{}{
			"raw_output": raw,
			"violations": violations,
		},
	}
}

// ErrConfiguration creates a configuration error for a stage.
func ErrConfiguration(stage Stage, message string) *DomainError {
	return &DomainError{
		Category: ErrCatConfiguration,
		Code:     CodeMissingPredecessor,
		Message:  message,
		Details:  map[string]interface{}{"stage": string(stage)},
	}
}

// ErrExpression creates an error for a rule expression that does not compile
// or does not evaluate to a boolean.
func ErrExpression(code, expression, message string) *DomainError {
	return &DomainError{
		Category: ErrCatConfiguration,
		Code:     code,
		Message:  message,
		Details:  map[string]interface{}{"expression": expression},
	}
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     code,
		Message:  message,
	}
}

// ErrCancelled creates a cancellation error.
func ErrCancelled(message string) *DomainError {
	return &DomainError{
		Category: ErrCatCancelled,
		Code:     CodeRunCancelled,
		Message:  message,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatState,
		Code:     code,
		Message:  message,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category, or "" for foreign errors.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ""
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// RawOutput returns the raw model text attached to a schema violation.
func RawOutput(err error) string {
	var domErr *DomainError
	if !errors.As(err, &domErr) || domErr.Details == nil {
		return ""
	}
	raw, _ := domErr.Details["raw_output"].(string)
	return raw
}
