// Package errors provides standardized error handling for the query router.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes. The string value is
// the stable error_kind exposed to API callers.
type ErrorCode string

const (
	// Input validation
	ErrCodeInputTooLarge ErrorCode = "INPUT_TOO_LARGE"

	// External service adapters (embedding / classification)
	ErrCodeServiceUnavailable       ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeServiceTimeout           ErrorCode = "SERVICE_TIMEOUT"
	ErrCodeServiceMalformedResponse ErrorCode = "SERVICE_MALFORMED_RESPONSE"

	// Routing
	ErrCodeNoRouteFound ErrorCode = "NO_ROUTE_FOUND"

	// Security validation — always fatal, always audited
	ErrCodeUnauthorizedTable  ErrorCode = "UNAUTHORIZED_TABLE"
	ErrCodeUnauthorizedColumn ErrorCode = "UNAUTHORIZED_COLUMN"
	ErrCodeLimitExceeded      ErrorCode = "LIMIT_EXCEEDED"
	ErrCodeDangerousConstruct ErrorCode = "DANGEROUS_CONSTRUCT"

	// Execution and shared infrastructure
	ErrCodeQueryExecutionFailed       ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeCacheUnavailable           ErrorCode = "CACHE_UNAVAILABLE"
	ErrCodeSimilarityStoreUnavailable ErrorCode = "SIMILARITY_STORE_UNAVAILABLE"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// CodeOf extracts the ErrorCode from any error in the chain, "" when none.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// ==========================
// 2. Error Constructors
// ==========================

// NewInputTooLargeError creates a non-retryable input validation error.
func NewInputTooLargeError(length, max int) *StandardError {
	return &StandardError{
		Code:      ErrCodeInputTooLarge,
		Message:   "Query exceeds maximum allowed length",
		Details:   fmt.Sprintf("length: %d, max: %d", length, max),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewServiceUnavailableError creates a retryable external service error.
func NewServiceUnavailableError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeServiceUnavailable,
		Message:   fmt.Sprintf("External service '%s' unavailable", service),
		Details:   errDetails(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewServiceTimeoutError creates a retryable external service timeout error.
func NewServiceTimeoutError(service string) *StandardError {
	return &StandardError{
		Code:      ErrCodeServiceTimeout,
		Message:   fmt.Sprintf("External service '%s' timeout", service),
		Details:   "call exceeded configured timeout",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewServiceMalformedResponseError creates a non-retryable decode error.
func NewServiceMalformedResponseError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeServiceMalformedResponse,
		Message:   fmt.Sprintf("External service '%s' returned a malformed response", service),
		Details:   errDetails(err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoRouteFoundError signals that every routing rule was exhausted. The
// caller surfaces a low-confidence response, not a failure.
func NewNoRouteFoundError(query string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoRouteFound,
		Message:   "No routing rule produced sufficient confidence",
		Details:   fmt.Sprintf("query: %s", query),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnauthorizedTableError creates a fatal security validation error.
func NewUnauthorizedTableError(relation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnauthorizedTable,
		Message:   "Target relation is not on the allow-list",
		Details:   fmt.Sprintf("relation: %s", relation),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnauthorizedColumnError creates a fatal security validation error.
func NewUnauthorizedColumnError(column, relation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnauthorizedColumn,
		Message:   "Referenced column is not allowed on this layer",
		Details:   fmt.Sprintf("column: %s, relation: %s", column, relation),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLimitExceededError creates a fatal security validation error.
func NewLimitExceededError(requested, ceiling int) *StandardError {
	return &StandardError{
		Code:      ErrCodeLimitExceeded,
		Message:   "Requested row limit exceeds the role ceiling",
		Details:   fmt.Sprintf("requested: %d, ceiling: %d", requested, ceiling),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDangerousConstructError creates a fatal security validation error.
func NewDangerousConstructError(detail string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDangerousConstruct,
		Message:   "Specification contains a construct outside the read-only contract",
		Details:   detail,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable execution error.
func NewQueryExecutionFailedError(relation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Data layer query execution failed",
		Details:   fmt.Sprintf("relation: %s, error: %s", relation, errDetails(err)),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheUnavailableError creates a retryable cache infrastructure error.
// Cache failures degrade to a miss and never fail the request.
func NewCacheUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheUnavailable,
		Message:   "Cache backend unavailable",
		Details:   errDetails(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSimilarityStoreUnavailableError distinguishes "store down" from
// "no similar queries exist".
func NewSimilarityStoreUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSimilarityStoreUnavailable,
		Message:   "Similarity store unavailable",
		Details:   errDetails(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 3. Propagation Policy
// ==========================

// GetRetryCount returns the automatic retry budget per code. Transient service
// errors are recovered via deterministic degraded paths and retried at most
// once; security errors and input validation are never retried.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeServiceUnavailable,
		ErrCodeServiceTimeout,
		ErrCodeQueryExecutionFailed:
		return 1

	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// IsFatal reports whether the code must fail the request outright (no
// degraded continuation).
func IsFatal(code ErrorCode) bool {
	switch code {
	case ErrCodeInputTooLarge,
		ErrCodeUnauthorizedTable,
		ErrCodeUnauthorizedColumn,
		ErrCodeLimitExceeded,
		ErrCodeDangerousConstruct:
		return true
	}
	return false
}

// HTTPStatus maps an error code to the status returned by the API layer.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInputTooLarge:
		return 413
	case ErrCodeUnauthorizedTable, ErrCodeUnauthorizedColumn,
		ErrCodeLimitExceeded, ErrCodeDangerousConstruct:
		return 403
	case ErrCodeServiceTimeout:
		return 504
	case ErrCodeServiceUnavailable, ErrCodeCacheUnavailable,
		ErrCodeSimilarityStoreUnavailable:
		return 503
	default:
		return 500
	}
}

// GetErrorCategory returns the category of the error code, for logging and
// metrics labels.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "INPUT"):
		return "VALIDATION"
	case strings.Contains(codeStr, "SERVICE"):
		return "EXTERNAL_SERVICE"
	case strings.Contains(codeStr, "UNAUTHORIZED") ||
		strings.Contains(codeStr, "LIMIT") ||
		strings.Contains(codeStr, "DANGEROUS"):
		return "SECURITY"
	case strings.Contains(codeStr, "ROUTE"):
		return "ROUTING"
	case strings.Contains(codeStr, "CACHE") || strings.Contains(codeStr, "SIMILARITY"):
		return "INFRASTRUCTURE"
	case strings.Contains(codeStr, "QUERY"):
		return "EXECUTION"
	default:
		return "OTHER"
	}
}
