package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/invoice-sync/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryProvider represents transient remote platform errors (worth retrying)
	CategoryProvider ErrorCategory = "provider"
	// CategoryRemoteRejected represents remote errors that will not succeed on retry
	CategoryRemoteRejected ErrorCategory = "remote_rejected"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization represents authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// User Input Errors (4xx)

// NewValidationError creates a validation error for a malformed request or record
func NewValidationError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_FAILED",
		Message:    message,
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// NewJobConflictError reports that a non-terminal sync job already exists for the key
func NewJobConflictError(companyID string, direction types.Direction, existingJobID string) *CategorizedError {
	details := map[string]interface{}{
		"companyId": companyID,
		"direction": direction,
	}
	if existingJobID != "" {
		details["jobId"] = existingJobID
	}
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "SYNC_JOB_ACTIVE",
		Message:    fmt.Sprintf("a sync job is already active for company %s (%s)", companyID, direction),
		Details:    details,
	}
}

// NewLockedError reports that another caller holds the mutual-exclusion key
func NewLockedError(key string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "LOCKED",
		Message:    fmt.Sprintf("resource is busy: %s", key),
		Details: map[string]interface{}{
			"key": key,
		},
	}
}

// NewInvalidTransitionError reports a local status change that is not allowed
func NewInvalidTransitionError(from, to types.LocalStatus) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "INVALID_STATE_TRANSITION",
		Message:    fmt.Sprintf("invoice cannot move from %s to %s", from, to),
		Details: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	}
}

// NewWrongDirectionError reports an operation applied to the wrong invoice direction
func NewWrongDirectionError(operation string, want types.Direction) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "WRONG_DIRECTION",
		Message:    fmt.Sprintf("%s is only allowed for %s invoices", operation, want),
		Details: map[string]interface{}{
			"operation": operation,
			"direction": want,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details: map[string]interface{}{
			"service": service,
		},
	}
}

// NewTimeoutError reports work that ran out of time; it may succeed on another attempt
func NewTimeoutError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "TIMEOUT",
		Message:    fmt.Sprintf("%s timed out", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Remote Errors

// NewRemoteTransientError wraps a remote failure that may succeed later
// (5xx, throttling, timeouts, network errors)
func NewRemoteTransientError(provider string, statusCode int, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "REMOTE_UNAVAILABLE",
		Message:    fmt.Sprintf("%s temporarily unavailable", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider":     provider,
			"remoteStatus": statusCode,
		},
	}
}

// NewRemoteFatalError wraps a remote failure that retrying cannot fix
// (bad credentials, unknown document, rejected state change)
func NewRemoteFatalError(provider string, statusCode int, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRemoteRejected,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "REMOTE_REJECTED",
		Message:    fmt.Sprintf("%s rejected the request", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider":     provider,
			"remoteStatus": statusCode,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	// If already categorized (possibly wrapped), return as-is
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	var imported *AlreadyImportedError
	if stderrors.As(err, &imported) {
		return &CategorizedError{
			Category:   CategoryConflict,
			StatusCode: http.StatusOK,
			Code:       "ALREADY_IMPORTED",
			Message:    imported.Error(),
			Details: map[string]interface{}{
				"reason":         imported.Reason,
				"linkedLedgerId": imported.LedgerID,
			},
			Cause: err,
		}
	}

	// Default to internal error
	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	switch err.Code {
	case "VALIDATION_FAILED", "INVALID_PARAMETER", "WRONG_DIRECTION":
		return &CategorizedError{
			Category:   CategoryUserInput,
			StatusCode: http.StatusBadRequest,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case "NOT_FOUND", "INVOICE_NOT_FOUND", "JOB_NOT_FOUND":
		return &CategorizedError{
			Category:   CategoryNotFound,
			StatusCode: http.StatusNotFound,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case "UNAUTHORIZED":
		return &CategorizedError{
			Category:   CategoryAuthorization,
			StatusCode: http.StatusUnauthorized,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case "FORBIDDEN":
		return &CategorizedError{
			Category:   CategoryAuthorization,
			StatusCode: http.StatusForbidden,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case "CONFLICT", "SYNC_JOB_ACTIVE", "INVALID_STATE_TRANSITION", "LOCKED":
		return &CategorizedError{
			Category:   CategoryConflict,
			StatusCode: http.StatusConflict,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	default:
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	// Retryable categories
	switch catErr.Category {
	case CategoryProvider, CategoryDatabase, CategoryCache:
		return true
	case CategorySystem:
		// Some system errors are retryable
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 500
}

// IsTransient reports whether err is a remote failure that a later attempt may fix
func IsTransient(err error) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	return catErr.Category == CategoryProvider
}

// IsFatalRemote reports whether err is a remote failure that retrying cannot fix
func IsFatalRemote(err error) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	return catErr.Category == CategoryRemoteRejected
}

// HasCode reports whether err carries the given error code
func HasCode(err error, code string) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	return catErr.Code == code
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == CategoryNotFound
}

// IsConflict reports whether err is a conflict error
func IsConflict(err error) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == CategoryConflict
}
