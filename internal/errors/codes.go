package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for screen operations
type ErrorCode int

const (
	ErrCodeOK ErrorCode = 0

	// Client errors
	ErrCodeNotFound          ErrorCode = 1000
	ErrCodeValidationFailure ErrorCode = 1001
	ErrCodeConflict          ErrorCode = 1002

	// Server errors
	ErrCodeInternal         ErrorCode = 2000
	ErrCodeStoreUnavailable ErrorCode = 2001
	ErrCodePartialFailure   ErrorCode = 2002
	ErrCodeCorruptedData    ErrorCode = 2003
)

// String returns the taxonomy name of the code
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeNotFound:
		return "NotFound"
	case ErrCodeValidationFailure:
		return "ValidationFailure"
	case ErrCodeConflict:
		return "Conflict"
	case ErrCodeStoreUnavailable:
		return "StoreUnavailable"
	case ErrCodePartialFailure:
		return "PartialFailure"
	case ErrCodeCorruptedData:
		return "CorruptedData"
	default:
		return "Internal"
	}
}

// ServiceError represents a structured error with code and context
type ServiceError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts ServiceError to gRPC status
func (e *ServiceError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *ServiceError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeValidationFailure:
		return codes.InvalidArgument
	case ErrCodeConflict:
		return codes.Aborted
	case ErrCodeStoreUnavailable:
		return codes.Unavailable
	case ErrCodeCorruptedData:
		return codes.DataLoss
	case ErrCodePartialFailure:
		return codes.Unknown
	default:
		return codes.Internal
	}
}

// GRPCCode maps any error onto a gRPC code. Context errors keep their own codes.
func GRPCCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se.toGRPCCode()
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case stderrors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return status.Code(err)
}

// HTTPStatus returns the HTTP status for err, going through its gRPC code
func HTTPStatus(err error) int {
	switch GRPCCode(err) {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return 499
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewServiceError creates a new ServiceError
func NewServiceError(code ErrorCode, message string, cause error) *ServiceError {
	return &ServiceError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *ServiceError) WithDetail(key string, value interface{}) *ServiceError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func ConfigNotFound(name string) *ServiceError {
	return NewServiceError(ErrCodeNotFound, fmt.Sprintf("configuration not found: %s", name), nil).
		WithDetail("name", name)
}

func VersionNotFound(name, versionID string) *ServiceError {
	return NewServiceError(ErrCodeNotFound, fmt.Sprintf("version not found: %s@%s", name, versionID), nil).
		WithDetail("name", name).
		WithDetail("version_id", versionID)
}

func BackupNotFound(backupID string) *ServiceError {
	return NewServiceError(ErrCodeNotFound, fmt.Sprintf("backup not found: %s", backupID), nil).
		WithDetail("backup_id", backupID)
}

func ValidationFailure(field, reason string) *ServiceError {
	return NewServiceError(ErrCodeValidationFailure, fmt.Sprintf("invalid %s: %s", field, reason), nil).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func StaleHead(name, expected, actual string) *ServiceError {
	return NewServiceError(ErrCodeConflict, fmt.Sprintf("stale head for %s: expected %q, found %q", name, expected, actual), nil).
		WithDetail("name", name).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func StoreUnavailable(message string, cause error) *ServiceError {
	return NewServiceError(ErrCodeStoreUnavailable, message, cause)
}

func PartialFailure(message string, failed []string) *ServiceError {
	return NewServiceError(ErrCodePartialFailure, message, nil).
		WithDetail("failed", failed)
}

func CorruptedData(message string, cause error) *ServiceError {
	return NewServiceError(ErrCodeCorruptedData, message, cause)
}

func InternalError(message string, cause error) *ServiceError {
	return NewServiceError(ErrCodeInternal, message, cause)
}

// IsServiceError checks if an error is, or wraps, a ServiceError
func IsServiceError(err error) bool {
	var se *ServiceError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsNotFound reports whether err carries ErrCodeNotFound
func IsNotFound(err error) bool {
	return err != nil && GetCode(err) == ErrCodeNotFound
}
