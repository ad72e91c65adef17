package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies one kind of subscriber-data failure
type ErrorCode string

const (
	// Document field validation
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"
	ErrCodeWrongType    ErrorCode = "WRONG_TYPE"
	ErrCodeOutOfRange   ErrorCode = "OUT_OF_RANGE"

	// Ingestion
	ErrCodeDuplicateProfile ErrorCode = "DUPLICATE_PROFILE"
	ErrCodeAPNAlreadyLoaded ErrorCode = "APN_ALREADY_LOADED"
	ErrCodeStoreFull        ErrorCode = "STORE_FULL"
	ErrCodeSchema           ErrorCode = "SCHEMA_ERROR"
	ErrCodeIO               ErrorCode = "IO_ERROR"
	ErrCodeParse            ErrorCode = "PARSE_ERROR"

	// Session resolution
	ErrCodeNoAPNProfile      ErrorCode = "NO_APN_PROFILE"
	ErrCodeNoChargingProfile ErrorCode = "NO_CHARGING_PROFILE"

	// Registry and dispatch
	ErrCodeBackendNotFound   ErrorCode = "BACKEND_NOT_FOUND"
	ErrCodeNoBackendSelected ErrorCode = "NO_BACKEND_SELECTED"
	ErrCodeNotSupported      ErrorCode = "NOT_SUPPORTED"

	// Document database backend
	ErrCodeSubscriberNotFound ErrorCode = "SUBSCRIBER_NOT_FOUND"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrCodeInternalError   ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is; they match any DBIError carrying the same code.
var (
	ErrMissingField       = &DBIError{Code: ErrCodeMissingField}
	ErrWrongType          = &DBIError{Code: ErrCodeWrongType}
	ErrOutOfRange         = &DBIError{Code: ErrCodeOutOfRange}
	ErrDuplicateProfile   = &DBIError{Code: ErrCodeDuplicateProfile}
	ErrAPNAlreadyLoaded   = &DBIError{Code: ErrCodeAPNAlreadyLoaded}
	ErrStoreFull          = &DBIError{Code: ErrCodeStoreFull}
	ErrSchema             = &DBIError{Code: ErrCodeSchema}
	ErrIO                 = &DBIError{Code: ErrCodeIO}
	ErrParse              = &DBIError{Code: ErrCodeParse}
	ErrNoAPNProfile       = &DBIError{Code: ErrCodeNoAPNProfile}
	ErrNoChargingProfile  = &DBIError{Code: ErrCodeNoChargingProfile}
	ErrBackendNotFound    = &DBIError{Code: ErrCodeBackendNotFound}
	ErrNoBackendSelected  = &DBIError{Code: ErrCodeNoBackendSelected}
	ErrNotSupported       = &DBIError{Code: ErrCodeNotSupported}
	ErrSubscriberNotFound = &DBIError{Code: ErrCodeSubscriberNotFound}
	ErrBackendUnavailable = &DBIError{Code: ErrCodeBackendUnavailable}
	ErrInvalidArgument    = &DBIError{Code: ErrCodeInvalidArgument}
)

// DBIError represents a structured error with context
type DBIError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *DBIError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	if e.Component == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *DBIError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DBIError with the same code
func (e *DBIError) Is(target error) bool {
	if t, ok := target.(*DBIError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *DBIError) WithMetadata(key string, value interface{}) *DBIError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// HTTPStatusCode returns the status the admin API answers with
func (e *DBIError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeMissingField, ErrCodeWrongType, ErrCodeOutOfRange,
		ErrCodeSchema, ErrCodeParse, ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeNoAPNProfile, ErrCodeNoChargingProfile,
		ErrCodeBackendNotFound, ErrCodeSubscriberNotFound:
		return http.StatusNotFound
	case ErrCodeDuplicateProfile, ErrCodeAPNAlreadyLoaded:
		return http.StatusConflict
	case ErrCodeStoreFull:
		return http.StatusInsufficientStorage
	case ErrCodeNotSupported:
		return http.StatusNotImplemented
	case ErrCodeNoBackendSelected, ErrCodeBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new DBIError
func NewError(code ErrorCode, component, message string) *DBIError {
	return &DBIError{
		Code:      code,
		Component: component,
		Message:   message,
	}
}

// Newf creates a new DBIError with a formatted message
func Newf(code ErrorCode, component, format string, args ...interface{}) *DBIError {
	return NewError(code, component, fmt.Sprintf(format, args...))
}

// WrapError wraps an existing error with DBIError structure
func WrapError(err error, code ErrorCode, component, message string) *DBIError {
	if err == nil {
		return nil
	}

	return &DBIError{
		Code:      code,
		Component: component,
		Message:   message,
		Cause:     err,
		Details:   err.Error(),
	}
}

// IsDBIError checks if an error is a DBIError
func IsDBIError(err error) bool {
	var dbiErr *DBIError
	return errors.As(err, &dbiErr)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var dbiErr *DBIError
	if errors.As(err, &dbiErr) {
		return dbiErr.Code
	}
	return ErrCodeInternalError
}

// GetHTTPStatusCode gets the appropriate HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	var dbiErr *DBIError
	if errors.As(err, &dbiErr) {
		return dbiErr.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}
