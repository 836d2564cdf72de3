// Package deltaerr defines the single root error type used across the
// engine, plus type-guard predicates for each subkind. Every error raised
// by this module's public surface is a *deltaerr.Error so callers can
// match on Code without caring which internal package produced it.
package deltaerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code identifies the error family. Stable across releases.
type Code string

const (
	CodeStorage     Code = "STORAGE"
	CodeConcurrency Code = "CONCURRENCY"
	CodeValidation  Code = "VALIDATION"
	CodeCDC         Code = "CDC"
	CodeAbort       Code = "ABORT"
)

// StorageSubkind distinguishes storage-layer failures.
type StorageSubkind string

const (
	StorageNotFound        StorageSubkind = "NOT_FOUND"
	StorageVersionMismatch StorageSubkind = "VERSION_MISMATCH"
	StorageProvider        StorageSubkind = "PROVIDER"
)

// CDCSubkind enumerates CDC-specific failure codes from spec §7.
type CDCSubkind string

const (
	CDCInvalidVersionRange CDCSubkind = "INVALID_VERSION_RANGE"
	CDCInvalidTimeRange    CDCSubkind = "INVALID_TIME_RANGE"
	CDCTableNotFound       CDCSubkind = "TABLE_NOT_FOUND"
	CDCNotEnabled          CDCSubkind = "CDC_NOT_ENABLED"
	CDCStorageError        CDCSubkind = "STORAGE_ERROR"
	CDCParseError          CDCSubkind = "PARSE_ERROR"
	CDCEmptyWrite          CDCSubkind = "EMPTY_WRITE"
)

// Error is the root type every public-facing failure is wrapped into.
// It carries a stable machine-matchable Code, a human Message, the
// wrapped Cause (via github.com/pkg/errors, which also captures a stack
// trace at the point of Wrap), and subkind-specific structured fields.
type Error struct {
	Code    Code
	Message string
	Cause   error

	// Storage fields.
	StorageKind StorageSubkind
	Path        string
	Op          string

	// Concurrency fields.
	ExpectedVersion int64
	ActualVersion   int64

	// Validation fields.
	Field string
	Value any

	// CDC fields.
	CDCKind CDCSubkind

	// Retryable marks whether withRetry should retry this error by default.
	Retryable bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("deltalake: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("deltalake: %s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is / errors.As walk through to Cause.
func (e *Error) Unwrap() error { return e.Cause }

// StackTrace exposes the captured stack when Cause carries one, so
// callers doing structured logging can print it without re-wrapping.
func (e *Error) StackTrace() errors.StackTrace {
	type stackTracer interface{ StackTrace() errors.StackTrace }
	if st, ok := e.Cause.(stackTracer); ok {
		return st.StackTrace()
	}
	return nil
}

func wrap(code Code, msg string, cause error) *Error {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, msg)
	} else {
		wrapped = errors.New(msg)
	}
	return &Error{Code: code, Message: msg, Cause: wrapped}
}

// NewStorageError builds a StorageError with the given subkind.
func NewStorageError(kind StorageSubkind, op, path string, cause error) *Error {
	e := wrap(CodeStorage, fmt.Sprintf("%s %s", op, path), cause)
	e.StorageKind = kind
	e.Op = op
	e.Path = path
	return e
}

// NewConcurrencyError builds a ConcurrencyError per spec §7; always retryable.
func NewConcurrencyError(expected, actual int64) *Error {
	e := wrap(CodeConcurrency, fmt.Sprintf("expected version %d, actual %d", expected, actual), nil)
	e.ExpectedVersion = expected
	e.ActualVersion = actual
	e.Retryable = true
	return e
}

// NewValidationError builds a ValidationError; never retryable.
func NewValidationError(field string, value any, msg string) *Error {
	e := wrap(CodeValidation, msg, nil)
	e.Field = field
	e.Value = value
	return e
}

// NewCDCError builds a CDCError with the given subkind.
func NewCDCError(kind CDCSubkind, msg string, cause error) *Error {
	e := wrap(CodeCDC, msg, cause)
	e.CDCKind = kind
	return e
}

// NewAbortError wraps a cancellation surfaced at a suspension point.
func NewAbortError(cause error) *Error {
	e := wrap(CodeAbort, "operation aborted", cause)
	return e
}

// IsStorageError reports whether err is a StorageError of any subkind;
// IsNotFound and IsVersionMismatch match a specific subkind.
func IsStorageError(err error) (*Error, bool) {
	e, ok := asError(err)
	return e, ok && e.Code == CodeStorage
}

// IsNotFound reports whether err is a StorageError{NotFound}.
func IsNotFound(err error) bool {
	e, ok := IsStorageError(err)
	return ok && e.StorageKind == StorageNotFound
}

// IsVersionMismatch reports whether err is a StorageError{VersionMismatch}.
func IsVersionMismatch(err error) bool {
	e, ok := IsStorageError(err)
	return ok && e.StorageKind == StorageVersionMismatch
}

// IsConcurrencyError reports whether err is a ConcurrencyError.
func IsConcurrencyError(err error) (*Error, bool) {
	e, ok := asError(err)
	return e, ok && e.Code == CodeConcurrency
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) (*Error, bool) {
	e, ok := asError(err)
	return e, ok && e.Code == CodeValidation
}

// IsCDCError reports whether err is a CDCError.
func IsCDCError(err error) (*Error, bool) {
	e, ok := asError(err)
	return e, ok && e.Code == CodeCDC
}

// IsAbortError reports whether err is an AbortError.
func IsAbortError(err error) bool {
	e, ok := asError(err)
	return ok && e.Code == CodeAbort
}

// IsRetryable reports whether withRetry should retry this error.
func IsRetryable(err error) bool {
	e, ok := asError(err)
	return ok && e.Retryable
}

func asError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
