// Package syncerr defines the error taxonomy shared by the local store, the
// offline repositories and the sync engine.
//
// Every failure that crosses a package boundary is a *Error carrying a Code.
// Callers branch on the code with Is (or the IsStorage / IsRemote helpers),
// which see through fmt.Errorf("...: %w") wrapping.
package syncerr

import (
	"errors"
	"fmt"
)

// Code categorizes a failure.
type Code string

const (
	// CodeStorageUnavailable means the local persistence layer could not be
	// opened or an operation on it failed. Fatal for the current operation.
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"

	// CodeSchemaConflict means a table was registered twice with different
	// definitions. A programming error.
	CodeSchemaConflict Code = "SCHEMA_CONFLICT"

	// CodeCorruptRecord means a stored row could not be decoded. The row is
	// skipped and reported; surrounding batch reads continue.
	CodeCorruptRecord Code = "CORRUPT_RECORD"

	// CodeRemoteRejected means the remote service refused a submission.
	CodeRemoteRejected Code = "REMOTE_REJECTED"

	// CodeRemoteUnavailable means the remote service could not be reached or
	// timed out.
	CodeRemoteUnavailable Code = "REMOTE_UNAVAILABLE"

	// CodeNotFound means a single-record lookup matched nothing.
	CodeNotFound Code = "NOT_FOUND"

	// CodeSiteNotFound means the requested site is not registered.
	CodeSiteNotFound Code = "SITE_NOT_FOUND"
)

// Error is a coded failure.
type Error struct {
	// Code identifies the failure category.
	Code Code

	// Message is a human-readable description.
	Message string

	// SiteID identifies the affected site namespace, when known.
	SiteID string

	// Table names the affected local table, when known.
	Table string

	// Reason is the machine-readable reason reported by the remote service
	// (e.g. an error code from a validation failure).
	Reason string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Table != "" {
		msg += fmt.Sprintf(" (table=%s)", e.Table)
	}
	if e.Reason != "" {
		msg += fmt.Sprintf(" (reason=%s)", e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsStorage reports whether err is a local storage failure.
func IsStorage(err error) bool {
	return Is(err, CodeStorageUnavailable)
}

// IsRemote reports whether err is a rejected or failed remote submission.
func IsRemote(err error) bool {
	c := CodeOf(err)
	return c == CodeRemoteRejected || c == CodeRemoteUnavailable
}

// ReasonOf returns the remote reason carried by err, or "" if none.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// StorageUnavailable wraps a persistence failure.
func StorageUnavailable(message string, err error) *Error {
	return &Error{Code: CodeStorageUnavailable, Message: message, Err: err}
}

// SchemaConflict reports an inconsistent table definition.
func SchemaConflict(table, message string) *Error {
	return &Error{Code: CodeSchemaConflict, Message: message, Table: table}
}

// CorruptRecord reports a row whose serialized payload failed to decode.
func CorruptRecord(table, message string, err error) *Error {
	return &Error{Code: CodeCorruptRecord, Message: message, Table: table, Err: err}
}

// RemoteRejected reports a submission the remote service refused.
func RemoteRejected(reason, message string) *Error {
	return &Error{Code: CodeRemoteRejected, Message: message, Reason: reason}
}

// RemoteUnavailable reports a network or timeout failure talking to the remote service.
func RemoteUnavailable(message string, err error) *Error {
	return &Error{Code: CodeRemoteUnavailable, Message: message, Err: err}
}

// NotFound reports a missing record.
func NotFound(table, message string) *Error {
	return &Error{Code: CodeNotFound, Message: message, Table: table}
}

// SiteNotFound reports an unknown site.
func SiteNotFound(siteID string) *Error {
	return &Error{Code: CodeSiteNotFound, Message: fmt.Sprintf("site %q is not registered", siteID), SiteID: siteID}
}
