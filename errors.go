package nadb

import (
	"github.com/cockroachdb/errors"
)

// ErrorCode classifies every error the engine can return, per the taxonomy
// in §7 of the specification. Callers are expected to check codes with
// IsCode/CodeOf (or errors.Is/As against an *Error carrying the wanted
// code) rather than string-matching messages.
type ErrorCode uint32

const (
	// CodeInternalError is a catch-all for unexpected failures.
	CodeInternalError ErrorCode = iota
	// CodeInvalidArgument marks an empty/too-large key, bad ttl, unknown backend, etc.
	CodeInvalidArgument
	// CodeNotFound marks a key absent on read or delete.
	CodeNotFound
	// CodeAlreadyExists marks begin-transaction on an already-terminated handle.
	CodeAlreadyExists
	// CodePathTraversal marks an attempted escape from a backend's root.
	CodePathTraversal
	// CodeValueTooLarge marks a value exceeding a backend's max size.
	CodeValueTooLarge
	// CodeBackendIO marks disk/network/protocol failures, including pool exhaustion.
	CodeBackendIO
	// CodeCorruption marks a checksum mismatch in a backup or replication stream.
	CodeCorruption
	// CodeInvalidState marks nested transactions, double-commit, use of a closed store.
	CodeInvalidState
	// CodeReadOnly is a subclass of CodeInvalidState for writes on a replication secondary.
	CodeReadOnly
	// CodeExpired is an internal signal for a TTL-expired key; it is converted to
	// CodeNotFound before being surfaced to callers (see NotFoundOrExpired).
	CodeExpired
	// CodeBusy marks a connection-pool checkout that timed out.
	CodeBusy
	// CodeUnsupported marks an operation the backend's capabilities don't support.
	CodeUnsupported
	// CodeProtocol marks a malformed or out-of-spec wire message.
	CodeProtocol
)

func (c ErrorCode) String() string {
	switch c {
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeNotFound:
		return "NotFound"
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodePathTraversal:
		return "PathTraversal"
	case CodeValueTooLarge:
		return "ValueTooLarge"
	case CodeBackendIO:
		return "BackendIO"
	case CodeCorruption:
		return "Corruption"
	case CodeInvalidState:
		return "InvalidState"
	case CodeReadOnly:
		return "ReadOnly"
	case CodeExpired:
		return "Expired"
	case CodeBusy:
		return "Busy"
	case CodeUnsupported:
		return "Unsupported"
	case CodeProtocol:
		return "Protocol"
	default:
		return "InternalError"
	}
}

// Error is the error type returned by every public operation in the engine.
// It wraps an ErrorCode and an underlying cause built with cockroachdb/errors
// so that errors.Is/As and cause-chain formatting (%+v) work across package
// boundaries, the way store.Error wraps a RetCode in the teacher codebase.
type Error struct {
	Code  ErrorCode
	cause error
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is allows errors.Is(err, &Error{Code: CodeNotFound}) style checks by
// comparing codes when both sides are *Error.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError builds an *Error with the given code and formatted message.
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, cause: errors.Newf(format, args...)}
}

// WrapError builds an *Error with the given code, wrapping an existing cause.
func WrapError(code ErrorCode, cause error, format string, args ...interface{}) *Error {
	if cause == nil {
		return NewError(code, format, args...)
	}
	return &Error{Code: code, cause: errors.Wrapf(cause, format, args...)}
}

// CodeOf extracts the ErrorCode from err, returning CodeInternalError if err
// is nil or not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternalError
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code && err != nil
}

// NotFoundOrExpired converts an internal "expired" signal into the
// caller-visible NotFound error, per §7's propagation policy.
func NotFoundOrExpired(code ErrorCode, key string) *Error {
	if code == CodeExpired {
		return NewError(CodeNotFound, "key %q expired", key)
	}
	return NewError(CodeNotFound, "key %q not found", key)
}
