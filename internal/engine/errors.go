package engine

import (
	"errors"
	"fmt"
)

// SyncError is every error the engine reports through the configured
// error callback. None of them stop the engine.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Op names the operation that failed (e.g. "publish", "bootstrap.get").
	Op string

	// Origin is the instance id carried by the offending update, if any.
	Origin string

	// Path is the tree path involved, if any.
	Path string

	// Err is the underlying cause.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeDecode indicates a change-feed payload that is not a well-formed update.
	ErrCodeDecode SyncErrorCode = "DECODE_ERROR"

	// ErrCodeStore indicates a failed get, set or remove against the shared store.
	ErrCodeStore SyncErrorCode = "STORE_ERROR"

	// ErrCodeInvariant indicates the local tree lost its whole value, or a
	// mutation could not be turned into an update record.
	ErrCodeInvariant SyncErrorCode = "INVARIANT_VIOLATION"

	// ErrCodeMalformed indicates a decoded update that matches no update shape.
	ErrCodeMalformed SyncErrorCode = "MALFORMED_UPDATE"

	// ErrCodeApply indicates a remote update the local tree rejected.
	ErrCodeApply SyncErrorCode = "APPLY_ERROR"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Op)
	if e.Origin != "" {
		msg += fmt.Sprintf(" (origin=%s)", e.Origin)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code SyncErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsDecodeError returns true if err is a SyncError with ErrCodeDecode.
func IsDecodeError(err error) bool { return hasCode(err, ErrCodeDecode) }

// IsStoreError returns true if err is a SyncError with ErrCodeStore.
func IsStoreError(err error) bool { return hasCode(err, ErrCodeStore) }

// IsInvariantViolation returns true if err is a SyncError with ErrCodeInvariant.
func IsInvariantViolation(err error) bool { return hasCode(err, ErrCodeInvariant) }

// IsMalformedError returns true if err is a SyncError with ErrCodeMalformed.
func IsMalformedError(err error) bool { return hasCode(err, ErrCodeMalformed) }

// IsApplyError returns true if err is a SyncError with ErrCodeApply.
func IsApplyError(err error) bool { return hasCode(err, ErrCodeApply) }

// ErrTreeLost is the cause of the invariant violation reported when a
// mutation leaves the tree without any value.
var ErrTreeLost = errors.New("state completely removed")
