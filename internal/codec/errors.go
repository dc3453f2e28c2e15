package codec

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// maxPayloadInError bounds how much of a bad payload is echoed back.
const maxPayloadInError = 120

// DecodeError reports a change-feed payload that is not a well-formed update
// record. The update is dropped; nothing is applied.
type DecodeError struct {
	// Reason is a human-readable description of what is wrong.
	Reason string

	// Payload is the (possibly truncated) text that failed to decode.
	Payload string

	// Err is the underlying parse error, if any.
	Err error
}

func newDecodeError(payload, reason string, err error) *DecodeError {
	if len(payload) > maxPayloadInError {
		cut := maxPayloadInError
		for cut > 0 && !utf8.RuneStart(payload[cut]) {
			cut--
		}
		payload = payload[:cut] + "..."
	}
	return &DecodeError{Reason: reason, Payload: payload, Err: err}
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode update: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode update: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError returns true if err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
