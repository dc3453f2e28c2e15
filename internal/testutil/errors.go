package testutil

import (
	"slices"
	"sync"
)

// ErrorRecorder collects errors handed to an error callback.
//
// Thread-safety: all methods are safe for concurrent use.
type ErrorRecorder struct {
	mu   sync.Mutex
	errs []error
}

// Record appends err. Its signature matches config.Config.OnError.
func (r *ErrorRecorder) Record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Errors returns the recorded errors in order.
func (r *ErrorRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.errs)
}

// Len returns how many errors were recorded.
func (r *ErrorRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}
