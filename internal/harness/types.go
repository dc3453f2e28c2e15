package harness

import (
	"slices"

	"github.com/roach88/treesync/internal/ir"
)

// TraceEvent is one store call made by an instance.
type TraceEvent struct {
	Seq      int64
	Instance string
	Call     string

	// Keys are the requested keys of a get or remove.
	Keys []string

	// Items are the written items of a set, in wire form (Absent is
	// AbsentToken).
	Items ir.Object
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool

	// Trace contains every store call, instance by instance.
	Trace []TraceEvent

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddCall appends a store call to the trace.
func (r *Result) AddCall(instance, call string, keys []string, items ir.Object) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:      int64(len(r.Trace) + 1),
		Instance: instance,
		Call:     call,
		Keys:     slices.Clone(keys),
		Items:    items,
	})
}

// toValue converts the event to the canonical form stored in golden files.
func (e TraceEvent) toValue() ir.Object {
	obj := ir.Object{
		"seq":      ir.Int(e.Seq),
		"instance": ir.String(e.Instance),
		"call":     ir.String(e.Call),
	}
	if e.Keys != nil {
		keys := make(ir.Array, len(e.Keys))
		for i, k := range e.Keys {
			keys[i] = ir.String(k)
		}
		obj["keys"] = keys
	}
	if e.Items != nil {
		obj["items"] = e.Items
	}
	return obj
}
