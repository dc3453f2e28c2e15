package harness

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/treesync/internal/codec"
	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/testutil"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // assertion type
	Instance string // instance checked, empty for store assertions
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Instance != "" {
		fmt.Fprintf(&buf, " (instance %s)", e.Instance)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

func (h *Harness) evaluate(a Assertion) error {
	switch a.Type {
	case AssertTree:
		return h.assertTree(a)
	case AssertStore:
		return h.assertStore(a)
	case AssertCalls:
		return h.assertCalls(a)
	case AssertErrors:
		return h.assertErrors(a)
	case AssertLifecycle:
		return h.assertLifecycle(a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertTree compares an instance's whole tree with Expect.
func (h *Harness) assertTree(a Assertion) error {
	want, err := toObject(a.Expect)
	if err != nil {
		return fmt.Errorf("tree: expect: %w", err)
	}
	got := h.byID[a.Instance].tree.Snapshot()
	if ir.Equal(want, got) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTree,
		Instance: a.Instance,
		Expected: render(want),
		Actual:   render(got),
	}
}

// assertStore checks the listed keys of the shared store only.
func (h *Harness) assertStore(a Assertion) error {
	want, err := toObject(a.Expect)
	if err != nil {
		return fmt.Errorf("store: expect: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	all, err := h.mem.Get(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	var mismatches []string
	for _, k := range want.SortedKeys() {
		got, ok := all[k]
		switch {
		case ir.IsAbsent(want[k]) && ok:
			mismatches = append(mismatches, fmt.Sprintf("%s=%s (want missing)", k, render(got)))
		case ir.IsAbsent(want[k]):
		case !ok:
			mismatches = append(mismatches, fmt.Sprintf("%s missing (want %s)", k, render(want[k])))
		case !ir.Equal(want[k], got):
			mismatches = append(mismatches, fmt.Sprintf("%s=%s (want %s)", k, render(got), render(want[k])))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertStore,
		Expected: render(want),
		Actual:   strings.Join(mismatches, ", "),
	}
}

// assertCalls counts an instance's store calls of one kind and optionally
// checks the keys of the last one.
func (h *Harness) assertCalls(a Assertion) error {
	calls := h.byID[a.Instance].store.CallsOf(testutil.CallKind(a.Call))

	if a.Count != nil && len(calls) != *a.Count {
		return &AssertionError{
			Type:     AssertCalls,
			Instance: a.Instance,
			Expected: fmt.Sprintf("%d %s call(s)", *a.Count, a.Call),
			Actual:   fmt.Sprintf("%d %s call(s)", len(calls), a.Call),
		}
	}

	if a.Keys == nil {
		return nil
	}
	if len(calls) == 0 {
		return &AssertionError{
			Type:     AssertCalls,
			Instance: a.Instance,
			Expected: fmt.Sprintf("%s call with keys %v", a.Call, a.Keys),
			Actual:   fmt.Sprintf("no %s call", a.Call),
		}
	}

	last := calls[len(calls)-1]
	keys := slices.Sorted(maps.Keys(last.Items))
	if last.Kind != testutil.CallSet {
		keys = slices.Sorted(slices.Values(last.Keys))
	}
	want := slices.Sorted(slices.Values(a.Keys))
	if !slices.Equal(keys, want) {
		return &AssertionError{
			Type:     AssertCalls,
			Instance: a.Instance,
			Expected: fmt.Sprintf("%s keys %v", a.Call, want),
			Actual:   fmt.Sprintf("%s keys %v", a.Call, keys),
		}
	}
	return nil
}

// assertErrors counts an instance's reported errors, filtered by code.
func (h *Harness) assertErrors(a Assertion) error {
	var matched []string
	for _, err := range h.byID[a.Instance].errs.Errors() {
		var se *engine.SyncError
		if a.Code != "" && (!errors.As(err, &se) || string(se.Code) != a.Code) {
			continue
		}
		matched = append(matched, err.Error())
	}
	if len(matched) == *a.Count {
		return nil
	}

	label := "error(s)"
	if a.Code != "" {
		label = a.Code + " error(s)"
	}
	return &AssertionError{
		Type:     AssertErrors,
		Instance: a.Instance,
		Expected: fmt.Sprintf("%d %s", *a.Count, label),
		Actual:   fmt.Sprintf("%d %s %v", len(matched), label, matched),
	}
}

func (h *Harness) assertLifecycle(a Assertion) error {
	got := h.byID[a.Instance].engine.State().String()
	if got == a.State {
		return nil
	}
	return &AssertionError{
		Type:     AssertLifecycle,
		Instance: a.Instance,
		Expected: a.State,
		Actual:   got,
	}
}

// render prints v in wire form for failure messages.
func render(v ir.Value) string {
	if v == nil {
		return "<nothing>"
	}
	data, err := ir.MarshalCanonical(codec.ToWire(v))
	if err != nil {
		return err.Error()
	}
	return string(data)
}
