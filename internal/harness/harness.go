package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/treesync/internal/codec"
	"github.com/roach88/treesync/internal/config"
	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/kv"
	"github.com/roach88/treesync/internal/testutil"
	"github.com/roach88/treesync/internal/tree"
)

// stepTimeout bounds every bootstrap wait and flush.
const stepTimeout = 5 * time.Second

// ErrInjected is returned by store calls broken with fail_on_attach or a
// fail step.
var ErrInjected = errors.New("harness: injected store failure")

// node is one attached instance.
type node struct {
	inst   Instance
	tree   *tree.Tree
	store  *testutil.RecordingStore
	errs   *testutil.ErrorRecorder
	engine *engine.Engine
}

// Harness is the test execution engine. Every instance of a scenario talks
// to the same in-memory store through its own recording wrapper.
type Harness struct {
	mem   *kv.MemoryStore
	nodes []*node
	byID  map[string]*node
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store. Errors are returned
// for scenarios that cannot be executed (bad values, rejected configs, local
// mutations the tree refuses); assertion failures are reported in the
// result.
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		mem:  kv.NewMemoryStore(),
		byID: make(map[string]*node),
	}
	defer h.close()

	if err := h.seed(scenario.Store); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	for _, inst := range scenario.Instances {
		if err := h.attach(scenario, inst); err != nil {
			return nil, fmt.Errorf("instance %s: %w", inst.ID, err)
		}
	}

	for i, step := range scenario.Steps {
		if err := h.execute(step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		if err := h.flush(); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}

	result := NewResult()
	for _, n := range h.nodes {
		for _, c := range n.store.Calls() {
			var items ir.Object
			if c.Kind == testutil.CallSet {
				items = codec.ToWire(ir.Object(c.Items)).(ir.Object)
			}
			result.AddCall(n.inst.ID, string(c.Kind), c.Keys, items)
		}
	}

	for i, a := range scenario.Assertions {
		if err := h.evaluate(a); err != nil {
			result.AddError(fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return result, nil
}

func (h *Harness) seed(raw map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	items, err := toObject(raw)
	if err != nil {
		return err
	}
	h.mem.Seed(items)
	return nil
}

// attach creates and attaches one engine and waits for its bootstrap.
func (h *Harness) attach(scenario *Scenario, inst Instance) error {
	raw := scenario.InitialState
	if inst.InitialState != nil {
		raw = inst.InitialState
	}
	state, err := toObject(raw)
	if err != nil {
		return fmt.Errorf("initial_state: %w", err)
	}

	n := &node{
		inst:  inst,
		tree:  tree.New(state),
		store: testutil.NewRecordingStore(h.mem),
		errs:  &testutil.ErrorRecorder{},
	}
	for _, kind := range inst.FailOnAttach {
		n.store.FailNext(testutil.CallKind(kind), ErrInjected)
	}

	cfg := config.Config{
		InstanceID:    inst.ID,
		StorageArea:   kv.AreaLocal,
		InitialState:  state,
		IsLeader:      inst.Leader,
		StoredVersion: inst.StoredVersion,
		PersistedKeys: inst.PersistedKeys,
		OnError:       n.errs.Record,
	}
	n.engine, err = engine.New(cfg, n.tree, n.store)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	if err := n.engine.Attach(ctx); err != nil {
		return err
	}
	h.nodes = append(h.nodes, n)
	h.byID[inst.ID] = n

	if err := n.engine.WaitReady(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return h.flush()
}

func (h *Harness) execute(step Step) error {
	path, err := ir.ParsePath(step.Path)
	if err != nil {
		return err
	}

	switch step.Op {
	case OpSet:
		v, err := toValue(step.Value)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		return h.byID[step.Instance].tree.Set(path, v)

	case OpMerge:
		merged, err := toObject(step.Merged)
		if err != nil {
			return fmt.Errorf("merged: %w", err)
		}
		return h.byID[step.Instance].tree.Merge(path, merged)

	case OpRemote:
		return h.remote(step, path)

	case OpFail:
		h.byID[step.Instance].store.FailNext(testutil.CallKind(step.Call), ErrInjected)
		return nil

	case OpDetach:
		h.byID[step.Instance].engine.Detach()
		return nil

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

// remote writes straight to the shared store, bypassing every recording
// wrapper, the way an instance outside the scenario would.
func (h *Harness) remote(step Step, path ir.Path) error {
	items, err := toObject(step.Items)
	if err != nil {
		return fmt.Errorf("items: %w", err)
	}
	if items == nil {
		items = ir.Object{}
	}

	switch {
	case step.Payload != "":
		items[ir.UpdateKey] = ir.String(step.Payload)
	case step.Origin != "":
		update := ir.StateUpdate{Origin: step.Origin, Path: path}
		if step.Value != nil {
			if update.Value, err = toValue(step.Value); err != nil {
				return fmt.Errorf("value: %w", err)
			}
		}
		if step.Merged != nil {
			if update.Merged, err = toObject(step.Merged); err != nil {
				return fmt.Errorf("merged: %w", err)
			}
		}
		text, err := codec.Encode(update)
		if err != nil {
			return err
		}
		items[ir.UpdateKey] = ir.String(text)
	}

	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	return h.mem.Set(ctx, items)
}

// flush waits until every attached engine applied its queued change sets.
func (h *Harness) flush() error {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	for _, n := range h.nodes {
		if n.engine.State() == engine.StateDetached {
			continue
		}
		if err := n.engine.Flush(ctx); err != nil {
			return fmt.Errorf("flush %s: %w", n.inst.ID, err)
		}
	}
	return nil
}

func (h *Harness) close() {
	for _, n := range slices.Backward(h.nodes) {
		n.engine.Detach()
	}
}

// toValue converts a YAML value, restoring AbsentToken to ir.Absent.
func toValue(raw any) (ir.Value, error) {
	v, err := ir.FromGo(raw)
	if err != nil {
		return nil, err
	}
	return codec.FromWire(v), nil
}

// toObject converts a YAML mapping. A nil mapping stays nil.
func toObject(raw map[string]any) (ir.Object, error) {
	if raw == nil {
		return nil, nil
	}
	v, err := toValue(raw)
	if err != nil {
		return nil, err
	}
	return v.(ir.Object), nil
}
