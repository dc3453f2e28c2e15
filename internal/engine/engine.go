package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/treesync/internal/config"
	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/kv"
	"github.com/roach88/treesync/internal/tree"
)

// State is the lifecycle state of an Engine.
type State int32

const (
	// StateUninitialized: created, not attached.
	StateUninitialized State = iota
	// StateLoading: attached, bootstrap pending. Listener and publisher run.
	StateLoading
	// StateSynced: bootstrap finished (successfully or with a reported error).
	StateSynced
	// StateDetached: listener removed, no further sync.
	StateDetached
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	case StateDetached:
		return "detached"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyAttached is returned by Attach on an engine that was attached before.
	ErrAlreadyAttached = errors.New("engine: already attached")

	// ErrNotAttached is returned by Flush before Attach.
	ErrNotAttached = errors.New("engine: not attached")

	// ErrDetached is returned by Flush after Detach.
	ErrDetached = errors.New("engine: detached")
)

// Engine keeps one tree in sync with one store area.
//
// Remote change sets are queued by the store feed and applied by a single
// run loop goroutine. Local mutations are published synchronously from the
// tree's mutation hook, in commit order. Bootstrap runs once on its own
// goroutine.
//
// Thread-safety: all exported methods are safe for concurrent use.
type Engine struct {
	cfg   config.Config
	tree  *tree.Tree
	store kv.Store
	guard *LoopGuard
	queue *eventQueue

	// topLevel is the set of known top-level state keys.
	topLevel map[string]bool

	state atomic.Int32
	ready chan struct{}

	mu          sync.Mutex // serializes Attach and Detach
	opCtx       context.Context
	detachHooks func()
	cancelFeed  func()
	cancelRun   context.CancelFunc
	runDone     chan struct{}

	applied    atomic.Int64
	published  atomic.Int64
	suppressed atomic.Int64
	echoes     atomic.Int64
	failures   atomic.Int64
}

// New creates an engine for t and s. The configuration is validated; t
// should have been created from cfg.InitialState.
func New(cfg config.Config, t *tree.Tree, s kv.Store) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}
	if t == nil {
		return nil, errors.New("engine: tree is required")
	}
	if s == nil {
		return nil, errors.New("engine: store is required")
	}

	topLevel := make(map[string]bool, len(cfg.InitialState))
	for k := range cfg.InitialState {
		topLevel[k] = true
	}

	return &Engine{
		cfg:      cfg,
		tree:     t,
		store:    s,
		guard:    NewLoopGuard(cfg.InstanceID),
		queue:    newEventQueue(),
		topLevel: topLevel,
		ready:    make(chan struct{}),
		runDone:  make(chan struct{}),
	}, nil
}

// Attach starts syncing: it subscribes to the store feed, hooks the tree,
// starts the run loop and launches bootstrap. It returns without waiting for
// bootstrap; use Ready or WaitReady for that.
//
// ctx only supplies values; store operations issued by the engine are not
// cancelled with it.
func (e *Engine) Attach(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if State(e.state.Load()) != StateUninitialized {
		return ErrAlreadyAttached
	}

	e.opCtx = context.WithoutCancel(ctx)
	e.state.Store(int32(StateLoading))

	e.cancelFeed = e.store.Subscribe(e.onChanges)
	e.detachHooks = e.tree.Attach(hooks{e})

	runCtx, cancel := context.WithCancel(e.opCtx)
	e.cancelRun = cancel
	go func() {
		defer close(e.runDone)
		e.run(runCtx)
	}()

	go func() {
		defer close(e.ready)
		e.bootstrap(e.opCtx)
		e.state.CompareAndSwap(int32(StateLoading), int32(StateSynced))
	}()

	slog.Info("engine attached",
		"instance", e.cfg.InstanceID,
		"area", e.cfg.StorageArea,
		"leader", e.cfg.IsLeader,
	)
	return nil
}

// Detach stops syncing. The tree keeps its current value. Detach waits for
// the run loop and an in-flight bootstrap to finish. Safe to call twice.
func (e *Engine) Detach() {
	if e.shutdown() {
		<-e.runDone
		<-e.ready
		slog.Info("engine detached", "instance", e.cfg.InstanceID)
	}
}

// shutdown moves the engine to StateDetached without waiting. It reports
// whether the engine had been attached.
func (e *Engine) shutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := State(e.state.Swap(int32(StateDetached)))
	switch prev {
	case StateDetached:
		return false
	case StateUninitialized:
		e.queue.Close()
		close(e.runDone)
		close(e.ready)
		return false
	}

	e.detachHooks()
	e.cancelFeed()
	e.cancelRun()
	for _, ev := range e.queue.Close() {
		if ev.Type == EventTypeBarrier {
			close(ev.Done)
		}
	}
	return true
}

// run is the single-writer loop applying queued change sets. Attach starts
// it; it returns when ctx is cancelled or the queue is closed.
func (e *Engine) run(ctx context.Context) {
	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.processEvent(ev)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-e.queue.Wait():
			// The signal channel closes with the queue; Close drains it.
			if e.queue.Len() == 0 && State(e.state.Load()) == StateDetached {
				return
			}
		}
	}
}

func (e *Engine) processEvent(ev Event) {
	switch ev.Type {
	case EventTypeChange:
		e.handleChanges(ev.Changes)
	case EventTypeBarrier:
		close(ev.Done)
	default:
		slog.Warn("unknown event type", "type", ev.Type)
	}
}

// onChanges is the store feed callback. It only queues.
func (e *Engine) onChanges(cs kv.ChangeSet) {
	e.queue.Enqueue(Event{Type: EventTypeChange, Changes: cs})
}

// Flush waits until every change set queued before the call has been applied.
func (e *Engine) Flush(ctx context.Context) error {
	switch State(e.state.Load()) {
	case StateUninitialized:
		return ErrNotAttached
	case StateDetached:
		return ErrDetached
	}

	done := make(chan struct{})
	if !e.queue.Enqueue(Event{Type: EventTypeBarrier, Done: done}) {
		return ErrDetached
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed once bootstrap has finished, or the engine was detached
// before it ran.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// WaitReady blocks until Ready is closed or ctx is done.
func (e *Engine) WaitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// InstanceID returns the configured instance id.
func (e *Engine) InstanceID() string {
	return e.cfg.InstanceID
}

// Tree returns the synced tree.
func (e *Engine) Tree() *tree.Tree {
	return e.tree
}

// Status is a point-in-time summary of an engine.
type Status struct {
	InstanceID  string `json:"instance_id"`
	StorageArea string `json:"storage_area"`
	Leader      bool   `json:"leader"`
	State       string `json:"state"`
	Queued      int    `json:"queued"`
	Applied     int64  `json:"applied"`
	Published   int64  `json:"published"`
	Suppressed  int64  `json:"suppressed"`
	Echoes      int64  `json:"echoes"`
	Errors      int64  `json:"errors"`
}

// Status returns the engine's current status and counters.
func (e *Engine) Status() Status {
	return Status{
		InstanceID:  e.cfg.InstanceID,
		StorageArea: e.cfg.StorageArea,
		Leader:      e.cfg.IsLeader,
		State:       e.State().String(),
		Queued:      e.queue.Len(),
		Applied:     e.applied.Load(),
		Published:   e.published.Load(),
		Suppressed:  e.suppressed.Load(),
		Echoes:      e.echoes.Load(),
		Errors:      e.failures.Load(),
	}
}

func (e *Engine) report(err *SyncError) {
	e.failures.Add(1)
	e.cfg.ReportError(err)
}

// hooks connects the engine to tree mutation hooks.
type hooks struct {
	e *Engine
}

func (h hooks) OnBatchStart(ctx *ir.BatchContext) { h.e.guard.Begin(ctx) }

func (h hooks) OnBatchFinish(*ir.BatchContext) { h.e.guard.End() }

func (h hooks) OnSet(m tree.Mutation) { h.e.publish(m) }

// OnDestroy runs while the tree holds its commit lock, so it must not wait
// for the run loop.
func (h hooks) OnDestroy() {
	if h.e.shutdown() {
		slog.Info("engine detached: tree destroyed", "instance", h.e.cfg.InstanceID)
	}
}
