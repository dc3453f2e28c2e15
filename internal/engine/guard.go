package engine

import (
	"sync"

	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/tree"
)

// LoopGuard decides which mutations must not be published and which
// updates are echoes of this instance's own writes.
//
// It owns the instance id and the active batch slot: the context of the
// batch currently being applied, set at batch start and cleared at batch
// finish. One LoopGuard belongs to one Engine.
type LoopGuard struct {
	id string

	mu     sync.Mutex
	active *ir.BatchContext
}

// NewLoopGuard creates a guard for instance id.
func NewLoopGuard(id string) *LoopGuard {
	return &LoopGuard{id: id}
}

// ID returns the instance id.
func (g *LoopGuard) ID() string { return g.id }

// Begin records ctx as the active batch.
func (g *LoopGuard) Begin(ctx *ir.BatchContext) {
	g.mu.Lock()
	g.active = ctx
	g.mu.Unlock()
}

// End clears the active batch.
func (g *LoopGuard) End() {
	g.mu.Lock()
	g.active = nil
	g.mu.Unlock()
}

// Active returns the active batch context, nil outside a batch.
func (g *LoopGuard) Active() *ir.BatchContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Suppress reports whether m re-applies data that already lives in the
// store. The mutation's own context wins; the active slot covers mutations
// delivered without one.
func (g *LoopGuard) Suppress(m tree.Mutation) bool {
	if m.Context != nil {
		return m.Context.Synced()
	}
	return g.Active().Synced()
}

// IsEcho reports whether u was published by this instance.
func (g *LoopGuard) IsEcho(u ir.StateUpdate) bool {
	return u.Origin == g.id
}
