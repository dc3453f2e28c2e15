// Package engine keeps a tree.Tree synchronized with a shared kv.Store.
//
// ARCHITECTURE:
//
// One Engine per tree. On Attach it wires three parts:
//   - Listener (remote to local): the store feed queues every change set; the
//     single-writer run loop decodes the update record, drops echoes of this
//     instance's own writes, and applies the update inside one tree batch
//     tagged as remote.
//   - Publisher (local to remote): the tree's mutation hook turns every local
//     mutation into exactly one store write of the touched top-level key plus
//     the encoded update record.
//   - Bootstrap: once, on its own goroutine, loads stored state into the tree.
//     A leader seeds a virgin store or removes keys it does not persist.
//
// The LoopGuard ties them together: mutations made by remote or bootstrap
// batches are never published again, and updates carrying this instance's
// id are never applied.
//
// ERRORS:
//
// Every failure is a *SyncError handed to the configured error callback.
// None is fatal; the engine keeps running.
package engine
