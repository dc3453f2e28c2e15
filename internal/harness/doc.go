// Package harness runs sync conformance scenarios.
//
// A scenario starts one or more engines over a shared in-memory store,
// drives them through local mutations and raw remote writes, and then
// checks trees, store contents, store calls and reported errors.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: local_set
//	description: "A local set issues one store write"
//	initial_state: {a: [], b: {c: 2}, d: 8}
//	store:
//	  __state_version: 1
//	instances:
//	  - id: test-1
//	    leader: true
//	    stored_version: 1
//	    persisted_keys: [b, d]
//	steps:
//	  - op: set
//	    instance: test-1
//	    path: b.c
//	    value: 5
//	assertions:
//	  - type: tree
//	    instance: test-1
//	    expect: {a: [], b: {c: 5}, d: 8}
//	  - type: calls
//	    instance: test-1
//	    call: set
//	    count: 1
//
// Paths are dotted (see ir.ParsePath). The string "__NONE__" stands for an
// absent value wherever a value is accepted, the same token the wire format
// uses.
//
// # Steps
//
//   - set: local Set at path on an instance's tree
//   - merge: local Merge of merged at path on an instance's tree
//   - remote: write items to the store directly, together with an update
//     record built from origin, path, value and merged (or the raw payload)
//   - fail: make the next call of kind fail on an instance's store
//   - detach: detach an instance
//
// Every engine is flushed after each step, so assertions see a quiescent
// system.
//
// # Assertion Types
//
//   - tree: an instance's tree equals expect
//   - store: the store holds expect's keys with those values ("__NONE__"
//     means the key is missing); other keys are ignored
//   - calls: an instance issued count store calls of kind call; keys, when
//     given, must equal the sorted keys of the last such call
//   - errors: an instance reported count errors (of code, when given)
//   - lifecycle: an instance's engine is in state
//
// # Traces
//
// The trace lists every store call each instance made, instance by instance
// in declaration order. RunWithGolden compares it against
// testdata/golden/<name>.golden.
package harness
