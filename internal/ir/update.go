package ir

// StateUpdate describes one mutation as exchanged between instances.
//
// Value and Merged use nil for "field omitted". Value may be Absent, and
// Merged entries may be Absent, to express deletion.
//
// A non-empty Path always carries a Value on updates produced by this module.
type StateUpdate struct {
	Origin string
	Path   Path
	Value  Value
	Merged Object
}

// HasValue reports whether the Value field is present (concrete or Absent).
func (u StateUpdate) HasValue() bool { return u.Value != nil }

// Shape is the sealed variant an update is dispatched on.
// Only FullReplace, SubtreeMerge, SubtreeSet and Malformed implement it.
type Shape interface {
	shape()
}

// FullReplace rebuilds top-level keys from the raw changed values that
// travelled alongside the update. A single Value field cannot carry
// replacements of several disjoint top-level keys, so the receiver reads them
// from the change set instead.
type FullReplace struct{}

// SubtreeMerge merges Merged into the node at Path.
type SubtreeMerge struct {
	Path   Path
	Merged Object
}

// SubtreeSet replaces the node at Path with Value (Absent removes it).
type SubtreeSet struct {
	Path  Path
	Value Value
}

// Malformed is an update that matches no other shape.
type Malformed struct {
	Reason string
}

func (FullReplace) shape()  {}
func (SubtreeMerge) shape() {}
func (SubtreeSet) shape()   {}
func (Malformed) shape()    {}

// Shape classifies the update. A non-empty Merged wins over everything else,
// including an empty Path (a root merge).
func (u StateUpdate) Shape() Shape {
	switch {
	case len(u.Merged) > 0:
		return SubtreeMerge{Path: u.Path, Merged: u.Merged}
	case u.Path.IsRoot():
		return FullReplace{}
	case u.HasValue():
		return SubtreeSet{Path: u.Path, Value: u.Value}
	default:
		return Malformed{Reason: "non-empty path without value"}
	}
}

// Source says where the mutations of a batch came from.
type Source int

const (
	// SourceLocal is application code on this instance. It is the zero value.
	SourceLocal Source = iota
	// SourceRemote is a decoded update from another instance.
	SourceRemote
	// SourceBootstrap is state loaded from the store at attach.
	SourceBootstrap
)

// String returns the lowercase name of the source.
func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	case SourceBootstrap:
		return "bootstrap"
	default:
		return "unknown"
	}
}

// BatchContext is attached to one atomic batch of tree mutations and handed
// to every mutation hook fired by that batch.
type BatchContext struct {
	Source Source
	Origin string
}

// Synced reports whether the batch re-applies data that already lives in the
// shared store, so publishing it again would only echo it back.
func (c *BatchContext) Synced() bool {
	return c != nil && c.Source != SourceLocal
}
