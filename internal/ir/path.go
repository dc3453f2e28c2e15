package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a Path: an object key or an array index.
type Segment struct {
	key     string
	index   int
	isIndex bool
}

// Key creates an object-key segment.
func Key(k string) Segment {
	return Segment{key: k}
}

// Index creates an array-index segment.
func Index(i int) Segment {
	return Segment{index: i, isIndex: true}
}

// IsIndex reports whether the segment addresses an array element.
func (s Segment) IsIndex() bool { return s.isIndex }

// Key returns the object key. Empty for index segments.
func (s Segment) Key() string { return s.key }

// Index returns the array index. Zero for key segments.
func (s Segment) Index() int { return s.index }

// String renders the segment the way ParsePath reads it.
func (s Segment) String() string {
	if s.isIndex {
		return strconv.Itoa(s.index)
	}
	return s.key
}

// Value returns the segment as it appears in an encoded update path:
// an Int for indices and a String for keys.
func (s Segment) Value() Value {
	if s.isIndex {
		return Int(s.index)
	}
	return String(s.key)
}

// SegmentFromValue is the inverse of Segment.Value.
func SegmentFromValue(v Value) (Segment, error) {
	switch val := v.(type) {
	case String:
		return Key(string(val)), nil
	case Int:
		if val < 0 {
			return Segment{}, fmt.Errorf("negative index %d", val)
		}
		return Index(int(val)), nil
	default:
		return Segment{}, fmt.Errorf("path segment must be string or int, got %s", TypeName(v))
	}
}

// Path addresses a node in the state tree. The empty path is the root.
type Path []Segment

// P builds a path from keys and indices, e.g. P("a", 0, "b").
// Panics on any other argument type; intended for literals.
func P(parts ...any) Path {
	path := make(Path, len(parts))
	for i, part := range parts {
		switch p := part.(type) {
		case string:
			path[i] = Key(p)
		case int:
			path[i] = Index(p)
		default:
			panic(fmt.Sprintf("ir.P: unsupported segment type %T", part))
		}
	}
	return path
}

// ParsePath reads a dotted path such as "b.c" or "a.0". Purely numeric
// segments become indices. The empty string is the root path.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return Path{}, nil
	}
	parts := strings.Split(s, ".")
	path := make(Path, len(parts))
	for i, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("empty segment at position %d in %q", i, s)
		}
		if n, err := strconv.Atoi(part); err == nil && n >= 0 {
			path[i] = Index(n)
			continue
		}
		path[i] = Key(part)
	}
	return path, nil
}

// String renders the path in dotted form.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// IsRoot reports whether the path addresses the whole tree.
func (p Path) IsRoot() bool { return len(p) == 0 }

// Head returns the first segment. Callers must check IsRoot first.
func (p Path) Head() Segment { return p[0] }

// Equal reports whether two paths address the same node.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Array converts the path to its encoded form.
func (p Path) Array() Array {
	arr := make(Array, len(p))
	for i, s := range p {
		arr[i] = s.Value()
	}
	return arr
}

// PathFromArray is the inverse of Path.Array.
func PathFromArray(arr Array) (Path, error) {
	path := make(Path, len(arr))
	for i, v := range arr {
		seg, err := SegmentFromValue(v)
		if err != nil {
			return nil, fmt.Errorf("path[%d]: %w", i, err)
		}
		path[i] = seg
	}
	return path, nil
}
