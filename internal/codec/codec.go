package codec

import (
	"fmt"

	"github.com/roach88/treesync/internal/ir"
)

// AbsentToken is the reserved string that stands in for ir.Absent on the wire.
// A genuine string value equal to this token cannot be told apart from a
// deletion; this is a property of the wire format.
const AbsentToken = "__NONE__"

// Field names of an encoded update record.
const (
	fieldOrigin = "origin"
	fieldPath   = "path"
	fieldValue  = "value"
	fieldMerged = "merged"
)

// Encode renders an update as canonical JSON text, replacing every Absent
// (top level or nested at any depth) with AbsentToken.
func Encode(u ir.StateUpdate) (string, error) {
	if u.Origin == "" {
		return "", fmt.Errorf("encode update: origin is required")
	}

	record := ir.Object{
		fieldOrigin: ir.String(u.Origin),
		fieldPath:   u.Path.Array(),
	}
	if u.Value != nil {
		record[fieldValue] = ToWire(u.Value)
	}
	if u.Merged != nil {
		record[fieldMerged] = ToWire(u.Merged)
	}

	data, err := ir.MarshalCanonical(record)
	if err != nil {
		return "", fmt.Errorf("encode update: %w", err)
	}
	return string(data), nil
}

// EncodeFields is Encode taking the record's parts separately. A nil value or
// merged means the field is omitted.
func EncodeFields(origin string, path ir.Path, value ir.Value, merged ir.Object) (string, error) {
	return Encode(ir.StateUpdate{Origin: origin, Path: path, Value: value, Merged: merged})
}

// Decode parses text produced by Encode. AbsentToken becomes ir.Absent
// wherever it appears. Any structural problem yields a *DecodeError.
func Decode(text string) (ir.StateUpdate, error) {
	raw, err := ir.ParseValue([]byte(text))
	if err != nil {
		return ir.StateUpdate{}, newDecodeError(text, "invalid JSON", err)
	}

	record, ok := raw.(ir.Object)
	if !ok {
		return ir.StateUpdate{}, newDecodeError(text, fmt.Sprintf("expected object, got %s", ir.TypeName(raw)), nil)
	}

	origin, ok := record[fieldOrigin].(ir.String)
	if !ok {
		return ir.StateUpdate{}, newDecodeError(text, fmt.Sprintf("origin must be a string, got %s", ir.TypeName(record[fieldOrigin])), nil)
	}
	if origin == "" {
		return ir.StateUpdate{}, newDecodeError(text, "origin is empty", nil)
	}

	pathArr, ok := record[fieldPath].(ir.Array)
	if !ok {
		return ir.StateUpdate{}, newDecodeError(text, fmt.Sprintf("path must be an array, got %s", ir.TypeName(record[fieldPath])), nil)
	}
	path, err := ir.PathFromArray(pathArr)
	if err != nil {
		return ir.StateUpdate{}, newDecodeError(text, "invalid path", err)
	}

	update := ir.StateUpdate{Origin: string(origin), Path: path}

	if v, ok := record[fieldValue]; ok {
		update.Value = FromWire(v)
	}

	if m, ok := record[fieldMerged]; ok {
		switch merged := m.(type) {
		case ir.Object:
			update.Merged = FromWire(merged).(ir.Object)
		case ir.Null:
			// A null merged descriptor is the same as an omitted one.
		default:
			return ir.StateUpdate{}, newDecodeError(text, fmt.Sprintf("merged must be an object, got %s", ir.TypeName(m)), nil)
		}
	}

	return update, nil
}

// ToWire returns a copy of v with every Absent replaced by AbsentToken.
func ToWire(v ir.Value) ir.Value {
	switch val := v.(type) {
	case ir.AbsentValue:
		return ir.String(AbsentToken)
	case ir.Array:
		out := make(ir.Array, len(val))
		for i, elem := range val {
			out[i] = ToWire(elem)
		}
		return out
	case ir.Object:
		out := make(ir.Object, len(val))
		for k, elem := range val {
			out[k] = ToWire(elem)
		}
		return out
	default:
		return v
	}
}

// FromWire returns a copy of v with every AbsentToken replaced by ir.Absent.
func FromWire(v ir.Value) ir.Value {
	switch val := v.(type) {
	case ir.String:
		if val == AbsentToken {
			return ir.Absent
		}
		return val
	case ir.Array:
		out := make(ir.Array, len(val))
		for i, elem := range val {
			out[i] = FromWire(elem)
		}
		return out
	case ir.Object:
		out := make(ir.Object, len(val))
		for k, elem := range val {
			out[k] = FromWire(elem)
		}
		return out
	default:
		return v
	}
}
