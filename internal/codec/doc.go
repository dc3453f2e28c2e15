// Package codec converts ir.StateUpdate records to and from the text stored
// under ir.UpdateKey.
//
// The wire form is canonical JSON:
//
//	{"merged":{...},"origin":"test-1","path":["b","c"],"value":5}
//
// value and merged are omitted when the update does not carry them. The
// deletion marker ir.Absent has no JSON form, so it is written as AbsentToken
// ("__NONE__") and restored on decode. This substitution happens here and
// nowhere else.
package codec
