// Package inspect serves a read-only HTTP view of a running engine.
//
// Routes:
//
//	GET /health        {"status":"ok"}
//	GET /status        engine status and counters
//	GET /state         the whole tree as canonical JSON
//	GET /state/{path}  the node at a slash-separated path, e.g. /state/b/c
//
// Numeric path segments address array elements.
package inspect
