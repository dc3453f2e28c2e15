// Package tree is an in-memory observable state tree: values addressed by
// ir.Path, get/set/merge at any path, atomic batches carrying an
// ir.BatchContext, and hooks fired on every mutation, on batch start and
// finish, and on destroy.
package tree
