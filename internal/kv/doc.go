// Package kv defines the shared key-value store the sync engine talks to and
// provides two implementations.
//
// A Store is one storage area: Get, atomic Set and Remove of several keys, and
// a change feed delivering one ChangeSet per write call to every subscriber,
// including subscribers in the writing process.
//
// # Backends
//
//   - MemoryBackend: process-local, synchronous notification. Used by tests
//     and by single-process setups.
//   - SQLiteBackend: a SQLite file opened by every participating process.
//     Entries live in the entries table; each write call appends its rows to
//     the changes table under one UUIDv7 batch id in the same transaction.
//     Subscriptions poll the log by sequence number and group rows by batch.
//
// # Database Configuration
//
//   - WAL mode: readers in other processes never block the writer
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Values are stored as canonical JSON text (see ir.MarshalCanonical).
package kv
