// Package store persists conversations and messages.
//
// The store is deliberately dumb: it upserts records and reads snapshots.
// Ordering, dedup of terminal writes, and supersede semantics live in the run
// orchestrator; the store only guarantees that an upsert by primary key is
// idempotent. Supports PostgreSQL for production and SQLite for development
// and tests.
package store
