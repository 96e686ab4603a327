// Package stores keeps the run history in SQLite: one row per convergence run,
// one row per planned or executed action and an append-only event log.
// The schema is versioned with embedded migrations.
package stores
