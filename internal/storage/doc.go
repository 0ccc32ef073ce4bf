// Package storage holds durable subscriber records and the operator audit
// trail.
//
// Drivers:
//   - file: JSON snapshot + JSON Lines audit, for single-host deployments
//   - sqlite: modernc.org/sqlite (pure Go, no cgo)
//   - postgres: pgx connection pool, selected when DATABASE_URL is set
//
// Every mutation touches one subscriber row in one statement so activation
// and the expiry sweep can never interleave on the same record.
package storage
