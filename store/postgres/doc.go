// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: FOR UPDATE SKIP LOCKED claim, conditional UPDATE ... WHERE status
// transitions, a per-queue pause table consulted inside the claim query,
// and embedded SQL migrations.
package postgres
