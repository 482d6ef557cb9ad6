// Package store defines the aggregate persistence interface. Each subsystem
// (job, export) defines its own store interface. The composite Store
// composes them all. Backends: Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/xraph/spool/export"
	"github.com/xraph/spool/job"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, redis, memory) implements all of them.
type Store interface {
	job.Store
	export.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
