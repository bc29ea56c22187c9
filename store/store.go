package store

import (
	"context"

	"github.com/flamehaven01/rexsyn/deletion"
	"github.com/flamehaven01/rexsyn/job"
	"github.com/flamehaven01/rexsyn/ledger"
	"github.com/flamehaven01/rexsyn/org"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, memory) implements all of them.
type Store interface {
	job.Store
	org.Store
	ledger.Store
	deletion.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
