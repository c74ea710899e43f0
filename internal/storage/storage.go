// Package storage provides the persistence backends for policies, spend
// permissions, consumed nonces and move records. Two implementations:
// postgres for durable state and an in-memory store for tests and
// single-process runs.
package storage

import (
	"github.com/perennialfi/autopilot/internal/delegation"
	"github.com/perennialfi/autopilot/internal/ledger"
	"github.com/perennialfi/autopilot/internal/policy"
)

// Storage is the combined persistence interface the engine depends on.
type Storage interface {
	policy.Store
	delegation.PermissionStore
	delegation.NonceStore
	ledger.MoveStore

	// Close releases the backing resources.
	Close() error
}
