package state

import (
	"io"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// ResultStore handles coordination result persistence.
type ResultStore interface {
	SaveResult(r *models.CoordinationResult, strategy models.StrategyType) error
	GetResult(id string) (*models.CoordinationResult, error)
	ListResults(limit int) ([]Summary, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for state persistence.
// The CLI works against it without depending on the SQLite implementation.
type StateStore interface {
	io.Closer
	Migrator
	ResultStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore  = (*DB)(nil)
	_ Migrator    = (*DB)(nil)
	_ ResultStore = (*DB)(nil)
)
