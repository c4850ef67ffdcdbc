// Package store persists durable objects and their modification and
// rollback history. Two backends implement the same interface: SQLite for
// single-node use and Postgres for shared deployments.
package store

import (
	"context"

	"github.com/sells-group/mutator/internal/model"
)

// ObjectFilter specifies criteria for listing objects.
type ObjectFilter struct {
	Status model.Status `json:"status,omitempty"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset,omitempty"`
}

// Store defines the persistence interface for the versioning engine. All
// mutating operations are atomic: either the object row and its history
// record land together, or neither does.
type Store interface {
	// Objects
	CreateObject(ctx context.Context, name, language, code string) (*model.DurableObject, error)
	GetObject(ctx context.Context, objectID string) (*model.DurableObject, error)
	ListObjects(ctx context.Context, filter ObjectFilter) ([]model.DurableObject, error)

	// Mutations. CommitModification appends a modification record and
	// advances the object to the returned version. CommitRollback appends a
	// rollback record and sets the object's version to targetVersion.
	CommitModification(ctx context.Context, objectID, newCode string, eval model.CodeEvaluation) (int64, error)
	CommitRollback(ctx context.Context, objectID string, targetVersion int64, historicalCode, reason string) (int64, error)

	// History
	GetHistory(ctx context.Context, objectID string) ([]model.ModificationRecord, []model.RollbackRecord, error)
	RecordRejectedEvaluation(ctx context.Context, objectID, candidateCode string, eval model.CodeEvaluation, reason string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
