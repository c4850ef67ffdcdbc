// Package rollback restores durable objects to earlier versions. A
// rollback is itself a mutation: it takes the same per-identity lock as the
// modification pipeline and is recorded in the audit trail, never by
// erasing history.
package rollback

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mutator/internal/model"
	"github.com/sells-group/mutator/internal/sandbox"
	"github.com/sells-group/mutator/internal/store"
)

// Manager executes rollbacks against the version store.
type Manager struct {
	store     store.Store
	validator *sandbox.Validator
	locks     *store.LockRegistry
}

// NewManager creates a Manager.
func NewManager(st store.Store, validator *sandbox.Validator, locks *store.LockRegistry) *Manager {
	return &Manager{store: st, validator: validator, locks: locks}
}

// Rollback restores the object to targetVersion. The historical snapshot is
// re-validated before anything is written: code that passed validation when
// it was committed may no longer parse under current rules, and restoring
// it would plant a known-bad version as the live one.
func (m *Manager) Rollback(ctx context.Context, objectID string, targetVersion int64, reason string) (*model.DurableObject, error) {
	release, err := m.locks.Acquire(objectID)
	if err != nil {
		return nil, err
	}
	defer release()

	obj, err := m.store.GetObject(ctx, objectID)
	if err != nil {
		return nil, err
	}

	if targetVersion > obj.Version {
		return nil, eris.Wrapf(model.ErrFutureVersion, "target %d, current %d", targetVersion, obj.Version)
	}
	if targetVersion == obj.Version {
		return nil, eris.Wrapf(model.ErrNoOpRollback, "version %d", targetVersion)
	}

	code, err := m.snapshotAt(ctx, objectID, targetVersion)
	if err != nil {
		return nil, err
	}

	if err := m.validator.Validate(ctx, obj.Language, code); err != nil {
		return nil, eris.Wrapf(model.ErrHistoricalValidation, "version %d: %v", targetVersion, err)
	}

	if _, err := m.store.CommitRollback(ctx, objectID, targetVersion, code, reason); err != nil {
		return nil, err
	}

	zap.L().Info("rollback committed",
		zap.String("object_id", objectID),
		zap.Int64("from_version", obj.Version),
		zap.Int64("to_version", targetVersion),
		zap.String("reason", reason),
	)

	return m.store.GetObject(ctx, objectID)
}

// snapshotAt returns the code the object held at version. The modification
// record whose resulting version matches is the authoritative snapshot.
func (m *Manager) snapshotAt(ctx context.Context, objectID string, version int64) (string, error) {
	mods, _, err := m.store.GetHistory(ctx, objectID)
	if err != nil {
		return "", err
	}
	for _, rec := range mods {
		if rec.ResultingVersion == version {
			return rec.CodeAfter, nil
		}
	}
	return "", eris.Wrapf(model.ErrVersionNotFound, "object %s version %d", objectID, version)
}
