package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mutator/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testEval(score float64) model.CodeEvaluation {
	return model.CodeEvaluation{
		HumanPreferenceScore: score,
		FactualityScore:      score,
		ConstraintScore:      score,
		WeightedScore:        score,
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateObjectStartsAtVersionOne", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		obj, err := s.CreateObject(ctx, "greeter", "python", "def greet():\n    return 'hi'\n")
		require.NoError(t, err)
		assert.NotEmpty(t, obj.ID)
		assert.Equal(t, int64(1), obj.Version)
		assert.Equal(t, model.StatusActive, obj.Status)

		got, err := s.GetObject(ctx, obj.ID)
		require.NoError(t, err)
		assert.Equal(t, obj.ID, got.ID)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, "greeter", got.Name)
	})

	t.Run("CreateObjectWritesGenesisRecord", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		obj, err := s.CreateObject(ctx, "greeter", "python", "print('hi')")
		require.NoError(t, err)

		mods, rollbacks, err := s.GetHistory(ctx, obj.ID)
		require.NoError(t, err)
		require.Len(t, mods, 1)
		assert.Empty(t, rollbacks)
		assert.Equal(t, int64(0), mods[0].PreviousVersion)
		assert.Equal(t, int64(1), mods[0].ResultingVersion)
		assert.Empty(t, mods[0].CodeBefore)
		assert.Equal(t, "print('hi')", mods[0].CodeAfter)
	})

	t.Run("GetObject_NotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetObject(context.Background(), "nonexistent")
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("CommitModificationAdvancesVersion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		obj, err := s.CreateObject(ctx, "greeter", "python", "v1 code here")
		require.NoError(t, err)

		v, err := s.CommitModification(ctx, obj.ID, "v2 code here", testEval(0.9))
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)

		got, err := s.GetObject(ctx, obj.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, "v2 code here", got.CodeContent)
		assert.Equal(t, model.StatusActive, got.Status)

		mods, _, err := s.GetHistory(ctx, obj.ID)
		require.NoError(t, err)
		require.Len(t, mods, 2)
		assert.Equal(t, int64(1), mods[1].PreviousVersion)
		assert.Equal(t, int64(2), mods[1].ResultingVersion)
		assert.Equal(t, "v1 code here", mods[1].CodeBefore)
		assert.Equal(t, "v2 code here", mods[1].CodeAfter)
		assert.InDelta(t, 0.9, mods[1].Evaluation.WeightedScore, 0.001)
	})

	t.Run("CommitModification_NotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.CommitModification(context.Background(), "nonexistent", "code", testEval(0.9))
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("CommitRollbackRestoresVersion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		obj, err := s.CreateObject(ctx, "greeter", "python", "v1 code here")
		require.NoError(t, err)
		_, err = s.CommitModification(ctx, obj.ID, "v2 code here", testEval(0.9))
		require.NoError(t, err)
		_, err = s.CommitModification(ctx, obj.ID, "v3 code here", testEval(0.8))
		require.NoError(t, err)

		v, err := s.CommitRollback(ctx, obj.ID, 1, "v1 code here", "regression in v3")
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		got, err := s.GetObject(ctx, obj.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, "v1 code here", got.CodeContent)
		assert.Equal(t, model.StatusRolledBack, got.Status)

		mods, rollbacks, err := s.GetHistory(ctx, obj.ID)
		require.NoError(t, err)
		assert.Len(t, mods, 3) // history is append-only
		require.Len(t, rollbacks, 1)
		assert.Equal(t, int64(3), rollbacks[0].FromVersion)
		assert.Equal(t, int64(1), rollbacks[0].ToVersion)
		assert.Equal(t, "regression in v3", rollbacks[0].Reason)
	})

	t.Run("CommitRollback_FutureVersion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		obj, err := s.CreateObject(ctx, "greeter", "python", "v1 code here")
		require.NoError(t, err)

		_, err = s.CommitRollback(ctx, obj.ID, 5, "whatever", "r")
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrFutureVersion))
	})

	t.Run("CommitRollback_VersionNotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		obj, err := s.CreateObject(ctx, "greeter", "python", "v1 code here")
		require.NoError(t, err)
		_, err = s.CommitModification(ctx, obj.ID, "v2 code here", testEval(0.9))
		require.NoError(t, err)
		_, err = s.CommitModification(ctx, obj.ID, "v3 code here", testEval(0.8))
		require.NoError(t, err)

		// Version 0 passes the bounds checks but maps to no history record;
		// the store must refuse rather than write unrecorded code.
		_, err = s.CommitRollback(ctx, obj.ID, 0, "code never in history", "r")
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrVersionNotFound))

		got, err := s.GetObject(ctx, obj.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Version)
		assert.Equal(t, "v3 code here", got.CodeContent)
		assert.Equal(t, model.StatusActive, got.Status)

		_, rollbacks, err := s.GetHistory(ctx, obj.ID)
		require.NoError(t, err)
		assert.Empty(t, rollbacks)
	})

	t.Run("CommitRollback_NoOp", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		obj, err := s.CreateObject(ctx, "greeter", "python", "v1 code here")
		require.NoError(t, err)

		_, err = s.CommitRollback(ctx, obj.ID, 1, "v1 code here", "r")
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrNoOpRollback))
	})

	t.Run("ModificationAfterRollbackSkipsUsedVersions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		obj, err := s.CreateObject(ctx, "greeter", "python", "v1 code here")
		require.NoError(t, err)
		_, err = s.CommitModification(ctx, obj.ID, "v2 code here", testEval(0.9))
		require.NoError(t, err)
		_, err = s.CommitModification(ctx, obj.ID, "v3 code here", testEval(0.8))
		require.NoError(t, err)
		_, err = s.CommitRollback(ctx, obj.ID, 1, "v1 code here", "bad v3")
		require.NoError(t, err)

		// Version numbers 2 and 3 are spent; the next commit must not reuse them.
		v, err := s.CommitModification(ctx, obj.ID, "v4 code here", testEval(0.95))
		require.NoError(t, err)
		assert.Equal(t, int64(4), v)

		mods, _, err := s.GetHistory(ctx, obj.ID)
		require.NoError(t, err)
		require.Len(t, mods, 4)
		last := mods[len(mods)-1]
		assert.Equal(t, int64(1), last.PreviousVersion)
		assert.Equal(t, int64(4), last.ResultingVersion)
		assert.Equal(t, "v1 code here", last.CodeBefore)
	})

	t.Run("ListObjects", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateObject(ctx, "a", "python", "code a")
		require.NoError(t, err)
		obj, err := s.CreateObject(ctx, "b", "go", "code b")
		require.NoError(t, err)
		_, err = s.CommitModification(ctx, obj.ID, "code b2", testEval(0.9))
		require.NoError(t, err)
		_, err = s.CommitRollback(ctx, obj.ID, 1, "code b", "r")
		require.NoError(t, err)

		all, err := s.ListObjects(ctx, ObjectFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		rolledBack, err := s.ListObjects(ctx, ObjectFilter{Status: model.StatusRolledBack})
		require.NoError(t, err)
		require.Len(t, rolledBack, 1)
		assert.Equal(t, "b", rolledBack[0].Name)
	})

	t.Run("GetHistory_NotFound", func(t *testing.T) {
		s := newStore(t)

		_, _, err := s.GetHistory(context.Background(), "nonexistent")
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("RecordRejectedEvaluation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		obj, err := s.CreateObject(ctx, "greeter", "python", "v1 code here")
		require.NoError(t, err)

		err = s.RecordRejectedEvaluation(ctx, obj.ID, "bad candidate", testEval(0.4), "score below threshold")
		require.NoError(t, err)

		// Rejection must not touch the object itself.
		got, err := s.GetObject(ctx, obj.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, "v1 code here", got.CodeContent)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestLockRegistry(t *testing.T) {
	r := NewLockRegistry()

	release, err := r.Acquire("obj-1")
	require.NoError(t, err)

	_, err = r.Acquire("obj-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConcurrentMutation))

	// A different identity is unaffected.
	release2, err := r.Acquire("obj-2")
	require.NoError(t, err)
	release2()

	release()

	release3, err := r.Acquire("obj-1")
	require.NoError(t, err)
	release3()
}
