package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mutator/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetObject_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, language, version, code_content, status, created_at, updated_at FROM objects WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetObject(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitModification(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, version, code_content FROM objects WHERE id = \$1 FOR UPDATE`).
		WithArgs("obj-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "version", "code_content"}).
			AddRow("obj-1", int64(3), "old code here"))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(resulting_version\), 0\) FROM modification_history`).
		WithArgs("obj-1").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(3)))
	mock.ExpectExec(`INSERT INTO modification_history`).
		WithArgs(pgxmock.AnyArg(), "obj-1", int64(3), int64(4), "old code here", "new code here", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE objects SET version = \$1`).
		WithArgs(int64(4), "new code here", "active", pgxmock.AnyArg(), "obj-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	v, err := s.CommitModification(context.Background(), "obj-1", "new code here", testEval(0.9))
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitRollback_FutureVersion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM objects WHERE id = \$1 FOR UPDATE`).
		WithArgs("obj-1").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(2)))
	mock.ExpectRollback()

	_, err := s.CommitRollback(context.Background(), "obj-1", 7, "code", "reason")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrFutureVersion))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitRollback_VersionNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM objects WHERE id = \$1 FOR UPDATE`).
		WithArgs("obj-1").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(3)))
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM modification_history WHERE object_id = \$1 AND resulting_version = \$2`).
		WithArgs("obj-1", int64(0)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	_, err := s.CommitRollback(context.Background(), "obj-1", 0, "code never in history", "reason")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrVersionNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRejectedEvaluation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO evaluation_audit`).
		WithArgs(pgxmock.AnyArg(), "obj-1", "bad candidate", pgxmock.AnyArg(), "score below threshold", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordRejectedEvaluation(context.Background(), "obj-1", "bad candidate", testEval(0.4), "score below threshold")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
