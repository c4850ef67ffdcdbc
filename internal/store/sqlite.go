package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/mutator/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS objects (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	language     TEXT NOT NULL,
	version      INTEGER NOT NULL,
	code_content TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'active',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS modification_history (
	id                TEXT PRIMARY KEY,
	object_id         TEXT NOT NULL REFERENCES objects(id),
	previous_version  INTEGER NOT NULL,
	resulting_version INTEGER NOT NULL,
	code_before       TEXT NOT NULL,
	code_after        TEXT NOT NULL,
	evaluation        TEXT NOT NULL,
	timestamp         DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(object_id, resulting_version)
);

CREATE TABLE IF NOT EXISTS rollback_history (
	id           TEXT PRIMARY KEY,
	object_id    TEXT NOT NULL REFERENCES objects(id),
	from_version INTEGER NOT NULL,
	to_version   INTEGER NOT NULL,
	reason       TEXT NOT NULL,
	timestamp    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS evaluation_audit (
	id             TEXT PRIMARY KEY,
	object_id      TEXT NOT NULL REFERENCES objects(id),
	candidate_code TEXT NOT NULL,
	evaluation     TEXT NOT NULL,
	reason         TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_objects_status ON objects(status);
CREATE INDEX IF NOT EXISTS idx_mod_history_object_id ON modification_history(object_id);
CREATE INDEX IF NOT EXISTS idx_rollback_history_object_id ON rollback_history(object_id);
CREATE INDEX IF NOT EXISTS idx_eval_audit_object_id ON evaluation_audit(object_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateObject inserts the object at version 1 together with its genesis
// modification record (previous version 0, empty code before). The genesis
// evaluation is neutral: initial code is accepted axiomatically.
func (s *SQLiteStore) CreateObject(ctx context.Context, name, language, code string) (*model.DurableObject, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	genesis := model.CodeEvaluation{
		HumanPreferenceScore: 1.0,
		FactualityScore:      1.0,
		ConstraintScore:      1.0,
		WeightedScore:        1.0,
	}
	evalJSON, err := json.Marshal(genesis)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal genesis evaluation")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create object")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO objects (id, name, language, version, code_content, status, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?, ?, ?)`,
		id, name, language, code, string(model.StatusActive), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert object")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO modification_history (id, object_id, previous_version, resulting_version, code_before, code_after, evaluation, timestamp)
		 VALUES (?, ?, 0, 1, '', ?, ?, ?)`,
		uuid.New().String(), id, code, string(evalJSON), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert genesis record")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit create object")
	}

	return &model.DurableObject{
		ID:          id,
		Name:        name,
		Language:    language,
		Version:     1,
		CodeContent: code,
		Status:      model.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *SQLiteStore) GetObject(ctx context.Context, objectID string) (*model.DurableObject, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, language, version, code_content, status, created_at, updated_at
		 FROM objects WHERE id = ?`,
		objectID,
	)
	return scanObject(row, objectID)
}

func (s *SQLiteStore) ListObjects(ctx context.Context, filter ObjectFilter) ([]model.DurableObject, error) {
	query := `SELECT id, name, language, version, code_content, status, created_at, updated_at FROM objects WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list objects")
	}
	defer rows.Close()

	var objects []model.DurableObject
	for rows.Next() {
		var o model.DurableObject
		if err := rows.Scan(&o.ID, &o.Name, &o.Language, &o.Version, &o.CodeContent, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan object")
		}
		objects = append(objects, o)
	}
	return objects, eris.Wrap(rows.Err(), "sqlite: list objects iterate")
}

// CommitModification appends a modification record and advances the object
// in one transaction. The resulting version is one past the highest version
// ever recorded for the object, which keeps (object, version) pairs unique
// even after rollbacks have moved the object's version backwards.
func (s *SQLiteStore) CommitModification(ctx context.Context, objectID, newCode string, eval model.CodeEvaluation) (int64, error) {
	evalJSON, err := json.Marshal(eval)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal evaluation")
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin commit modification")
	}
	defer tx.Rollback()

	obj, err := scanObject(tx.QueryRowContext(ctx,
		`SELECT id, name, language, version, code_content, status, created_at, updated_at
		 FROM objects WHERE id = ?`,
		objectID,
	), objectID)
	if err != nil {
		return 0, err
	}

	var maxVersion int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(resulting_version), 0) FROM modification_history WHERE object_id = ?`,
		objectID,
	).Scan(&maxVersion); err != nil {
		return 0, eris.Wrap(err, "sqlite: max version")
	}
	newVersion := maxVersion + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO modification_history (id, object_id, previous_version, resulting_version, code_before, code_after, evaluation, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), objectID, obj.Version, newVersion, obj.CodeContent, newCode, string(evalJSON), now,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert modification record for %s", objectID)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE objects SET version = ?, code_content = ?, status = ?, updated_at = ? WHERE id = ?`,
		newVersion, newCode, string(model.StatusActive), now, objectID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: advance object %s", objectID)
	}
	if err := checkRowsAffected(res, "object", objectID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit modification")
	}
	return newVersion, nil
}

// CommitRollback appends a rollback record and sets the object back to
// targetVersion in one transaction. Target bounds and the existence of a
// history record for the target are re-checked inside the transaction
// against the rows actually read.
func (s *SQLiteStore) CommitRollback(ctx context.Context, objectID string, targetVersion int64, historicalCode, reason string) (int64, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin commit rollback")
	}
	defer tx.Rollback()

	obj, err := scanObject(tx.QueryRowContext(ctx,
		`SELECT id, name, language, version, code_content, status, created_at, updated_at
		 FROM objects WHERE id = ?`,
		objectID,
	), objectID)
	if err != nil {
		return 0, err
	}

	if targetVersion > obj.Version {
		return 0, eris.Wrapf(model.ErrFutureVersion, "target %d, current %d", targetVersion, obj.Version)
	}
	if targetVersion == obj.Version {
		return 0, eris.Wrapf(model.ErrNoOpRollback, "version %d", targetVersion)
	}

	var recorded int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM modification_history WHERE object_id = ? AND resulting_version = ?`,
		objectID, targetVersion,
	).Scan(&recorded); err != nil {
		return 0, eris.Wrap(err, "sqlite: check target version")
	}
	if recorded == 0 {
		return 0, eris.Wrapf(model.ErrVersionNotFound, "object %s version %d", objectID, targetVersion)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rollback_history (id, object_id, from_version, to_version, reason, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), objectID, obj.Version, targetVersion, reason, now,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert rollback record for %s", objectID)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE objects SET version = ?, code_content = ?, status = ?, updated_at = ? WHERE id = ?`,
		targetVersion, historicalCode, string(model.StatusRolledBack), now, objectID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: revert object %s", objectID)
	}
	if err := checkRowsAffected(res, "object", objectID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit rollback")
	}
	return targetVersion, nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, objectID string) ([]model.ModificationRecord, []model.RollbackRecord, error) {
	if _, err := s.GetObject(ctx, objectID); err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, object_id, previous_version, resulting_version, code_before, code_after, evaluation, timestamp
		 FROM modification_history WHERE object_id = ? ORDER BY resulting_version ASC`,
		objectID,
	)
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: get modification history")
	}
	defer rows.Close()

	var mods []model.ModificationRecord
	for rows.Next() {
		var m model.ModificationRecord
		var evalJSON string
		if err := rows.Scan(&m.ID, &m.ObjectID, &m.PreviousVersion, &m.ResultingVersion, &m.CodeBefore, &m.CodeAfter, &evalJSON, &m.Timestamp); err != nil {
			return nil, nil, eris.Wrap(err, "sqlite: scan modification record")
		}
		if err := json.Unmarshal([]byte(evalJSON), &m.Evaluation); err != nil {
			return nil, nil, eris.Wrap(err, "sqlite: unmarshal evaluation")
		}
		mods = append(mods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: modification history iterate")
	}

	rbRows, err := s.db.QueryContext(ctx,
		`SELECT id, object_id, from_version, to_version, reason, timestamp
		 FROM rollback_history WHERE object_id = ? ORDER BY timestamp ASC`,
		objectID,
	)
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: get rollback history")
	}
	defer rbRows.Close()

	var rollbacks []model.RollbackRecord
	for rbRows.Next() {
		var r model.RollbackRecord
		if err := rbRows.Scan(&r.ID, &r.ObjectID, &r.FromVersion, &r.ToVersion, &r.Reason, &r.Timestamp); err != nil {
			return nil, nil, eris.Wrap(err, "sqlite: scan rollback record")
		}
		rollbacks = append(rollbacks, r)
	}
	return mods, rollbacks, eris.Wrap(rbRows.Err(), "sqlite: rollback history iterate")
}

func (s *SQLiteStore) RecordRejectedEvaluation(ctx context.Context, objectID, candidateCode string, eval model.CodeEvaluation, reason string) error {
	evalJSON, err := json.Marshal(eval)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal rejected evaluation")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evaluation_audit (id, object_id, candidate_code, evaluation, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), objectID, candidateCode, string(evalJSON), reason, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: record rejected evaluation")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanObject(row scannable, objectID string) (*model.DurableObject, error) {
	var o model.DurableObject
	err := row.Scan(&o.ID, &o.Name, &o.Language, &o.Version, &o.CodeContent, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(model.ErrNotFound, "object %s", objectID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan object")
	}
	return &o, nil
}
