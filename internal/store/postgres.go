package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mutator/internal/db"
	"github.com/sells-group/mutator/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_object":           `SELECT id, name, language, version, code_content, status, created_at, updated_at FROM objects WHERE id = $1`,
	"insert_object":        `INSERT INTO objects (id, name, language, version, code_content, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"insert_mod_record":    `INSERT INTO modification_history (id, object_id, previous_version, resulting_version, code_before, code_after, evaluation, timestamp) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"advance_object":       `UPDATE objects SET version = $1, code_content = $2, status = $3, updated_at = $4 WHERE id = $5`,
	"insert_rollback":      `INSERT INTO rollback_history (id, object_id, from_version, to_version, reason, timestamp) VALUES ($1, $2, $3, $4, $5, $6)`,
	"insert_eval_audit":    `INSERT INTO evaluation_audit (id, object_id, candidate_code, evaluation, reason, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"max_version":          `SELECT COALESCE(MAX(resulting_version), 0) FROM modification_history WHERE object_id = $1`,
	"get_mod_history":      `SELECT id, object_id, previous_version, resulting_version, code_before, code_after, evaluation, timestamp FROM modification_history WHERE object_id = $1 ORDER BY resulting_version ASC`,
	"get_rollback_history": `SELECT id, object_id, from_version, to_version, reason, timestamp FROM rollback_history WHERE object_id = $1 ORDER BY timestamp ASC`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS objects (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL,
	language     TEXT NOT NULL,
	version      BIGINT NOT NULL,
	code_content TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'active',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS modification_history (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	object_id         TEXT NOT NULL REFERENCES objects(id),
	previous_version  BIGINT NOT NULL,
	resulting_version BIGINT NOT NULL,
	code_before       TEXT NOT NULL,
	code_after        TEXT NOT NULL,
	evaluation        JSONB NOT NULL,
	timestamp         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(object_id, resulting_version)
);

CREATE TABLE IF NOT EXISTS rollback_history (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	object_id    TEXT NOT NULL REFERENCES objects(id),
	from_version BIGINT NOT NULL,
	to_version   BIGINT NOT NULL,
	reason       TEXT NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS evaluation_audit (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	object_id      TEXT NOT NULL REFERENCES objects(id),
	candidate_code TEXT NOT NULL,
	evaluation     JSONB NOT NULL,
	reason         TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_objects_status ON objects(status);
CREATE INDEX IF NOT EXISTS idx_mod_history_object_id ON modification_history(object_id);
CREATE INDEX IF NOT EXISTS idx_rollback_history_object_id ON rollback_history(object_id);
CREATE INDEX IF NOT EXISTS idx_eval_audit_object_id ON evaluation_audit(object_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateObject(ctx context.Context, name, language, code string) (*model.DurableObject, error) {
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
		return nil, eris.Wrap(err, "postgres: marshal genesis evaluation")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create object")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO objects (id, name, language, version, code_content, status, created_at, updated_at)
		 VALUES ($1, $2, $3, 1, $4, $5, $6, $7)`,
		id, name, language, code, string(model.StatusActive), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert object")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO modification_history (id, object_id, previous_version, resulting_version, code_before, code_after, evaluation, timestamp)
		 VALUES ($1, $2, 0, 1, '', $3, $4, $5)`,
		uuid.New().String(), id, code, evalJSON, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert genesis record")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create object")
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

func (s *PostgresStore) GetObject(ctx context.Context, objectID string) (*model.DurableObject, error) {
	var o model.DurableObject
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, language, version, code_content, status, created_at, updated_at FROM objects WHERE id = $1`,
		objectID,
	).Scan(&o.ID, &o.Name, &o.Language, &o.Version, &o.CodeContent, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "object %s", objectID)
		}
		return nil, eris.Wrapf(err, "postgres: get object %s", objectID)
	}
	return &o, nil
}

func (s *PostgresStore) ListObjects(ctx context.Context, filter ObjectFilter) ([]model.DurableObject, error) {
	query := `SELECT id, name, language, version, code_content, status, created_at, updated_at FROM objects WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list objects")
	}
	defer rows.Close()

	var objects []model.DurableObject
	for rows.Next() {
		var o model.DurableObject
		if err := rows.Scan(&o.ID, &o.Name, &o.Language, &o.Version, &o.CodeContent, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan object")
		}
		objects = append(objects, o)
	}
	return objects, eris.Wrap(rows.Err(), "postgres: list objects iterate")
}

func (s *PostgresStore) CommitModification(ctx context.Context, objectID, newCode string, eval model.CodeEvaluation) (int64, error) {
	evalJSON, err := json.Marshal(eval)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal evaluation")
	}
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin commit modification")
	}
	defer tx.Rollback(ctx)

	var o model.DurableObject
	err = tx.QueryRow(ctx,
		`SELECT id, version, code_content FROM objects WHERE id = $1 FOR UPDATE`,
		objectID,
	).Scan(&o.ID, &o.Version, &o.CodeContent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, eris.Wrapf(model.ErrNotFound, "object %s", objectID)
		}
		return 0, eris.Wrapf(err, "postgres: lock object %s", objectID)
	}

	var maxVersion int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(resulting_version), 0) FROM modification_history WHERE object_id = $1`,
		objectID,
	).Scan(&maxVersion); err != nil {
		return 0, eris.Wrap(err, "postgres: max version")
	}
	newVersion := maxVersion + 1

	_, err = tx.Exec(ctx,
		`INSERT INTO modification_history (id, object_id, previous_version, resulting_version, code_before, code_after, evaluation, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), objectID, o.Version, newVersion, o.CodeContent, newCode, evalJSON, now,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert modification record for %s", objectID)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE objects SET version = $1, code_content = $2, status = $3, updated_at = $4 WHERE id = $5`,
		newVersion, newCode, string(model.StatusActive), now, objectID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: advance object %s", objectID)
	}
	if tag.RowsAffected() == 0 {
		return 0, eris.Errorf("object not found: %s", objectID)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit modification")
	}
	return newVersion, nil
}

func (s *PostgresStore) CommitRollback(ctx context.Context, objectID string, targetVersion int64, historicalCode, reason string) (int64, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin commit rollback")
	}
	defer tx.Rollback(ctx)

	var currentVersion int64
	err = tx.QueryRow(ctx,
		`SELECT version FROM objects WHERE id = $1 FOR UPDATE`,
		objectID,
	).Scan(&currentVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, eris.Wrapf(model.ErrNotFound, "object %s", objectID)
		}
		return 0, eris.Wrapf(err, "postgres: lock object %s", objectID)
	}

	if targetVersion > currentVersion {
		return 0, eris.Wrapf(model.ErrFutureVersion, "target %d, current %d", targetVersion, currentVersion)
	}
	if targetVersion == currentVersion {
		return 0, eris.Wrapf(model.ErrNoOpRollback, "version %d", targetVersion)
	}

	var recorded int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(1) FROM modification_history WHERE object_id = $1 AND resulting_version = $2`,
		objectID, targetVersion,
	).Scan(&recorded); err != nil {
		return 0, eris.Wrap(err, "postgres: check target version")
	}
	if recorded == 0 {
		return 0, eris.Wrapf(model.ErrVersionNotFound, "object %s version %d", objectID, targetVersion)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO rollback_history (id, object_id, from_version, to_version, reason, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), objectID, currentVersion, targetVersion, reason, now,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert rollback record for %s", objectID)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE objects SET version = $1, code_content = $2, status = $3, updated_at = $4 WHERE id = $5`,
		targetVersion, historicalCode, string(model.StatusRolledBack), now, objectID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: revert object %s", objectID)
	}
	if tag.RowsAffected() == 0 {
		return 0, eris.Errorf("object not found: %s", objectID)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit rollback")
	}
	return targetVersion, nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, objectID string) ([]model.ModificationRecord, []model.RollbackRecord, error) {
	if _, err := s.GetObject(ctx, objectID); err != nil {
		return nil, nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, object_id, previous_version, resulting_version, code_before, code_after, evaluation, timestamp
		 FROM modification_history WHERE object_id = $1 ORDER BY resulting_version ASC`,
		objectID,
	)
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: get modification history")
	}
	defer rows.Close()

	var mods []model.ModificationRecord
	for rows.Next() {
		var m model.ModificationRecord
		var evalJSON []byte
		if err := rows.Scan(&m.ID, &m.ObjectID, &m.PreviousVersion, &m.ResultingVersion, &m.CodeBefore, &m.CodeAfter, &evalJSON, &m.Timestamp); err != nil {
			return nil, nil, eris.Wrap(err, "postgres: scan modification record")
		}
		if err := json.Unmarshal(evalJSON, &m.Evaluation); err != nil {
			return nil, nil, eris.Wrap(err, "postgres: unmarshal evaluation")
		}
		mods = append(mods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "postgres: modification history iterate")
	}

	rbRows, err := s.pool.Query(ctx,
		`SELECT id, object_id, from_version, to_version, reason, timestamp
		 FROM rollback_history WHERE object_id = $1 ORDER BY timestamp ASC`,
		objectID,
	)
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: get rollback history")
	}
	defer rbRows.Close()

	var rollbacks []model.RollbackRecord
	for rbRows.Next() {
		var r model.RollbackRecord
		if err := rbRows.Scan(&r.ID, &r.ObjectID, &r.FromVersion, &r.ToVersion, &r.Reason, &r.Timestamp); err != nil {
			return nil, nil, eris.Wrap(err, "postgres: scan rollback record")
		}
		rollbacks = append(rollbacks, r)
	}
	return mods, rollbacks, eris.Wrap(rbRows.Err(), "postgres: rollback history iterate")
}

func (s *PostgresStore) RecordRejectedEvaluation(ctx context.Context, objectID, candidateCode string, eval model.CodeEvaluation, reason string) error {
	evalJSON, err := json.Marshal(eval)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal rejected evaluation")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO evaluation_audit (id, object_id, candidate_code, evaluation, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), objectID, candidateCode, evalJSON, reason, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: record rejected evaluation")
}
