package optimizations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a new optimization.
func (r *PGRepo) Create(ctx context.Context, opt Optimization) error {
	const query = `
INSERT INTO optimizations (
	id, user_id, job, document_id, bullet_count, max_iterations,
	provider, model, status, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.DB.ExecContext(ctx, query,
		opt.ID,
		opt.UserID,
		opt.Job,
		nullString(opt.DocumentID),
		opt.BulletCount,
		opt.MaxIterations,
		opt.Provider,
		opt.Model,
		opt.Status,
		opt.CreatedAt,
	)
	return err
}

// GetByID returns an optimization by ID.
func (r *PGRepo) GetByID(ctx context.Context, optimizationID string) (Optimization, error) {
	const query = `
SELECT id, user_id, job, document_id, bullet_count, max_iterations, provider, model,
       status, accepted, forced, iterations, bullets, grades, feedback,
       error_code, error_message, started_at, completed_at, created_at, updated_at
FROM optimizations
WHERE id = $1
LIMIT 1`
	opt, err := scanOptimization(r.DB.QueryRowContext(ctx, query, optimizationID))
	if errors.Is(err, sql.ErrNoRows) {
		return Optimization{}, ErrNotFound
	}
	return opt, err
}

// ListByUser returns optimizations for a user ordered newest-first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Optimization, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
SELECT id, user_id, job, document_id, bullet_count, max_iterations, provider, model,
       status, accepted, forced, iterations, bullets, grades, feedback,
       error_code, error_message, started_at, completed_at, created_at, updated_at
FROM optimizations
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`
	rows, err := r.DB.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Optimization{}
	for rows.Next() {
		opt, err := scanOptimization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, opt)
	}
	return out, rows.Err()
}

// SetProcessing moves the optimization into the processing state.
func (r *PGRepo) SetProcessing(ctx context.Context, optimizationID string, startedAt time.Time) error {
	const query = `
UPDATE optimizations
SET status = $2, started_at = $3, updated_at = NOW()
WHERE id = $1`
	return r.exec(ctx, query, optimizationID, StatusProcessing, startedAt)
}

// Complete stores the terminal outcome.
func (r *PGRepo) Complete(ctx context.Context, optimizationID string, outcome Outcome, completedAt time.Time) error {
	bullets, err := marshalJSONB(outcome.Bullets)
	if err != nil {
		return err
	}
	grades, err := marshalJSONB(outcome.Grades)
	if err != nil {
		return err
	}
	feedback, err := marshalJSONB(outcome.Feedback)
	if err != nil {
		return err
	}
	const query = `
UPDATE optimizations
SET status = $2, accepted = $3, forced = $4, iterations = $5,
    bullets = $6, grades = $7, feedback = $8, completed_at = $9,
    error_code = NULL, error_message = NULL, updated_at = NOW()
WHERE id = $1`
	return r.exec(ctx, query, optimizationID, StatusCompleted,
		outcome.Accepted, outcome.Forced, outcome.Iterations,
		bullets, grades, feedback, completedAt)
}

// Fail marks the optimization failed with a classified error.
func (r *PGRepo) Fail(ctx context.Context, optimizationID, code, message string, completedAt time.Time) error {
	const query = `
UPDATE optimizations
SET status = $2, error_code = $3, error_message = $4, completed_at = $5, updated_at = NOW()
WHERE id = $1`
	return r.exec(ctx, query, optimizationID, StatusFailed, code, message, completedAt)
}

// AppendIterations inserts cycle snapshots for an optimization. Inserts are
// idempotent per (optimization_id, iteration) so a redelivered queue message
// cannot turn a duplicate row into a run failure.
func (r *PGRepo) AppendIterations(ctx context.Context, optimizationID string, entries []IterationRecord) error {
	if len(entries) == 0 {
		return nil
	}
	const query = `
INSERT INTO optimization_iterations (optimization_id, iteration, bullets, grades, feedback, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (optimization_id, iteration) DO NOTHING`
	for _, entry := range entries {
		bullets, err := marshalJSONB(entry.Bullets)
		if err != nil {
			return err
		}
		grades, err := marshalJSONB(entry.Grades)
		if err != nil {
			return err
		}
		feedback, err := marshalJSONB(entry.Feedback)
		if err != nil {
			return err
		}
		createdAt := entry.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := r.DB.ExecContext(ctx, query, optimizationID, entry.Iteration, bullets, grades, feedback, createdAt); err != nil {
			return err
		}
	}
	return nil
}

// ListIterations returns cycle snapshots in iteration order.
func (r *PGRepo) ListIterations(ctx context.Context, optimizationID string) ([]IterationRecord, error) {
	const query = `
SELECT optimization_id, iteration, bullets, grades, feedback, created_at
FROM optimization_iterations
WHERE optimization_id = $1
ORDER BY iteration ASC`
	rows, err := r.DB.QueryContext(ctx, query, optimizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []IterationRecord{}
	for rows.Next() {
		var rec IterationRecord
		var bullets, grades, feedback sql.NullString
		if err := rows.Scan(&rec.OptimizationID, &rec.Iteration, &bullets, &grades, &feedback, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalStrings(bullets, &rec.Bullets); err != nil {
			return nil, err
		}
		if err := unmarshalStrings(grades, &rec.Grades); err != nil {
			return nil, err
		}
		if err := unmarshalStrings(feedback, &rec.Feedback); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PGRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOptimization(row rowScanner) (Optimization, error) {
	var opt Optimization
	var documentID sql.NullString
	var bullets, grades, feedback sql.NullString
	var errorCode, errorMessage sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&opt.ID,
		&opt.UserID,
		&opt.Job,
		&documentID,
		&opt.BulletCount,
		&opt.MaxIterations,
		&opt.Provider,
		&opt.Model,
		&opt.Status,
		&opt.Accepted,
		&opt.Forced,
		&opt.Iterations,
		&bullets,
		&grades,
		&feedback,
		&errorCode,
		&errorMessage,
		&startedAt,
		&completedAt,
		&opt.CreatedAt,
		&opt.UpdatedAt,
	)
	if err != nil {
		return Optimization{}, err
	}
	opt.DocumentID = documentID.String
	if err := unmarshalStrings(bullets, &opt.Bullets); err != nil {
		return Optimization{}, err
	}
	if err := unmarshalStrings(grades, &opt.Grades); err != nil {
		return Optimization{}, err
	}
	if err := unmarshalStrings(feedback, &opt.Feedback); err != nil {
		return Optimization{}, err
	}
	if errorCode.Valid {
		opt.ErrorCode = &errorCode.String
	}
	if errorMessage.Valid {
		opt.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		opt.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		opt.CompletedAt = &t
	}
	return opt, nil
}

func marshalJSONB(values []string) (any, error) {
	if values == nil {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalStrings(raw sql.NullString, dest *[]string) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dest)
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

var _ Repo = (*PGRepo)(nil)
