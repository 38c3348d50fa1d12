package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Trellis/internal/domain"
)

// StepRepo — репозиторий состояний шагов run'ов.
//
// Строка на пару (run_id, step_name); планировщик обновляет её
// на каждом переходе статуса через Upsert.
type StepRepo struct {
	pool *pgxpool.Pool
}

// NewStepRepo создаёт новый StepRepo.
func NewStepRepo(pool *pgxpool.Pool) *StepRepo {
	return &StepRepo{pool: pool}
}

// Upsert сохраняет текущее состояние шага.
func (r *StepRepo) Upsert(ctx context.Context, runID uuid.UUID, state *domain.StepState) error {
	query := `
		INSERT INTO run_steps (run_id, step_name, status, attempts, job_id,
		                       error, skipped_because, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, step_name)
		DO UPDATE SET status = EXCLUDED.status,
		              attempts = EXCLUDED.attempts,
		              job_id = EXCLUDED.job_id,
		              error = EXCLUDED.error,
		              skipped_because = EXCLUDED.skipped_because,
		              started_at = EXCLUDED.started_at,
		              finished_at = EXCLUDED.finished_at
	`
	_, err := r.pool.Exec(ctx, query,
		runID,
		state.StepName,
		state.Status,
		state.Attempts,
		nullString(state.JobID),
		nullString(state.Error),
		nullString(state.SkippedBecause),
		state.StartedAt,
		state.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run step: %w", err)
	}
	return nil
}

// ListByRunID возвращает состояния всех шагов run'а.
func (r *StepRepo) ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.StepState, error) {
	query := `
		SELECT step_name, status, attempts, job_id, error,
		       skipped_because, started_at, finished_at
		FROM run_steps
		WHERE run_id = $1
		ORDER BY started_at ASC NULLS LAST, step_name
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list run steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.StepState
	for rows.Next() {
		var state domain.StepState
		var jobID, stepError, skippedBecause *string

		err := rows.Scan(
			&state.StepName,
			&state.Status,
			&state.Attempts,
			&jobID,
			&stepError,
			&skippedBecause,
			&state.StartedAt,
			&state.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run step: %w", err)
		}

		if jobID != nil {
			state.JobID = *jobID
		}
		if stepError != nil {
			state.Error = *stepError
		}
		if skippedBecause != nil {
			state.SkippedBecause = *skippedBecause
		}
		steps = append(steps, state)
	}
	return steps, rows.Err()
}
