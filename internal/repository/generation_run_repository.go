package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

const generationRunColumns = `id, academic_year, semester_type, status, params, seed, report, error_message, created_by, created_at, started_at, finished_at`

// GenerationRunRepository persists generation run lifecycle records.
type GenerationRunRepository struct {
	db *sqlx.DB
	queryTimer
}

// NewGenerationRunRepository constructs repository.
func NewGenerationRunRepository(db *sqlx.DB) *GenerationRunRepository {
	return &GenerationRunRepository{db: db}
}

func (r *GenerationRunRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a queued run.
func (r *GenerationRunRepository) Create(ctx context.Context, run *models.GenerationRun) error {
	defer r.observe("generation_run.create", time.Now())
	if run == nil {
		return fmt.Errorf("generation run payload is nil")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO generation_runs (id, academic_year, semester_type, status, params, seed, created_by, created_at)
VALUES (:id, :academic_year, :semester_type, :status, :params, :seed, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("insert generation run: %w", err)
	}
	return nil
}

// MarkRunning records the start of execution.
func (r *GenerationRunRepository) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	defer r.observe("generation_run.mark_running", time.Now())
	const query = `UPDATE generation_runs SET status = $1, started_at = $2 WHERE id = $3`
	return r.update(ctx, r.db, query, models.RunStatusRunning, startedAt, id)
}

// MarkCompleted stores the report of a successful run.
func (r *GenerationRunRepository) MarkCompleted(ctx context.Context, exec sqlx.ExtContext, id string, seed int64, report types.JSONText, finishedAt time.Time) error {
	defer r.observe("generation_run.mark_completed", time.Now())
	const query = `UPDATE generation_runs SET status = $1, seed = $2, report = $3, finished_at = $4 WHERE id = $5`
	return r.update(ctx, r.exec(exec), query, models.RunStatusCompleted, seed, report, finishedAt, id)
}

// MarkFailed stores the failure reason of a run.
func (r *GenerationRunRepository) MarkFailed(ctx context.Context, id, reason string, finishedAt time.Time) error {
	defer r.observe("generation_run.mark_failed", time.Now())
	const query = `UPDATE generation_runs SET status = $1, error_message = $2, finished_at = $3 WHERE id = $4`
	return r.update(ctx, r.db, query, models.RunStatusFailed, reason, finishedAt, id)
}

// FindByID loads a run by identifier.
func (r *GenerationRunRepository) FindByID(ctx context.Context, id string) (*models.GenerationRun, error) {
	defer r.observe("generation_run.find_by_id", time.Now())
	query := `SELECT ` + generationRunColumns + ` FROM generation_runs WHERE id = $1`
	var run models.GenerationRun
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListByScope returns the most recent runs of a scope.
func (r *GenerationRunRepository) ListByScope(ctx context.Context, academicYear string, semesterType models.SemesterType, limit int) ([]models.GenerationRun, error) {
	defer r.observe("generation_run.list_by_scope", time.Now())
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + generationRunColumns + ` FROM generation_runs WHERE academic_year = $1 AND semester_type = $2 ORDER BY created_at DESC LIMIT $3`
	var runs []models.GenerationRun
	if err := r.db.SelectContext(ctx, &runs, query, academicYear, semesterType, limit); err != nil {
		return nil, fmt.Errorf("list generation runs: %w", err)
	}
	return runs, nil
}

func (r *GenerationRunRepository) update(ctx context.Context, exec sqlx.ExtContext, query string, args ...interface{}) error {
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update generation run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("generation run rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
