package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

func TestGenerationRunRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGenerationRunRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO generation_runs")).
		WithArgs(sqlmock.AnyArg(), "2024-25", string(models.SemesterOdd), string(models.RunStatusQueued), sqlmock.AnyArg(), int64(42), "user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	run := &models.GenerationRun{AcademicYear: "2024-25", SemesterType: models.SemesterOdd, Seed: 42, CreatedBy: "user-1"}
	require.NoError(t, repo.Create(context.Background(), run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationRunRepositoryMarkFailedNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGenerationRunRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE generation_runs SET status = $1, error_message = $2, finished_at = $3 WHERE id = $4")).
		WithArgs(models.RunStatusFailed, "boom", sqlmock.AnyArg(), "run-x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkFailed(context.Background(), "run-x", "boom", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationRunRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGenerationRunRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "academic_year", "semester_type", "status", "params", "seed", "report", "error_message", "created_by", "created_at", "started_at", "finished_at"}).
		AddRow("run-1", "2024-25", "ODD", "COMPLETED", []byte(`{"seed":7,"async":true}`), int64(7), []byte(`{"clean":true}`), nil, "user-1", now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM generation_runs WHERE id = $1")).
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := repo.FindByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.True(t, run.Params.Async)
	assert.EqualValues(t, 7, run.Params.Seed)
	assert.Nil(t, run.ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}
