package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

const timetableColumns = `id, section_id, academic_year, semester_type, theory_slots, lab_slots, breaks, generation_metadata, created_at, updated_at`

// TimetableRepository persists one timetable per section per semester type per academic year.
type TimetableRepository struct {
	db *sqlx.DB
	queryTimer
}

// NewTimetableRepository constructs repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

func (r *TimetableRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Insert stores a timetable, assigning an identifier when missing.
func (r *TimetableRepository) Insert(ctx context.Context, exec sqlx.ExtContext, tt *models.Timetable) error {
	defer r.observe("timetable.insert", time.Now())
	if tt == nil {
		return fmt.Errorf("timetable payload is nil")
	}
	if tt.SectionID == "" || tt.AcademicYear == "" {
		return fmt.Errorf("section_id and academic_year are required")
	}
	if tt.ID == "" {
		tt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tt.CreatedAt.IsZero() {
		tt.CreatedAt = now
	}
	tt.UpdatedAt = now

	record, err := toRecord(tt)
	if err != nil {
		return err
	}
	const query = `
INSERT INTO timetables (id, section_id, academic_year, semester_type, theory_slots, lab_slots, breaks, generation_metadata, created_at, updated_at)
VALUES (:id, :section_id, :academic_year, :semester_type, :theory_slots, :lab_slots, :breaks, :generation_metadata, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, record); err != nil {
		return fmt.Errorf("insert timetable: %w", err)
	}
	return nil
}

// DeleteScope removes every timetable of an academic year and semester type and reports
// how many were removed.
func (r *TimetableRepository) DeleteScope(ctx context.Context, exec sqlx.ExtContext, academicYear string, semesterType models.SemesterType) (int64, error) {
	defer r.observe("timetable.delete_scope", time.Now())
	const query = `DELETE FROM timetables WHERE academic_year = $1 AND semester_type = $2`
	result, err := r.exec(exec).ExecContext(ctx, query, academicYear, semesterType)
	if err != nil {
		return 0, fmt.Errorf("delete timetables: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("timetable rows affected: %w", err)
	}
	return affected, nil
}

// FindByID loads a timetable by identifier.
func (r *TimetableRepository) FindByID(ctx context.Context, id string) (*models.Timetable, error) {
	defer r.observe("timetable.find_by_id", time.Now())
	query := `SELECT ` + timetableColumns + ` FROM timetables WHERE id = $1`
	var record models.TimetableRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return fromRecord(record)
}

// ListByScope returns the timetables of an academic year and semester type.
func (r *TimetableRepository) ListByScope(ctx context.Context, academicYear string, semesterType models.SemesterType) ([]*models.Timetable, error) {
	defer r.observe("timetable.list_by_scope", time.Now())
	query := `SELECT ` + timetableColumns + ` FROM timetables WHERE academic_year = $1 AND semester_type = $2 ORDER BY section_id`
	var records []models.TimetableRecord
	if err := r.db.SelectContext(ctx, &records, query, academicYear, semesterType); err != nil {
		return nil, fmt.Errorf("list timetables: %w", err)
	}
	out := make([]*models.Timetable, 0, len(records))
	for _, record := range records {
		tt, err := fromRecord(record)
		if err != nil {
			return nil, err
		}
		out = append(out, tt)
	}
	return out, nil
}

// SaveEdits persists the editable parts of a timetable: theory slots and breaks.
func (r *TimetableRepository) SaveEdits(ctx context.Context, tt *models.Timetable) error {
	defer r.observe("timetable.save_edits", time.Now())
	theory, err := marshalColumn("theory_slots", nonNil(tt.TheorySlots))
	if err != nil {
		return err
	}
	breaks, err := marshalColumn("breaks", nonNil(tt.Breaks))
	if err != nil {
		return err
	}
	if tt.UpdatedAt.IsZero() {
		tt.UpdatedAt = time.Now().UTC()
	}
	const query = `UPDATE timetables SET theory_slots = $1, breaks = $2, updated_at = $3 WHERE id = $4`
	return r.update(ctx, r.db, query, theory, breaks, tt.UpdatedAt, tt.ID)
}

// UpdateMetadata replaces the generation metadata of a timetable.
func (r *TimetableRepository) UpdateMetadata(ctx context.Context, exec sqlx.ExtContext, id string, meta models.GenerationMetadata) error {
	defer r.observe("timetable.update_metadata", time.Now())
	payload, err := marshalColumn("generation_metadata", meta)
	if err != nil {
		return err
	}
	const query = `UPDATE timetables SET generation_metadata = $1, updated_at = $2 WHERE id = $3`
	return r.update(ctx, r.exec(exec), query, payload, time.Now().UTC(), id)
}

func (r *TimetableRepository) update(ctx context.Context, exec sqlx.ExtContext, query string, args ...interface{}) error {
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update timetable: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("timetable rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func toRecord(tt *models.Timetable) (models.TimetableRecord, error) {
	record := models.TimetableRecord{
		ID:           tt.ID,
		SectionID:    tt.SectionID,
		AcademicYear: tt.AcademicYear,
		SemesterType: tt.SemesterType,
		CreatedAt:    tt.CreatedAt,
		UpdatedAt:    tt.UpdatedAt,
	}
	var err error
	if record.TheorySlots, err = marshalColumn("theory_slots", nonNil(tt.TheorySlots)); err != nil {
		return record, err
	}
	if record.LabSlots, err = marshalColumn("lab_slots", nonNil(tt.LabSlots)); err != nil {
		return record, err
	}
	if record.Breaks, err = marshalColumn("breaks", nonNil(tt.Breaks)); err != nil {
		return record, err
	}
	if record.Metadata, err = marshalColumn("generation_metadata", tt.Metadata); err != nil {
		return record, err
	}
	return record, nil
}

func fromRecord(record models.TimetableRecord) (*models.Timetable, error) {
	tt := &models.Timetable{
		ID:           record.ID,
		SectionID:    record.SectionID,
		AcademicYear: record.AcademicYear,
		SemesterType: record.SemesterType,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
	columns := []struct {
		name string
		raw  types.JSONText
		dest interface{}
	}{
		{"theory_slots", record.TheorySlots, &tt.TheorySlots},
		{"lab_slots", record.LabSlots, &tt.LabSlots},
		{"breaks", record.Breaks, &tt.Breaks},
		{"generation_metadata", record.Metadata, &tt.Metadata},
	}
	for _, col := range columns {
		if len(col.raw) == 0 {
			continue
		}
		if err := col.raw.Unmarshal(col.dest); err != nil {
			return nil, fmt.Errorf("decode timetable %s %s: %w", record.ID, col.name, err)
		}
	}
	return tt, nil
}

func marshalColumn(name string, v interface{}) (types.JSONText, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode timetable %s: %w", name, err)
	}
	return types.JSONText(data), nil
}

// nonNil keeps empty arrays as [] instead of null in the JSON columns.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
