package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// MasterDataRepository reads the department records a generation run is built from.
type MasterDataRepository struct {
	db *sqlx.DB
	queryTimer
}

// NewMasterDataRepository constructs the repository.
func NewMasterDataRepository(db *sqlx.DB) *MasterDataRepository {
	return &MasterDataRepository{db: db}
}

// Load returns the snapshot for one academic year and semester type. Catalogue tables are
// read in full; assignments are restricted to the scoped sections.
func (r *MasterDataRepository) Load(ctx context.Context, academicYear string, semesterType models.SemesterType) (*models.MasterData, error) {
	defer r.observe("master_data.load", time.Now())
	data := &models.MasterData{AcademicYear: academicYear, SemesterType: semesterType}
	var err error
	if data.Sections, err = r.ListSections(ctx, academicYear, semesterType); err != nil {
		return nil, err
	}
	if len(data.Sections) == 0 {
		return data, nil
	}
	sectionIDs := pq.Array(data.SectionIDs())

	steps := []struct {
		name  string
		dest  interface{}
		query string
		args  []interface{}
	}{
		{"subjects", &data.Subjects, `SELECT id, code, name, category, hrs_per_week, max_hrs_per_day FROM subjects ORDER BY code, id`, nil},
		{"labs", &data.Labs, `SELECT id, code, name FROM labs ORDER BY code, id`, nil},
		{"teachers", &data.Teachers, `SELECT id, name, shortform, position, subject_ids, lab_ids FROM teachers ORDER BY id`, nil},
		{"classrooms", &data.Classrooms, `SELECT id, name, capacity FROM classrooms ORDER BY id`, nil},
		{"lab rooms", &data.LabRooms, `SELECT id, name FROM lab_rooms ORDER BY id`, nil},
		{"theory assignments", &data.TheoryAssignments,
			`SELECT section_id, subject_id, teacher_id FROM theory_assignments WHERE section_id = ANY($1) ORDER BY section_id, subject_id`,
			[]interface{}{sectionIDs}},
		{"lab assignments", &data.LabAssignments,
			`SELECT section_id, lab_id, batch_number, lab_room_id, teacher1_id, teacher2_id FROM lab_assignments WHERE section_id = ANY($1) ORDER BY section_id, batch_number, lab_id`,
			[]interface{}{sectionIDs}},
		{"fixed slots", &data.FixedSlots,
			`SELECT section_id, subject_id, teacher_id, day_of_week, start_minute, end_minute FROM fixed_slots WHERE section_id = ANY($1) ORDER BY section_id, day_of_week, start_minute`,
			[]interface{}{sectionIDs}},
	}
	for _, step := range steps {
		if err := r.db.SelectContext(ctx, step.dest, step.query, step.args...); err != nil {
			return nil, fmt.Errorf("list %s: %w", step.name, err)
		}
	}
	return data, nil
}

// ListSections returns the sections of a scope ordered by semester then name.
func (r *MasterDataRepository) ListSections(ctx context.Context, academicYear string, semesterType models.SemesterType) ([]models.Section, error) {
	defer r.observe("master_data.list_sections", time.Now())
	const query = `SELECT id, name, semester, semester_type, batches FROM sections WHERE academic_year = $1 AND semester_type = $2 ORDER BY semester, name, id`
	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, query, academicYear, semesterType); err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return sections, nil
}

// ListTeachers returns every teacher; the editor uses it to label supervisors.
func (r *MasterDataRepository) ListTeachers(ctx context.Context) ([]models.Teacher, error) {
	defer r.observe("master_data.list_teachers", time.Now())
	const query = `SELECT id, name, shortform, position, subject_ids, lab_ids FROM teachers ORDER BY id`
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query); err != nil {
		return nil, fmt.Errorf("list teachers: %w", err)
	}
	return teachers, nil
}

// ListSubjects returns every subject.
func (r *MasterDataRepository) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	defer r.observe("master_data.list_subjects", time.Now())
	const query = `SELECT id, code, name, category, hrs_per_week, max_hrs_per_day FROM subjects ORDER BY code, id`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}
