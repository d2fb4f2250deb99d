package models

import (
	"fmt"

	"github.com/lib/pq"
)

// SemesterType distinguishes odd and even semester runs.
type SemesterType string

const (
	SemesterOdd  SemesterType = "ODD"
	SemesterEven SemesterType = "EVEN"
)

// Valid reports whether the semester type is known.
func (t SemesterType) Valid() bool {
	return t == SemesterOdd || t == SemesterEven
}

// BatchesPerSection is fixed by the department.
const BatchesPerSection = 3

// Section is a cohort of students sharing one weekly timetable.
type Section struct {
	ID           string         `db:"id" json:"id" mapstructure:"id"`
	Name         string         `db:"name" json:"name" mapstructure:"name"`
	Semester     int            `db:"semester" json:"semester" mapstructure:"semester"`
	SemesterType SemesterType   `db:"semester_type" json:"semesterType" mapstructure:"semesterType"`
	Batches      pq.StringArray `db:"batches" json:"batches" mapstructure:"batches"`
}

// BatchLabel returns the identifier of batch n (1-based), falling back to "B<n>".
func (s Section) BatchLabel(n int) string {
	if n >= 1 && n <= len(s.Batches) {
		return s.Batches[n-1]
	}
	return fmt.Sprintf("B%d", n)
}

// SubjectCategory drives Phase 4 handling.
type SubjectCategory string

const (
	SubjectRegular   SubjectCategory = "REGULAR"
	SubjectOtherDept SubjectCategory = "OTHER_DEPT"
	SubjectProject   SubjectCategory = "PROJECT"
	SubjectElective  SubjectCategory = "ELECTIVE"
)

// Subject is a theory course taught to a section.
type Subject struct {
	ID             string          `db:"id" json:"id" mapstructure:"id"`
	Code           string          `db:"code" json:"code" mapstructure:"code"`
	Name           string          `db:"name" json:"name" mapstructure:"name"`
	Category       SubjectCategory `db:"category" json:"category" mapstructure:"category"`
	HoursPerWeek   int             `db:"hrs_per_week" json:"hrsPerWeek" mapstructure:"hrsPerWeek"`
	MaxHoursPerDay int             `db:"max_hrs_per_day" json:"maxHrsPerDay" mapstructure:"maxHrsPerDay"`
}

// DailyLimit returns the per-day session cap, defaulting to one.
func (s Subject) DailyLimit() int {
	if s.MaxHoursPerDay <= 0 {
		return 1
	}
	return s.MaxHoursPerDay
}

// Lab is a laboratory course attended in batches.
type Lab struct {
	ID   string `db:"id" json:"id" mapstructure:"id"`
	Code string `db:"code" json:"code" mapstructure:"code"`
	Name string `db:"name" json:"name" mapstructure:"name"`
}

// Position is a teacher's academic rank.
type Position string

const (
	PositionProfessor          Position = "PROFESSOR"
	PositionAssociateProfessor Position = "ASSOCIATE_PROFESSOR"
	PositionAssistantProfessor Position = "ASSISTANT_PROFESSOR"
	PositionGuestFaculty       Position = "GUEST_FACULTY"
)

// Teacher is a faculty member with eligibility for subjects and labs.
type Teacher struct {
	ID         string         `db:"id" json:"id" mapstructure:"id"`
	Name       string         `db:"name" json:"name" mapstructure:"name"`
	Shortform  string         `db:"shortform" json:"shortform" mapstructure:"shortform"`
	Position   Position       `db:"position" json:"position" mapstructure:"position"`
	SubjectIDs pq.StringArray `db:"subject_ids" json:"subjectIds" mapstructure:"subjectIds"`
	LabIDs     pq.StringArray `db:"lab_ids" json:"labIds" mapstructure:"labIds"`
}

// CanSuperviseLab reports whether the teacher is eligible for the lab.
func (t Teacher) CanSuperviseLab(labID string) bool {
	for _, id := range t.LabIDs {
		if id == labID {
			return true
		}
	}
	return false
}

// Classroom hosts theory sessions.
type Classroom struct {
	ID       string `db:"id" json:"id" mapstructure:"id"`
	Name     string `db:"name" json:"name" mapstructure:"name"`
	Capacity int    `db:"capacity" json:"capacity" mapstructure:"capacity"`
}

// LabRoom hosts lab batches.
type LabRoom struct {
	ID   string `db:"id" json:"id" mapstructure:"id"`
	Name string `db:"name" json:"name" mapstructure:"name"`
}

// TheoryAssignment pre-binds a teacher to a subject for a section.
type TheoryAssignment struct {
	SectionID string  `db:"section_id" json:"sectionId" mapstructure:"sectionId"`
	SubjectID string  `db:"subject_id" json:"subjectId" mapstructure:"subjectId"`
	TeacherID *string `db:"teacher_id" json:"teacherId,omitempty" mapstructure:"teacherId"`
}

// LabAssignment pre-binds a lab, room and (optionally) teacher pair to one batch.
type LabAssignment struct {
	SectionID   string  `db:"section_id" json:"sectionId" mapstructure:"sectionId"`
	LabID       string  `db:"lab_id" json:"labId" mapstructure:"labId"`
	BatchNumber int     `db:"batch_number" json:"batchNumber" mapstructure:"batchNumber"`
	LabRoomID   string  `db:"lab_room_id" json:"labRoomId" mapstructure:"labRoomId"`
	Teacher1ID  *string `db:"teacher1_id" json:"teacher1Id,omitempty" mapstructure:"teacher1Id"`
	Teacher2ID  *string `db:"teacher2_id" json:"teacher2Id,omitempty" mapstructure:"teacher2Id"`
}

// FixedSlotDeclaration reserves an immovable elective window.
type FixedSlotDeclaration struct {
	SectionID string  `db:"section_id" json:"sectionId" mapstructure:"sectionId"`
	SubjectID string  `db:"subject_id" json:"subjectId" mapstructure:"subjectId"`
	TeacherID *string `db:"teacher_id" json:"teacherId,omitempty" mapstructure:"teacherId"`
	Day       Day     `db:"day_of_week" json:"day" mapstructure:"day"`
	Start     int     `db:"start_minute" json:"start" mapstructure:"start"`
	End       int     `db:"end_minute" json:"end" mapstructure:"end"`
}

// Window returns the declared window.
func (f FixedSlotDeclaration) Window() TimeWindow {
	return TimeWindow{Day: f.Day, Start: f.Start, End: f.End}
}

// StringPtr is a small helper for optional identifiers.
func StringPtr(v string) *string {
	return &v
}

// StringValue dereferences an optional identifier.
func StringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// MasterData is the snapshot of department records a generation run consumes.
type MasterData struct {
	AcademicYear      string
	SemesterType      SemesterType
	Sections          []Section
	Subjects          []Subject
	Labs              []Lab
	Teachers          []Teacher
	Classrooms        []Classroom
	LabRooms          []LabRoom
	TheoryAssignments []TheoryAssignment
	LabAssignments    []LabAssignment
	FixedSlots        []FixedSlotDeclaration
}

// SectionIDs lists the section identifiers in snapshot order.
func (m *MasterData) SectionIDs() []string {
	ids := make([]string, 0, len(m.Sections))
	for _, s := range m.Sections {
		ids = append(ids, s.ID)
	}
	return ids
}
