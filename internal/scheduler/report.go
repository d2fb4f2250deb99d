package scheduler

import (
	"time"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// Phase numbers.
const (
	PhaseBootstrap   = 1
	PhaseFixedSlots  = 2
	PhaseLabs        = 3
	PhaseTheory      = 4
	PhaseClassrooms  = 5
	PhaseLabTeachers = 6
	PhaseValidation  = 7
	TotalPhaseCount  = 7
	phaseNameUnknown = "unknown"
)

var phaseNames = map[int]string{
	PhaseBootstrap:   "bootstrap",
	PhaseFixedSlots:  "fixed_slots",
	PhaseLabs:        "labs",
	PhaseTheory:      "theory",
	PhaseClassrooms:  "classrooms",
	PhaseLabTeachers: "lab_teachers",
	PhaseValidation:  "validation",
}

// PhaseName returns the short name of a phase.
func PhaseName(phase int) string {
	if name, ok := phaseNames[phase]; ok {
		return name
	}
	return phaseNameUnknown
}

// ReasonCode classifies why an item could not be placed or bound.
type ReasonCode string

const (
	ReasonUnknownSection     ReasonCode = "UNKNOWN_SECTION"
	ReasonUnknownSubject     ReasonCode = "UNKNOWN_SUBJECT"
	ReasonUnknownLab         ReasonCode = "UNKNOWN_LAB"
	ReasonInvalidBatch       ReasonCode = "INVALID_BATCH"
	ReasonInvalidWindow      ReasonCode = "INVALID_WINDOW"
	ReasonFixedSlotConflict  ReasonCode = "FIXED_SLOT_CONFLICT"
	ReasonNoCompatibleWindow ReasonCode = "NO_COMPATIBLE_WINDOW"
	ReasonSectionBusy        ReasonCode = "SECTION_BUSY"
	ReasonTeacherBusy        ReasonCode = "TEACHER_BUSY"
	ReasonRoomBusy           ReasonCode = "ROOM_BUSY"
	ReasonConsecutiveLab     ReasonCode = "CONSECUTIVE_LAB"
	ReasonDailyLimit         ReasonCode = "DAILY_LIMIT"
	ReasonNoFreeRoom         ReasonCode = "NO_FREE_ROOM"
	ReasonNoEligibleTeacher  ReasonCode = "NO_ELIGIBLE_TEACHER"
	ReasonSingleTeacher      ReasonCode = "SINGLE_TEACHER"
	ReasonCapExceeded        ReasonCode = "CAP_EXCEEDED"
	ReasonSoftCapOverflow    ReasonCode = "SOFT_CAP_OVERFLOW"
	ReasonDoubleBooking      ReasonCode = "DOUBLE_BOOKING"
	ReasonCapViolation       ReasonCode = "CAP_VIOLATION"
	ReasonBreakOverlap       ReasonCode = "BREAK_OVERLAP"
	ReasonPhasesIncomplete   ReasonCode = "PHASES_INCOMPLETE"
)

// UnresolvedItem is one structured infeasibility entry surfaced for manual follow-up.
type UnresolvedItem struct {
	Phase       int        `json:"phase"`
	SectionID   string     `json:"sectionId,omitempty"`
	ItemID      string     `json:"itemId,omitempty"`
	TeacherID   string     `json:"teacherId,omitempty"`
	BatchNumber int        `json:"batchNumber,omitempty"`
	Round       int        `json:"round,omitempty"`
	Hours       int        `json:"hours,omitempty"`
	Reason      ReasonCode `json:"reason"`
	Message     string     `json:"message"`
}

// CategorySummary reports Phase 4 progress for one subject category.
type CategorySummary struct {
	Category          models.SubjectCategory `json:"category"`
	SubjectsFound     int                    `json:"subjectsFound"`
	SubjectsScheduled int                    `json:"subjectsScheduled"`
	HoursRequired     int                    `json:"hoursRequired"`
	HoursPlaced       int                    `json:"hoursPlaced"`
}

// LabSearchStats describes the Phase 3 randomized search.
type LabSearchStats struct {
	Trials        int   `json:"trials"`
	BestTrial     int   `json:"bestTrial"`
	BestScore     int   `json:"bestScore"`
	PerfectScore  int   `json:"perfectScore"`
	Seed          int64 `json:"seed"`
	EarlyExit     bool  `json:"earlyExit"`
	OrderingSpace int   `json:"orderingSpace"`
}

// PhaseSummary is the structured outcome of one phase.
type PhaseSummary struct {
	Phase           int               `json:"phase"`
	Name            string            `json:"name"`
	Placed          int               `json:"placed"`
	PlacedBySection map[string]int    `json:"placedBySection,omitempty"`
	Counters        map[string]int    `json:"counters,omitempty"`
	Unresolved      []UnresolvedItem  `json:"unresolved,omitempty"`
	Categories      []CategorySummary `json:"categories,omitempty"`
	Overflow        map[string]int    `json:"overflow,omitempty"`
	LabSearch       *LabSearchStats   `json:"labSearch,omitempty"`
	Duration        time.Duration     `json:"duration"`
}

func newSummary(phase int) PhaseSummary {
	return PhaseSummary{
		Phase:           phase,
		Name:            PhaseName(phase),
		PlacedBySection: make(map[string]int),
		Counters:        make(map[string]int),
	}
}

func (s *PhaseSummary) placed(sectionID string) {
	s.Placed++
	s.PlacedBySection[sectionID]++
}

func (s *PhaseSummary) unresolved(item UnresolvedItem) {
	item.Phase = s.Phase
	s.Unresolved = append(s.Unresolved, item)
}

// SuccessRate is the share of subjects fully scheduled across categories (Phase 4).
func (s PhaseSummary) SuccessRate() float64 {
	found, scheduled := 0, 0
	for _, c := range s.Categories {
		found += c.SubjectsFound
		scheduled += c.SubjectsScheduled
	}
	if found == 0 {
		return 1
	}
	return float64(scheduled) / float64(found)
}

// Report aggregates the whole run.
type Report struct {
	RunID        string                    `json:"runId"`
	AcademicYear string                    `json:"academicYear"`
	SemesterType models.SemesterType       `json:"semesterType"`
	Phases       []PhaseSummary            `json:"phases"`
	Completed    bool                      `json:"completed"`
	Clean        bool                      `json:"clean"`
	SectionClean map[string]bool           `json:"sectionClean"`
	Conflicts    []models.ResourceConflict `json:"conflicts,omitempty"`
	StartedAt    time.Time                 `json:"startedAt"`
	FinishedAt   time.Time                 `json:"finishedAt"`
}

// Phase returns the summary of a phase when it ran.
func (r *Report) Phase(phase int) (PhaseSummary, bool) {
	for _, s := range r.Phases {
		if s.Phase == phase {
			return s, true
		}
	}
	return PhaseSummary{}, false
}

// Unresolved flattens every unresolved item of the run.
func (r *Report) Unresolved() []UnresolvedItem {
	var items []UnresolvedItem
	for _, s := range r.Phases {
		items = append(items, s.Unresolved...)
	}
	return items
}
