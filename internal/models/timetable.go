package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// TheorySlot is one placed theory session.
type TheorySlot struct {
	ID          string     `json:"id" mapstructure:"id"`
	SubjectID   string     `json:"subjectId" mapstructure:"subjectId"`
	TeacherID   *string    `json:"teacherId,omitempty" mapstructure:"teacherId"`
	ClassroomID *string    `json:"classroomId,omitempty" mapstructure:"classroomId"`
	Window      TimeWindow `json:"window" mapstructure:"window"`
	IsFixed     bool       `json:"isFixedSlot" mapstructure:"isFixedSlot"`
	IsProject   bool       `json:"isProject" mapstructure:"isProject"`
}

// BatchAssignment binds one batch of a lab slot to a lab, a room and up to two supervisors.
type BatchAssignment struct {
	BatchNumber int     `json:"batchNumber" mapstructure:"batchNumber"`
	LabID       string  `json:"labId" mapstructure:"labId"`
	LabRoomID   string  `json:"labRoomId" mapstructure:"labRoomId"`
	Teacher1ID  *string `json:"teacher1Id,omitempty" mapstructure:"teacher1Id"`
	Teacher2ID  *string `json:"teacher2Id,omitempty" mapstructure:"teacher2Id"`
}

// Teachers returns the non-nil supervisors.
func (b BatchAssignment) Teachers() []string {
	var ids []string
	if b.Teacher1ID != nil {
		ids = append(ids, *b.Teacher1ID)
	}
	if b.Teacher2ID != nil {
		ids = append(ids, *b.Teacher2ID)
	}
	return ids
}

// LabSlot groups all batches of a section attending labs in the same window.
type LabSlot struct {
	ID      string            `json:"id" mapstructure:"id"`
	Window  TimeWindow        `json:"window" mapstructure:"window"`
	Round   int               `json:"round" mapstructure:"round"`
	Batches []BatchAssignment `json:"batches" mapstructure:"batches"`
}

// Break is a materialised break record. Default breaks are implicit until removed or relocated;
// a record overriding a default carries the default window in Origin.
type Break struct {
	ID        string      `json:"id" mapstructure:"id"`
	Window    TimeWindow  `json:"window" mapstructure:"window"`
	Label     string      `json:"label" mapstructure:"label"`
	IsDefault bool        `json:"isDefault" mapstructure:"isDefault"`
	IsRemoved bool        `json:"isRemoved" mapstructure:"isRemoved"`
	Origin    *TimeWindow `json:"origin,omitempty" mapstructure:"origin"`
}

// Active reports whether the break currently occupies its window.
func (b Break) Active() bool {
	return !b.IsRemoved
}

// DefaultBreak describes one entry of the implicit daily break catalogue.
type DefaultBreak struct {
	Range ClockRange
	Label string
}

// DefaultBreaks are active every day unless overridden by a record.
var DefaultBreaks = []DefaultBreak{
	{Range: ClockRange{Start: 11 * 60, End: 11*60 + 30}, Label: "Short Break"},
	{Range: ClockRange{Start: 13*60 + 30, End: 14 * 60}, Label: "Lunch Break"},
}

// DefaultBreakAt returns the catalogue entry whose window equals w.
func DefaultBreakAt(w TimeWindow) (DefaultBreak, bool) {
	for _, def := range DefaultBreaks {
		if def.Range.On(w.Day) == w {
			return def, true
		}
	}
	return DefaultBreak{}, false
}

// SlotKind tags an occupant of the weekly grid.
type SlotKind string

const (
	SlotTheory SlotKind = "THEORY"
	SlotFixed  SlotKind = "FIXED"
	SlotLab    SlotKind = "LAB"
	SlotBreak  SlotKind = "BREAK"
)

// SlotRef identifies an occupant across timetables.
type SlotRef struct {
	TimetableID string     `json:"timetableId"`
	SectionID   string     `json:"sectionId"`
	SlotID      string     `json:"slotId"`
	Kind        SlotKind   `json:"kind"`
	Label       string     `json:"label"`
	Window      TimeWindow `json:"window"`
	BatchNumber int        `json:"batchNumber,omitempty"`
}

// ResourceKind names the resource dimension of an availability entry.
type ResourceKind string

const (
	ResourceTeacher ResourceKind = "TEACHER"
	ResourceRoom    ResourceKind = "ROOM"
	ResourceSection ResourceKind = "SECTION"
)

// ResourceConflict is a double booking of one resource by two occupants.
type ResourceConflict struct {
	Resource   ResourceKind `json:"resource"`
	ResourceID string       `json:"resourceId"`
	Existing   SlotRef      `json:"existing"`
	Incoming   SlotRef      `json:"incoming"`
}

// PhaseCounters is the per-phase summary persisted with each timetable.
type PhaseCounters struct {
	Phase      int            `json:"phase"`
	Name       string         `json:"name"`
	Placed     int            `json:"placed"`
	Unresolved int            `json:"unresolved"`
	Counters   map[string]int `json:"counters,omitempty"`
}

// GenerationMetadata tracks pipeline progress for a timetable.
type GenerationMetadata struct {
	RunID        string             `json:"runId,omitempty"`
	CurrentPhase int                `json:"currentPhase"`
	Phases       []PhaseCounters    `json:"phases,omitempty"`
	Clean        bool               `json:"clean"`
	Conflicts    []ResourceConflict `json:"conflicts,omitempty"`
	GeneratedAt  *time.Time         `json:"generatedAt,omitempty"`
}

// Timetable is the aggregate root: one per section per semester type per academic year.
type Timetable struct {
	ID           string             `json:"id"`
	SectionID    string             `json:"sectionId"`
	AcademicYear string             `json:"academicYear"`
	SemesterType SemesterType       `json:"semesterType"`
	TheorySlots  []TheorySlot       `json:"theorySlots"`
	LabSlots     []LabSlot          `json:"labSlots"`
	Breaks       []Break            `json:"breaks"`
	Metadata     GenerationMetadata `json:"generationMetadata"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// TimetableRecord is the persisted row shape; slot arrays are JSON columns.
type TimetableRecord struct {
	ID           string         `db:"id"`
	SectionID    string         `db:"section_id"`
	AcademicYear string         `db:"academic_year"`
	SemesterType SemesterType   `db:"semester_type"`
	TheorySlots  types.JSONText `db:"theory_slots"`
	LabSlots     types.JSONText `db:"lab_slots"`
	Breaks       types.JSONText `db:"breaks"`
	Metadata     types.JSONText `db:"generation_metadata"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// PhaseCompleted reports whether the pipeline reached the phase.
func (t *Timetable) PhaseCompleted(phase int) bool {
	return t.Metadata.CurrentPhase >= phase
}

// TheorySlotIndex returns the index of the slot with id, or -1.
func (t *Timetable) TheorySlotIndex(id string) int {
	for i := range t.TheorySlots {
		if t.TheorySlots[i].ID == id {
			return i
		}
	}
	return -1
}

// BreakIndex returns the index of the break record with id, or -1.
func (t *Timetable) BreakIndex(id string) int {
	for i := range t.Breaks {
		if t.Breaks[i].ID == id {
			return i
		}
	}
	return -1
}

// DefaultOverrideIndex returns the record overriding the default break at w, or -1.
func (t *Timetable) DefaultOverrideIndex(w TimeWindow) int {
	for i := range t.Breaks {
		b := t.Breaks[i]
		if b.IsDefault && b.Origin != nil && *b.Origin == w {
			return i
		}
	}
	return -1
}

// ActiveBreaks resolves implicit defaults and records into the breaks currently in force.
// Implicit defaults are returned with an empty ID.
func (t *Timetable) ActiveBreaks() []Break {
	var active []Break
	for _, day := range WeekDays {
		for _, def := range DefaultBreaks {
			w := def.Range.On(day)
			if t.DefaultOverrideIndex(w) >= 0 {
				continue
			}
			origin := w
			active = append(active, Break{Window: w, Label: def.Label, IsDefault: true, Origin: &origin})
		}
	}
	for _, b := range t.Breaks {
		if b.Active() {
			active = append(active, b)
		}
	}
	return active
}

// OccupantsAt lists theory slots, lab slots and active breaks overlapping w.
func (t *Timetable) OccupantsAt(w TimeWindow) []SlotRef {
	var refs []SlotRef
	for _, slot := range t.TheorySlots {
		if slot.Window.Overlaps(w) {
			kind := SlotTheory
			if slot.IsFixed {
				kind = SlotFixed
			}
			refs = append(refs, SlotRef{TimetableID: t.ID, SectionID: t.SectionID, SlotID: slot.ID, Kind: kind, Label: slot.SubjectID, Window: slot.Window})
		}
	}
	for _, slot := range t.LabSlots {
		if slot.Window.Overlaps(w) {
			refs = append(refs, SlotRef{TimetableID: t.ID, SectionID: t.SectionID, SlotID: slot.ID, Kind: SlotLab, Label: labSlotLabel(slot), Window: slot.Window})
		}
	}
	for _, b := range t.ActiveBreaks() {
		if b.Window.Overlaps(w) {
			refs = append(refs, SlotRef{TimetableID: t.ID, SectionID: t.SectionID, SlotID: b.ID, Kind: SlotBreak, Label: b.Label, Window: b.Window})
		}
	}
	return refs
}

// IsFree reports whether nothing (including active breaks) occupies w.
func (t *Timetable) IsFree(w TimeWindow) bool {
	return len(t.OccupantsAt(w)) == 0
}

// ScheduledMinutes sums theory and lab minutes on a day.
func (t *Timetable) ScheduledMinutes(day Day) int {
	total := 0
	for _, slot := range t.TheorySlots {
		if slot.Window.Day == day {
			total += slot.Window.Minutes()
		}
	}
	for _, slot := range t.LabSlots {
		if slot.Window.Day == day {
			total += slot.Window.Minutes()
		}
	}
	return total
}

// Clone deep-copies the aggregate.
func (t *Timetable) Clone() *Timetable {
	if t == nil {
		return nil
	}
	out := *t
	out.TheorySlots = nil
	if t.TheorySlots != nil {
		out.TheorySlots = make([]TheorySlot, len(t.TheorySlots))
	}
	for i, slot := range t.TheorySlots {
		slot.TeacherID = cloneString(slot.TeacherID)
		slot.ClassroomID = cloneString(slot.ClassroomID)
		out.TheorySlots[i] = slot
	}
	out.LabSlots = nil
	if t.LabSlots != nil {
		out.LabSlots = make([]LabSlot, len(t.LabSlots))
	}
	for i, slot := range t.LabSlots {
		var batches []BatchAssignment
		if slot.Batches != nil {
			batches = make([]BatchAssignment, len(slot.Batches))
		}
		for j, b := range slot.Batches {
			b.Teacher1ID = cloneString(b.Teacher1ID)
			b.Teacher2ID = cloneString(b.Teacher2ID)
			batches[j] = b
		}
		slot.Batches = batches
		out.LabSlots[i] = slot
	}
	out.Breaks = nil
	if t.Breaks != nil {
		out.Breaks = make([]Break, len(t.Breaks))
	}
	for i, b := range t.Breaks {
		if b.Origin != nil {
			origin := *b.Origin
			b.Origin = &origin
		}
		out.Breaks[i] = b
	}
	if t.Metadata.Phases != nil {
		out.Metadata.Phases = append([]PhaseCounters{}, t.Metadata.Phases...)
	}
	if t.Metadata.Conflicts != nil {
		out.Metadata.Conflicts = append([]ResourceConflict{}, t.Metadata.Conflicts...)
	}
	return &out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func labSlotLabel(slot LabSlot) string {
	if len(slot.Batches) == 0 {
		return "LAB"
	}
	label := slot.Batches[0].LabID
	for _, b := range slot.Batches[1:] {
		if b.LabID != slot.Batches[0].LabID {
			return "LAB ROTATION"
		}
	}
	return label
}
