package scheduler

import (
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/ise-timetable-api/internal/availability"
	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// Run is the mutable state of one generation: the timetables under construction and the
// shared availability index. Phases mutate it strictly in order.
type Run struct {
	ID         string
	cfg        Config
	input      Input
	catalog    *catalog
	sections   []models.Section
	timetables []*models.Timetable
	bySection  map[string]*models.Timetable
	index      *availability.Index
	report     *Report
	completed  map[int]bool
	// fixed records subjects placed by Phase 2, keyed by section.
	fixed  map[string]map[string]bool
	rng    *rand.Rand
	logger *zap.Logger
	now    func() time.Time
}

func newRun(id string, cfg Config, in Input, logger *zap.Logger, now func() time.Time) *Run {
	return &Run{
		ID:        id,
		cfg:       cfg,
		input:     in,
		catalog:   newCatalog(in),
		bySection: make(map[string]*models.Timetable),
		index:     availability.New(),
		completed: make(map[int]bool),
		fixed:     make(map[string]map[string]bool),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		logger:    logger,
		now:       now,
		report: &Report{
			RunID:        id,
			AcademicYear: in.AcademicYear,
			SemesterType: in.SemesterType,
			SectionClean: make(map[string]bool),
		},
	}
}

// Timetables returns the timetables in section order.
func (r *Run) Timetables() []*models.Timetable {
	return r.timetables
}

// Report returns the accumulated report.
func (r *Run) Report() *Report {
	return r.report
}

func (r *Run) timetable(sectionID string) (*models.Timetable, bool) {
	tt, ok := r.bySection[sectionID]
	return tt, ok
}

// sectionOrder maps section id to its input position.
func (r *Run) sectionOrder() map[string]int {
	order := make(map[string]int, len(r.sections))
	for i, s := range r.sections {
		order[s.ID] = i
	}
	return order
}

func (r *Run) markFixed(sectionID, subjectID string) {
	set, ok := r.fixed[sectionID]
	if !ok {
		set = make(map[string]bool)
		r.fixed[sectionID] = set
	}
	set[subjectID] = true
}

func (r *Run) isFixed(sectionID, subjectID string) bool {
	return r.fixed[sectionID][subjectID]
}

func (r *Run) reserveTheory(tt *models.Timetable, slot models.TheorySlot) {
	ref := availability.TheoryRef(tt, slot)
	r.index.Reserve(models.ResourceSection, tt.SectionID, slot.Window, ref)
	r.index.Reserve(models.ResourceTeacher, models.StringValue(slot.TeacherID), slot.Window, ref)
	r.index.Reserve(models.ResourceRoom, models.StringValue(slot.ClassroomID), slot.Window, ref)
}

func (r *Run) reserveLab(tt *models.Timetable, slot models.LabSlot) {
	r.index.Reserve(models.ResourceSection, tt.SectionID, slot.Window, availability.LabRef(tt, slot, 0))
	for _, batch := range slot.Batches {
		ref := availability.LabRef(tt, slot, batch.BatchNumber)
		r.index.Reserve(models.ResourceRoom, batch.LabRoomID, slot.Window, ref)
		for _, teacherID := range batch.Teachers() {
			r.index.Reserve(models.ResourceTeacher, teacherID, slot.Window, ref)
		}
	}
}

// retireBreaks takes every break active in w out of force: an implicit default gets a removal
// record, a materialised break is marked removed. Lab and fixed slots own their window.
func (r *Run) retireBreaks(tt *models.Timetable, w models.TimeWindow) int {
	retired := 0
	var markers []models.Break
	for _, def := range models.DefaultBreaks {
		bw := def.Range.On(w.Day)
		if !bw.Overlaps(w) || tt.DefaultOverrideIndex(bw) >= 0 {
			continue
		}
		origin := bw
		markers = append(markers, models.Break{ID: uuid.NewString(), Window: bw, Label: def.Label, IsDefault: true, IsRemoved: true, Origin: &origin})
	}
	for i := range tt.Breaks {
		b := &tt.Breaks[i]
		if b.Active() && b.Window.Overlaps(w) {
			b.IsRemoved = true
			retired++
		}
	}
	tt.Breaks = append(tt.Breaks, markers...)
	retired += len(markers)
	if retired > 0 {
		r.logger.Debug("breaks retired", zap.String("section_id", tt.SectionID), zap.Stringer("window", w), zap.Int("count", retired))
	}
	return retired
}

// record stores the summary on the report and mirrors per-section counters into metadata.
func (r *Run) record(summary PhaseSummary) {
	r.report.Phases = append(r.report.Phases, summary)
	r.completed[summary.Phase] = true
	unresolvedBySection := make(map[string]int)
	for _, item := range summary.Unresolved {
		unresolvedBySection[item.SectionID]++
	}
	for _, tt := range r.timetables {
		kept := tt.Metadata.Phases[:0]
		for _, pc := range tt.Metadata.Phases {
			if pc.Phase != summary.Phase {
				kept = append(kept, pc)
			}
		}
		tt.Metadata.Phases = append(kept, models.PhaseCounters{
			Phase:      summary.Phase,
			Name:       summary.Name,
			Placed:     summary.PlacedBySection[tt.SectionID],
			Unresolved: unresolvedBySection[tt.SectionID],
		})
		if summary.Phase > tt.Metadata.CurrentPhase && summary.Phase < PhaseValidation {
			tt.Metadata.CurrentPhase = summary.Phase
		}
	}
}

func sortTheorySlots(slots []models.TheorySlot) {
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Window.Less(slots[j].Window) })
}

func sortLabSlots(slots []models.LabSlot) {
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Window.Less(slots[j].Window) })
}
