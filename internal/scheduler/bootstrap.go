package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// runBootstrap creates one empty timetable per section.
func runBootstrap(_ context.Context, r *Run) (PhaseSummary, error) {
	summary := newSummary(PhaseBootstrap)
	if len(r.input.Sections) == 0 {
		return summary, ErrNoSections
	}
	sections, err := normalizeSections(r.input.Sections)
	if err != nil {
		return summary, err
	}
	r.sections = sections

	now := r.now().UTC()
	for _, section := range sections {
		semesterType := section.SemesterType
		if semesterType == "" {
			semesterType = r.input.SemesterType
		}
		tt := &models.Timetable{
			ID:           uuid.NewString(),
			SectionID:    section.ID,
			AcademicYear: r.input.AcademicYear,
			SemesterType: semesterType,
			TheorySlots:  []models.TheorySlot{},
			LabSlots:     []models.LabSlot{},
			Breaks:       []models.Break{},
			Metadata:     models.GenerationMetadata{RunID: r.ID},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		r.timetables = append(r.timetables, tt)
		r.bySection[section.ID] = tt
		summary.placed(section.ID)
	}
	summary.Counters["sections"] = len(sections)
	summary.Counters["batches"] = len(sections) * models.BatchesPerSection
	return summary, nil
}

// runFixedSlots places every declared elective window verbatim.
func runFixedSlots(_ context.Context, r *Run) (PhaseSummary, error) {
	summary := newSummary(PhaseFixedSlots)
	order := r.sectionOrder()
	decls := append([]models.FixedSlotDeclaration(nil), r.input.FixedSlots...)
	sort.SliceStable(decls, func(i, j int) bool {
		oi, oj := order[decls[i].SectionID], order[decls[j].SectionID]
		if oi != oj {
			return oi < oj
		}
		return decls[i].Window().Less(decls[j].Window())
	})

	for _, decl := range decls {
		item := UnresolvedItem{SectionID: decl.SectionID, ItemID: decl.SubjectID, TeacherID: models.StringValue(decl.TeacherID)}
		tt, ok := r.timetable(decl.SectionID)
		if !ok {
			item.Reason = ReasonUnknownSection
			item.Message = fmt.Sprintf("fixed slot for unknown section %s", decl.SectionID)
			summary.unresolved(item)
			continue
		}
		w := decl.Window()
		if err := w.Validate(); err != nil {
			item.Reason = ReasonInvalidWindow
			item.Message = err.Error()
			summary.unresolved(item)
			continue
		}
		if occ := r.index.Occupants(models.ResourceSection, tt.SectionID, w); len(occ) > 0 {
			item.Reason = ReasonFixedSlotConflict
			item.Message = fmt.Sprintf("%s overlaps fixed slot %s", w, occ[0].Label)
			summary.unresolved(item)
			continue
		}
		if decl.TeacherID != nil && !r.index.IsFree(models.ResourceTeacher, *decl.TeacherID, w) {
			item.Reason = ReasonTeacherBusy
			item.Message = fmt.Sprintf("teacher %s already teaches at %s", *decl.TeacherID, w)
			summary.unresolved(item)
			continue
		}

		slot := models.TheorySlot{
			ID:        uuid.NewString(),
			SubjectID: decl.SubjectID,
			TeacherID: decl.TeacherID,
			Window:    w,
			IsFixed:   true,
		}
		tt.TheorySlots = append(tt.TheorySlots, slot)
		r.reserveTheory(tt, slot)
		summary.Counters["breaksRetired"] += r.retireBreaks(tt, w)
		r.markFixed(decl.SectionID, decl.SubjectID)
		summary.placed(decl.SectionID)
	}
	for _, tt := range r.timetables {
		sortTheorySlots(tt.TheorySlots)
	}
	summary.Counters["declared"] = len(decls)
	summary.Counters["fixedSlots"] = summary.Placed
	return summary, nil
}
