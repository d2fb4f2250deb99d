package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/noah-isme/ise-timetable-api/internal/availability"
	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// runValidation rebuilds the availability index from the timetables alone and reports every
// double booking, cap violation, back-to-back lab pair and slot sitting on an active break.
func runValidation(_ context.Context, r *Run) (PhaseSummary, error) {
	summary := newSummary(PhaseValidation)
	index, conflicts := availability.Build(r.timetables)
	r.index = index

	dirty := make(map[string]bool)
	for _, c := range conflicts {
		dirty[c.Existing.TimetableID] = true
		dirty[c.Incoming.TimetableID] = true
		summary.unresolved(UnresolvedItem{
			SectionID: c.Incoming.SectionID,
			ItemID:    c.Incoming.SlotID,
			Reason:    ReasonDoubleBooking,
			Message:   fmt.Sprintf("%s %s is held by %s and %s at %s", c.Resource, c.ResourceID, c.Existing.Label, c.Incoming.Label, c.Incoming.Window),
		})
	}

	for _, item := range r.capViolations() {
		summary.unresolved(item)
	}
	for _, tt := range r.timetables {
		for _, item := range backToBackLabs(tt, r.cfg.MinLabGapMinutes) {
			dirty[tt.ID] = true
			summary.unresolved(item)
		}
		for _, item := range breakOverlaps(tt) {
			dirty[tt.ID] = true
			summary.unresolved(item)
		}
	}

	complete := true
	for phase := PhaseBootstrap; phase < PhaseValidation; phase++ {
		if !r.completed[phase] {
			complete = false
			summary.unresolved(UnresolvedItem{
				Reason:  ReasonPhasesIncomplete,
				Message: fmt.Sprintf("phase %d (%s) has not run", phase, PhaseName(phase)),
			})
		}
	}

	now := r.now().UTC()
	for _, tt := range r.timetables {
		clean := !dirty[tt.ID]
		tt.Metadata.Clean = clean
		tt.Metadata.Conflicts = nil
		for _, c := range conflicts {
			if c.Existing.TimetableID == tt.ID || c.Incoming.TimetableID == tt.ID {
				tt.Metadata.Conflicts = append(tt.Metadata.Conflicts, c)
			}
		}
		if complete {
			tt.Metadata.CurrentPhase = PhaseValidation
			generated := now
			tt.Metadata.GeneratedAt = &generated
		}
		r.report.SectionClean[tt.SectionID] = clean
		if clean {
			summary.placed(tt.SectionID)
		}
	}

	r.report.Conflicts = conflicts
	r.report.Completed = complete
	r.report.Clean = complete && len(summary.Unresolved) == 0
	summary.Counters["conflicts"] = len(conflicts)
	summary.Counters["rotationGaps"] = r.rotationGaps()
	summary.Counters["cleanSections"] = summary.Placed
	summary.Counters["issues"] = len(summary.Unresolved)
	return summary, nil
}

// capViolations counts supervised batches per teacher and flags hard caps that were exceeded.
func (r *Run) capViolations() []UnresolvedItem {
	load := make(map[string]int)
	for _, tt := range r.timetables {
		for _, slot := range tt.LabSlots {
			for _, b := range slot.Batches {
				for _, id := range b.Teachers() {
					load[id]++
				}
			}
		}
	}
	ids := make([]string, 0, len(load))
	for id := range load {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var items []UnresolvedItem
	for _, id := range ids {
		tier := r.cfg.CapTiers[r.cfg.tierFor(r.catalog.teacherPosition(id))]
		if tier.Hard && load[id] > tier.Cap {
			items = append(items, UnresolvedItem{
				TeacherID: id,
				Reason:    ReasonCapViolation,
				Message:   fmt.Sprintf("teacher %s supervises %d batches, %s cap is %d", id, load[id], tier.Name, tier.Cap),
			})
		}
	}
	return items
}

// rotationGaps counts (section, batch, lab) assignments that no lab slot covers. Phase 3
// already reported each of them, so they only feed the counters here.
func (r *Run) rotationGaps() int {
	covered := make(map[string]bool)
	for _, tt := range r.timetables {
		for _, slot := range tt.LabSlots {
			for _, b := range slot.Batches {
				covered[fmt.Sprintf("%s/%d/%s", tt.SectionID, b.BatchNumber, b.LabID)] = true
			}
		}
	}
	gaps := 0
	for _, a := range r.input.LabAssignments {
		if _, ok := r.bySection[a.SectionID]; !ok {
			continue
		}
		if !covered[fmt.Sprintf("%s/%d/%s", a.SectionID, a.BatchNumber, a.LabID)] {
			gaps++
		}
	}
	return gaps
}

// backToBackLabs reports lab slots of one section closer than minGap on the same day.
func backToBackLabs(tt *models.Timetable, minGap int) []UnresolvedItem {
	var items []UnresolvedItem
	for i := 0; i < len(tt.LabSlots); i++ {
		for j := i + 1; j < len(tt.LabSlots); j++ {
			a, b := tt.LabSlots[i], tt.LabSlots[j]
			if gap := a.Window.GapTo(b.Window); gap >= 0 && gap < minGap {
				items = append(items, UnresolvedItem{
					SectionID: tt.SectionID,
					ItemID:    b.ID,
					Round:     b.Round,
					Reason:    ReasonConsecutiveLab,
					Message:   fmt.Sprintf("labs at %s and %s are only %d minutes apart", a.Window, b.Window, gap),
				})
			}
		}
	}
	return items
}

// breakOverlaps reports theory and lab slots that sit on a break still in force.
func breakOverlaps(tt *models.Timetable) []UnresolvedItem {
	var items []UnresolvedItem
	for _, b := range tt.ActiveBreaks() {
		for _, slot := range tt.TheorySlots {
			if slot.Window.Overlaps(b.Window) {
				items = append(items, UnresolvedItem{
					SectionID: tt.SectionID,
					ItemID:    slot.ID,
					Reason:    ReasonBreakOverlap,
					Message:   fmt.Sprintf("%s at %s overlaps %s at %s", slot.SubjectID, slot.Window, b.Label, b.Window),
				})
			}
		}
		for _, slot := range tt.LabSlots {
			if slot.Window.Overlaps(b.Window) {
				items = append(items, UnresolvedItem{
					SectionID: tt.SectionID,
					ItemID:    slot.ID,
					Round:     slot.Round,
					Reason:    ReasonBreakOverlap,
					Message:   fmt.Sprintf("lab at %s overlaps %s at %s", slot.Window, b.Label, b.Window),
				})
			}
		}
	}
	return items
}
