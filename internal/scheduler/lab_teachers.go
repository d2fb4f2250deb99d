package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/noah-isme/ise-timetable-api/internal/availability"
	"github.com/noah-isme/ise-timetable-api/internal/models"
)

type batchRef struct {
	tt    *models.Timetable
	slot  int
	batch int
}

func (b batchRef) lab() *models.LabSlot {
	return &b.tt.LabSlots[b.slot]
}

func (b batchRef) assignment() *models.BatchAssignment {
	return &b.tt.LabSlots[b.slot].Batches[b.batch]
}

func (r *Run) labBatches() []batchRef {
	var refs []batchRef
	for _, tt := range r.timetables {
		for si := range tt.LabSlots {
			for bi := range tt.LabSlots[si].Batches {
				refs = append(refs, batchRef{tt: tt, slot: si, batch: bi})
			}
		}
	}
	return refs
}

// runLabTeachers binds two supervisors to every batch session. Pre-assigned supervisors are
// kept unless they already hit a hard cap; open positions are filled tier by tier, least
// loaded first, and only the soft tier may overflow its cap.
func runLabTeachers(_ context.Context, r *Run) (PhaseSummary, error) {
	summary := newSummary(PhaseLabTeachers)
	load := make(map[string]int)
	batches := r.labBatches()

	for _, ref := range batches {
		b, slot := ref.assignment(), ref.lab()
		occupant := availability.BatchSlotID(slot.ID, b.BatchNumber)
		if b.Teacher1ID != nil && b.Teacher2ID != nil && *b.Teacher1ID == *b.Teacher2ID {
			b.Teacher2ID = nil
		}
		for _, ptr := range []**string{&b.Teacher1ID, &b.Teacher2ID} {
			if *ptr == nil {
				continue
			}
			id := **ptr
			tier := r.cfg.CapTiers[r.cfg.tierFor(r.catalog.teacherPosition(id))]
			if tier.Hard && load[id] >= tier.Cap {
				r.index.Release(models.ResourceTeacher, id, slot.Window, occupant)
				*ptr = nil
				summary.Counters["stripped"]++
				summary.unresolved(UnresolvedItem{
					SectionID:   ref.tt.SectionID,
					ItemID:      b.LabID,
					TeacherID:   id,
					BatchNumber: b.BatchNumber,
					Round:       slot.Round,
					Reason:      ReasonCapExceeded,
					Message:     fmt.Sprintf("teacher %s already supervises %d batches (%s cap %d)", id, load[id], tier.Name, tier.Cap),
				})
				continue
			}
			load[id]++
		}
		if b.Teacher1ID == nil && b.Teacher2ID != nil {
			b.Teacher1ID, b.Teacher2ID = b.Teacher2ID, nil
		}
	}

	for _, ref := range batches {
		if len(ref.assignment().Teachers()) == 2 {
			summary.Counters["preassigned"]++
		}
	}
	// Every batch gets a first supervisor before any batch gets its second, so a scarce
	// window is shared across the round instead of being used up by the first batches.
	for seat := 1; seat <= 2; seat++ {
		for _, ref := range batches {
			if len(ref.assignment().Teachers()) < seat {
				r.fillSupervisorSeat(ref, load)
			}
		}
	}

	for _, ref := range batches {
		b, slot := ref.assignment(), ref.lab()
		switch len(b.Teachers()) {
		case 2:
			summary.placed(ref.tt.SectionID)
		case 1:
			summary.placed(ref.tt.SectionID)
			summary.Counters["singleTeacher"]++
			summary.unresolved(UnresolvedItem{
				SectionID:   ref.tt.SectionID,
				ItemID:      b.LabID,
				TeacherID:   *b.Teacher1ID,
				BatchNumber: b.BatchNumber,
				Round:       slot.Round,
				Reason:      ReasonSingleTeacher,
				Message:     fmt.Sprintf("only one eligible supervisor free at %s", slot.Window),
			})
		default:
			summary.unresolved(UnresolvedItem{
				SectionID:   ref.tt.SectionID,
				ItemID:      b.LabID,
				BatchNumber: b.BatchNumber,
				Round:       slot.Round,
				Reason:      ReasonNoEligibleTeacher,
				Message:     fmt.Sprintf("no eligible supervisor free at %s", slot.Window),
			})
		}
	}

	summary.Overflow = make(map[string]int)
	for id, n := range load {
		tier := r.cfg.CapTiers[r.cfg.tierFor(r.catalog.teacherPosition(id))]
		if !tier.Hard && n > tier.Cap {
			summary.Overflow[id] = n - tier.Cap
		}
	}
	overflowIDs := make([]string, 0, len(summary.Overflow))
	for id := range summary.Overflow {
		overflowIDs = append(overflowIDs, id)
	}
	sort.Strings(overflowIDs)
	for _, id := range overflowIDs {
		tier := r.cfg.CapTiers[r.cfg.tierFor(r.catalog.teacherPosition(id))]
		summary.unresolved(UnresolvedItem{
			TeacherID: id,
			Reason:    ReasonSoftCapOverflow,
			Message:   fmt.Sprintf("teacher %s supervises %d batches, %d over the %s cap of %d", id, load[id], summary.Overflow[id], tier.Name, tier.Cap),
		})
	}
	summary.Counters["batches"] = len(batches)
	summary.Counters["overflowTeachers"] = len(summary.Overflow)
	return summary, nil
}

// fillSupervisorSeat binds one more eligible, free supervisor to the batch when one exists.
func (r *Run) fillSupervisorSeat(ref batchRef, load map[string]int) {
	b, slot := ref.assignment(), ref.lab()
	exclude := make(map[string]bool, 2)
	for _, id := range b.Teachers() {
		exclude[id] = true
	}
	picks := r.pickSupervisors(b.LabID, slot.Window, exclude, 1, load)
	if len(picks) == 0 {
		return
	}
	id := picks[0]
	if b.Teacher1ID == nil {
		b.Teacher1ID = models.StringPtr(id)
	} else {
		b.Teacher2ID = models.StringPtr(id)
	}
	r.index.Reserve(models.ResourceTeacher, id, slot.Window, availability.LabRef(ref.tt, *slot, b.BatchNumber))
	load[id]++
}

// pickSupervisors chooses up to need eligible, free teachers. Tiers are walked in order with
// the least loaded teacher first; soft-tier teachers at their cap are only used when nobody
// under a cap is left.
func (r *Run) pickSupervisors(labID string, w models.TimeWindow, exclude map[string]bool, need int, load map[string]int) []string {
	type candidate struct {
		id   string
		tier int
	}
	var candidates []candidate
	for _, id := range r.catalog.teacherIDs {
		t := r.catalog.teachers[id]
		if exclude[id] || !t.CanSuperviseLab(labID) || !r.index.IsFree(models.ResourceTeacher, id, w) {
			continue
		}
		candidates = append(candidates, candidate{id: id, tier: r.cfg.tierFor(t.Position)})
	}
	byLoad := func(list []candidate) {
		sort.SliceStable(list, func(i, j int) bool {
			if load[list[i].id] != load[list[j].id] {
				return load[list[i].id] < load[list[j].id]
			}
			return list[i].id < list[j].id
		})
	}

	picked := make(map[string]bool)
	var picks []string
	for ti, tier := range r.cfg.CapTiers {
		var eligible []candidate
		for _, c := range candidates {
			if c.tier == ti && load[c.id] < tier.Cap {
				eligible = append(eligible, c)
			}
		}
		byLoad(eligible)
		for _, c := range eligible {
			if len(picks) == need {
				return picks
			}
			picks = append(picks, c.id)
			picked[c.id] = true
		}
	}

	var overflow []candidate
	for _, c := range candidates {
		if !picked[c.id] && !r.cfg.CapTiers[c.tier].Hard {
			overflow = append(overflow, c)
		}
	}
	byLoad(overflow)
	for _, c := range overflow {
		if len(picks) == need {
			break
		}
		picks = append(picks, c.id)
	}
	return picks
}
