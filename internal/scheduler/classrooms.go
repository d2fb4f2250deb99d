package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/noah-isme/ise-timetable-api/internal/availability"
	"github.com/noah-isme/ise-timetable-api/internal/models"
)

type roomRequest struct {
	tt    *models.Timetable
	order int
	slot  int
}

// runClassrooms gives every non-project theory slot the first free classroom, fixed slots
// first so the immovable ones are never left without a room.
func runClassrooms(_ context.Context, r *Run) (PhaseSummary, error) {
	summary := newSummary(PhaseClassrooms)
	var requests []roomRequest
	for order, tt := range r.timetables {
		for i, slot := range tt.TheorySlots {
			switch {
			case slot.IsProject:
				summary.Counters["skippedProjects"]++
			case slot.ClassroomID != nil:
				summary.Counters["preassigned"]++
			default:
				requests = append(requests, roomRequest{tt: tt, order: order, slot: i})
			}
		}
	}
	sort.SliceStable(requests, func(i, j int) bool {
		a := requests[i].tt.TheorySlots[requests[i].slot]
		b := requests[j].tt.TheorySlots[requests[j].slot]
		if a.IsFixed != b.IsFixed {
			return a.IsFixed
		}
		if requests[i].order != requests[j].order {
			return requests[i].order < requests[j].order
		}
		return a.Window.Less(b.Window)
	})

	for _, req := range requests {
		slot := &req.tt.TheorySlots[req.slot]
		assigned := false
		for _, room := range r.catalog.classrooms {
			if !r.index.IsFree(models.ResourceRoom, room.ID, slot.Window) {
				continue
			}
			slot.ClassroomID = models.StringPtr(room.ID)
			r.index.Reserve(models.ResourceRoom, room.ID, slot.Window, availability.TheoryRef(req.tt, *slot))
			assigned = true
			break
		}
		if !assigned {
			summary.unresolved(UnresolvedItem{
				SectionID: req.tt.SectionID,
				ItemID:    slot.ID,
				Reason:    ReasonNoFreeRoom,
				Message:   fmt.Sprintf("no classroom free at %s for %s", slot.Window, slot.SubjectID),
			})
			continue
		}
		summary.placed(req.tt.SectionID)
		if slot.IsFixed {
			summary.Counters["fixedAssigned"]++
		}
	}
	summary.Counters["requested"] = len(requests)
	summary.Counters["assigned"] = summary.Placed
	summary.Counters["unassigned"] = len(requests) - summary.Placed
	return summary, nil
}
