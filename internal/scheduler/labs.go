package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// labUnit is one synchronized round of a section: every batch that has a lab left attends
// its own lab in the same window.
type labUnit struct {
	seq       int
	sectionID string
	section   int
	round     int
	rounds    int
	entries   []models.LabAssignment
}

// buildLabUnits groups lab assignments into rounds. Each batch walks its labs in a rotated
// canonical order, so in any round the batches of a section sit in different labs whenever
// their lab lists coincide.
func buildLabUnits(r *Run) ([]labUnit, []UnresolvedItem) {
	var units []labUnit
	var rejected []UnresolvedItem
	order := r.sectionOrder()

	bySection := make(map[string]map[int][]models.LabAssignment)
	for _, a := range r.input.LabAssignments {
		item := UnresolvedItem{SectionID: a.SectionID, ItemID: a.LabID, BatchNumber: a.BatchNumber}
		if _, ok := order[a.SectionID]; !ok {
			item.Reason = ReasonUnknownSection
			item.Message = fmt.Sprintf("lab assignment for unknown section %s", a.SectionID)
			rejected = append(rejected, item)
			continue
		}
		if a.BatchNumber < 1 || a.BatchNumber > models.BatchesPerSection {
			item.Reason = ReasonInvalidBatch
			item.Message = fmt.Sprintf("batch %d outside 1..%d", a.BatchNumber, models.BatchesPerSection)
			rejected = append(rejected, item)
			continue
		}
		if _, ok := r.catalog.labs[a.LabID]; !ok {
			item.Reason = ReasonUnknownLab
			item.Message = fmt.Sprintf("lab %s is not in the catalogue", a.LabID)
			rejected = append(rejected, item)
			continue
		}
		if a.Teacher1ID != nil && a.Teacher2ID != nil && *a.Teacher1ID == *a.Teacher2ID {
			a.Teacher2ID = nil
		}
		if bySection[a.SectionID] == nil {
			bySection[a.SectionID] = make(map[int][]models.LabAssignment)
		}
		bySection[a.SectionID][a.BatchNumber] = append(bySection[a.SectionID][a.BatchNumber], a)
	}

	for si, section := range r.sections {
		batches := bySection[section.ID]
		if len(batches) == 0 {
			continue
		}
		rounds := 0
		for batch := 1; batch <= models.BatchesPerSection; batch++ {
			labs := batches[batch]
			sort.SliceStable(labs, func(i, j int) bool { return r.labLess(labs[i].LabID, labs[j].LabID) })
			rounds = max(rounds, len(labs))
		}
		for round := 0; round < rounds; round++ {
			u := labUnit{seq: len(units), sectionID: section.ID, section: si, round: round, rounds: rounds}
			for bi := 0; bi < models.BatchesPerSection; bi++ {
				labs := batches[bi+1]
				if round >= len(labs) {
					continue
				}
				u.entries = append(u.entries, labs[(bi+round)%len(labs)])
			}
			units = append(units, u)
		}
	}
	return units, rejected
}

func (r *Run) labLess(a, b string) bool {
	ca, cb := r.catalog.labs[a].Code, r.catalog.labs[b].Code
	if ca != cb {
		return ca < cb
	}
	return a < b
}

// existingLabWindows collects lab windows already on the timetables, per section.
func (r *Run) existingLabWindows() map[string][]models.TimeWindow {
	out := make(map[string][]models.TimeWindow)
	for _, tt := range r.timetables {
		for _, slot := range tt.LabSlots {
			out[tt.SectionID] = append(out[tt.SectionID], slot.Window)
		}
	}
	return out
}

// runLabs searches randomized orderings for the placement that schedules the most batch
// sessions, commits it, then retries leftovers greedily on the committed state.
func runLabs(ctx context.Context, r *Run) (PhaseSummary, error) {
	summary := newSummary(PhaseLabs)
	units, rejected := buildLabUnits(r)
	for _, item := range rejected {
		summary.unresolved(item)
	}

	ttIDs := make(map[string]string, len(r.timetables))
	for _, tt := range r.timetables {
		ttIDs[tt.SectionID] = tt.ID
	}
	search := &labSearch{
		base:      r.index,
		existing:  r.existingLabWindows(),
		units:     units,
		catalogue: r.cfg.LabWindows,
		minGap:    r.cfg.MinLabGapMinutes,
		ttIDs:     ttIDs,
	}

	space := orderingSpace(len(r.cfg.LabWindows), len(r.sections), r.cfg.MaxOrderings)
	count := min(r.cfg.LabTrials, space)
	orderings := drawOrderings(r.rng, count, len(r.cfg.LabWindows), len(r.sections))
	best, evaluated, early := search.run(ctx, orderings, r.cfg.LabWorkers)

	perfect := 0
	for _, u := range units {
		perfect += len(u.entries)
	}
	summary.LabSearch = &LabSearchStats{
		Trials:        evaluated,
		BestTrial:     best.trial,
		BestScore:     best.score,
		PerfectScore:  perfect,
		Seed:          r.cfg.Seed,
		EarlyExit:     early,
		OrderingSpace: space,
	}
	r.logger.Debug("lab search finished",
		zap.Int("trials", evaluated),
		zap.Int("best_trial", best.trial),
		zap.Int("score", best.score),
		zap.Int("perfect", perfect),
	)

	var leftovers []labUnit
	for _, u := range units {
		w, ok := best.windows[u.seq]
		if !ok {
			leftovers = append(leftovers, u)
			continue
		}
		r.commitLabUnit(u, w, &summary)
	}

	repaired := 0
	catalogueOrder := identityOrdering(len(r.cfg.LabWindows), 0).Windows
	for _, u := range leftovers {
		placed := r.existingLabWindows()[u.sectionID]
		if w, ok := search.firstFit(r.index, map[string][]models.TimeWindow{u.sectionID: placed}, u, models.WeekDays, catalogueOrder); ok {
			r.commitLabUnit(u, w, &summary)
			repaired++
			continue
		}
		reason := r.diagnoseLabUnit(u)
		for _, e := range u.entries {
			summary.unresolved(UnresolvedItem{
				SectionID:   u.sectionID,
				ItemID:      e.LabID,
				BatchNumber: e.BatchNumber,
				Round:       u.round + 1,
				Reason:      reason,
				Message:     fmt.Sprintf("round %d of section %s has no compatible window", u.round+1, u.sectionID),
			})
		}
	}

	for _, tt := range r.timetables {
		sortLabSlots(tt.LabSlots)
	}
	summary.Counters["units"] = len(units)
	summary.Counters["sessions"] = perfect
	summary.Counters["sessionsPlaced"] = summary.Placed
	summary.Counters["repaired"] = repaired
	summary.Counters["trials"] = evaluated
	return summary, nil
}

func (r *Run) commitLabUnit(u labUnit, w models.TimeWindow, summary *PhaseSummary) {
	tt := r.bySection[u.sectionID]
	slot := models.LabSlot{ID: uuid.NewString(), Window: w, Round: u.round + 1}
	for _, e := range u.entries {
		slot.Batches = append(slot.Batches, models.BatchAssignment{
			BatchNumber: e.BatchNumber,
			LabID:       e.LabID,
			LabRoomID:   e.LabRoomID,
			Teacher1ID:  e.Teacher1ID,
			Teacher2ID:  e.Teacher2ID,
		})
		summary.placed(u.sectionID)
	}
	sort.SliceStable(slot.Batches, func(i, j int) bool { return slot.Batches[i].BatchNumber < slot.Batches[j].BatchNumber })
	tt.LabSlots = append(tt.LabSlots, slot)
	r.reserveLab(tt, slot)
	summary.Counters["breaksRetired"] += r.retireBreaks(tt, w)
}

// diagnoseLabUnit names the rule that blocks the unit most often across the catalogue.
// Section occupancy only wins when nothing else ever blocks it.
func (r *Run) diagnoseLabUnit(u labUnit) ReasonCode {
	if len(r.cfg.LabWindows) == 0 {
		return ReasonNoCompatibleWindow
	}
	placed := r.existingLabWindows()[u.sectionID]
	counts := make(map[ReasonCode]int)
	for _, day := range models.WeekDays {
		for _, cr := range r.cfg.LabWindows {
			if reason := checkLabWindow(r.index, placed, u, cr.On(day), r.cfg.MinLabGapMinutes); reason != "" {
				counts[reason]++
			}
		}
	}
	best, bestCount := ReasonNoCompatibleWindow, 0
	for _, reason := range []ReasonCode{ReasonConsecutiveLab, ReasonTeacherBusy, ReasonRoomBusy, ReasonInvalidWindow} {
		if counts[reason] > bestCount {
			best, bestCount = reason, counts[reason]
		}
	}
	if bestCount == 0 && counts[ReasonSectionBusy] > 0 {
		return ReasonSectionBusy
	}
	return best
}
