package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

type theoryDemand struct {
	sectionID string
	section   int
	subject   models.Subject
	teacherID *string
	sessions  int
	remaining int
	stuck     bool
	reason    ReasonCode
}

var categoryRank = map[models.SubjectCategory]int{
	models.SubjectRegular:   0,
	models.SubjectElective:  0,
	models.SubjectOtherDept: 1,
	models.SubjectProject:   2,
}

var categoryOrder = []models.SubjectCategory{
	models.SubjectRegular,
	models.SubjectOtherDept,
	models.SubjectProject,
	models.SubjectElective,
}

// theoryPlacer spreads sessions of one run across days, honouring section, teacher, break
// and per-day rules.
type theoryPlacer struct {
	r       *Run
	breaks  map[string][]models.Break
	session int
}

func (r *Run) theoryDemands(summary *PhaseSummary) []*theoryDemand {
	order := r.sectionOrder()
	seen := make(map[string]bool)
	var demands []*theoryDemand
	for _, a := range r.input.TheoryAssignments {
		item := UnresolvedItem{SectionID: a.SectionID, ItemID: a.SubjectID, TeacherID: models.StringValue(a.TeacherID)}
		si, ok := order[a.SectionID]
		if !ok {
			item.Reason = ReasonUnknownSection
			item.Message = fmt.Sprintf("theory assignment for unknown section %s", a.SectionID)
			summary.unresolved(item)
			continue
		}
		subject, ok := r.catalog.subjects[a.SubjectID]
		if !ok {
			item.Reason = ReasonUnknownSubject
			item.Message = fmt.Sprintf("subject %s is not in the catalogue", a.SubjectID)
			summary.unresolved(item)
			continue
		}
		key := a.SectionID + "/" + a.SubjectID
		if seen[key] {
			continue
		}
		seen[key] = true
		if r.isFixed(a.SectionID, a.SubjectID) {
			summary.Counters["skippedFixed"]++
			continue
		}
		teacherID := a.TeacherID
		if subject.Category == models.SubjectProject {
			teacherID = nil
		}
		// A trailing partial hour still needs a whole session.
		sessions := ceilDiv(subject.HoursPerWeek*60, r.cfg.TheorySessionMinutes)
		demands = append(demands, &theoryDemand{
			sectionID: a.SectionID,
			section:   si,
			subject:   subject,
			teacherID: teacherID,
			sessions:  sessions,
			remaining: sessions,
		})
	}
	sort.SliceStable(demands, func(i, j int) bool {
		a, b := demands[i], demands[j]
		if categoryRank[a.subject.Category] != categoryRank[b.subject.Category] {
			return categoryRank[a.subject.Category] < categoryRank[b.subject.Category]
		}
		if a.sessions != b.sessions {
			return a.sessions > b.sessions
		}
		if a.section != b.section {
			return a.section < b.section
		}
		return a.subject.ID < b.subject.ID
	})
	return demands
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}

// runTheory places theory sessions round-robin: every demand gets one session per pass so
// that no subject starves the others. A strict pass keeps days compact; a relaxed pass then
// drops the day-shape heuristics for whatever is left.
func runTheory(_ context.Context, r *Run) (PhaseSummary, error) {
	summary := newSummary(PhaseTheory)
	demands := r.theoryDemands(&summary)
	p := &theoryPlacer{r: r, breaks: make(map[string][]models.Break), session: r.cfg.TheorySessionMinutes}
	for _, tt := range r.timetables {
		p.breaks[tt.SectionID] = tt.ActiveBreaks()
	}

	relaxedPlacements := 0
	for _, relaxed := range []bool{false, true} {
		for _, d := range demands {
			d.stuck = false
		}
		for progress := true; progress; {
			progress = false
			for _, d := range demands {
				if d.remaining == 0 || d.stuck {
					continue
				}
				reason, ok := p.place(d, relaxed)
				if !ok {
					d.stuck = true
					d.reason = reason
					continue
				}
				d.remaining--
				progress = true
				summary.placed(d.sectionID)
				if relaxed {
					relaxedPlacements++
				}
			}
		}
	}

	categories := make(map[models.SubjectCategory]*CategorySummary)
	required := 0
	for _, d := range demands {
		cs, ok := categories[d.subject.Category]
		if !ok {
			cs = &CategorySummary{Category: d.subject.Category}
			categories[d.subject.Category] = cs
		}
		cs.SubjectsFound++
		requiredMinutes := d.subject.HoursPerWeek * 60
		placedMinutes := min((d.sessions-d.remaining)*p.session, requiredMinutes)
		cs.HoursRequired += d.subject.HoursPerWeek
		cs.HoursPlaced += placedMinutes / 60
		required += d.sessions
		if d.remaining == 0 {
			cs.SubjectsScheduled++
			continue
		}
		summary.unresolved(UnresolvedItem{
			SectionID: d.sectionID,
			ItemID:    d.subject.ID,
			TeacherID: models.StringValue(d.teacherID),
			Hours:     ceilDiv(requiredMinutes-placedMinutes, 60),
			Reason:    d.reason,
			Message:   fmt.Sprintf("placed %d of %d sessions of %s", d.sessions-d.remaining, d.sessions, d.subject.Code),
		})
	}
	for _, category := range categoryOrder {
		if cs, ok := categories[category]; ok {
			summary.Categories = append(summary.Categories, *cs)
		}
	}
	for _, tt := range r.timetables {
		sortTheorySlots(tt.TheorySlots)
	}
	summary.Counters["demands"] = len(demands)
	summary.Counters["sessionsRequired"] = required
	summary.Counters["sessionsPlaced"] = summary.Placed
	summary.Counters["relaxedPlacements"] = relaxedPlacements
	return summary, nil
}

// place puts one session of d on the least loaded day that accepts it.
func (p *theoryPlacer) place(d *theoryDemand, relaxed bool) (ReasonCode, bool) {
	tt := p.r.bySection[d.sectionID]
	perDay := make(map[models.Day]int)
	for _, slot := range tt.TheorySlots {
		if slot.SubjectID == d.subject.ID {
			perDay[slot.Window.Day]++
		}
	}
	days := append([]models.Day(nil), models.WeekDays...)
	sort.SliceStable(days, func(i, j int) bool {
		if perDay[days[i]] != perDay[days[j]] {
			return perDay[days[i]] < perDay[days[j]]
		}
		return tt.ScheduledMinutes(days[i]) < tt.ScheduledMinutes(days[j])
	})

	limited, teacherBusy := 0, false
	for _, day := range days {
		if perDay[day] >= d.subject.DailyLimit() {
			limited++
			continue
		}
		for start := models.DayStartMinute; start+p.session <= models.DayEndMinute; start += models.SlotGranularity {
			w := models.TimeWindow{Day: day, Start: start, End: start + p.session}
			if !p.r.index.IsFree(models.ResourceSection, d.sectionID, w) || p.onBreak(d.sectionID, w) {
				continue
			}
			if adjacentSameSubject(tt, d.subject.ID, w) {
				continue
			}
			if d.teacherID != nil && !p.r.index.IsFree(models.ResourceTeacher, *d.teacherID, w) {
				teacherBusy = true
				continue
			}
			if !relaxed && !p.keepsDayCompact(tt, w) {
				continue
			}
			slot := models.TheorySlot{
				ID:        uuid.NewString(),
				SubjectID: d.subject.ID,
				TeacherID: d.teacherID,
				Window:    w,
				IsProject: d.subject.Category == models.SubjectProject,
			}
			tt.TheorySlots = append(tt.TheorySlots, slot)
			p.r.reserveTheory(tt, slot)
			return "", true
		}
	}
	switch {
	case limited == len(days):
		return ReasonDailyLimit, false
	case teacherBusy:
		return ReasonTeacherBusy, false
	default:
		return ReasonSectionBusy, false
	}
}

func (p *theoryPlacer) onBreak(sectionID string, w models.TimeWindow) bool {
	for _, b := range p.breaks[sectionID] {
		if b.Window.Overlaps(w) {
			return true
		}
	}
	return false
}

// keepsDayCompact rejects windows that push a day past the daily minute budget, or that
// stretch a day already starting at 08:00 beyond the early-day latest end.
func (p *theoryPlacer) keepsDayCompact(tt *models.Timetable, w models.TimeWindow) bool {
	if tt.ScheduledMinutes(w.Day)+w.Minutes() > p.r.cfg.MaxDailyMinutes {
		return false
	}
	earliest := w.Start
	for _, slot := range tt.TheorySlots {
		if slot.Window.Day == w.Day && slot.Window.Start < earliest {
			earliest = slot.Window.Start
		}
	}
	for _, slot := range tt.LabSlots {
		if slot.Window.Day == w.Day && slot.Window.Start < earliest {
			earliest = slot.Window.Start
		}
	}
	return !(earliest == models.DayStartMinute && w.End > p.r.cfg.EarlyDayLatestEnd)
}

func adjacentSameSubject(tt *models.Timetable, subjectID string, w models.TimeWindow) bool {
	for _, slot := range tt.TheorySlots {
		if slot.SubjectID != subjectID || slot.Window.Day != w.Day {
			continue
		}
		if slot.Window.End == w.Start || w.End == slot.Window.Start {
			return true
		}
	}
	return false
}
