package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/noah-isme/ise-timetable-api/internal/availability"
	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// Priority decides how lab units are sequenced inside one trial.
type Priority int

const (
	// PrioritySectionMajor places every round of a section before the next section.
	PrioritySectionMajor Priority = iota
	// PriorityRoundMajor places round 1 of every section, then round 2, and so on.
	PriorityRoundMajor
	// PriorityLargestFirst starts with the sections that need the most rounds.
	PriorityLargestFirst
	priorityCount
)

func (p Priority) String() string {
	switch p {
	case PrioritySectionMajor:
		return "section-major"
	case PriorityRoundMajor:
		return "round-major"
	case PriorityLargestFirst:
		return "largest-first"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Ordering is one point of the search space: the order in which catalogue windows, days and
// sections are tried, plus the unit priority.
type Ordering struct {
	Windows  []int
	Days     []models.Day
	Sections []int
	Priority Priority
}

func (o Ordering) key() string {
	return fmt.Sprint(o.Windows, o.Days, o.Sections, int(o.Priority))
}

func identityOrdering(windows, sections int) Ordering {
	o := Ordering{
		Windows:  make([]int, windows),
		Days:     append([]models.Day(nil), models.WeekDays...),
		Sections: make([]int, sections),
		Priority: PrioritySectionMajor,
	}
	for i := range o.Windows {
		o.Windows[i] = i
	}
	for i := range o.Sections {
		o.Sections[i] = i
	}
	return o
}

func randomOrdering(rng *rand.Rand, windows, sections int) Ordering {
	o := Ordering{
		Windows:  rng.Perm(windows),
		Sections: rng.Perm(sections),
		Priority: Priority(rng.Intn(int(priorityCount))),
	}
	for _, i := range rng.Perm(len(models.WeekDays)) {
		o.Days = append(o.Days, models.WeekDays[i])
	}
	return o
}

// orderingSpace returns the number of distinct orderings, saturating at limit.
func orderingSpace(windows, sections, limit int) int {
	space := int(priorityCount)
	mul := func(n int) {
		for i := 2; i <= n && space <= limit; i++ {
			space *= i
		}
	}
	mul(windows)
	mul(len(models.WeekDays))
	mul(sections)
	if space > limit {
		return limit
	}
	return space
}

// drawOrderings returns distinct orderings; the first one is always the identity ordering so
// a single trial reproduces the plain greedy pass.
func drawOrderings(rng *rand.Rand, count, windows, sections int) []Ordering {
	if count <= 0 {
		return nil
	}
	first := identityOrdering(windows, sections)
	out := []Ordering{first}
	seen := map[string]bool{first.key(): true}
	for attempts := 0; len(out) < count && attempts < count*20; attempts++ {
		o := randomOrdering(rng, windows, sections)
		if seen[o.key()] {
			continue
		}
		seen[o.key()] = true
		out = append(out, o)
	}
	return out
}

// sequence returns unit positions in the order the ordering visits them.
func (o Ordering) sequence(units []labUnit) []int {
	rank := make(map[int]int, len(o.Sections))
	for pos, section := range o.Sections {
		rank[section] = pos
	}
	seq := make([]int, len(units))
	for i := range seq {
		seq[i] = i
	}
	sort.SliceStable(seq, func(a, b int) bool {
		ua, ub := units[seq[a]], units[seq[b]]
		ra, rb := rank[ua.section], rank[ub.section]
		switch o.Priority {
		case PriorityRoundMajor:
			if ua.round != ub.round {
				return ua.round < ub.round
			}
			return ra < rb
		case PriorityLargestFirst:
			if ua.rounds != ub.rounds {
				return ua.rounds > ub.rounds
			}
		}
		if ra != rb {
			return ra < rb
		}
		return ua.round < ub.round
	})
	return seq
}

// labTrial is the outcome of evaluating one ordering.
type labTrial struct {
	trial   int
	windows map[int]models.TimeWindow
	score   int
}

// labSearch holds the read-only inputs shared by every trial.
type labSearch struct {
	base      *availability.Index
	existing  map[string][]models.TimeWindow
	units     []labUnit
	catalogue []models.ClockRange
	minGap    int
	ttIDs     map[string]string
}

// attempt evaluates an ordering against a private copy of the index. It has no side effects
// on the search inputs.
func (s *labSearch) attempt(o Ordering) labTrial {
	idx := s.base.Clone()
	placed := make(map[string][]models.TimeWindow, len(s.existing))
	for k, v := range s.existing {
		placed[k] = append([]models.TimeWindow(nil), v...)
	}
	trial := labTrial{windows: make(map[int]models.TimeWindow)}
	for _, pos := range o.sequence(s.units) {
		u := s.units[pos]
		w, ok := s.firstFit(idx, placed, u, o.Days, o.Windows)
		if !ok {
			continue
		}
		reserveLabUnit(idx, s.ttIDs[u.sectionID], u, w, fmt.Sprintf("trial-unit-%d", u.seq))
		placed[u.sectionID] = append(placed[u.sectionID], w)
		trial.windows[u.seq] = w
		trial.score += len(u.entries)
	}
	return trial
}

func (s *labSearch) firstFit(idx *availability.Index, placed map[string][]models.TimeWindow, u labUnit, days []models.Day, windows []int) (models.TimeWindow, bool) {
	for _, day := range days {
		for _, wi := range windows {
			w := s.catalogue[wi].On(day)
			if checkLabWindow(idx, placed[u.sectionID], u, w, s.minGap) == "" {
				return w, true
			}
		}
	}
	return models.TimeWindow{}, false
}

// checkLabWindow returns the first rule a window breaks for the unit, or "" when it fits.
func checkLabWindow(idx *availability.Index, placed []models.TimeWindow, u labUnit, w models.TimeWindow, minGap int) ReasonCode {
	if err := w.Validate(); err != nil {
		return ReasonInvalidWindow
	}
	if !idx.IsFree(models.ResourceSection, u.sectionID, w) {
		return ReasonSectionBusy
	}
	for _, other := range placed {
		if w.Overlaps(other) {
			return ReasonSectionBusy
		}
		if gap := w.GapTo(other); gap >= 0 && gap < minGap {
			return ReasonConsecutiveLab
		}
	}
	rooms := make(map[string]bool, len(u.entries))
	for _, e := range u.entries {
		if e.LabRoomID == "" {
			continue
		}
		if rooms[e.LabRoomID] || !idx.IsFree(models.ResourceRoom, e.LabRoomID, w) {
			return ReasonRoomBusy
		}
		rooms[e.LabRoomID] = true
	}
	teachers := make(map[string]bool, len(u.entries)*2)
	for _, e := range u.entries {
		for _, id := range []*string{e.Teacher1ID, e.Teacher2ID} {
			if id == nil {
				continue
			}
			if teachers[*id] || !idx.IsFree(models.ResourceTeacher, *id, w) {
				return ReasonTeacherBusy
			}
			teachers[*id] = true
		}
	}
	return ""
}

func reserveLabUnit(idx *availability.Index, timetableID string, u labUnit, w models.TimeWindow, slotID string) {
	section := models.SlotRef{TimetableID: timetableID, SectionID: u.sectionID, SlotID: slotID, Kind: models.SlotLab, Window: w}
	idx.Reserve(models.ResourceSection, u.sectionID, w, section)
	for _, e := range u.entries {
		ref := section
		ref.SlotID = availability.BatchSlotID(slotID, e.BatchNumber)
		ref.BatchNumber = e.BatchNumber
		ref.Label = e.LabID
		idx.Reserve(models.ResourceRoom, e.LabRoomID, w, ref)
		idx.Reserve(models.ResourceTeacher, models.StringValue(e.Teacher1ID), w, ref)
		idx.Reserve(models.ResourceTeacher, models.StringValue(e.Teacher2ID), w, ref)
	}
}

// run evaluates the orderings in batches of `workers` concurrent trials and keeps the best.
// Ties go to the lowest trial number, so the result does not depend on scheduling.
func (s *labSearch) run(ctx context.Context, orderings []Ordering, workers int) (labTrial, int, bool) {
	perfect := 0
	for _, u := range s.units {
		perfect += len(u.entries)
	}
	if workers < 1 {
		workers = 1
	}
	results := make([]labTrial, len(orderings))
	best, evaluated := -1, 0
	for start := 0; start < len(orderings); start += workers {
		if ctx.Err() != nil {
			break
		}
		end := min(start+workers, len(orderings))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				t := s.attempt(orderings[i])
				t.trial = i
				results[i] = t
			}(i)
		}
		wg.Wait()
		for i := start; i < end; i++ {
			if best < 0 || results[i].score > results[best].score {
				best = i
			}
		}
		evaluated = end
		if results[best].score == perfect {
			return results[best], evaluated, true
		}
	}
	if best < 0 {
		return labTrial{windows: map[int]models.TimeWindow{}}, evaluated, false
	}
	return results[best], evaluated, false
}
