package editor

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// ErrInvalidWindow wraps window validation failures of a proposal.
var ErrInvalidWindow = errors.New("invalid window")

// evaluate classifies a proposal without touching the timetable. Hard blocks short-circuit
// the soft checks.
func (e *Engine) evaluate(p Proposal) ([]Conflict, error) {
	switch p.Kind {
	case ActionMoveSlot:
		slot, _, err := e.slot(p.SlotID)
		if err != nil {
			return nil, err
		}
		if err := p.Window.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
		}
		if slot.IsFixed {
			ref := e.theoryRef(slot)
			return []Conflict{HardBlock(CodeFixedImmovable, fmt.Sprintf("%s at %s is a fixed slot and cannot be moved", slot.SubjectID, slot.Window), &ref)}, nil
		}
		if hard := e.hardBlocks(p.Window, slot.ID); len(hard) > 0 {
			return hard, nil
		}
		return e.slotConflicts(slot, p.Window), nil
	case ActionMoveBreak:
		before, _, _, err := e.movedBreak(p)
		if err != nil {
			return nil, err
		}
		if err := p.Window.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
		}
		if hard := e.hardBlocks(p.Window, ""); len(hard) > 0 {
			return hard, nil
		}
		selfID, origin := "", p.Origin
		if before != nil {
			selfID, origin = before.ID, before.Origin
		}
		return e.breakConflicts(p.Window, selfID, origin), nil
	case ActionAddBreak:
		if err := p.Window.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
		}
		if hard := e.hardBlocks(p.Window, ""); len(hard) > 0 {
			return hard, nil
		}
		return e.breakConflicts(p.Window, "", nil), nil
	case ActionRestoreDefaultBreak:
		if p.Origin == nil {
			return nil, ErrNotDefaultBreak
		}
		if _, ok := models.DefaultBreakAt(*p.Origin); !ok {
			return nil, ErrNotDefaultBreak
		}
		i := e.tt.DefaultOverrideIndex(*p.Origin)
		if i < 0 {
			return nil, ErrDefaultNotOverridden
		}
		if hard := e.hardBlocks(*p.Origin, ""); len(hard) > 0 {
			return hard, nil
		}
		return e.breakConflicts(*p.Origin, e.tt.Breaks[i].ID, p.Origin), nil
	case ActionChangeClassroom:
		slot, _, err := e.slot(p.SlotID)
		if err != nil {
			return nil, err
		}
		if slot.IsProject {
			return nil, ErrProjectSlot
		}
		return e.roomConflicts(slot, p.ClassroomID), nil
	default:
		return nil, ErrUnknownProposal
	}
}

// hardBlocks reports lab slots and fixed theory slots overlapping w. skipSlot excludes the
// slot being moved.
func (e *Engine) hardBlocks(w models.TimeWindow, skipSlot string) []Conflict {
	var out []Conflict
	for _, lab := range e.tt.LabSlots {
		if !lab.Window.Overlaps(w) {
			continue
		}
		ref := models.SlotRef{TimetableID: e.tt.ID, SectionID: e.tt.SectionID, SlotID: lab.ID, Kind: models.SlotLab, Window: lab.Window}
		out = append(out, HardBlock(CodeLabOverlap, fmt.Sprintf("%s overlaps the lab session at %s", w, lab.Window), &ref))
	}
	for _, slot := range e.tt.TheorySlots {
		if slot.ID == skipSlot || !slot.IsFixed || !slot.Window.Overlaps(w) {
			continue
		}
		ref := e.theoryRef(slot)
		out = append(out, HardBlock(CodeFixedOverlap, fmt.Sprintf("%s overlaps fixed slot %s at %s", w, slot.SubjectID, slot.Window), &ref))
	}
	return out
}

// slotConflicts runs the soft checks of a theory slot move, in rule order.
func (e *Engine) slotConflicts(slot models.TheorySlot, w models.TimeWindow) []Conflict {
	var out []Conflict
	if slot.TeacherID != nil && e.global != nil {
		for _, occ := range e.global.TeacherOccupants(*slot.TeacherID, w, e.tt.ID) {
			ref := occ
			out = append(out, SoftConflict(CodeTeacherGlobal,
				fmt.Sprintf("teacher %s already teaches section %s at %s", *slot.TeacherID, occ.SectionID, occ.Window), &ref))
		}
	}
	overlapping := lo.Filter(e.tt.TheorySlots, func(other models.TheorySlot, _ int) bool {
		return other.ID != slot.ID && other.Window.Overlaps(w)
	})
	if slot.TeacherID != nil {
		for _, other := range overlapping {
			if models.StringValue(other.TeacherID) != *slot.TeacherID {
				continue
			}
			ref := e.theoryRef(other)
			out = append(out, SoftConflict(CodeTeacherLocal,
				fmt.Sprintf("teacher %s already teaches %s at %s in this section", *slot.TeacherID, other.SubjectID, other.Window), &ref))
		}
	}
	for _, other := range overlapping {
		ref := e.theoryRef(other)
		out = append(out, SoftConflict(CodeSlotOccupied, fmt.Sprintf("%s already holds %s", other.Window, other.SubjectID), &ref))
	}
	out = append(out, e.breakOverlaps(w, "", nil)...)
	out = append(out, e.dayShape(slot, w)...)
	return out
}

// breakConflicts runs the soft checks of placing a break at w. selfID and origin identify
// the break being moved so it never conflicts with itself.
func (e *Engine) breakConflicts(w models.TimeWindow, selfID string, origin *models.TimeWindow) []Conflict {
	var out []Conflict
	for _, slot := range e.tt.TheorySlots {
		if !slot.Window.Overlaps(w) {
			continue
		}
		ref := e.theoryRef(slot)
		out = append(out, SoftConflict(CodeSlotOccupied, fmt.Sprintf("%s already holds %s", slot.Window, slot.SubjectID), &ref))
	}
	return append(out, e.breakOverlaps(w, selfID, origin)...)
}

// breakOverlaps reports active break records (soft) and implicit default breaks (warning)
// overlapping w.
func (e *Engine) breakOverlaps(w models.TimeWindow, selfID string, origin *models.TimeWindow) []Conflict {
	var out []Conflict
	for _, b := range e.tt.ActiveBreaks() {
		if !b.Window.Overlaps(w) {
			continue
		}
		if b.ID == "" {
			if origin != nil && b.Origin != nil && *b.Origin == *origin {
				continue
			}
			out = append(out, Warning(CodeDefaultBreak, fmt.Sprintf("%s falls in the default %s at %s", w, b.Label, b.Window)))
			continue
		}
		if b.ID == selfID {
			continue
		}
		ref := models.SlotRef{TimetableID: e.tt.ID, SectionID: e.tt.SectionID, SlotID: b.ID, Kind: models.SlotBreak, Label: b.Label, Window: b.Window}
		out = append(out, SoftConflict(CodeBreakOccupied, fmt.Sprintf("%s overlaps %s at %s", w, b.Label, b.Window), &ref))
	}
	return out
}

// dayShape warns when the move stretches an early day past the latest end or pushes the
// day over the daily minute budget.
func (e *Engine) dayShape(slot models.TheorySlot, w models.TimeWindow) []Conflict {
	var out []Conflict
	minutes := w.Minutes()
	earliest, latest := w.Start, w.End
	note := func(other models.TimeWindow) {
		if other.Day != w.Day {
			return
		}
		minutes += other.Minutes()
		earliest = min(earliest, other.Start)
		latest = max(latest, other.End)
	}
	for _, other := range e.tt.TheorySlots {
		if other.ID != slot.ID {
			note(other.Window)
		}
	}
	for _, lab := range e.tt.LabSlots {
		note(lab.Window)
	}
	if earliest == models.DayStartMinute && latest > e.limits.EarlyDayLatestEnd &&
		(w.Start == models.DayStartMinute || w.End == latest) {
		out = append(out, Warning(CodeDayExtended, fmt.Sprintf("%s starts at %s and would run until %s",
			w.Day, models.FormatClock(earliest), models.FormatClock(latest))))
	}
	if minutes > e.limits.MaxDailyMinutes {
		out = append(out, Warning(CodeDailyHours, fmt.Sprintf("%s would hold %.1f scheduled hours, above %.1f",
			w.Day, float64(minutes)/60, float64(e.limits.MaxDailyMinutes)/60)))
	}
	return out
}

// roomConflicts reports the target room being held by another slot in the same window.
func (e *Engine) roomConflicts(slot models.TheorySlot, roomID *string) []Conflict {
	if roomID == nil {
		return nil
	}
	var out []Conflict
	if e.global != nil {
		for _, occ := range e.global.RoomOccupants(*roomID, slot.Window, e.tt.ID) {
			ref := occ
			out = append(out, SoftConflict(CodeRoomBusy, fmt.Sprintf("room %s is used by section %s at %s", *roomID, occ.SectionID, occ.Window), &ref))
		}
	}
	for _, other := range e.tt.TheorySlots {
		if other.ID == slot.ID || !other.Window.Overlaps(slot.Window) || models.StringValue(other.ClassroomID) != *roomID {
			continue
		}
		ref := e.theoryRef(other)
		out = append(out, SoftConflict(CodeRoomBusyLocally, fmt.Sprintf("room %s already holds %s at %s", *roomID, other.SubjectID, other.Window), &ref))
	}
	return out
}

func (e *Engine) theoryRef(slot models.TheorySlot) models.SlotRef {
	kind := models.SlotTheory
	if slot.IsFixed {
		kind = models.SlotFixed
	}
	return models.SlotRef{TimetableID: e.tt.ID, SectionID: e.tt.SectionID, SlotID: slot.ID, Kind: kind, Label: slot.SubjectID, Window: slot.Window}
}
