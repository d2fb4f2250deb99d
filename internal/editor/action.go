package editor

import (
	"time"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// ActionKind tags a reversible mutation.
type ActionKind string

const (
	ActionMoveSlot            ActionKind = "MOVE_SLOT"
	ActionMoveBreak           ActionKind = "MOVE_BREAK"
	ActionAddBreak            ActionKind = "ADD_BREAK"
	ActionDeleteBreak         ActionKind = "DELETE_BREAK"
	ActionRemoveDefaultBreak  ActionKind = "REMOVE_DEFAULT_BREAK"
	ActionRestoreDefaultBreak ActionKind = "RESTORE_DEFAULT_BREAK"
	ActionChangeClassroom     ActionKind = "CHANGE_CLASSROOM"
)

// Action records both sides of a mutation so it can be inverted without any lookup.
// Slot kinds use From/To and FromRoom/ToRoom; break kinds replace the record Before with
// After at Position, where a nil side means "no record".
type Action struct {
	Kind              ActionKind        `json:"kind"`
	SlotID            string            `json:"slotId,omitempty"`
	From              models.TimeWindow `json:"from"`
	To                models.TimeWindow `json:"to"`
	FromRoom          *string           `json:"fromRoom,omitempty"`
	ToRoom            *string           `json:"toRoom,omitempty"`
	Before            *models.Break     `json:"before,omitempty"`
	After             *models.Break     `json:"after,omitempty"`
	Position          int               `json:"position"`
	Forced            bool              `json:"forced"`
	ClassroomWasReset bool              `json:"classroomWasReset"`
	At                time.Time         `json:"at"`
}

var inverseKind = map[ActionKind]ActionKind{
	ActionMoveSlot:            ActionMoveSlot,
	ActionMoveBreak:           ActionMoveBreak,
	ActionChangeClassroom:     ActionChangeClassroom,
	ActionAddBreak:            ActionDeleteBreak,
	ActionDeleteBreak:         ActionAddBreak,
	ActionRemoveDefaultBreak:  ActionRestoreDefaultBreak,
	ActionRestoreDefaultBreak: ActionRemoveDefaultBreak,
}

// Invert returns the action that undoes a.
func (a Action) Invert() Action {
	inv := a
	if kind, ok := inverseKind[a.Kind]; ok {
		inv.Kind = kind
	}
	inv.From, inv.To = a.To, a.From
	inv.FromRoom, inv.ToRoom = cloneString(a.ToRoom), cloneString(a.FromRoom)
	inv.Before, inv.After = cloneBreak(a.After), cloneBreak(a.Before)
	return inv
}

// applyAction performs a forward action on the timetable.
func applyAction(tt *models.Timetable, a Action) error {
	switch a.Kind {
	case ActionMoveSlot, ActionChangeClassroom:
		i := tt.TheorySlotIndex(a.SlotID)
		if i < 0 {
			return ErrSlotNotFound
		}
		tt.TheorySlots[i].Window = a.To
		tt.TheorySlots[i].ClassroomID = cloneString(a.ToRoom)
		return nil
	default:
		return replaceBreak(tt, a.Position, a.Before, a.After)
	}
}

func replaceBreak(tt *models.Timetable, position int, before, after *models.Break) error {
	switch {
	case before == nil && after == nil:
		return nil
	case before == nil:
		if position < 0 || position > len(tt.Breaks) {
			position = len(tt.Breaks)
		}
		tt.Breaks = append(tt.Breaks, models.Break{})
		copy(tt.Breaks[position+1:], tt.Breaks[position:])
		tt.Breaks[position] = *cloneBreak(after)
		return nil
	}
	i := tt.BreakIndex(before.ID)
	if i < 0 {
		return ErrBreakNotFound
	}
	if after == nil {
		tt.Breaks = append(tt.Breaks[:i], tt.Breaks[i+1:]...)
		return nil
	}
	tt.Breaks[i] = *cloneBreak(after)
	return nil
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneBreak(b *models.Break) *models.Break {
	if b == nil {
		return nil
	}
	c := *b
	if b.Origin != nil {
		origin := *b.Origin
		c.Origin = &origin
	}
	return &c
}
