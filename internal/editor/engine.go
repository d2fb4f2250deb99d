// Package editor implements the conflict-resolution engine used when a person edits a
// generated timetable: proposals are checked for hard blocks and soft conflicts, applied
// mutations are recorded as invertible actions, and edits are saved or reverted in bulk.
package editor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/ise-timetable-api/internal/availability"
	"github.com/noah-isme/ise-timetable-api/internal/models"
	"github.com/noah-isme/ise-timetable-api/internal/scheduler"
)

var (
	ErrSlotNotFound          = errors.New("theory slot not found")
	ErrBreakNotFound         = errors.New("break not found")
	ErrNotDefaultBreak       = errors.New("window is not a default break")
	ErrDefaultAlreadyRemoved = errors.New("default break already removed")
	ErrDefaultNotOverridden  = errors.New("default break is already in place")
	ErrNoPendingProposal     = errors.New("no proposal awaiting confirmation")
	ErrNothingToUndo         = errors.New("nothing to undo")
	ErrNothingToRedo         = errors.New("nothing to redo")
	ErrProjectSlot           = errors.New("project slots do not take a classroom")
	ErrUnknownProposal       = errors.New("unknown proposal kind")
)

// Store is the persistence boundary of the engine.
type Store interface {
	Load(ctx context.Context, timetableID string) (*models.Timetable, error)
	SaveEdits(ctx context.Context, tt *models.Timetable) error
}

// GlobalView answers occupancy questions about the other timetables of the same run.
type GlobalView interface {
	TeacherOccupants(teacherID string, w models.TimeWindow, excludeTimetableID string) []models.SlotRef
	RoomOccupants(roomID string, w models.TimeWindow, excludeTimetableID string) []models.SlotRef
}

// IndexView adapts an availability index to GlobalView.
type IndexView struct {
	Index *availability.Index
}

// TeacherOccupants implements GlobalView.
func (v IndexView) TeacherOccupants(teacherID string, w models.TimeWindow, exclude string) []models.SlotRef {
	return v.others(models.ResourceTeacher, teacherID, w, exclude)
}

// RoomOccupants implements GlobalView.
func (v IndexView) RoomOccupants(roomID string, w models.TimeWindow, exclude string) []models.SlotRef {
	return v.others(models.ResourceRoom, roomID, w, exclude)
}

func (v IndexView) others(kind models.ResourceKind, id string, w models.TimeWindow, exclude string) []models.SlotRef {
	if v.Index == nil {
		return nil
	}
	own := func(occ models.SlotRef) bool { return occ.TimetableID == exclude }
	if v.Index.IsFreeExcept(kind, id, w, own) {
		return nil
	}
	var out []models.SlotRef
	for _, occ := range v.Index.Occupants(kind, id, w) {
		if !own(occ) {
			out = append(out, occ)
		}
	}
	return out
}

// Proposal describes one requested edit.
type Proposal struct {
	Kind ActionKind `json:"kind"`
	// SlotID selects the theory slot for MOVE_SLOT and CHANGE_CLASSROOM.
	SlotID string `json:"slotId,omitempty"`
	// BreakID selects a break record; Origin selects an implicit default break instead.
	BreakID string             `json:"breakId,omitempty"`
	Origin  *models.TimeWindow `json:"origin,omitempty"`
	// Window is the destination of moves and the window of a new break.
	Window      models.TimeWindow `json:"window"`
	Label       string            `json:"label,omitempty"`
	ClassroomID *string           `json:"classroomId,omitempty"`
}

// Outcome is what the caller shows after a proposal or a direct operation.
type Outcome struct {
	Decision  Decision   `json:"decision"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	Action    *Action    `json:"action,omitempty"`
	Notices   []string   `json:"notices,omitempty"`
}

// State summarises the engine for display.
type State struct {
	TimetableID string     `json:"timetableId"`
	Pending     *Proposal  `json:"pending,omitempty"`
	Conflicts   []Conflict `json:"conflicts,omitempty"`
	UndoDepth   int        `json:"undoDepth"`
	RedoDepth   int        `json:"redoDepth"`
	Edits       int        `json:"edits"`
	LastAction  *Action    `json:"lastAction,omitempty"`
}

// Limits are the day-shape heuristics reported as warnings.
type Limits struct {
	MaxDailyMinutes   int
	EarlyDayLatestEnd int
}

// DefaultLimits mirror the generation heuristics.
var DefaultLimits = Limits{MaxDailyMinutes: 8 * 60, EarlyDayLatestEnd: 16 * 60}

type pendingProposal struct {
	proposal  Proposal
	conflicts []Conflict
}

// Engine edits one timetable. It is not safe for concurrent use; callers serialise access.
type Engine struct {
	tt      *models.Timetable
	global  GlobalView
	store   Store
	limits  Limits
	pending *pendingProposal
	undo    []Action
	redo    []Action
	edits   int
	now     func() time.Time
}

// NewEngine starts an idle engine over tt.
func NewEngine(tt *models.Timetable, global GlobalView, store Store, limits Limits) *Engine {
	if limits.MaxDailyMinutes <= 0 {
		limits.MaxDailyMinutes = DefaultLimits.MaxDailyMinutes
	}
	if limits.EarlyDayLatestEnd <= 0 {
		limits.EarlyDayLatestEnd = DefaultLimits.EarlyDayLatestEnd
	}
	return &Engine{tt: tt, global: global, store: store, limits: limits, now: time.Now}
}

// Timetable exposes the working copy.
func (e *Engine) Timetable() *models.Timetable {
	return e.tt
}

// SetGlobal swaps the cross-section view, e.g. after other timetables were saved.
func (e *Engine) SetGlobal(global GlobalView) {
	e.global = global
}

// State returns the current engine summary.
func (e *Engine) State() State {
	st := State{TimetableID: e.tt.ID, UndoDepth: len(e.undo), RedoDepth: len(e.redo), Edits: e.edits}
	if e.pending != nil {
		p := e.pending.proposal
		st.Pending = &p
		st.Conflicts = e.pending.conflicts
	}
	if n := len(e.undo); n > 0 {
		last := e.undo[n-1]
		st.LastAction = &last
	}
	return st
}

// OccupantsAt lists what holds w in the working copy.
func (e *Engine) OccupantsAt(w models.TimeWindow) []models.SlotRef {
	return e.tt.OccupantsAt(w)
}

// Propose checks an edit. Clean proposals apply at once, blocked ones leave the timetable
// untouched, and conflicting ones wait for Confirm.
func (e *Engine) Propose(_ context.Context, p Proposal) (Outcome, error) {
	e.pending = nil
	conflicts, err := e.evaluate(p)
	if err != nil {
		return Outcome{}, err
	}
	decision := Reduce(conflicts)
	switch decision {
	case DecisionBlocked:
		return Outcome{Decision: decision, Conflicts: conflicts}, nil
	case DecisionConfirmRequired:
		e.pending = &pendingProposal{proposal: p, conflicts: conflicts}
		return Outcome{Decision: decision, Conflicts: conflicts}, nil
	}
	return e.apply(p, false, nil)
}

// Confirm applies the pending proposal with the forced flag.
func (e *Engine) Confirm(_ context.Context) (Outcome, error) {
	if e.pending == nil {
		return Outcome{}, ErrNoPendingProposal
	}
	pending := e.pending
	e.pending = nil
	return e.apply(pending.proposal, true, pending.conflicts)
}

// Cancel drops the pending proposal.
func (e *Engine) Cancel() {
	e.pending = nil
}

// DeleteBreak removes a break record. Deleting a relocated default removes the default.
func (e *Engine) DeleteBreak(_ context.Context, breakID string) (Outcome, error) {
	e.pending = nil
	i := e.tt.BreakIndex(breakID)
	if i < 0 {
		return Outcome{}, ErrBreakNotFound
	}
	record := e.tt.Breaks[i]
	if record.IsDefault && record.Origin != nil {
		if record.IsRemoved {
			return Outcome{}, ErrDefaultAlreadyRemoved
		}
		marker := record
		marker.Window = *record.Origin
		marker.IsRemoved = true
		return e.commit(Action{Kind: ActionRemoveDefaultBreak, Before: cloneBreak(&record), After: &marker, Position: i})
	}
	return e.commit(Action{Kind: ActionDeleteBreak, Before: cloneBreak(&record), Position: i})
}

// RemoveDefaultBreak materialises a removal marker for the default break at origin.
func (e *Engine) RemoveDefaultBreak(_ context.Context, origin models.TimeWindow) (Outcome, error) {
	e.pending = nil
	def, ok := models.DefaultBreakAt(origin)
	if !ok {
		return Outcome{}, ErrNotDefaultBreak
	}
	if i := e.tt.DefaultOverrideIndex(origin); i >= 0 {
		record := e.tt.Breaks[i]
		if record.IsRemoved {
			return Outcome{}, ErrDefaultAlreadyRemoved
		}
		marker := record
		marker.Window = origin
		marker.IsRemoved = true
		return e.commit(Action{Kind: ActionRemoveDefaultBreak, Before: cloneBreak(&record), After: &marker, Position: i})
	}
	o := origin
	marker := models.Break{ID: uuid.NewString(), Window: origin, Label: def.Label, IsDefault: true, IsRemoved: true, Origin: &o}
	return e.commit(Action{Kind: ActionRemoveDefaultBreak, After: &marker, Position: len(e.tt.Breaks)})
}

// Undo reverts the most recent action.
func (e *Engine) Undo(_ context.Context) (Outcome, error) {
	e.pending = nil
	n := len(e.undo)
	if n == 0 {
		return Outcome{}, ErrNothingToUndo
	}
	a := e.undo[n-1]
	if err := applyAction(e.tt, a.Invert()); err != nil {
		return Outcome{}, err
	}
	e.undo = e.undo[:n-1]
	e.redo = append(e.redo, a)
	e.edits++
	inv := a.Invert()
	return Outcome{Decision: DecisionApplied, Action: &inv}, nil
}

// Redo re-applies the most recently undone action.
func (e *Engine) Redo(_ context.Context) (Outcome, error) {
	e.pending = nil
	n := len(e.redo)
	if n == 0 {
		return Outcome{}, ErrNothingToRedo
	}
	a := e.redo[n-1]
	if err := applyAction(e.tt, a); err != nil {
		return Outcome{}, err
	}
	e.redo = e.redo[:n-1]
	e.undo = append(e.undo, a)
	e.edits++
	return Outcome{Decision: DecisionApplied, Action: &a}, nil
}

// Save persists theory slots and breaks and resets the edit counter.
func (e *Engine) Save(ctx context.Context) error {
	if e.store == nil {
		return errors.New("editor store not configured")
	}
	e.tt.UpdatedAt = e.now().UTC()
	if err := e.store.SaveEdits(ctx, e.tt); err != nil {
		return fmt.Errorf("save timetable %s: %w", e.tt.ID, err)
	}
	e.edits = 0
	return nil
}

// Revert discards every unsaved edit and reloads the persisted timetable.
func (e *Engine) Revert(ctx context.Context) error {
	if e.store == nil {
		return errors.New("editor store not configured")
	}
	fresh, err := e.store.Load(ctx, e.tt.ID)
	if err != nil {
		return fmt.Errorf("reload timetable %s: %w", e.tt.ID, err)
	}
	e.tt = fresh
	e.pending = nil
	e.undo = nil
	e.redo = nil
	e.edits = 0
	return nil
}

// Edits returns the number of mutations since the last save or revert.
func (e *Engine) Edits() int {
	return e.edits
}

func (e *Engine) commit(a Action) (Outcome, error) {
	a.At = e.now().UTC()
	if err := applyAction(e.tt, a); err != nil {
		return Outcome{}, err
	}
	e.undo = append(e.undo, a)
	e.redo = nil
	e.edits++
	return Outcome{Decision: DecisionApplied, Action: &a}, nil
}

// apply turns a checked proposal into an action and commits it.
func (e *Engine) apply(p Proposal, forced bool, conflicts []Conflict) (Outcome, error) {
	var a Action
	var notices []string
	switch p.Kind {
	case ActionMoveSlot:
		slot, _, err := e.slot(p.SlotID)
		if err != nil {
			return Outcome{}, err
		}
		a = Action{Kind: ActionMoveSlot, SlotID: slot.ID, From: slot.Window, To: p.Window, FromRoom: cloneString(slot.ClassroomID), ToRoom: cloneString(slot.ClassroomID)}
		if slot.ClassroomID != nil && e.tt.PhaseCompleted(scheduler.PhaseClassrooms) {
			a.ToRoom = nil
			a.ClassroomWasReset = true
			notices = append(notices, fmt.Sprintf("classroom %s was released; assign a classroom for %s", *slot.ClassroomID, p.Window))
		}
	case ActionChangeClassroom:
		slot, _, err := e.slot(p.SlotID)
		if err != nil {
			return Outcome{}, err
		}
		a = Action{Kind: ActionChangeClassroom, SlotID: slot.ID, From: slot.Window, To: slot.Window, FromRoom: cloneString(slot.ClassroomID), ToRoom: cloneString(p.ClassroomID)}
	case ActionMoveBreak:
		before, position, after, err := e.movedBreak(p)
		if err != nil {
			return Outcome{}, err
		}
		a = Action{Kind: ActionMoveBreak, Before: before, After: after, Position: position}
	case ActionAddBreak:
		label := p.Label
		if label == "" {
			label = "Break"
		}
		a = Action{Kind: ActionAddBreak, After: &models.Break{ID: uuid.NewString(), Window: p.Window, Label: label}, Position: len(e.tt.Breaks)}
	case ActionRestoreDefaultBreak:
		i := e.tt.DefaultOverrideIndex(*p.Origin)
		if i < 0 {
			return Outcome{}, ErrDefaultNotOverridden
		}
		a = Action{Kind: ActionRestoreDefaultBreak, Before: cloneBreak(&e.tt.Breaks[i]), Position: i}
	default:
		return Outcome{}, ErrUnknownProposal
	}
	a.Forced = forced
	out, err := e.commit(a)
	if err != nil {
		return Outcome{}, err
	}
	out.Conflicts = conflicts
	out.Notices = notices
	return out, nil
}

func (e *Engine) slot(id string) (models.TheorySlot, int, error) {
	i := e.tt.TheorySlotIndex(id)
	if i < 0 {
		return models.TheorySlot{}, -1, ErrSlotNotFound
	}
	return e.tt.TheorySlots[i], i, nil
}

// movedBreak resolves the record a MOVE_BREAK replaces. Moving an implicit default
// materialises a record that remembers its origin.
func (e *Engine) movedBreak(p Proposal) (*models.Break, int, *models.Break, error) {
	if p.BreakID != "" {
		i := e.tt.BreakIndex(p.BreakID)
		if i < 0 {
			return nil, 0, nil, ErrBreakNotFound
		}
		before := cloneBreak(&e.tt.Breaks[i])
		after := cloneBreak(before)
		after.Window = p.Window
		after.IsRemoved = false
		return before, i, after, nil
	}
	if p.Origin == nil {
		return nil, 0, nil, ErrBreakNotFound
	}
	def, ok := models.DefaultBreakAt(*p.Origin)
	if !ok {
		return nil, 0, nil, ErrNotDefaultBreak
	}
	if i := e.tt.DefaultOverrideIndex(*p.Origin); i >= 0 {
		before := cloneBreak(&e.tt.Breaks[i])
		after := cloneBreak(before)
		after.Window = p.Window
		after.IsRemoved = false
		return before, i, after, nil
	}
	origin := *p.Origin
	return nil, len(e.tt.Breaks), &models.Break{ID: uuid.NewString(), Window: p.Window, Label: def.Label, IsDefault: true, Origin: &origin}, nil
}
