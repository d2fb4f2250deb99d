package editor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ise-timetable-api/internal/availability"
	"github.com/noah-isme/ise-timetable-api/internal/models"
)

func strPtr(v string) *string { return &v }

func editableTimetable() *models.Timetable {
	return &models.Timetable{
		ID:           "tt-3a",
		SectionID:    "3A",
		AcademicYear: "2025-2026",
		SemesterType: models.SemesterOdd,
		TheorySlots: []models.TheorySlot{
			{ID: "s-mon", SubjectID: "dbms", TeacherID: strPtr("t1"), ClassroomID: strPtr("C301"), Window: models.MustWindow(models.Monday, "11:00", "12:00")},
			{ID: "s-tue", SubjectID: "os", TeacherID: strPtr("t2"), Window: models.MustWindow(models.Tuesday, "09:00", "10:00")},
			{ID: "s-fixed", SubjectID: "mgmt", TeacherID: strPtr("t3"), Window: models.MustWindow(models.Wednesday, "09:00", "10:00"), IsFixed: true},
		},
		LabSlots: []models.LabSlot{
			{ID: "lab-1", Window: models.MustWindow(models.Monday, "14:00", "16:00"), Round: 1, Batches: []models.BatchAssignment{
				{BatchNumber: 1, LabID: "dbms-lab", LabRoomID: "L1", Teacher1ID: strPtr("t4")},
				{BatchNumber: 2, LabID: "dbms-lab", LabRoomID: "L2", Teacher1ID: strPtr("t5")},
				{BatchNumber: 3, LabID: "dbms-lab", LabRoomID: "L3", Teacher1ID: strPtr("t6")},
			}},
		},
		Breaks:   []models.Break{},
		Metadata: models.GenerationMetadata{CurrentPhase: 6},
	}
}

type memStore struct {
	saved map[string]*models.Timetable
	saves int
}

func newMemStore(tts ...*models.Timetable) *memStore {
	s := &memStore{saved: make(map[string]*models.Timetable)}
	for _, tt := range tts {
		s.saved[tt.ID] = tt.Clone()
	}
	return s
}

func (s *memStore) Load(_ context.Context, id string) (*models.Timetable, error) {
	tt, ok := s.saved[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return tt.Clone(), nil
}

func (s *memStore) SaveEdits(_ context.Context, tt *models.Timetable) error {
	s.saved[tt.ID] = tt.Clone()
	s.saves++
	return nil
}

func newTestEngine(t *testing.T, tt *models.Timetable, others ...*models.Timetable) (*Engine, *memStore) {
	t.Helper()
	index, conflicts := availability.Build(append([]*models.Timetable{tt}, others...))
	require.Empty(t, conflicts)
	store := newMemStore(tt)
	return NewEngine(tt, IndexView{Index: index}, store, Limits{}), store
}

func TestEngineBlocksMoveOntoLab(t *testing.T) {
	tt := editableTimetable()
	before := tt.Clone()
	engine, _ := newTestEngine(t, tt)

	out, err := engine.Propose(context.Background(), Proposal{Kind: ActionMoveSlot, SlotID: "s-mon", Window: models.MustWindow(models.Monday, "14:30", "15:30")})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlocked, out.Decision)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, CodeLabOverlap, out.Conflicts[0].Code)
	assert.Equal(t, "lab-1", out.Conflicts[0].Slot.SlotID)
	assert.Equal(t, before, engine.Timetable())
	assert.Equal(t, 0, engine.State().UndoDepth)
	assert.Nil(t, engine.State().Pending)
}

func TestEngineFixedSlotsAreHardBlocks(t *testing.T) {
	engine, _ := newTestEngine(t, editableTimetable())

	out, err := engine.Propose(context.Background(), Proposal{Kind: ActionMoveSlot, SlotID: "s-fixed", Window: models.MustWindow(models.Friday, "09:00", "10:00")})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlocked, out.Decision)
	assert.Equal(t, CodeFixedImmovable, out.Conflicts[0].Code)

	out, err = engine.Propose(context.Background(), Proposal{Kind: ActionMoveSlot, SlotID: "s-tue", Window: models.MustWindow(models.Wednesday, "09:30", "10:30")})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlocked, out.Decision)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, CodeFixedOverlap, out.Conflicts[0].Code)

	_, err = engine.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNoPendingProposal)
}

func TestEngineMoveClearsClassroomAfterClassroomPhase(t *testing.T) {
	tt := editableTimetable()
	before := tt.Clone()
	engine, _ := newTestEngine(t, tt)

	out, err := engine.Propose(context.Background(), Proposal{Kind: ActionMoveSlot, SlotID: "s-mon", Window: models.MustWindow(models.Tuesday, "14:00", "15:00")})
	require.NoError(t, err)
	assert.Equal(t, DecisionApplied, out.Decision)
	assert.Empty(t, out.Conflicts)
	require.NotNil(t, out.Action)
	assert.True(t, out.Action.ClassroomWasReset)
	assert.False(t, out.Action.Forced)
	assert.Len(t, out.Notices, 1)

	slot := engine.Timetable().TheorySlots[0]
	assert.Equal(t, models.MustWindow(models.Tuesday, "14:00", "15:00"), slot.Window)
	assert.Nil(t, slot.ClassroomID)

	state := engine.State()
	assert.Equal(t, 1, state.UndoDepth)
	require.NotNil(t, state.LastAction)
	assert.True(t, state.LastAction.ClassroomWasReset)
	assert.Equal(t, "C301", *state.LastAction.FromRoom)

	after := engine.Timetable().Clone()
	_, err = engine.Undo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, engine.Timetable())

	_, err = engine.Redo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, after, engine.Timetable())
	assert.Equal(t, 3, engine.Edits())
}

func TestEngineMoveKeepsClassroomBeforeClassroomPhase(t *testing.T) {
	tt := editableTimetable()
	tt.Metadata.CurrentPhase = 4
	engine, _ := newTestEngine(t, tt)

	out, err := engine.Propose(context.Background(), Proposal{Kind: ActionMoveSlot, SlotID: "s-mon", Window: models.MustWindow(models.Tuesday, "14:00", "15:00")})
	require.NoError(t, err)
	assert.Equal(t, DecisionApplied, out.Decision)
	assert.False(t, out.Action.ClassroomWasReset)
	assert.Equal(t, "C301", *engine.Timetable().TheorySlots[0].ClassroomID)
}

func TestEngineRemovedDefaultBreakIsFree(t *testing.T) {
	tt := editableTimetable()
	tt.TheorySlots[0].Window = models.MustWindow(models.Monday, "09:00", "10:00")
	engine, _ := newTestEngine(t, tt)
	shortBreak := models.MustWindow(models.Monday, "11:00", "11:30")

	require.Len(t, engine.OccupantsAt(shortBreak), 1)
	out, err := engine.RemoveDefaultBreak(context.Background(), shortBreak)
	require.NoError(t, err)
	assert.Equal(t, DecisionApplied, out.Decision)
	assert.Empty(t, engine.OccupantsAt(shortBreak))

	marker := engine.Timetable().Breaks[0]
	assert.True(t, marker.IsDefault)
	assert.True(t, marker.IsRemoved)
	assert.Equal(t, shortBreak, *marker.Origin)

	_, err = engine.RemoveDefaultBreak(context.Background(), shortBreak)
	assert.ErrorIs(t, err, ErrDefaultAlreadyRemoved)
	_, err = engine.DeleteBreak(context.Background(), marker.ID)
	assert.ErrorIs(t, err, ErrDefaultAlreadyRemoved)

	out, err = engine.Propose(context.Background(), Proposal{Kind: ActionRestoreDefaultBreak, Origin: &shortBreak})
	require.NoError(t, err)
	assert.Equal(t, DecisionApplied, out.Decision)
	assert.Empty(t, engine.Timetable().Breaks)
	assert.Len(t, engine.OccupantsAt(shortBreak), 1)

	_, err = engine.RemoveDefaultBreak(context.Background(), models.MustWindow(models.Monday, "10:00", "10:30"))
	assert.ErrorIs(t, err, ErrNotDefaultBreak)
}

func TestEngineSoftConflictNeedsConfirmation(t *testing.T) {
	tt := editableTimetable()
	before := tt.Clone()
	engine, _ := newTestEngine(t, tt)

	out, err := engine.Propose(context.Background(), Proposal{Kind: ActionMoveSlot, SlotID: "s-tue", Window: models.MustWindow(models.Thursday, "11:00", "12:00")})
	require.NoError(t, err)
	assert.Equal(t, DecisionConfirmRequired, out.Decision)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, CodeDefaultBreak, out.Conflicts[0].Code)
	assert.Equal(t, SeverityWarning, out.Conflicts[0].Severity)
	assert.Equal(t, before, engine.Timetable())
	require.NotNil(t, engine.State().Pending)

	out, err = engine.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionApplied, out.Decision)
	assert.True(t, out.Action.Forced)
	assert.Equal(t, models.MustWindow(models.Thursday, "11:00", "12:00"), engine.Timetable().TheorySlots[1].Window)
	assert.Nil(t, engine.State().Pending)
}

func TestEngineCancelDropsPendingProposal(t *testing.T) {
	engine, _ := newTestEngine(t, editableTimetable())

	out, err := engine.Propose(context.Background(), Proposal{Kind: ActionMoveSlot, SlotID: "s-tue", Window: models.MustWindow(models.Monday, "11:00", "12:00")})
	require.NoError(t, err)
	assert.Equal(t, DecisionConfirmRequired, out.Decision)
	codes := make([]ConflictCode, 0, len(out.Conflicts))
	for _, c := range out.Conflicts {
		codes = append(codes, c.Code)
	}
	assert.Contains(t, codes, CodeSlotOccupied)
	assert.Contains(t, codes, CodeDefaultBreak)

	engine.Cancel()
	_, err = engine.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNoPendingProposal)
}

func TestEngineReportsTeacherBusyInOtherSection(t *testing.T) {
	other := &models.Timetable{
		ID:        "tt-3b",
		SectionID: "3B",
		TheorySlots: []models.TheorySlot{
			{ID: "b-os", SubjectID: "os", TeacherID: strPtr("t2"), ClassroomID: strPtr("C302"), Window: models.MustWindow(models.Thursday, "10:00", "11:00")},
		},
	}
	engine, _ := newTestEngine(t, editableTimetable(), other)

	out, err := engine.Propose(context.Background(), Proposal{Kind: ActionMoveSlot, SlotID: "s-tue", Window: models.MustWindow(models.Thursday, "10:00", "11:00")})
	require.NoError(t, err)
	assert.Equal(t, DecisionConfirmRequired, out.Decision)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, CodeTeacherGlobal, out.Conflicts[0].Code)
	assert.Equal(t, "3B", out.Conflicts[0].Slot.SectionID)
	engine.Cancel()

	out, err = engine.Propose(context.Background(), Proposal{Kind: ActionChangeClassroom, SlotID: "s-tue", ClassroomID: strPtr("C302")})
	require.NoError(t, err)
	assert.Equal(t, DecisionApplied, out.Decision)
	assert.Equal(t, "C302", *engine.Timetable().TheorySlots[1].ClassroomID)
}

func TestEngineClassroomChangeChecksRoom(t *testing.T) {
	other := &models.Timetable{
		ID:        "tt-3b",
		SectionID: "3B",
		TheorySlots: []models.TheorySlot{
			{ID: "b-ml", SubjectID: "ml", TeacherID: strPtr("t9"), ClassroomID: strPtr("C302"), Window: models.MustWindow(models.Tuesday, "09:00", "10:00")},
		},
	}
	engine, _ := newTestEngine(t, editableTimetable(), other)

	out, err := engine.Propose(context.Background(), Proposal{Kind: ActionChangeClassroom, SlotID: "s-tue", ClassroomID: strPtr("C302")})
	require.NoError(t, err)
	assert.Equal(t, DecisionConfirmRequired, out.Decision)
	assert.Equal(t, CodeRoomBusy, out.Conflicts[0].Code)

	out, err = engine.Confirm(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Action.Forced)

	_, err = engine.Undo(context.Background())
	require.NoError(t, err)
	assert.Nil(t, engine.Timetable().TheorySlots[1].ClassroomID)
}

func TestEngineBreakLifecycle(t *testing.T) {
	tt := editableTimetable()
	before := tt.Clone()
	engine, _ := newTestEngine(t, tt)
	lunch := models.MustWindow(models.Monday, "13:30", "14:00")

	out, err := engine.Propose(context.Background(), Proposal{Kind: ActionMoveBreak, Origin: &lunch, Window: models.MustWindow(models.Monday, "16:00", "16:30")})
	require.NoError(t, err)
	assert.Equal(t, DecisionApplied, out.Decision)
	require.Len(t, engine.Timetable().Breaks, 1)
	moved := engine.Timetable().Breaks[0]
	assert.Equal(t, lunch, *moved.Origin)
	assert.True(t, engine.Timetable().IsFree(lunch))

	out, err = engine.Propose(context.Background(), Proposal{Kind: ActionAddBreak, Window: models.MustWindow(models.Friday, "15:00", "15:30"), Label: "Seminar"})
	require.NoError(t, err)
	assert.Equal(t, DecisionApplied, out.Decision)
	added := engine.Timetable().Breaks[1]
	assert.Equal(t, "Seminar", added.Label)

	_, err = engine.DeleteBreak(context.Background(), added.ID)
	require.NoError(t, err)
	require.Len(t, engine.Timetable().Breaks, 1)

	out, err = engine.DeleteBreak(context.Background(), moved.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionRemoveDefaultBreak, out.Action.Kind)
	assert.True(t, engine.Timetable().Breaks[0].IsRemoved)
	assert.True(t, engine.Timetable().IsFree(lunch))

	for i := 0; i < 4; i++ {
		_, err = engine.Undo(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, before, engine.Timetable())
	_, err = engine.Undo(context.Background())
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestEngineBreakOntoSlotNeedsConfirmation(t *testing.T) {
	engine, _ := newTestEngine(t, editableTimetable())

	out, err := engine.Propose(context.Background(), Proposal{Kind: ActionAddBreak, Window: models.MustWindow(models.Tuesday, "09:30", "10:00")})
	require.NoError(t, err)
	assert.Equal(t, DecisionConfirmRequired, out.Decision)
	assert.Equal(t, CodeSlotOccupied, out.Conflicts[0].Code)

	out, err = engine.Propose(context.Background(), Proposal{Kind: ActionAddBreak, Window: models.MustWindow(models.Monday, "15:00", "15:30")})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlocked, out.Decision)
	assert.Nil(t, engine.State().Pending)
}

func TestEngineNewMutationClearsRedo(t *testing.T) {
	engine, _ := newTestEngine(t, editableTimetable())
	ctx := context.Background()

	_, err := engine.Propose(ctx, Proposal{Kind: ActionMoveSlot, SlotID: "s-tue", Window: models.MustWindow(models.Friday, "09:00", "10:00")})
	require.NoError(t, err)
	_, err = engine.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.State().RedoDepth)

	_, err = engine.Propose(ctx, Proposal{Kind: ActionMoveSlot, SlotID: "s-tue", Window: models.MustWindow(models.Friday, "10:00", "11:00")})
	require.NoError(t, err)
	assert.Equal(t, 0, engine.State().RedoDepth)
	_, err = engine.Redo(ctx)
	assert.ErrorIs(t, err, ErrNothingToRedo)
}

func TestEngineDayShapeWarnings(t *testing.T) {
	tt := editableTimetable()
	tt.TheorySlots = append(tt.TheorySlots, models.TheorySlot{ID: "s-early", SubjectID: "cn", TeacherID: strPtr("t7"), Window: models.MustWindow(models.Friday, "08:00", "09:00")})
	engine, _ := newTestEngine(t, tt)

	out, err := engine.Propose(context.Background(), Proposal{Kind: ActionMoveSlot, SlotID: "s-tue", Window: models.MustWindow(models.Friday, "16:00", "17:00")})
	require.NoError(t, err)
	assert.Equal(t, DecisionConfirmRequired, out.Decision)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, CodeDayExtended, out.Conflicts[0].Code)
}

func TestEngineRejectsInvalidProposals(t *testing.T) {
	engine, _ := newTestEngine(t, editableTimetable())
	ctx := context.Background()

	_, err := engine.Propose(ctx, Proposal{Kind: ActionMoveSlot, SlotID: "missing", Window: models.MustWindow(models.Friday, "09:00", "10:00")})
	assert.ErrorIs(t, err, ErrSlotNotFound)
	_, err = engine.Propose(ctx, Proposal{Kind: ActionMoveSlot, SlotID: "s-tue", Window: models.TimeWindow{Day: models.Friday, Start: 17 * 60, End: 18 * 60}})
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = engine.DeleteBreak(ctx, "nope")
	assert.ErrorIs(t, err, ErrBreakNotFound)
	_, err = engine.Propose(ctx, Proposal{Kind: ActionDeleteBreak})
	assert.ErrorIs(t, err, ErrUnknownProposal)
}

func TestEngineSaveAndRevert(t *testing.T) {
	tt := editableTimetable()
	engine, store := newTestEngine(t, tt)
	ctx := context.Background()

	_, err := engine.Propose(ctx, Proposal{Kind: ActionMoveSlot, SlotID: "s-tue", Window: models.MustWindow(models.Friday, "09:00", "10:00")})
	require.NoError(t, err)
	require.NoError(t, engine.Save(ctx))
	assert.Equal(t, 0, engine.Edits())
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, models.Friday, store.saved["tt-3a"].TheorySlots[1].Window.Day)

	_, err = engine.Propose(ctx, Proposal{Kind: ActionMoveSlot, SlotID: "s-tue", Window: models.MustWindow(models.Thursday, "09:00", "10:00")})
	require.NoError(t, err)
	assert.Equal(t, 1, engine.Edits())

	require.NoError(t, engine.Revert(ctx))
	assert.Equal(t, models.Friday, engine.Timetable().TheorySlots[1].Window.Day)
	state := engine.State()
	assert.Equal(t, 0, state.UndoDepth)
	assert.Equal(t, 0, state.RedoDepth)
	assert.Equal(t, 0, state.Edits)
}

func TestActionInvertIsAnInvolution(t *testing.T) {
	a := Action{
		Kind:     ActionMoveSlot,
		SlotID:   "s-1",
		From:     models.MustWindow(models.Monday, "09:00", "10:00"),
		To:       models.MustWindow(models.Tuesday, "10:00", "11:00"),
		FromRoom: strPtr("C301"),
	}
	assert.Equal(t, a, a.Invert().Invert())

	add := Action{Kind: ActionAddBreak, After: &models.Break{ID: "b-1"}}
	assert.Equal(t, ActionDeleteBreak, add.Invert().Kind)
	assert.Equal(t, "b-1", add.Invert().Before.ID)
}

func TestReduce(t *testing.T) {
	assert.Equal(t, DecisionApplied, Reduce(nil))
	assert.Equal(t, DecisionConfirmRequired, Reduce([]Conflict{Warning(CodeDailyHours, "long day")}))
	assert.Equal(t, DecisionBlocked, Reduce([]Conflict{
		SoftConflict(CodeSlotOccupied, "busy", nil),
		HardBlock(CodeLabOverlap, "lab", nil),
	}))
	assert.Equal(t, []string{"busy"}, Messages([]Conflict{SoftConflict(CodeSlotOccupied, "busy", nil)}))
}
