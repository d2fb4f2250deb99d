package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ise-timetable-api/internal/dto"
	"github.com/noah-isme/ise-timetable-api/internal/editor"
	"github.com/noah-isme/ise-timetable-api/internal/models"
	appErrors "github.com/noah-isme/ise-timetable-api/pkg/errors"
)

type timetableEditorMock struct {
	session  string
	owner    string
	proposal dto.EditorProposalRequest
	decision editor.Decision
}

func (m *timetableEditorMock) check(sessionID string) error {
	if sessionID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "editor session id is required")
	}
	if sessionID != m.session {
		return appErrors.ErrSessionExpired
	}
	return nil
}

func (m *timetableEditorMock) outcome(sessionID string, decision editor.Decision, conflicts ...editor.Conflict) (*dto.EditorOutcomeResponse, error) {
	if err := m.check(sessionID); err != nil {
		return nil, err
	}
	return &dto.EditorOutcomeResponse{Decision: decision, Conflicts: conflicts}, nil
}

func (m *timetableEditorMock) Open(ctx context.Context, timetableID, ownerID string) (*dto.EditorSessionResponse, error) {
	if m.owner != "" && m.owner != ownerID {
		return nil, appErrors.ErrSessionLocked
	}
	m.owner = ownerID
	return &dto.EditorSessionResponse{SessionID: m.session, OwnerID: ownerID, State: editor.State{TimetableID: timetableID}}, nil
}

func (m *timetableEditorMock) Close(ctx context.Context, timetableID, sessionID string) error {
	return m.check(sessionID)
}

func (m *timetableEditorMock) State(ctx context.Context, timetableID, sessionID string) (*dto.EditorSessionResponse, error) {
	if err := m.check(sessionID); err != nil {
		return nil, err
	}
	return &dto.EditorSessionResponse{SessionID: sessionID, State: editor.State{TimetableID: timetableID, Edits: 2}}, nil
}

func (m *timetableEditorMock) Propose(ctx context.Context, timetableID, sessionID string, req dto.EditorProposalRequest) (*dto.EditorOutcomeResponse, error) {
	m.proposal = req
	switch m.decision {
	case editor.DecisionBlocked:
		return m.outcome(sessionID, editor.DecisionBlocked, editor.HardBlock(editor.CodeLabOverlap, "overlaps lab slot on MONDAY 09:00-11:00", nil))
	case editor.DecisionConfirmRequired:
		return m.outcome(sessionID, editor.DecisionConfirmRequired, editor.SoftConflict(editor.CodeTeacherGlobal, "teacher is busy in section 5B", nil))
	}
	return m.outcome(sessionID, editor.DecisionApplied)
}

func (m *timetableEditorMock) Confirm(ctx context.Context, timetableID, sessionID string) (*dto.EditorOutcomeResponse, error) {
	return m.outcome(sessionID, editor.DecisionApplied)
}

func (m *timetableEditorMock) Cancel(ctx context.Context, timetableID, sessionID string) (*dto.EditorOutcomeResponse, error) {
	return m.outcome(sessionID, "")
}

func (m *timetableEditorMock) Undo(ctx context.Context, timetableID, sessionID string) (*dto.EditorOutcomeResponse, error) {
	if err := m.check(sessionID); err != nil {
		return nil, err
	}
	return nil, appErrors.ErrNothingToUndo
}

func (m *timetableEditorMock) Redo(ctx context.Context, timetableID, sessionID string) (*dto.EditorOutcomeResponse, error) {
	return m.outcome(sessionID, editor.DecisionApplied)
}

func (m *timetableEditorMock) DeleteBreak(ctx context.Context, timetableID, sessionID string, req dto.DeleteBreakRequest) (*dto.EditorOutcomeResponse, error) {
	return m.outcome(sessionID, editor.DecisionApplied)
}

func (m *timetableEditorMock) RemoveDefaultBreak(ctx context.Context, timetableID, sessionID string, req dto.DefaultBreakRequest) (*dto.EditorOutcomeResponse, error) {
	return m.outcome(sessionID, editor.DecisionApplied)
}

func (m *timetableEditorMock) RestoreDefaultBreak(ctx context.Context, timetableID, sessionID string, req dto.DefaultBreakRequest) (*dto.EditorOutcomeResponse, error) {
	return m.outcome(sessionID, editor.DecisionConfirmRequired, editor.Warning(editor.CodeBreakOccupied, "window holds IS51"))
}

func (m *timetableEditorMock) Save(ctx context.Context, timetableID, sessionID string) (*dto.EditorSessionResponse, error) {
	return m.State(ctx, timetableID, sessionID)
}

func (m *timetableEditorMock) Revert(ctx context.Context, timetableID, sessionID string) (*dto.EditorSessionResponse, error) {
	return m.State(ctx, timetableID, sessionID)
}

func newEditorRouter(mock *timetableEditorMock, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := &EditorHandler{service: mock}
	router := gin.New()
	if userID != "" {
		router.Use(withClaims(userID, models.RoleCoordinator))
	}
	group := router.Group("/timetables/:id/editor")
	group.POST("", handler.Open)
	group.GET("", handler.State)
	group.DELETE("", handler.Close)
	group.POST("/propose", handler.Propose)
	group.POST("/confirm", handler.Confirm)
	group.POST("/cancel", handler.Cancel)
	group.POST("/undo", handler.Undo)
	group.POST("/breaks/restore-default", handler.RestoreDefaultBreak)
	group.POST("/save", handler.Save)
	return router
}

func editorRequest(method, path, sessionID, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(EditorSessionHeader, sessionID)
	}
	return req
}

func TestEditorHandlerOpenReturnsSessionHeader(t *testing.T) {
	mock := &timetableEditorMock{session: "sess-1"}
	router := newEditorRouter(mock, "coord-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, editorRequest(http.MethodPost, "/timetables/tt-a/editor", "", ""))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "sess-1", w.Header().Get(EditorSessionHeader))
	assert.Equal(t, "coord-1", mock.owner)
}

func TestEditorHandlerOpenLocked(t *testing.T) {
	mock := &timetableEditorMock{session: "sess-1", owner: "someone-else"}
	router := newEditorRouter(mock, "coord-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, editorRequest(http.MethodPost, "/timetables/tt-a/editor", "", ""))

	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Contains(t, w.Body.String(), "SESSION_LOCKED")
}

func TestEditorHandlerOpenWithoutClaims(t *testing.T) {
	router := newEditorRouter(&timetableEditorMock{session: "sess-1"}, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, editorRequest(http.MethodPost, "/timetables/tt-a/editor", "", ""))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEditorHandlerProposeApplied(t *testing.T) {
	mock := &timetableEditorMock{session: "sess-1"}
	router := newEditorRouter(mock, "coord-1")

	w := httptest.NewRecorder()
	body := `{"kind":"move_slot","slotId":"s-1","window":{"day":"WEDNESDAY","start":"14:00","end":"15:00"}}`
	router.ServeHTTP(w, editorRequest(http.MethodPost, "/timetables/tt-a/editor/propose", "sess-1", body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MOVE_SLOT", mock.proposal.Kind)
	require.NotNil(t, mock.proposal.Window)
	assert.Equal(t, "14:00", mock.proposal.Window.Start)
	assert.Contains(t, w.Body.String(), `"decision":"APPLIED"`)
}

func TestEditorHandlerProposeBlocked(t *testing.T) {
	router := newEditorRouter(&timetableEditorMock{session: "sess-1", decision: editor.DecisionBlocked}, "coord-1")

	w := httptest.NewRecorder()
	body := `{"kind":"MOVE_SLOT","slotId":"s-1","window":{"day":"MONDAY","start":"09:00","end":"10:00"}}`
	router.ServeHTTP(w, editorRequest(http.MethodPost, "/timetables/tt-a/editor/propose", "sess-1", body))

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "HARD_BLOCK")
	assert.Contains(t, w.Body.String(), "overlaps lab slot on MONDAY 09:00-11:00")
	assert.Contains(t, w.Body.String(), `"decision":"BLOCKED"`)
}

func TestEditorHandlerProposeNeedsConfirmation(t *testing.T) {
	router := newEditorRouter(&timetableEditorMock{session: "sess-1", decision: editor.DecisionConfirmRequired}, "coord-1")

	w := httptest.NewRecorder()
	body := `{"kind":"MOVE_SLOT","slotId":"s-1","window":{"day":"TUESDAY","start":"09:00","end":"10:00"}}`
	router.ServeHTTP(w, editorRequest(http.MethodPost, "/timetables/tt-a/editor/propose", "sess-1", body))

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "CONFIRMATION_REQUIRED")
	assert.Contains(t, w.Body.String(), "TEACHER_BUSY_OTHER_SECTION")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, editorRequest(http.MethodPost, "/timetables/tt-a/editor/confirm", "sess-1", ""))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEditorHandlerRestoreDefaultWithWarning(t *testing.T) {
	router := newEditorRouter(&timetableEditorMock{session: "sess-1"}, "coord-1")

	w := httptest.NewRecorder()
	body := `{"origin":{"day":"FRIDAY","start":"13:30","end":"14:00"}}`
	router.ServeHTTP(w, editorRequest(http.MethodPost, "/timetables/tt-a/editor/breaks/restore-default", "sess-1", body))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "BREAK_OCCUPIED")
}

func TestEditorHandlerSessionErrors(t *testing.T) {
	router := newEditorRouter(&timetableEditorMock{session: "sess-1"}, "coord-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, editorRequest(http.MethodGet, "/timetables/tt-a/editor", "", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, editorRequest(http.MethodGet, "/timetables/tt-a/editor", "stale", ""))
	assert.Equal(t, http.StatusGone, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, editorRequest(http.MethodPost, "/timetables/tt-a/editor/undo", "sess-1", ""))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "NOTHING_TO_UNDO")
}

func TestEditorHandlerSaveAndClose(t *testing.T) {
	router := newEditorRouter(&timetableEditorMock{session: "sess-1"}, "coord-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, editorRequest(http.MethodPost, "/timetables/tt-a/editor/save", "sess-1", ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"edits":2`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, editorRequest(http.MethodDelete, "/timetables/tt-a/editor", "sess-1", ""))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
