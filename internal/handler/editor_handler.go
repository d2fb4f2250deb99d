package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ise-timetable-api/internal/dto"
	"github.com/noah-isme/ise-timetable-api/internal/editor"
	"github.com/noah-isme/ise-timetable-api/internal/service"
	appErrors "github.com/noah-isme/ise-timetable-api/pkg/errors"
	"github.com/noah-isme/ise-timetable-api/pkg/response"
)

// EditorSessionHeader carries the session id returned by the open call.
const EditorSessionHeader = "X-Editor-Session"

type timetableEditor interface {
	Open(ctx context.Context, timetableID, ownerID string) (*dto.EditorSessionResponse, error)
	Close(ctx context.Context, timetableID, sessionID string) error
	State(ctx context.Context, timetableID, sessionID string) (*dto.EditorSessionResponse, error)
	Propose(ctx context.Context, timetableID, sessionID string, req dto.EditorProposalRequest) (*dto.EditorOutcomeResponse, error)
	Confirm(ctx context.Context, timetableID, sessionID string) (*dto.EditorOutcomeResponse, error)
	Cancel(ctx context.Context, timetableID, sessionID string) (*dto.EditorOutcomeResponse, error)
	Undo(ctx context.Context, timetableID, sessionID string) (*dto.EditorOutcomeResponse, error)
	Redo(ctx context.Context, timetableID, sessionID string) (*dto.EditorOutcomeResponse, error)
	DeleteBreak(ctx context.Context, timetableID, sessionID string, req dto.DeleteBreakRequest) (*dto.EditorOutcomeResponse, error)
	RemoveDefaultBreak(ctx context.Context, timetableID, sessionID string, req dto.DefaultBreakRequest) (*dto.EditorOutcomeResponse, error)
	RestoreDefaultBreak(ctx context.Context, timetableID, sessionID string, req dto.DefaultBreakRequest) (*dto.EditorOutcomeResponse, error)
	Save(ctx context.Context, timetableID, sessionID string) (*dto.EditorSessionResponse, error)
	Revert(ctx context.Context, timetableID, sessionID string) (*dto.EditorSessionResponse, error)
}

// EditorHandler exposes the interactive conflict-resolution editor.
type EditorHandler struct {
	service timetableEditor
}

// NewEditorHandler constructs the handler.
func NewEditorHandler(svc *service.EditorService) *EditorHandler {
	return &EditorHandler{service: svc}
}

// Open godoc
// @Summary Open an editor session on a timetable
// @Description Takes the exclusive edit lock. The same user reopening gets their existing session back.
// @Tags Editor
// @Produce json
// @Param id path string true "Timetable ID"
// @Success 201 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /timetables/{id}/editor [post]
func (h *EditorHandler) Open(c *gin.Context) {
	owner := actorID(c)
	if owner == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	sess, err := h.service.Open(c.Request.Context(), c.Param("id"), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header(EditorSessionHeader, sess.SessionID)
	response.Created(c, sess)
}

// State godoc
// @Summary Get the editor session state
// @Tags Editor
// @Produce json
// @Param id path string true "Timetable ID"
// @Param X-Editor-Session header string true "Editor session ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/editor [get]
func (h *EditorHandler) State(c *gin.Context) {
	sess, err := h.service.State(c.Request.Context(), c.Param("id"), sessionID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sess, nil)
}

// Close godoc
// @Summary Close the editor session and release the lock
// @Tags Editor
// @Param id path string true "Timetable ID"
// @Param X-Editor-Session header string true "Editor session ID"
// @Success 204
// @Router /timetables/{id}/editor [delete]
func (h *EditorHandler) Close(c *gin.Context) {
	if err := h.service.Close(c.Request.Context(), c.Param("id"), sessionID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Propose godoc
// @Summary Propose a move, an added break or a classroom change
// @Description Returns 200 when applied, 409 HARD_BLOCK when blocked and 409 CONFIRMATION_REQUIRED when soft conflicts need confirmation. Conflicts are returned in data.
// @Tags Editor
// @Accept json
// @Produce json
// @Param id path string true "Timetable ID"
// @Param X-Editor-Session header string true "Editor session ID"
// @Param payload body dto.EditorProposalRequest true "Proposal"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables/{id}/editor/propose [post]
func (h *EditorHandler) Propose(c *gin.Context) {
	var req dto.EditorProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid proposal payload"))
		return
	}
	req.Kind = strings.ToUpper(strings.TrimSpace(req.Kind))
	out, err := h.service.Propose(c.Request.Context(), c.Param("id"), sessionID(c), req)
	respondOutcome(c, out, err)
}

// Confirm godoc
// @Summary Apply the pending proposal despite its soft conflicts
// @Tags Editor
// @Produce json
// @Param id path string true "Timetable ID"
// @Param X-Editor-Session header string true "Editor session ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/editor/confirm [post]
func (h *EditorHandler) Confirm(c *gin.Context) {
	out, err := h.service.Confirm(c.Request.Context(), c.Param("id"), sessionID(c))
	respondOutcome(c, out, err)
}

// Cancel godoc
// @Summary Drop the pending proposal
// @Tags Editor
// @Produce json
// @Param id path string true "Timetable ID"
// @Param X-Editor-Session header string true "Editor session ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/editor/cancel [post]
func (h *EditorHandler) Cancel(c *gin.Context) {
	out, err := h.service.Cancel(c.Request.Context(), c.Param("id"), sessionID(c))
	respondOutcome(c, out, err)
}

// Undo godoc
// @Summary Undo the most recent edit
// @Tags Editor
// @Produce json
// @Param id path string true "Timetable ID"
// @Param X-Editor-Session header string true "Editor session ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/editor/undo [post]
func (h *EditorHandler) Undo(c *gin.Context) {
	out, err := h.service.Undo(c.Request.Context(), c.Param("id"), sessionID(c))
	respondOutcome(c, out, err)
}

// Redo godoc
// @Summary Redo the most recently undone edit
// @Tags Editor
// @Produce json
// @Param id path string true "Timetable ID"
// @Param X-Editor-Session header string true "Editor session ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/editor/redo [post]
func (h *EditorHandler) Redo(c *gin.Context) {
	out, err := h.service.Redo(c.Request.Context(), c.Param("id"), sessionID(c))
	respondOutcome(c, out, err)
}

// DeleteBreak godoc
// @Summary Delete a break record
// @Tags Editor
// @Accept json
// @Produce json
// @Param id path string true "Timetable ID"
// @Param X-Editor-Session header string true "Editor session ID"
// @Param payload body dto.DeleteBreakRequest true "Break"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/editor/breaks/delete [post]
func (h *EditorHandler) DeleteBreak(c *gin.Context) {
	var req dto.DeleteBreakRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid break payload"))
		return
	}
	out, err := h.service.DeleteBreak(c.Request.Context(), c.Param("id"), sessionID(c), req)
	respondOutcome(c, out, err)
}

// RemoveDefaultBreak godoc
// @Summary Remove a default break for this timetable
// @Tags Editor
// @Accept json
// @Produce json
// @Param id path string true "Timetable ID"
// @Param X-Editor-Session header string true "Editor session ID"
// @Param payload body dto.DefaultBreakRequest true "Default break window"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/editor/breaks/remove-default [post]
func (h *EditorHandler) RemoveDefaultBreak(c *gin.Context) {
	var req dto.DefaultBreakRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid break payload"))
		return
	}
	out, err := h.service.RemoveDefaultBreak(c.Request.Context(), c.Param("id"), sessionID(c), req)
	respondOutcome(c, out, err)
}

// RestoreDefaultBreak godoc
// @Summary Restore a removed or moved default break
// @Tags Editor
// @Accept json
// @Produce json
// @Param id path string true "Timetable ID"
// @Param X-Editor-Session header string true "Editor session ID"
// @Param payload body dto.DefaultBreakRequest true "Default break window"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables/{id}/editor/breaks/restore-default [post]
func (h *EditorHandler) RestoreDefaultBreak(c *gin.Context) {
	var req dto.DefaultBreakRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid break payload"))
		return
	}
	out, err := h.service.RestoreDefaultBreak(c.Request.Context(), c.Param("id"), sessionID(c), req)
	respondOutcome(c, out, err)
}

// Save godoc
// @Summary Persist the edited slots and breaks
// @Tags Editor
// @Produce json
// @Param id path string true "Timetable ID"
// @Param X-Editor-Session header string true "Editor session ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/editor/save [post]
func (h *EditorHandler) Save(c *gin.Context) {
	sess, err := h.service.Save(c.Request.Context(), c.Param("id"), sessionID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sess, nil)
}

// Revert godoc
// @Summary Discard unsaved edits
// @Tags Editor
// @Produce json
// @Param id path string true "Timetable ID"
// @Param X-Editor-Session header string true "Editor session ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/editor/revert [post]
func (h *EditorHandler) Revert(c *gin.Context) {
	sess, err := h.service.Revert(c.Request.Context(), c.Param("id"), sessionID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sess, nil)
}

func sessionID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(EditorSessionHeader))
}

func respondOutcome(c *gin.Context, out *dto.EditorOutcomeResponse, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	switch out.Decision {
	case editor.DecisionBlocked:
		response.ErrorWithData(c, appErrors.Clone(appErrors.ErrHardBlock, firstMessage(out.Conflicts, appErrors.ErrHardBlock.Message)), out)
	case editor.DecisionConfirmRequired:
		response.ErrorWithData(c, appErrors.ErrConfirmRequired, out)
	default:
		response.JSON(c, http.StatusOK, out, nil)
	}
}

func firstMessage(conflicts []editor.Conflict, fallback string) string {
	if len(conflicts) == 0 || conflicts[0].Message == "" {
		return fallback
	}
	return conflicts[0].Message
}
