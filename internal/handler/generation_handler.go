package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ise-timetable-api/internal/dto"
	"github.com/noah-isme/ise-timetable-api/internal/models"
	"github.com/noah-isme/ise-timetable-api/internal/service"
	appErrors "github.com/noah-isme/ise-timetable-api/pkg/errors"
	"github.com/noah-isme/ise-timetable-api/pkg/response"
)

type generationRunner interface {
	StartRun(ctx context.Context, req dto.GenerateRunRequest, actorID string) (*dto.GenerationRunResponse, error)
	GetRun(ctx context.Context, id string) (*dto.GenerationRunResponse, error)
	ValidateScope(ctx context.Context, query dto.TimetableScopeQuery) (*dto.ValidateScopeResponse, error)
}

// GenerationHandler exposes timetable generation runs.
type GenerationHandler struct {
	service generationRunner
}

// NewGenerationHandler constructs the handler.
func NewGenerationHandler(svc *service.GenerationService) *GenerationHandler {
	return &GenerationHandler{service: svc}
}

// StartRun godoc
// @Summary Generate timetables for an academic year and semester type
// @Description Runs phases 1-7 and replaces the stored timetables of the scope. With async=true the run is queued and can be polled.
// @Tags Generation
// @Accept json
// @Produce json
// @Param payload body dto.GenerateRunRequest true "Generation payload"
// @Success 201 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /generation/runs [post]
func (h *GenerationHandler) StartRun(c *gin.Context) {
	var req dto.GenerateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid generation payload"))
		return
	}
	result, err := h.service.StartRun(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Run.Status == models.RunStatusQueued {
		response.Accepted(c, result)
		return
	}
	response.Created(c, result)
}

// GetRun godoc
// @Summary Get a generation run with its phase report
// @Tags Generation
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Router /generation/runs/{id} [get]
func (h *GenerationHandler) GetRun(c *gin.Context) {
	result, err := h.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Validate godoc
// @Summary Re-run the validation phase over stored timetables
// @Tags Generation
// @Produce json
// @Param academicYear query string true "Academic year"
// @Param semesterType query string true "ODD or EVEN"
// @Success 200 {object} response.Envelope
// @Router /timetables/validate [post]
func (h *GenerationHandler) Validate(c *gin.Context) {
	var query dto.TimetableScopeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid scope"))
		return
	}
	result, err := h.service.ValidateScope(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, map[string]interface{}{"clean": result.Clean})
}
