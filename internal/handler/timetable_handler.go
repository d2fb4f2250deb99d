package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ise-timetable-api/internal/dto"
	"github.com/noah-isme/ise-timetable-api/internal/models"
	"github.com/noah-isme/ise-timetable-api/internal/service"
	appErrors "github.com/noah-isme/ise-timetable-api/pkg/errors"
	"github.com/noah-isme/ise-timetable-api/pkg/response"
)

type timetableProvider interface {
	Get(ctx context.Context, id string) (*models.Timetable, error)
	List(ctx context.Context, query dto.TimetableScopeQuery) ([]*models.Timetable, error)
	Clear(ctx context.Context, query dto.TimetableScopeQuery) (*dto.BulkClearResponse, error)
	Export(ctx context.Context, id string, query dto.ExportQuery) (*dto.ExportFile, error)
}

// TimetableHandler serves stored timetables.
type TimetableHandler struct {
	service timetableProvider
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(svc *service.TimetableService) *TimetableHandler {
	return &TimetableHandler{service: svc}
}

// List godoc
// @Summary List the timetables of an academic year and semester type
// @Tags Timetables
// @Produce json
// @Param academicYear query string true "Academic year"
// @Param semesterType query string true "ODD or EVEN"
// @Success 200 {object} response.Envelope
// @Router /timetables [get]
func (h *TimetableHandler) List(c *gin.Context) {
	var query dto.TimetableScopeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid scope"))
		return
	}
	list, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, map[string]interface{}{"total": len(list)})
}

// Get godoc
// @Summary Get one timetable
// @Tags Timetables
// @Produce json
// @Param id path string true "Timetable ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id} [get]
func (h *TimetableHandler) Get(c *gin.Context) {
	tt, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tt, nil)
}

// Clear godoc
// @Summary Delete every timetable of an academic year and semester type
// @Tags Timetables
// @Produce json
// @Param academicYear query string true "Academic year"
// @Param semesterType query string true "ODD or EVEN"
// @Success 200 {object} response.Envelope
// @Router /timetables [delete]
func (h *TimetableHandler) Clear(c *gin.Context) {
	var query dto.TimetableScopeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid scope"))
		return
	}
	result, err := h.service.Clear(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Download the weekly grid of a timetable
// @Tags Timetables
// @Produce text/csv
// @Produce application/pdf
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path string true "Timetable ID"
// @Param format query string false "csv, pdf or xlsx"
// @Success 200 {file} file
// @Router /timetables/{id}/export [get]
func (h *TimetableHandler) Export(c *gin.Context) {
	var query dto.ExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid export query"))
		return
	}
	file, err := h.service.Export(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
