package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ise-timetable-api/internal/dto"
	"github.com/noah-isme/ise-timetable-api/internal/models"
	appErrors "github.com/noah-isme/ise-timetable-api/pkg/errors"
)

type timetableProviderMock struct {
	items  map[string]*models.Timetable
	format string
}

func (m *timetableProviderMock) Get(ctx context.Context, id string) (*models.Timetable, error) {
	tt, ok := m.items[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
	}
	return tt, nil
}

func (m *timetableProviderMock) List(ctx context.Context, query dto.TimetableScopeQuery) ([]*models.Timetable, error) {
	if query.SemesterType != "ODD" && query.SemesterType != "EVEN" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid scope")
	}
	out := make([]*models.Timetable, 0, len(m.items))
	for _, tt := range m.items {
		out = append(out, tt)
	}
	return out, nil
}

func (m *timetableProviderMock) Clear(ctx context.Context, query dto.TimetableScopeQuery) (*dto.BulkClearResponse, error) {
	n := int64(len(m.items))
	m.items = map[string]*models.Timetable{}
	return &dto.BulkClearResponse{AcademicYear: query.AcademicYear, SemesterType: query.SemesterType, Deleted: n}, nil
}

func (m *timetableProviderMock) Export(ctx context.Context, id string, query dto.ExportQuery) (*dto.ExportFile, error) {
	m.format = query.Format
	if _, ok := m.items[id]; !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
	}
	return &dto.ExportFile{Filename: "timetable_5A_2024-25_odd.csv", ContentType: "text/csv", Data: []byte("Time,MONDAY\n")}, nil
}

func newTimetableRouter() (*gin.Engine, *timetableProviderMock) {
	gin.SetMode(gin.TestMode)
	mock := &timetableProviderMock{items: map[string]*models.Timetable{
		"tt-a": {ID: "tt-a", SectionID: "sec-a", AcademicYear: "2024-25", SemesterType: models.SemesterOdd},
	}}
	handler := &TimetableHandler{service: mock}
	router := gin.New()
	router.GET("/timetables", handler.List)
	router.DELETE("/timetables", handler.Clear)
	router.GET("/timetables/:id", handler.Get)
	router.GET("/timetables/:id/export", handler.Export)
	return router, mock
}

func TestTimetableHandlerList(t *testing.T) {
	router, _ := newTimetableRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/timetables?academicYear=2024-25&semesterType=ODD", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
	assert.Contains(t, w.Body.String(), `"sectionId":"sec-a"`)
}

func TestTimetableHandlerListInvalidScope(t *testing.T) {
	router, _ := newTimetableRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/timetables?academicYear=2024-25&semesterType=SUMMER", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTimetableHandlerGetNotFound(t *testing.T) {
	router, _ := newTimetableRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/timetables/tt-x", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTimetableHandlerClear(t *testing.T) {
	router, mock := newTimetableRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/timetables?academicYear=2024-25&semesterType=ODD", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":1`)
	assert.Empty(t, mock.items)
}

func TestTimetableHandlerExportSetsAttachment(t *testing.T) {
	router, mock := newTimetableRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/timetables/tt-a/export?format=csv", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", mock.format)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="timetable_5A_2024-25_odd.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "Time,MONDAY\n", w.Body.String())
}
