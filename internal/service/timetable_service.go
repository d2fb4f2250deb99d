package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/ise-timetable-api/internal/dto"
	"github.com/noah-isme/ise-timetable-api/internal/models"
	appErrors "github.com/noah-isme/ise-timetable-api/pkg/errors"
	"github.com/noah-isme/ise-timetable-api/pkg/export"
)

type timetableReader interface {
	FindByID(ctx context.Context, id string) (*models.Timetable, error)
	ListByScope(ctx context.Context, academicYear string, semesterType models.SemesterType) ([]*models.Timetable, error)
	DeleteScope(ctx context.Context, exec sqlx.ExtContext, academicYear string, semesterType models.SemesterType) (int64, error)
}

// TimetableService serves stored timetables, bulk clears them and renders exports.
type TimetableService struct {
	repo       timetableReader
	masterData masterDataLoader
	cache      *CacheService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewTimetableService constructs the service.
func NewTimetableService(repo timetableReader, masterData masterDataLoader, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableService{repo: repo, masterData: masterData, cache: cache, validator: validate, logger: logger}
}

// Get returns one timetable.
func (s *TimetableService) Get(ctx context.Context, id string) (*models.Timetable, error) {
	key := s.cache.TimetableKey(id)
	var cached models.Timetable
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}
	tt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
		}
		return nil, appErrors.Internal(err, "failed to load timetable")
	}
	_ = s.cache.Set(ctx, key, tt, 0)
	return tt, nil
}

// List returns the timetables of a scope.
func (s *TimetableService) List(ctx context.Context, query dto.TimetableScopeQuery) ([]*models.Timetable, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Invalid(err, "invalid scope")
	}
	key := s.cache.ScopeKey(query.AcademicYear, models.SemesterType(query.SemesterType))
	var cached []*models.Timetable
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}
	list, err := s.repo.ListByScope(ctx, query.AcademicYear, models.SemesterType(query.SemesterType))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list timetables")
	}
	_ = s.cache.Set(ctx, key, list, 0)
	return list, nil
}

// Clear deletes every timetable of a scope.
func (s *TimetableService) Clear(ctx context.Context, query dto.TimetableScopeQuery) (*dto.BulkClearResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Invalid(err, "invalid scope")
	}
	deleted, err := s.repo.DeleteScope(ctx, nil, query.AcademicYear, models.SemesterType(query.SemesterType))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to clear timetables")
	}
	if err := s.cache.InvalidateTimetables(ctx); err != nil {
		s.logger.Warn("cached timetable views may be stale after clear",
			zap.String("academic_year", query.AcademicYear), zap.String("semester_type", query.SemesterType), zap.Error(err))
	}
	s.logger.Info("timetables cleared",
		zap.String("academic_year", query.AcademicYear),
		zap.String("semester_type", query.SemesterType),
		zap.Int64("deleted", deleted),
	)
	return &dto.BulkClearResponse{AcademicYear: query.AcademicYear, SemesterType: query.SemesterType, Deleted: deleted}, nil
}

// Export renders the weekly grid of a timetable.
func (s *TimetableService) Export(ctx context.Context, id string, query dto.ExportQuery) (*dto.ExportFile, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Invalid(err, "invalid export format")
	}
	format, err := export.ParseFormat(query.Format)
	if err != nil {
		return nil, appErrors.Invalid(err, "invalid export format")
	}
	tt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.masterData.Load(ctx, tt.AcademicYear, tt.SemesterType)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load master data")
	}
	grid := BuildGrid(tt, NewGridLabels(data))

	exporter, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Invalid(err, "invalid export format")
	}
	payload, err := exporter.Render(grid)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render export")
	}
	return &dto.ExportFile{
		Filename:    fmt.Sprintf("timetable_%s_%s_%s.%s", slug(labelOr(data, tt.SectionID)), tt.AcademicYear, strings.ToLower(string(tt.SemesterType)), exporter.Extension()),
		ContentType: exporter.ContentType(),
		Data:        payload,
	}, nil
}

func labelOr(data *models.MasterData, sectionID string) string {
	for _, sec := range data.Sections {
		if sec.ID == sectionID {
			return sec.Name
		}
	}
	return sectionID
}

func slug(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, v)
}

// GridLabels resolves identifiers to the short names printed in grids.
type GridLabels struct {
	Sections   map[string]models.Section
	Subjects   map[string]string
	Labs       map[string]string
	Teachers   map[string]string
	Classrooms map[string]string
}

// NewGridLabels indexes a master data snapshot.
func NewGridLabels(data *models.MasterData) GridLabels {
	if data == nil {
		data = &models.MasterData{}
	}
	return GridLabels{
		Sections: lo.KeyBy(data.Sections, func(s models.Section) string { return s.ID }),
		Subjects: lo.SliceToMap(data.Subjects, func(s models.Subject) (string, string) { return s.ID, s.Code }),
		Labs:     lo.SliceToMap(data.Labs, func(l models.Lab) (string, string) { return l.ID, l.Code }),
		Teachers: lo.SliceToMap(data.Teachers, func(t models.Teacher) (string, string) {
			return t.ID, lo.Ternary(t.Shortform != "", t.Shortform, t.Name)
		}),
		Classrooms: lo.SliceToMap(data.Classrooms, func(c models.Classroom) (string, string) { return c.ID, c.Name }),
	}
}

func lookup(m map[string]string, id string) string {
	if v, ok := m[id]; ok && v != "" {
		return v
	}
	return id
}

// BuildGrid lays a timetable out as 30-minute rows by weekday columns.
func BuildGrid(tt *models.Timetable, labels GridLabels) export.Grid {
	section, ok := labels.Sections[tt.SectionID]
	if !ok {
		section = models.Section{ID: tt.SectionID, Name: tt.SectionID}
	}
	grid := export.Grid{
		Title:   fmt.Sprintf("Section %s, %s %s semester", section.Name, tt.AcademicYear, strings.ToLower(string(tt.SemesterType))),
		Columns: []string{"Time"},
	}
	for _, day := range models.WeekDays {
		grid.Columns = append(grid.Columns, day.String())
	}

	breaks := tt.ActiveBreaks()
	for b := 0; b < models.BucketsPerDay; b++ {
		start := models.DayStartMinute + b*models.SlotGranularity
		row := []string{models.FormatClock(start) + "-" + models.FormatClock(start+models.SlotGranularity)}
		for _, day := range models.WeekDays {
			cell := models.TimeWindow{Day: day, Start: start, End: start + models.SlotGranularity}
			row = append(row, strings.Join(cellEntries(tt, breaks, section, labels, cell), " / "))
		}
		grid.Rows = append(grid.Rows, row)
	}

	var pending []models.TheorySlot
	for _, slot := range tt.TheorySlots {
		if slot.ClassroomID == nil && !slot.IsProject {
			pending = append(pending, slot)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Window.Less(pending[j].Window) })
	for _, slot := range pending {
		grid.Notes = append(grid.Notes, fmt.Sprintf("%s at %s has no classroom", lookup(labels.Subjects, slot.SubjectID), slot.Window))
	}
	if !tt.Metadata.Clean {
		grid.Notes = append(grid.Notes, fmt.Sprintf("Generation reached phase %d and is not marked clean.", tt.Metadata.CurrentPhase))
	}
	return grid
}

func cellEntries(tt *models.Timetable, breaks []models.Break, section models.Section, labels GridLabels, cell models.TimeWindow) []string {
	var entries []string
	for _, slot := range tt.TheorySlots {
		if !slot.Window.Overlaps(cell) {
			continue
		}
		text := lookup(labels.Subjects, slot.SubjectID)
		if slot.TeacherID != nil {
			text += " (" + lookup(labels.Teachers, *slot.TeacherID) + ")"
		}
		if slot.ClassroomID != nil {
			text += " @" + lookup(labels.Classrooms, *slot.ClassroomID)
		}
		if slot.IsFixed {
			text += " [fixed]"
		}
		entries = append(entries, text)
	}
	for _, lab := range tt.LabSlots {
		if !lab.Window.Overlaps(cell) {
			continue
		}
		parts := make([]string, 0, len(lab.Batches))
		for _, batch := range lab.Batches {
			parts = append(parts, section.BatchLabel(batch.BatchNumber)+": "+lookup(labels.Labs, batch.LabID))
		}
		entries = append(entries, "LAB "+strings.Join(parts, ", "))
	}
	for _, b := range breaks {
		if b.Window.Overlaps(cell) {
			entries = append(entries, b.Label)
		}
	}
	return entries
}
