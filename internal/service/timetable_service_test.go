package service

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/ise-timetable-api/internal/dto"
	"github.com/noah-isme/ise-timetable-api/internal/models"
	appErrors "github.com/noah-isme/ise-timetable-api/pkg/errors"
)

type memoryCacheRepo struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{items: make(map[string][]byte)}
}

func (r *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (r *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = raw
	return nil
}

func (r *memoryCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.items {
		if ok, _ := path.Match(pattern, key); ok {
			delete(r.items, key)
		}
	}
	return nil
}

func gridMasterData() *models.MasterData {
	return &models.MasterData{
		AcademicYear: "2024-25",
		SemesterType: models.SemesterOdd,
		Sections:     []models.Section{{ID: "sec-a", Name: "5A", Batches: []string{"5A1", "5A2", "5A3"}}},
		Subjects:     []models.Subject{{ID: "sub-1", Code: "IS51"}},
		Labs:         []models.Lab{{ID: "lab-1", Code: "ISL51"}, {ID: "lab-2", Code: "ISL52"}},
		Teachers:     []models.Teacher{{ID: "t-1", Name: "Asha Rao", Shortform: "AR"}},
		Classrooms:   []models.Classroom{{ID: "c-1", Name: "C101"}},
	}
}

func gridTimetable() *models.Timetable {
	return &models.Timetable{
		ID: "tt-a", SectionID: "sec-a", AcademicYear: "2024-25", SemesterType: models.SemesterOdd,
		TheorySlots: []models.TheorySlot{
			{ID: "s-1", SubjectID: "sub-1", TeacherID: models.StringPtr("t-1"), ClassroomID: models.StringPtr("c-1"), Window: models.MustWindow(models.Monday, "09:00", "10:00")},
			{ID: "s-2", SubjectID: "sub-1", TeacherID: models.StringPtr("t-1"), Window: models.MustWindow(models.Tuesday, "09:00", "10:00")},
		},
		LabSlots: []models.LabSlot{{
			ID: "lab-slot", Window: models.MustWindow(models.Wednesday, "14:00", "16:00"), Round: 1,
			Batches: []models.BatchAssignment{{BatchNumber: 1, LabID: "lab-1"}, {BatchNumber: 2, LabID: "lab-2"}},
		}},
		Breaks:   []models.Break{},
		Metadata: models.GenerationMetadata{CurrentPhase: 7, Clean: true},
	}
}

func TestBuildGridPlacesEveryOccupant(t *testing.T) {
	grid := BuildGrid(gridTimetable(), NewGridLabels(gridMasterData()))

	require.NoError(t, grid.Validate())
	assert.Equal(t, []string{"Time", "MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY"}, grid.Columns)
	require.Len(t, grid.Rows, models.BucketsPerDay)

	// 09:00 is the third bucket.
	assert.Equal(t, "09:00-09:30", grid.Rows[2][0])
	assert.Equal(t, "IS51 (AR) @C101", grid.Rows[2][1])
	assert.Equal(t, "IS51 (AR)", grid.Rows[3][2])
	// 11:00 holds the default short break every day.
	assert.Equal(t, "Short Break", grid.Rows[6][4])
	// 14:00 on Wednesday is the lab.
	assert.Equal(t, "LAB 5A1: ISL51, 5A2: ISL52", grid.Rows[12][3])

	require.Len(t, grid.Notes, 1)
	assert.Contains(t, grid.Notes[0], "TUESDAY 09:00-10:00 has no classroom")
}

func TestTimetableServiceGetUsesCache(t *testing.T) {
	repo := newTimetableRepoStub(gridTimetable())
	cache := NewCacheService(newMemoryCacheRepo(), NewMetricsService(), time.Minute, zap.NewNop(), true)
	svc := NewTimetableService(repo, masterDataStub{data: gridMasterData()}, cache, nil, nil)
	ctx := context.Background()

	first, err := svc.Get(ctx, "tt-a")
	require.NoError(t, err)
	delete(repo.items, "tt-a")

	second, err := svc.Get(ctx, "tt-a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.TheorySlots, 2)
}

func TestTimetableServiceGetNotFound(t *testing.T) {
	svc := NewTimetableService(newTimetableRepoStub(), masterDataStub{}, nil, nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTimetableServiceClearInvalidatesCache(t *testing.T) {
	repo := newTimetableRepoStub(gridTimetable())
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewTimetableService(repo, masterDataStub{}, cache, nil, nil)
	ctx := context.Background()
	scope := dto.TimetableScopeQuery{AcademicYear: "2024-25", SemesterType: "ODD"}

	list, err := svc.List(ctx, scope)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotEmpty(t, cacheRepo.items)

	resp, err := svc.Clear(ctx, scope)
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.Deleted)
	assert.Empty(t, cacheRepo.items)

	list, err = svc.List(ctx, scope)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTimetableServiceListValidatesScope(t *testing.T) {
	svc := NewTimetableService(newTimetableRepoStub(), masterDataStub{}, nil, nil, nil)

	_, err := svc.List(context.Background(), dto.TimetableScopeQuery{AcademicYear: "2024-25", SemesterType: "SUMMER"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTimetableServiceExportCSV(t *testing.T) {
	svc := NewTimetableService(newTimetableRepoStub(gridTimetable()), masterDataStub{data: gridMasterData()}, nil, nil, nil)

	file, err := svc.Export(context.Background(), "tt-a", dto.ExportQuery{})
	require.NoError(t, err)
	assert.Equal(t, "timetable_5A_2024-25_odd.csv", file.Filename)
	assert.Contains(t, file.ContentType, "text/csv")
	assert.True(t, strings.Contains(string(file.Data), "IS51 (AR) @C101"))

	_, err = svc.Export(context.Background(), "tt-a", dto.ExportQuery{Format: "docx"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
