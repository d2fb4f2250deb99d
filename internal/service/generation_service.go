package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/ise-timetable-api/internal/dto"
	"github.com/noah-isme/ise-timetable-api/internal/models"
	"github.com/noah-isme/ise-timetable-api/internal/scheduler"
	"github.com/noah-isme/ise-timetable-api/pkg/config"
	appErrors "github.com/noah-isme/ise-timetable-api/pkg/errors"
	"github.com/noah-isme/ise-timetable-api/pkg/jobs"
)

// GenerationJobType tags queued generation runs.
const GenerationJobType = "generation_run"

type masterDataLoader interface {
	Load(ctx context.Context, academicYear string, semesterType models.SemesterType) (*models.MasterData, error)
}

type timetableWriter interface {
	DeleteScope(ctx context.Context, exec sqlx.ExtContext, academicYear string, semesterType models.SemesterType) (int64, error)
	Insert(ctx context.Context, exec sqlx.ExtContext, tt *models.Timetable) error
	ListByScope(ctx context.Context, academicYear string, semesterType models.SemesterType) ([]*models.Timetable, error)
	UpdateMetadata(ctx context.Context, exec sqlx.ExtContext, id string, meta models.GenerationMetadata) error
}

type generationRunStore interface {
	Create(ctx context.Context, run *models.GenerationRun) error
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, exec sqlx.ExtContext, id string, seed int64, report types.JSONText, finishedAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string, finishedAt time.Time) error
	FindByID(ctx context.Context, id string) (*models.GenerationRun, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type runEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// GenerationConfig governs run execution.
type GenerationConfig struct {
	Scheduler  scheduler.Config
	RunTimeout time.Duration
}

// GenerationService runs the seven phase pipeline over stored master data and persists the
// resulting timetables and run report.
type GenerationService struct {
	masterData masterDataLoader
	timetables timetableWriter
	runs       generationRunStore
	tx         txProvider
	queue      runEnqueuer
	cache      *CacheService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        GenerationConfig
	now        func() time.Time
}

// NewGenerationService wires generation dependencies.
func NewGenerationService(
	masterData masterDataLoader,
	timetables timetableWriter,
	runs generationRunStore,
	tx txProvider,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg GenerationConfig,
) *GenerationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	return &GenerationService{
		masterData: masterData,
		timetables: timetables,
		runs:       runs,
		tx:         tx,
		cache:      cache,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// AttachQueue enables asynchronous runs.
func (s *GenerationService) AttachQueue(queue runEnqueuer) {
	s.queue = queue
}

// SchedulerConfigFrom converts environment configuration into pipeline settings.
func SchedulerConfigFrom(cfg config.SchedulerConfig) (scheduler.Config, error) {
	out := scheduler.DefaultConfig()
	if cfg.LabWindows != "" {
		windows, err := models.ParseClockRanges(cfg.LabWindows)
		if err != nil {
			return out, fmt.Errorf("SCHEDULER_LAB_WINDOWS: %w", err)
		}
		out.LabWindows = windows
	}
	if cfg.EarlyDayLatestEnd != "" {
		latest, err := models.ParseClock(cfg.EarlyDayLatestEnd)
		if err != nil {
			return out, fmt.Errorf("SCHEDULER_EARLY_DAY_LATEST_END: %w", err)
		}
		out.EarlyDayLatestEnd = latest
	}
	out.LabTrials = positiveOr(cfg.LabTrials, out.LabTrials)
	out.MaxOrderings = positiveOr(cfg.MaxOrderings, out.MaxOrderings)
	out.LabWorkers = positiveOr(cfg.LabWorkers, out.LabWorkers)
	out.MinLabGapMinutes = positiveOr(cfg.MinLabGapMinutes, out.MinLabGapMinutes)
	out.TheorySessionMinutes = positiveOr(cfg.TheorySessionMinutes, out.TheorySessionMinutes)
	out.MaxDailyMinutes = positiveOr(cfg.MaxDailyMinutes, out.MaxDailyMinutes)
	out.Seed = cfg.Seed

	caps := []int{cfg.CapProfessor, cfg.CapAssociate, cfg.CapAssistant}
	tiers := make([]scheduler.CapTier, len(out.CapTiers))
	copy(tiers, out.CapTiers)
	for i := range tiers {
		if i < len(caps) {
			tiers[i].Cap = positiveOr(caps[i], tiers[i].Cap)
		}
	}
	out.CapTiers = tiers
	return out, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// StartRun records a run and executes it, inline or on the queue when requested.
func (s *GenerationService) StartRun(ctx context.Context, req dto.GenerateRunRequest, actorID string) (*dto.GenerationRunResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid generation request")
	}
	if req.Async && s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "asynchronous generation is not enabled")
	}

	run := &models.GenerationRun{
		AcademicYear: req.AcademicYear,
		SemesterType: models.SemesterType(req.SemesterType),
		Status:       models.RunStatusQueued,
		Params: models.RunParams{
			Seed:       req.Seed,
			LabTrials:  req.LabTrials,
			LabWorkers: req.LabWorkers,
			Async:      req.Async,
		},
		Seed:      req.Seed,
		CreatedBy: actorID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, appErrors.Internal(err, "failed to record generation run")
	}
	s.logger.Info("generation run queued",
		zap.String("run_id", run.ID),
		zap.String("academic_year", run.AcademicYear),
		zap.String("semester_type", string(run.SemesterType)),
		zap.Bool("async", req.Async),
	)

	if req.Async {
		if err := s.queue.Enqueue(jobs.Job{ID: run.ID, Type: GenerationJobType, Payload: run.ID}); err != nil {
			s.fail(ctx, run.ID, err)
			return nil, appErrors.Internal(err, "failed to enqueue generation run")
		}
		return &dto.GenerationRunResponse{Run: *run}, nil
	}

	result, err := s.execute(ctx, run)
	if err != nil {
		s.fail(ctx, run.ID, err)
		return nil, err
	}
	return s.response(ctx, run.ID, result.Report)
}

// HandleJob executes a queued run; it is the queue handler.
func (s *GenerationService) HandleJob(ctx context.Context, job jobs.Job) error {
	runID, ok := job.Payload.(string)
	if !ok || runID == "" {
		return fmt.Errorf("generation job %s has no run id", job.ID)
	}
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("load generation run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		return nil
	}
	_, err = s.execute(ctx, run)
	return err
}

// HandleExhausted marks a queued run failed once the queue gives up on it.
func (s *GenerationService) HandleExhausted(ctx context.Context, job jobs.Job, err error) {
	runID, _ := job.Payload.(string)
	if runID == "" {
		return
	}
	s.fail(ctx, runID, err)
}

// GetRun returns a run and its report.
func (s *GenerationService) GetRun(ctx context.Context, id string) (*dto.GenerationRunResponse, error) {
	return s.response(ctx, id, nil)
}

// ValidateScope re-runs only the validation phase over stored timetables and persists the
// refreshed metadata.
func (s *GenerationService) ValidateScope(ctx context.Context, query dto.TimetableScopeQuery) (*dto.ValidateScopeResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Invalid(err, "invalid scope")
	}
	semesterType := models.SemesterType(query.SemesterType)
	data, err := s.masterData.Load(ctx, query.AcademicYear, semesterType)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load master data")
	}
	timetables, err := s.timetables.ListByScope(ctx, query.AcademicYear, semesterType)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load timetables")
	}
	if len(timetables) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no timetables generated for this scope")
	}

	pipeline := scheduler.NewPipeline(s.cfg.Scheduler, s.logger)
	report, err := pipeline.Validate(ctx, InputFromMasterData(data, ""), timetables)
	if err != nil {
		return nil, appErrors.Internal(err, "validation failed")
	}
	for _, tt := range timetables {
		if err := s.timetables.UpdateMetadata(ctx, nil, tt.ID, tt.Metadata); err != nil {
			return nil, appErrors.Internal(err, "failed to store validation result")
		}
	}
	s.invalidate(ctx, zap.String("academic_year", query.AcademicYear), zap.String("semester_type", query.SemesterType))

	summary, _ := report.Phase(scheduler.PhaseValidation)
	return &dto.ValidateScopeResponse{Clean: report.Clean, Phase: summary, Unresolved: report.Unresolved()}, nil
}

func (s *GenerationService) execute(ctx context.Context, run *models.GenerationRun) (*scheduler.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	if err := s.runs.MarkRunning(ctx, run.ID, s.now().UTC()); err != nil {
		return nil, appErrors.Internal(err, "failed to start generation run")
	}
	data, err := s.masterData.Load(ctx, run.AcademicYear, run.SemesterType)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load master data")
	}
	if len(data.Sections) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("no sections for %s %s", run.AcademicYear, run.SemesterType))
	}

	cfg := s.cfg.Scheduler
	if run.Params.Seed != 0 {
		cfg.Seed = run.Params.Seed
	}
	if run.Params.LabTrials > 0 {
		cfg.LabTrials = run.Params.LabTrials
	}
	if run.Params.LabWorkers > 0 {
		cfg.LabWorkers = run.Params.LabWorkers
	}
	result, err := scheduler.NewPipeline(cfg, s.logger).Run(ctx, InputFromMasterData(data, run.ID))
	if err != nil {
		if errors.Is(err, scheduler.ErrNoSections) {
			return nil, appErrors.Wrap(err, appErrors.ErrPreconditionFailed.Code, appErrors.ErrPreconditionFailed.Status, "no sections to schedule")
		}
		return nil, appErrors.Internal(err, "generation pipeline failed")
	}
	if err := s.persist(ctx, run, result); err != nil {
		return nil, err
	}

	s.metrics.ObserveRun(result.Report)
	s.metrics.RecordRunStatus(string(models.RunStatusCompleted))
	s.invalidate(ctx, zap.String("run_id", run.ID))
	s.logger.Info("generation run completed",
		zap.String("run_id", run.ID),
		zap.Int64("seed", result.Seed),
		zap.Int("timetables", len(result.Timetables)),
		zap.Int("unresolved", len(result.Report.Unresolved())),
		zap.Bool("clean", result.Report.Clean),
	)
	return result, nil
}

// persist replaces the scope's timetables and completes the run in one transaction.
func (s *GenerationService) persist(ctx context.Context, run *models.GenerationRun, result *scheduler.Result) (err error) {
	if s.tx == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	reportBytes, marshalErr := json.Marshal(result.Report)
	if marshalErr != nil {
		return appErrors.Internal(marshalErr, "failed to encode run report")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	removed, err := s.timetables.DeleteScope(ctx, tx, run.AcademicYear, run.SemesterType)
	if err != nil {
		return appErrors.Internal(err, "failed to clear previous timetables")
	}
	for _, tt := range result.Timetables {
		if err = s.timetables.Insert(ctx, tx, tt); err != nil {
			return appErrors.Internal(err, "failed to persist timetable")
		}
	}
	if err = s.runs.MarkCompleted(ctx, tx, run.ID, result.Seed, types.JSONText(reportBytes), s.now().UTC()); err != nil {
		return appErrors.Internal(err, "failed to complete generation run")
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Internal(err, "failed to commit generation run")
	}
	s.logger.Debug("timetables replaced", zap.String("run_id", run.ID), zap.Int64("removed", removed), zap.Int("inserted", len(result.Timetables)))
	return nil
}

func (s *GenerationService) fail(ctx context.Context, runID string, cause error) {
	reason := "generation failed"
	if cause != nil {
		reason = cause.Error()
	}
	if err := s.runs.MarkFailed(context.WithoutCancel(ctx), runID, reason, s.now().UTC()); err != nil {
		s.logger.Error("failed to mark generation run failed", zap.String("run_id", runID), zap.Error(err))
	}
	s.metrics.RecordRunStatus(string(models.RunStatusFailed))
	s.logger.Warn("generation run failed", zap.String("run_id", runID), zap.Error(cause))
}

func (s *GenerationService) response(ctx context.Context, id string, report *scheduler.Report) (*dto.GenerationRunResponse, error) {
	run, err := s.runs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "generation run not found")
		}
		return nil, appErrors.Internal(err, "failed to load generation run")
	}
	resp := &dto.GenerationRunResponse{Run: *run, Report: report}
	if resp.Report == nil && len(run.Report) > 0 {
		var decoded scheduler.Report
		if err := run.Report.Unmarshal(&decoded); err != nil {
			return nil, appErrors.Internal(err, "failed to decode run report")
		}
		resp.Report = &decoded
	}
	return resp, nil
}

func (s *GenerationService) invalidate(ctx context.Context, fields ...zap.Field) {
	if err := s.cache.InvalidateTimetables(ctx); err != nil {
		s.logger.Warn("cached timetable views may be stale", append(fields, zap.Error(err))...)
	}
}

// InputFromMasterData maps a master data snapshot onto the pipeline input.
func InputFromMasterData(data *models.MasterData, runID string) scheduler.Input {
	return scheduler.Input{
		RunID:             runID,
		AcademicYear:      data.AcademicYear,
		SemesterType:      data.SemesterType,
		Sections:          data.Sections,
		Subjects:          data.Subjects,
		Labs:              data.Labs,
		Teachers:          data.Teachers,
		Classrooms:        data.Classrooms,
		LabRooms:          data.LabRooms,
		TheoryAssignments: data.TheoryAssignments,
		LabAssignments:    data.LabAssignments,
		FixedSlots:        data.FixedSlots,
	}
}
