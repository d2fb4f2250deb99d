// Package scheduler generates the weekly timetables of every section in seven ordered phases:
// bootstrap, fixed electives, synchronized labs, theory, classrooms, lab supervisors and a
// final validation over a freshly rebuilt availability index.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// ErrNoSections is returned when the input holds no section to schedule.
var ErrNoSections = errors.New("no sections to schedule")

// PhaseError reports the phase that aborted a run.
type PhaseError struct {
	Phase int
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %d (%s): %v", e.Phase, PhaseName(e.Phase), e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

type phaseFunc func(ctx context.Context, r *Run) (PhaseSummary, error)

type phaseStep struct {
	phase int
	run   phaseFunc
}

// Result is the outcome of a complete run.
type Result struct {
	RunID      string
	Seed       int64
	Timetables []*models.Timetable
	Report     *Report
}

// Pipeline runs the seven generation phases in order.
type Pipeline struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewPipeline constructs a pipeline; zero config values take the defaults.
func NewPipeline(cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg.withDefaults(), logger: logger, now: time.Now}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

func (p *Pipeline) steps() []phaseStep {
	return []phaseStep{
		{phase: PhaseBootstrap, run: runBootstrap},
		{phase: PhaseFixedSlots, run: runFixedSlots},
		{phase: PhaseLabs, run: runLabs},
		{phase: PhaseTheory, run: runTheory},
		{phase: PhaseClassrooms, run: runClassrooms},
		{phase: PhaseLabTeachers, run: runLabTeachers},
		{phase: PhaseValidation, run: runValidation},
	}
}

// Run executes every phase against a fresh state built from in. A phase error aborts the run;
// infeasible items never do, they are reported on the summary instead.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	cfg := p.cfg
	if cfg.Seed == 0 {
		cfg.Seed = p.now().UnixNano()
	}
	runID := in.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	run := newRun(runID, cfg, in, p.logger.With(zap.String("run_id", runID)), p.now)
	run.report.StartedAt = p.now().UTC()

	for _, step := range p.steps() {
		if err := ctx.Err(); err != nil {
			return nil, &PhaseError{Phase: step.phase, Err: err}
		}
		started := p.now()
		summary, err := step.run(ctx, run)
		if err != nil {
			run.logger.Error("scheduler phase failed", zap.Int("phase", step.phase), zap.String("name", PhaseName(step.phase)), zap.Error(err))
			return nil, &PhaseError{Phase: step.phase, Err: err}
		}
		summary.Duration = p.now().Sub(started)
		run.record(summary)
		run.logger.Info("scheduler phase completed",
			zap.Int("phase", summary.Phase),
			zap.String("name", summary.Name),
			zap.Int("placed", summary.Placed),
			zap.Int("unresolved", len(summary.Unresolved)),
			zap.Duration("duration", summary.Duration),
		)
	}
	run.report.FinishedAt = p.now().UTC()

	return &Result{
		RunID:      runID,
		Seed:       cfg.Seed,
		Timetables: run.timetables,
		Report:     run.report,
	}, nil
}

// Validate runs only the validation phase over already generated timetables.
func (p *Pipeline) Validate(ctx context.Context, in Input, timetables []*models.Timetable) (*Report, error) {
	run := newRun(in.RunID, p.cfg, in, p.logger, p.now)
	sections, err := normalizeSections(in.Sections)
	if err != nil {
		return nil, err
	}
	run.sections = sections
	for _, tt := range timetables {
		run.timetables = append(run.timetables, tt)
		run.bySection[tt.SectionID] = tt
	}
	run.completed = phasesFromMetadata(timetables)
	summary, err := runValidation(ctx, run)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseValidation, Err: err}
	}
	run.record(summary)
	return run.report, nil
}

// phasesFromMetadata treats phases as done when every timetable reached them.
func phasesFromMetadata(timetables []*models.Timetable) map[int]bool {
	done := make(map[int]bool)
	if len(timetables) == 0 {
		return done
	}
	for phase := PhaseBootstrap; phase < PhaseValidation; phase++ {
		all := true
		for _, tt := range timetables {
			if !tt.PhaseCompleted(phase) {
				all = false
				break
			}
		}
		done[phase] = all
	}
	return done
}
