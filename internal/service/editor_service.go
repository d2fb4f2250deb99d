package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/ise-timetable-api/internal/availability"
	"github.com/noah-isme/ise-timetable-api/internal/dto"
	"github.com/noah-isme/ise-timetable-api/internal/editor"
	"github.com/noah-isme/ise-timetable-api/internal/models"
	appErrors "github.com/noah-isme/ise-timetable-api/pkg/errors"
)

type editorTimetableStore interface {
	FindByID(ctx context.Context, id string) (*models.Timetable, error)
	ListByScope(ctx context.Context, academicYear string, semesterType models.SemesterType) ([]*models.Timetable, error)
	SaveEdits(ctx context.Context, tt *models.Timetable) error
}

// EditorConfig governs editor sessions.
type EditorConfig struct {
	SessionTTL time.Duration
	Limits     editor.Limits
}

// EditorService hosts one conflict-resolution engine per open timetable. A timetable is
// edited by at most one session at a time; idle sessions expire after the TTL.
type EditorService struct {
	timetables editorTimetableStore
	sessions   *sessionStore
	cache      *CacheService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	limits     editor.Limits
}

// NewEditorService constructs the service.
func NewEditorService(timetables editorTimetableStore, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg EditorConfig) *EditorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 2 * time.Hour
	}
	if cfg.Limits.MaxDailyMinutes <= 0 || cfg.Limits.EarlyDayLatestEnd <= 0 {
		cfg.Limits = editor.DefaultLimits
	}
	return &EditorService{
		timetables: timetables,
		sessions:   newSessionStore(cfg.SessionTTL),
		cache:      cache,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		limits:     cfg.Limits,
	}
}

// Open starts (or resumes, for the same owner) the editing session of a timetable.
func (s *EditorService) Open(ctx context.Context, timetableID, ownerID string) (*dto.EditorSessionResponse, error) {
	if existing, ok := s.sessions.ForTimetable(timetableID); ok {
		if existing.ownerID != ownerID {
			return nil, appErrors.Clone(appErrors.ErrSessionLocked, "timetable is being edited by "+existing.ownerID)
		}
		return s.sessionResponse(existing), nil
	}

	tt, err := s.timetables.FindByID(ctx, timetableID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
		}
		return nil, appErrors.Internal(err, "failed to load timetable")
	}
	global, err := s.globalView(ctx, tt)
	if err != nil {
		return nil, err
	}

	sess := &editorSession{
		id:          uuid.NewString(),
		timetableID: timetableID,
		ownerID:     ownerID,
		engine:      editor.NewEngine(tt, global, editorStore{repo: s.timetables}, s.limits),
	}
	if !s.sessions.Claim(sess) {
		return nil, appErrors.Clone(appErrors.ErrSessionLocked, "timetable is being edited by another user")
	}
	s.metrics.SetEditorSessions(s.sessions.Len())
	s.logger.Info("editor session opened", zap.String("session_id", sess.id), zap.String("timetable_id", timetableID), zap.String("owner_id", ownerID))
	return s.sessionResponse(sess), nil
}

// Close releases the session lock, discarding unsaved edits.
func (s *EditorService) Close(_ context.Context, timetableID, sessionID string) error {
	if _, err := s.session(timetableID, sessionID); err != nil {
		return err
	}
	s.sessions.Delete(sessionID)
	s.metrics.SetEditorSessions(s.sessions.Len())
	return nil
}

// State reports the session summary.
func (s *EditorService) State(_ context.Context, timetableID, sessionID string) (*dto.EditorSessionResponse, error) {
	sess, err := s.session(timetableID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.sessionResponse(sess), nil
}

// Propose checks a move, added break or classroom change against the current view.
func (s *EditorService) Propose(ctx context.Context, timetableID, sessionID string, req dto.EditorProposalRequest) (*dto.EditorOutcomeResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid proposal")
	}
	proposal, err := toProposal(req)
	if err != nil {
		return nil, appErrors.Invalid(err, "invalid proposal")
	}
	return s.run(ctx, timetableID, sessionID, string(proposal.Kind), true, func(e *editor.Engine) (editor.Outcome, error) {
		return e.Propose(ctx, proposal)
	})
}

// Confirm applies the pending proposal.
func (s *EditorService) Confirm(ctx context.Context, timetableID, sessionID string) (*dto.EditorOutcomeResponse, error) {
	return s.run(ctx, timetableID, sessionID, "CONFIRM", true, func(e *editor.Engine) (editor.Outcome, error) {
		return e.Confirm(ctx)
	})
}

// Cancel drops the pending proposal.
func (s *EditorService) Cancel(ctx context.Context, timetableID, sessionID string) (*dto.EditorOutcomeResponse, error) {
	return s.run(ctx, timetableID, sessionID, "CANCEL", false, func(e *editor.Engine) (editor.Outcome, error) {
		e.Cancel()
		return editor.Outcome{Decision: editor.DecisionApplied}, nil
	})
}

// Undo reverts the most recent action.
func (s *EditorService) Undo(ctx context.Context, timetableID, sessionID string) (*dto.EditorOutcomeResponse, error) {
	return s.run(ctx, timetableID, sessionID, "UNDO", false, func(e *editor.Engine) (editor.Outcome, error) {
		return e.Undo(ctx)
	})
}

// Redo re-applies the most recently undone action.
func (s *EditorService) Redo(ctx context.Context, timetableID, sessionID string) (*dto.EditorOutcomeResponse, error) {
	return s.run(ctx, timetableID, sessionID, "REDO", false, func(e *editor.Engine) (editor.Outcome, error) {
		return e.Redo(ctx)
	})
}

// DeleteBreak deletes a break record; deleting a relocated default removes the default.
func (s *EditorService) DeleteBreak(ctx context.Context, timetableID, sessionID string, req dto.DeleteBreakRequest) (*dto.EditorOutcomeResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid break")
	}
	return s.run(ctx, timetableID, sessionID, string(editor.ActionDeleteBreak), false, func(e *editor.Engine) (editor.Outcome, error) {
		return e.DeleteBreak(ctx, req.BreakID)
	})
}

// RemoveDefaultBreak removes a default break on one day.
func (s *EditorService) RemoveDefaultBreak(ctx context.Context, timetableID, sessionID string, req dto.DefaultBreakRequest) (*dto.EditorOutcomeResponse, error) {
	origin, err := s.defaultOrigin(req)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, timetableID, sessionID, string(editor.ActionRemoveDefaultBreak), false, func(e *editor.Engine) (editor.Outcome, error) {
		return e.RemoveDefaultBreak(ctx, origin)
	})
}

// RestoreDefaultBreak puts a removed or relocated default break back in place.
func (s *EditorService) RestoreDefaultBreak(ctx context.Context, timetableID, sessionID string, req dto.DefaultBreakRequest) (*dto.EditorOutcomeResponse, error) {
	origin, err := s.defaultOrigin(req)
	if err != nil {
		return nil, err
	}
	proposal := editor.Proposal{Kind: editor.ActionRestoreDefaultBreak, Origin: &origin, Window: origin}
	return s.run(ctx, timetableID, sessionID, string(proposal.Kind), true, func(e *editor.Engine) (editor.Outcome, error) {
		return e.Propose(ctx, proposal)
	})
}

// Save persists the working copy.
func (s *EditorService) Save(ctx context.Context, timetableID, sessionID string) (*dto.EditorSessionResponse, error) {
	sess, err := s.session(timetableID, sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	err = sess.engine.Save(ctx)
	sess.mu.Unlock()
	if err != nil {
		return nil, mapEditorError(err)
	}
	if err := s.cache.InvalidateTimetables(ctx); err != nil {
		s.logger.Warn("cached timetable views may be stale after save",
			zap.String("session_id", sess.id), zap.String("timetable_id", timetableID), zap.Error(err))
	}
	s.logger.Info("editor session saved", zap.String("session_id", sess.id), zap.String("timetable_id", timetableID))
	return s.sessionResponse(sess), nil
}

// Revert discards unsaved edits by reloading the stored timetable.
func (s *EditorService) Revert(ctx context.Context, timetableID, sessionID string) (*dto.EditorSessionResponse, error) {
	sess, err := s.session(timetableID, sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	err = sess.engine.Revert(ctx)
	sess.mu.Unlock()
	if err != nil {
		return nil, mapEditorError(err)
	}
	return s.sessionResponse(sess), nil
}

// Sweep drops expired sessions and reports how many were released.
func (s *EditorService) Sweep() int {
	n := s.sessions.Sweep()
	if n > 0 {
		s.metrics.SetEditorSessions(s.sessions.Len())
		s.logger.Info("editor sessions expired", zap.Int("count", n))
	}
	return n
}

func (s *EditorService) run(ctx context.Context, timetableID, sessionID, kind string, refresh bool, op func(*editor.Engine) (editor.Outcome, error)) (*dto.EditorOutcomeResponse, error) {
	sess, err := s.session(timetableID, sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if refresh {
		global, err := s.globalView(ctx, sess.engine.Timetable())
		if err != nil {
			return nil, err
		}
		sess.engine.SetGlobal(global)
	}
	outcome, err := op(sess.engine)
	if err != nil {
		return nil, mapEditorError(err)
	}
	s.metrics.RecordEditDecision(kind, string(outcome.Decision))
	s.logger.Debug("editor operation",
		zap.String("session_id", sess.id),
		zap.String("kind", kind),
		zap.String("decision", string(outcome.Decision)),
		zap.Int("conflicts", len(outcome.Conflicts)),
	)
	resp := &dto.EditorOutcomeResponse{
		Decision:  outcome.Decision,
		Conflicts: outcome.Conflicts,
		Action:    outcome.Action,
		Notices:   outcome.Notices,
		State:     sess.engine.State(),
	}
	if outcome.Decision == editor.DecisionApplied {
		resp.Timetable = sess.engine.Timetable()
	}
	return resp, nil
}

// globalView indexes the other timetables of the scope as stored.
func (s *EditorService) globalView(ctx context.Context, tt *models.Timetable) (editor.GlobalView, error) {
	scope, err := s.timetables.ListByScope(ctx, tt.AcademicYear, tt.SemesterType)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load section timetables")
	}
	others := make([]*models.Timetable, 0, len(scope))
	for _, other := range scope {
		if other.ID != tt.ID {
			others = append(others, other)
		}
	}
	idx, residual := availability.Build(others)
	if len(residual) > 0 {
		s.logger.Warn("stored timetables hold double bookings", zap.String("academic_year", tt.AcademicYear), zap.Int("conflicts", len(residual)))
	}
	return editor.IndexView{Index: idx}, nil
}

func (s *EditorService) session(timetableID, sessionID string) (*editorSession, error) {
	if sessionID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "editor session id is required")
	}
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrSessionExpired, "editor session not found or expired")
	}
	if sess.timetableID != timetableID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another timetable")
	}
	return sess, nil
}

func (s *EditorService) sessionResponse(sess *editorSession) *dto.EditorSessionResponse {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return &dto.EditorSessionResponse{
		SessionID: sess.id,
		OwnerID:   sess.ownerID,
		ExpiresAt: s.sessions.ExpiresAt(sess),
		State:     sess.engine.State(),
		Timetable: sess.engine.Timetable(),
	}
}

func (s *EditorService) defaultOrigin(req dto.DefaultBreakRequest) (models.TimeWindow, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.TimeWindow{}, appErrors.Invalid(err, "invalid default break")
	}
	origin, err := req.Origin.ToWindow()
	if err != nil {
		return models.TimeWindow{}, appErrors.Invalid(err, "invalid default break")
	}
	return origin, nil
}

func toProposal(req dto.EditorProposalRequest) (editor.Proposal, error) {
	p := editor.Proposal{
		Kind:        editor.ActionKind(req.Kind),
		SlotID:      req.SlotID,
		BreakID:     req.BreakID,
		Label:       req.Label,
		ClassroomID: req.ClassroomID,
	}
	if req.Window != nil {
		w, err := req.Window.ToWindow()
		if err != nil {
			return p, err
		}
		p.Window = w
	}
	if req.Origin != nil {
		origin, err := req.Origin.ToWindow()
		if err != nil {
			return p, err
		}
		p.Origin = &origin
	}
	return p, nil
}

func mapEditorError(err error) error {
	switch {
	case errors.Is(err, editor.ErrSlotNotFound), errors.Is(err, editor.ErrBreakNotFound):
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, err.Error())
	case errors.Is(err, editor.ErrInvalidWindow), errors.Is(err, editor.ErrNotDefaultBreak),
		errors.Is(err, editor.ErrUnknownProposal), errors.Is(err, editor.ErrProjectSlot):
		return appErrors.Invalid(err, err.Error())
	case errors.Is(err, editor.ErrDefaultAlreadyRemoved), errors.Is(err, editor.ErrDefaultNotOverridden):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, err.Error())
	case errors.Is(err, editor.ErrNoPendingProposal):
		return appErrors.Clone(appErrors.ErrNoPendingProposal, "")
	case errors.Is(err, editor.ErrNothingToUndo):
		return appErrors.Clone(appErrors.ErrNothingToUndo, "")
	case errors.Is(err, editor.ErrNothingToRedo):
		return appErrors.Clone(appErrors.ErrNothingToRedo, "")
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Internal(err, "editor operation failed")
}

// editorStore adapts the timetable repository to the engine's persistence port.
type editorStore struct {
	repo editorTimetableStore
}

func (s editorStore) Load(ctx context.Context, id string) (*models.Timetable, error) {
	return s.repo.FindByID(ctx, id)
}

func (s editorStore) SaveEdits(ctx context.Context, tt *models.Timetable) error {
	return s.repo.SaveEdits(ctx, tt)
}

type editorSession struct {
	id          string
	timetableID string
	ownerID     string
	engine      *editor.Engine
	touchedAt   time.Time
	mu          sync.Mutex
}

// sessionStore keeps sessions by id with an exclusive claim per timetable.
type sessionStore struct {
	ttl         time.Duration
	now         func() time.Time
	mu          sync.RWMutex
	items       map[string]*editorSession
	byTimetable map[string]string
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{
		ttl:         ttl,
		now:         time.Now,
		items:       make(map[string]*editorSession),
		byTimetable: make(map[string]string),
	}
}

// Claim registers the session unless a live one already holds the timetable.
func (s *sessionStore) Claim(sess *editorSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byTimetable[sess.timetableID]; ok {
		if holder, live := s.items[id]; live && !s.expired(holder) {
			return false
		}
		delete(s.items, id)
	}
	sess.touchedAt = s.now()
	s.items[sess.id] = sess
	s.byTimetable[sess.timetableID] = sess.id
	return true
}

// Get returns a live session and refreshes its idle timer.
func (s *sessionStore) Get(id string) (*editorSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[id]
	if !ok {
		return nil, false
	}
	if s.expired(sess) {
		s.remove(sess)
		return nil, false
	}
	sess.touchedAt = s.now()
	return sess, true
}

// ForTimetable returns the live session holding a timetable.
func (s *sessionStore) ForTimetable(timetableID string) (*editorSession, bool) {
	s.mu.RLock()
	id, ok := s.byTimetable[timetableID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.Get(id)
}

func (s *sessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.items[id]; ok {
		s.remove(sess)
	}
}

func (s *sessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.items {
		if s.expired(sess) {
			s.remove(sess)
			n++
		}
	}
	return n
}

func (s *sessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *sessionStore) ExpiresAt(sess *editorSession) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sess.touchedAt.Add(s.ttl)
}

func (s *sessionStore) expired(sess *editorSession) bool {
	return s.now().Sub(sess.touchedAt) > s.ttl
}

// remove requires s.mu held for writing.
func (s *sessionStore) remove(sess *editorSession) {
	delete(s.items, sess.id)
	if s.byTimetable[sess.timetableID] == sess.id {
		delete(s.byTimetable, sess.timetableID)
	}
}
