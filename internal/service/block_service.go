package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
	"github.com/noah-isme/planner-api/pkg/cache"
	appErrors "github.com/noah-isme/planner-api/pkg/errors"
	"github.com/noah-isme/planner-api/pkg/events"
)

type blockRepository interface {
	Create(ctx context.Context, block *models.ScheduledBlock) error
	GetByID(ctx context.Context, userID, id string) (*models.ScheduledBlock, error)
	ListRange(ctx context.Context, filter models.BlockFilter) ([]models.ScheduledBlock, error)
	Update(ctx context.Context, block *models.ScheduledBlock) error
	UpdateTimes(ctx context.Context, userID, id string, start, end time.Time) error
	ShiftSeries(ctx context.Context, userID, rootID string, startDelta, endDelta time.Duration) (int64, error)
	UpdateSeries(ctx context.Context, userID, rootID string, patch models.SeriesPatch) error
	ReplaceSeriesRule(ctx context.Context, userID, rootID string, recType recurrence.Type, rule recurrence.Column, endDate *time.Time, cutoff time.Time) error
	SetPaused(ctx context.Context, userID, rootID string, paused bool) error
	Delete(ctx context.Context, userID, id string) error
	DeleteSeries(ctx context.Context, userID, rootID string) (int64, error)
	MarkCompleted(ctx context.Context, userID, id string, at time.Time) error
}

// SeriesScheduler is notified when a series root needs new occurrences.
type SeriesScheduler interface {
	Schedule(root models.ScheduledBlock)
}

// BlockService implements the block use cases behind the calendar.
type BlockService struct {
	repo      blockRepository
	cache     *CacheService
	metrics   *MetricsService
	events    events.Publisher
	scheduler SeriesScheduler
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewBlockService constructs a BlockService. cache, metrics and publisher are optional.
func NewBlockService(repo blockRepository, cacheSvc *CacheService, metrics *MetricsService, publisher events.Publisher, validate *validator.Validate, logger *zap.Logger) *BlockService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &BlockService{
		repo:      repo,
		cache:     cacheSvc,
		metrics:   metrics,
		events:    publisher,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetSeriesScheduler registers the component that materialises recurring series.
func (s *BlockService) SetSeriesScheduler(scheduler SeriesScheduler) {
	s.scheduler = scheduler
}

// WithClock overrides the time source.
func (s *BlockService) WithClock(now func() time.Time) *BlockService {
	if now != nil {
		s.now = now
	}
	return s
}

// Get returns one of the user's blocks.
func (s *BlockService) Get(ctx context.Context, userID, id string) (*models.ScheduledBlock, error) {
	return s.load(ctx, userID, id)
}

// List returns the blocks intersecting [filter.From, filter.To) and whether the cache served them.
func (s *BlockService) List(ctx context.Context, filter models.BlockFilter) ([]models.ScheduledBlock, bool, error) {
	if filter.From.IsZero() || filter.To.IsZero() || !filter.To.After(filter.From) {
		return nil, false, appErrors.Clone(appErrors.ErrInvalidRange, "to must be after from")
	}
	key := cache.BlocksKey(filter.UserID, filter.From, filter.To)
	var cached []models.ScheduledBlock
	if s.cache.Get(ctx, key, &cached) {
		return cached, true, nil
	}
	start := time.Now()
	blocks, err := s.repo.ListRange(ctx, filter)
	s.metrics.ObserveDBQuery("list_blocks", time.Since(start))
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list blocks")
	}
	if blocks == nil {
		blocks = []models.ScheduledBlock{}
	}
	s.cache.Set(ctx, key, blocks, 0)
	return blocks, false, nil
}

// Save creates a block from a draft. The store assigns identity and timestamps.
func (s *BlockService) Save(ctx context.Context, userID string, draft models.BlockDraft) (*models.ScheduledBlock, error) {
	draft, err := s.normalizeDraft(draft)
	if err != nil {
		return nil, err
	}
	block := &models.ScheduledBlock{UserID: userID}
	applyDraft(block, draft, true)
	if err := s.repo.Create(ctx, block); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create block")
	}
	s.afterMutation(ctx, events.BlockCreated, block, nil, 1)
	s.schedule(block)
	return block, nil
}

// Update edits a block. Series members need a scope: ScopeThis edits the occurrence and never
// its rule, ScopeAll edits every block of the series.
func (s *BlockService) Update(ctx context.Context, userID, id string, draft models.BlockDraft, scope *recurrence.Scope) (*models.ScheduledBlock, error) {
	current, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	draft, err = s.normalizeDraft(draft)
	if err != nil {
		return nil, err
	}
	if !current.IsPartOfSeries() {
		applyDraft(current, draft, true)
		if err := s.repo.Update(ctx, current); err != nil {
			return nil, mapWriteError(err, "failed to update block")
		}
		s.afterMutation(ctx, events.BlockUpdated, current, nil, 1)
		s.schedule(current)
		return current, nil
	}
	if scope == nil {
		return nil, appErrors.Clone(appErrors.ErrScopeRequired, "")
	}
	if *scope == recurrence.ScopeAll {
		return s.updateSeries(ctx, current, draft)
	}
	applyDraft(current, draft, false)
	if err := s.repo.Update(ctx, current); err != nil {
		return nil, mapWriteError(err, "failed to update block")
	}
	s.afterMutation(ctx, events.BlockUpdated, current, scope, 1)
	return current, nil
}

func (s *BlockService) updateSeries(ctx context.Context, current *models.ScheduledBlock, draft models.BlockDraft) (*models.ScheduledBlock, error) {
	rootID := current.SeriesRootID()
	root := current
	if rootID != current.ID {
		var err error
		if root, err = s.load(ctx, current.UserID, rootID); err != nil {
			return nil, err
		}
	}
	patch := models.SeriesPatch{
		Title:       draft.Title,
		Description: draft.Description,
		Color:       draft.Color,
		DemandType:  draft.DemandType,
		Priority:    draft.Priority,
		StartDelta:  draft.StartTime.Sub(current.StartTime),
		EndDelta:    draft.EndTime.Sub(current.EndTime),
	}
	if err := s.repo.UpdateSeries(ctx, current.UserID, rootID, patch); err != nil {
		return nil, mapWriteError(err, "failed to update series")
	}
	if !sameRecurrence(root, draft) {
		if err := s.repo.ReplaceSeriesRule(ctx, current.UserID, rootID, draft.RecurrenceType, draft.RecurrenceRule, draft.RecurrenceEndDate, s.now()); err != nil {
			return nil, mapWriteError(err, "failed to update series rule")
		}
	}
	scope := recurrence.ScopeAll
	updated, err := s.load(ctx, current.UserID, current.ID)
	if err != nil {
		if !errors.Is(err, appErrors.ErrNotFound) {
			return nil, err
		}
		// the edited occurrence was regenerated by the new rule
		if updated, err = s.load(ctx, current.UserID, rootID); err != nil {
			return nil, err
		}
	}
	s.afterMutation(ctx, events.BlockUpdated, updated, &scope, 0)
	if refreshed, err := s.load(ctx, current.UserID, rootID); err == nil {
		s.schedule(refreshed)
	}
	return updated, nil
}

// Move reschedules a block. A series member requires a scope; ScopeAll shifts the root and
// every materialised occurrence by the same offsets.
func (s *BlockService) Move(ctx context.Context, userID, id string, start, end time.Time, scope *recurrence.Scope) (*models.ScheduledBlock, error) {
	if !end.After(start) {
		return nil, appErrors.Clone(appErrors.ErrInvalidRange, "")
	}
	current, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if current.IsPartOfSeries() && scope == nil {
		return nil, appErrors.Clone(appErrors.ErrScopeRequired, "")
	}
	if scope != nil && !current.IsPartOfSeries() {
		scope = nil
	}
	if scope != nil && *scope == recurrence.ScopeAll {
		n, err := s.repo.ShiftSeries(ctx, userID, current.SeriesRootID(), start.Sub(current.StartTime), end.Sub(current.EndTime))
		if err != nil {
			return nil, mapWriteError(err, "failed to move series")
		}
		current.StartTime, current.EndTime = start, end
		s.afterMutation(ctx, events.BlockMoved, current, scope, n)
		return current, nil
	}
	if err := s.repo.UpdateTimes(ctx, userID, id, start, end); err != nil {
		return nil, mapWriteError(err, "failed to move block")
	}
	current.StartTime, current.EndTime = start, end
	s.afterMutation(ctx, events.BlockMoved, current, scope, 1)
	return current, nil
}

// Delete removes a block, or its whole series when entireSeries is set on a series member.
// Deleting only a series root keeps the remaining occurrences as a series.
func (s *BlockService) Delete(ctx context.Context, userID, id string, entireSeries bool) error {
	current, err := s.load(ctx, userID, id)
	if err != nil {
		return err
	}
	var scope *recurrence.Scope
	affected := int64(1)
	if current.IsPartOfSeries() {
		sc := recurrence.ScopeThis
		if entireSeries {
			sc = recurrence.ScopeAll
		}
		scope = &sc
	}
	if scope != nil && *scope == recurrence.ScopeAll {
		affected, err = s.repo.DeleteSeries(ctx, userID, current.SeriesRootID())
	} else {
		err = s.repo.Delete(ctx, userID, id)
	}
	if err != nil {
		return mapWriteError(err, "failed to delete block")
	}
	s.afterMutation(ctx, events.BlockDeleted, current, scope, affected)
	return nil
}

// Duplicate clones a block under a new identity. The copy is pending and unlinked from any
// series; a copied series root starts a new series of its own.
func (s *BlockService) Duplicate(ctx context.Context, userID, id string) (*models.ScheduledBlock, error) {
	source, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	clone := *source
	clone.ID = ""
	clone.Status = models.BlockPending
	clone.CompletedAt = nil
	clone.ActualStartTime = nil
	clone.ActualEndTime = nil
	clone.MaterializedUntil = nil
	clone.CreatedAt = time.Time{}
	if source.RecurrenceParentID != nil {
		clone.RecurrenceParentID = nil
		clone.RecurrenceType = recurrence.TypeNone
		clone.RecurrenceRule = recurrence.Column{Rule: recurrence.None{}}
		clone.RecurrenceEndDate = nil
		clone.IsRecurrencePaused = false
	}
	if err := s.repo.Create(ctx, &clone); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to duplicate block")
	}
	s.afterMutation(ctx, events.BlockDuplicated, &clone, nil, 1)
	s.schedule(&clone)
	return &clone, nil
}

// Complete marks a block as done now.
func (s *BlockService) Complete(ctx context.Context, userID, id string) (*models.ScheduledBlock, error) {
	at := s.now()
	if err := s.repo.MarkCompleted(ctx, userID, id, at); err != nil {
		return nil, mapWriteError(err, "failed to complete block")
	}
	block, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	s.afterMutation(ctx, events.BlockCompleted, block, nil, 1)
	return block, nil
}

// SetPaused pauses or resumes materialisation of the series that id belongs to.
func (s *BlockService) SetPaused(ctx context.Context, userID, id string, paused bool) (*models.ScheduledBlock, error) {
	current, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !current.IsPartOfSeries() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "block is not part of a series")
	}
	rootID := current.SeriesRootID()
	if err := s.repo.SetPaused(ctx, userID, rootID, paused); err != nil {
		return nil, mapWriteError(err, "failed to update series")
	}
	root, err := s.load(ctx, userID, rootID)
	if err != nil {
		return nil, err
	}
	scope := recurrence.ScopeAll
	s.afterMutation(ctx, events.BlockUpdated, root, &scope, 1)
	s.schedule(root)
	return root, nil
}

func (s *BlockService) load(ctx context.Context, userID, id string) (*models.ScheduledBlock, error) {
	block, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "block not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load block")
	}
	return block, nil
}

// normalizeDraft validates a draft and fills the defaults of omitted enums.
func (s *BlockService) normalizeDraft(draft models.BlockDraft) (models.BlockDraft, error) {
	draft.Title = strings.TrimSpace(draft.Title)
	if draft.Title == "" {
		return draft, appErrors.Clone(appErrors.ErrValidation, "title is required")
	}
	if err := s.validator.Struct(draft); err != nil {
		return draft, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid block payload")
	}
	if !draft.EndTime.After(draft.StartTime) {
		return draft, appErrors.Clone(appErrors.ErrInvalidRange, "")
	}
	draft.Description = trimOptional(draft.Description)
	draft.Color = trimOptional(draft.Color)
	if draft.DemandType == "" {
		draft.DemandType = models.DemandFlexible
	}
	if draft.Priority == "" {
		draft.Priority = models.PriorityMedium
	}
	if draft.Status == "" {
		draft.Status = models.BlockPending
	}
	if draft.RecurrenceType == "" {
		draft.RecurrenceType = recurrence.TypeNone
	}
	if draft.RecurrenceType == recurrence.TypeNone {
		draft.RecurrenceRule = recurrence.Column{Rule: recurrence.None{}}
		draft.RecurrenceEndDate = nil
		return draft, nil
	}
	rec, ok := draft.RecurrenceRule.Get().(recurrence.Recurring)
	if !ok {
		return draft, appErrors.Clone(appErrors.ErrValidation, "recurrence rule is required for a repeating block")
	}
	if rec.Interval < 1 {
		return draft, appErrors.Clone(appErrors.ErrValidation, "recurrence interval must be at least 1")
	}
	if draft.RecurrenceEndDate == nil && rec.Until != nil {
		until := *rec.Until
		draft.RecurrenceEndDate = &until
	}
	if draft.RecurrenceEndDate != nil {
		y, m, d := draft.StartTime.Date()
		if draft.RecurrenceEndDate.Before(time.Date(y, m, d, 0, 0, 0, 0, draft.RecurrenceEndDate.Location())) {
			return draft, appErrors.Clone(appErrors.ErrValidation, "recurrence cannot end before the block starts")
		}
	}
	return draft, nil
}

// applyDraft copies draft fields onto block. The recurrence fields are copied only when
// withRule is set.
func applyDraft(block *models.ScheduledBlock, draft models.BlockDraft, withRule bool) {
	block.Title = draft.Title
	block.Description = draft.Description
	block.Color = draft.Color
	block.StartTime = draft.StartTime
	block.EndTime = draft.EndTime
	block.DemandType = draft.DemandType
	block.Priority = draft.Priority
	block.Status = draft.Status
	if draft.Status == models.BlockPending {
		block.CompletedAt = nil
	}
	if !withRule {
		return
	}
	if !sameRecurrence(block, draft) {
		block.MaterializedUntil = nil
	}
	block.RecurrenceType = draft.RecurrenceType
	block.RecurrenceRule = draft.RecurrenceRule
	block.RecurrenceEndDate = draft.RecurrenceEndDate
}

func sameRecurrence(block *models.ScheduledBlock, draft models.BlockDraft) bool {
	if block.RecurrenceType != draft.RecurrenceType {
		return false
	}
	a, errA := recurrence.Marshal(block.Rule())
	b, errB := recurrence.Marshal(draft.RecurrenceRule.Get())
	if errA != nil || errB != nil || !bytes.Equal(a, b) {
		return false
	}
	switch {
	case block.RecurrenceEndDate == nil && draft.RecurrenceEndDate == nil:
		return true
	case block.RecurrenceEndDate == nil || draft.RecurrenceEndDate == nil:
		return false
	}
	return block.RecurrenceEndDate.Equal(*draft.RecurrenceEndDate)
}

func (s *BlockService) schedule(block *models.ScheduledBlock) {
	if s.scheduler == nil || block == nil {
		return
	}
	if block.RecurrenceParentID != nil || block.IsRecurrencePaused || !recurrence.IsRecurring(block.Rule()) {
		return
	}
	s.scheduler.Schedule(*block)
}

func (s *BlockService) afterMutation(ctx context.Context, eventType string, block *models.ScheduledBlock, scope *recurrence.Scope, affected int64) {
	s.cache.Invalidate(ctx, cache.BlocksPattern(block.UserID))
	scopeLabel := ""
	if scope != nil {
		scopeLabel = string(*scope)
	}
	s.metrics.RecordBlockMutation(eventType, scopeLabel)
	err := s.events.Publish(ctx, events.BlockEvent{
		Type:       eventType,
		BlockID:    block.ID,
		UserID:     block.UserID,
		Scope:      scopeLabel,
		Affected:   affected,
		OccurredAt: s.now(),
	})
	s.metrics.RecordEvent(err == nil)
	if err != nil {
		s.logger.Warn("publish block event failed", zap.String("type", eventType), zap.String("block_id", block.ID), zap.Error(err))
	}
}

func mapWriteError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "block not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
