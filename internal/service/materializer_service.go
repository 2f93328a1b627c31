package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
	"github.com/noah-isme/planner-api/pkg/cache"
	"github.com/noah-isme/planner-api/pkg/jobs"
)

type materializerRepository interface {
	ListRecurringRoots(ctx context.Context) ([]models.ScheduledBlock, error)
	GetByID(ctx context.Context, userID, id string) (*models.ScheduledBlock, error)
	ExistsOccurrence(ctx context.Context, parentID string, start time.Time) (bool, error)
	Create(ctx context.Context, block *models.ScheduledBlock) error
	SetMaterializedUntil(ctx context.Context, rootID string, until time.Time) error
}

// MaterializerConfig controls series expansion.
type MaterializerConfig struct {
	Schedule       string
	Horizon        time.Duration
	MaxOccurrences int
	Workers        int
	Retries        int
	RetryDelay     time.Duration
	// Location is the calendar zone weekdays and end dates are read in. Defaults to UTC.
	Location *time.Location
}

type seriesJob struct {
	UserID string
	RootID string
}

// MaterializerService writes the occurrences of recurring series as instance blocks linked to
// their root. Each root keeps a watermark of how far it has been expanded, so instances that
// were moved or deleted are never generated again.
type MaterializerService struct {
	repo    materializerRepository
	cache   *CacheService
	metrics *MetricsService
	cfg     MaterializerConfig
	logger  *zap.Logger
	now     func() time.Time

	queue *jobs.Queue[seriesJob]
	cron  *cron.Cron
	mu    sync.Mutex
}

// NewMaterializerService constructs a MaterializerService.
func NewMaterializerService(repo materializerRepository, cacheSvc *CacheService, metrics *MetricsService, cfg MaterializerConfig, logger *zap.Logger) *MaterializerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 30 * 24 * time.Hour
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = recurrence.DefaultMaxOccurrences
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	m := &MaterializerService{
		repo:    repo,
		cache:   cacheSvc,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	m.queue = jobs.NewQueue[seriesJob]("series-materializer", m.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return m
}

// WithClock overrides the time source.
func (m *MaterializerService) WithClock(now func() time.Time) *MaterializerService {
	if now != nil {
		m.now = now
	}
	return m
}

// Start launches the worker pool and the periodic sweep, then runs a first sweep.
func (m *MaterializerService) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cron != nil {
		m.mu.Unlock()
		return nil
	}
	m.queue.Start(ctx)
	c := cron.New()
	if _, err := c.AddFunc(m.cfg.Schedule, func() {
		if _, err := m.EnqueueAll(ctx); err != nil {
			m.logger.Error("series sweep failed", zap.Error(err))
		}
	}); err != nil {
		m.mu.Unlock()
		m.queue.Stop()
		return fmt.Errorf("invalid materializer schedule %q: %w", m.cfg.Schedule, err)
	}
	c.Start()
	m.cron = c
	m.mu.Unlock()

	m.logger.Info("series materializer started", zap.String("schedule", m.cfg.Schedule), zap.Duration("horizon", m.cfg.Horizon))
	if _, err := m.EnqueueAll(ctx); err != nil {
		m.logger.Error("initial series sweep failed", zap.Error(err))
	}
	return nil
}

// Stop halts the sweep and waits for running jobs.
func (m *MaterializerService) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	m.queue.Stop()
}

// Schedule queues root for expansion. It implements SeriesScheduler.
func (m *MaterializerService) Schedule(root models.ScheduledBlock) {
	m.enqueue(root)
}

// EnqueueAll queues every active series root and returns how many were accepted.
func (m *MaterializerService) EnqueueAll(ctx context.Context) (int, error) {
	roots, err := m.repo.ListRecurringRoots(ctx)
	if err != nil {
		return 0, fmt.Errorf("list recurring roots: %w", err)
	}
	accepted := 0
	for _, root := range roots {
		if m.enqueue(root) {
			accepted++
		}
	}
	return accepted, nil
}

func (m *MaterializerService) enqueue(root models.ScheduledBlock) bool {
	err := m.queue.Enqueue(jobs.Job[seriesJob]{Key: root.ID, Payload: seriesJob{UserID: root.UserID, RootID: root.ID}})
	switch {
	case err == nil:
		return true
	case errors.Is(err, jobs.ErrDuplicate):
		return false
	default:
		m.logger.Warn("series not queued", zap.String("root_id", root.ID), zap.Error(err))
		return false
	}
}

func (m *MaterializerService) handle(ctx context.Context, job jobs.Job[seriesJob]) error {
	_, err := m.MaterializeSeries(ctx, job.Payload.UserID, job.Payload.RootID)
	return err
}

// MaterializeSeries expands one series root up to the horizon and returns how many instances
// it created.
func (m *MaterializerService) MaterializeSeries(ctx context.Context, userID, rootID string) (int, error) {
	root, err := m.repo.GetByID(ctx, userID, rootID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("load series root: %w", err)
	}
	rule := root.Rule()
	if root.RecurrenceParentID != nil || root.IsRecurrencePaused || !recurrence.IsRecurring(rule) {
		return 0, nil
	}

	anchor := root.StartTime.In(m.cfg.Location)
	from := anchor
	if root.MaterializedUntil != nil && root.MaterializedUntil.After(from) {
		from = root.MaterializedUntil.Add(time.Second)
	}
	to := m.now().Add(m.cfg.Horizon)
	if root.RecurrenceEndDate != nil {
		y, mo, d := root.RecurrenceEndDate.In(m.cfg.Location).Date()
		last := time.Date(y, mo, d, 23, 59, 59, 0, m.cfg.Location)
		if last.Before(to) {
			to = last
		}
	}
	if !to.After(from) {
		return 0, nil
	}

	starts, truncated, err := recurrence.Expand(rule, anchor, from, to, m.cfg.MaxOccurrences)
	if err != nil {
		return 0, fmt.Errorf("expand series %s: %w", root.ID, err)
	}
	duration := root.EndTime.Sub(root.StartTime)
	created := 0
	for _, start := range starts {
		if start.Equal(root.StartTime) {
			continue
		}
		exists, err := m.repo.ExistsOccurrence(ctx, root.ID, start)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		instance := newOccurrence(*root, start, duration)
		if err := m.repo.Create(ctx, &instance); err != nil {
			return created, fmt.Errorf("create occurrence: %w", err)
		}
		created++
	}

	watermark := to
	if truncated && len(starts) > 0 {
		watermark = starts[len(starts)-1]
	}
	if err := m.repo.SetMaterializedUntil(ctx, root.ID, watermark); err != nil {
		return created, err
	}
	m.metrics.RecordOccurrences(created)
	if created > 0 {
		m.cache.Invalidate(ctx, cache.BlocksPattern(root.UserID))
		m.logger.Debug("materialized occurrences", zap.String("root_id", root.ID), zap.Int("created", created), zap.Bool("truncated", truncated))
	}
	return created, nil
}

func newOccurrence(root models.ScheduledBlock, start time.Time, duration time.Duration) models.ScheduledBlock {
	parent := root.ID
	return models.ScheduledBlock{
		UserID:             root.UserID,
		Title:              root.Title,
		Description:        root.Description,
		Color:              root.Color,
		StartTime:          start,
		EndTime:            start.Add(duration),
		DemandType:         root.DemandType,
		Priority:           root.Priority,
		Status:             models.BlockPending,
		RecurrenceType:     root.RecurrenceType,
		RecurrenceRule:     root.RecurrenceRule,
		RecurrenceEndDate:  root.RecurrenceEndDate,
		RecurrenceParentID: &parent,
	}
}
