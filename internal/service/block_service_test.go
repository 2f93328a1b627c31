package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/planner-api/internal/calendar"
	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
	"github.com/noah-isme/planner-api/pkg/cache"
	appErrors "github.com/noah-isme/planner-api/pkg/errors"
	"github.com/noah-isme/planner-api/pkg/events"
)

type mockBlockRepo struct {
	mu        sync.Mutex
	items     map[string]*models.ScheduledBlock
	seq       int
	listCalls int
	listErr   error
}

func newMockBlockRepo() *mockBlockRepo {
	return &mockBlockRepo{items: map[string]*models.ScheduledBlock{}}
}

func (m *mockBlockRepo) put(block models.ScheduledBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := block
	m.items[block.ID] = &cp
}

func (m *mockBlockRepo) get(id string) (models.ScheduledBlock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[id]
	if !ok {
		return models.ScheduledBlock{}, false
	}
	return *b, true
}

func (m *mockBlockRepo) series(rootID string) []*models.ScheduledBlock {
	var out []*models.ScheduledBlock
	for _, b := range m.items {
		if b.ID == rootID || (b.RecurrenceParentID != nil && *b.RecurrenceParentID == rootID) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *mockBlockRepo) Create(ctx context.Context, block *models.ScheduledBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if block.ID == "" {
		m.seq++
		block.ID = fmt.Sprintf("blk-%d", m.seq)
	}
	if block.CreatedAt.IsZero() {
		block.CreatedAt = time.Now().UTC()
	}
	block.UpdatedAt = block.CreatedAt
	cp := *block
	m.items[block.ID] = &cp
	return nil
}

func (m *mockBlockRepo) GetByID(ctx context.Context, userID, id string) (*models.ScheduledBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[id]
	if !ok || b.UserID != userID {
		return nil, sql.ErrNoRows
	}
	cp := *b
	return &cp, nil
}

func (m *mockBlockRepo) ListRange(ctx context.Context, filter models.BlockFilter) ([]models.ScheduledBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.ScheduledBlock
	for _, b := range m.items {
		if b.UserID == filter.UserID && b.StartTime.Before(filter.To) && b.EndTime.After(filter.From) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *mockBlockRepo) ListRecurringRoots(ctx context.Context) ([]models.ScheduledBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScheduledBlock
	for _, b := range m.items {
		if b.RecurrenceType != recurrence.TypeNone && b.RecurrenceParentID == nil && !b.IsRecurrencePaused {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockBlockRepo) Update(ctx context.Context, block *models.ScheduledBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[block.ID]
	if !ok || existing.UserID != block.UserID {
		return sql.ErrNoRows
	}
	cp := *block
	m.items[block.ID] = &cp
	return nil
}

func (m *mockBlockRepo) UpdateTimes(ctx context.Context, userID, id string, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[id]
	if !ok || b.UserID != userID {
		return sql.ErrNoRows
	}
	b.StartTime, b.EndTime = start, end
	return nil
}

func (m *mockBlockRepo) ShiftSeries(ctx context.Context, userID, rootID string, startDelta, endDelta time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.series(rootID) {
		if b.UserID != userID {
			continue
		}
		b.StartTime = b.StartTime.Add(startDelta)
		b.EndTime = b.EndTime.Add(endDelta)
		n++
	}
	return n, nil
}

func (m *mockBlockRepo) UpdateSeries(ctx context.Context, userID, rootID string, patch models.SeriesPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.series(rootID) {
		b.Title = patch.Title
		b.Description = patch.Description
		b.Color = patch.Color
		b.DemandType = patch.DemandType
		b.Priority = patch.Priority
		b.StartTime = b.StartTime.Add(patch.StartDelta)
		b.EndTime = b.EndTime.Add(patch.EndDelta)
	}
	return nil
}

func (m *mockBlockRepo) ReplaceSeriesRule(ctx context.Context, userID, rootID string, recType recurrence.Type, rule recurrence.Column, endDate *time.Time, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, ok := m.items[rootID]
	if !ok {
		return sql.ErrNoRows
	}
	root.RecurrenceType, root.RecurrenceRule, root.RecurrenceEndDate, root.MaterializedUntil = recType, rule, endDate, &cutoff
	for id, b := range m.items {
		if b.RecurrenceParentID == nil || *b.RecurrenceParentID != rootID {
			continue
		}
		if !b.StartTime.Before(cutoff) {
			delete(m.items, id)
			continue
		}
		if recurrence.IsRecurring(rule.Get()) {
			b.RecurrenceType, b.RecurrenceRule, b.RecurrenceEndDate = recType, rule, endDate
		} else {
			b.RecurrenceParentID = nil
			b.RecurrenceType = recurrence.TypeNone
			b.RecurrenceRule = recurrence.Column{Rule: recurrence.None{}}
		}
	}
	return nil
}

func (m *mockBlockRepo) SetPaused(ctx context.Context, userID, rootID string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[rootID]
	if !ok || b.RecurrenceParentID != nil {
		return sql.ErrNoRows
	}
	b.IsRecurrencePaused = paused
	return nil
}

func (m *mockBlockRepo) Delete(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.items[id]
	if !ok || target.UserID != userID {
		return sql.ErrNoRows
	}
	members := m.series(id)
	if len(members) > 1 {
		heir := members[1]
		heir.RecurrenceParentID = nil
		heir.RecurrenceType, heir.RecurrenceRule = target.RecurrenceType, target.RecurrenceRule
		heir.MaterializedUntil = target.MaterializedUntil
		for _, b := range members[2:] {
			parent := heir.ID
			b.RecurrenceParentID = &parent
		}
	}
	delete(m.items, id)
	return nil
}

func (m *mockBlockRepo) DeleteSeries(ctx context.Context, userID, rootID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.series(rootID) {
		delete(m.items, b.ID)
		n++
	}
	if n == 0 {
		return 0, sql.ErrNoRows
	}
	return n, nil
}

func (m *mockBlockRepo) MarkCompleted(ctx context.Context, userID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[id]
	if !ok || b.UserID != userID {
		return sql.ErrNoRows
	}
	b.Status = models.BlockCompleted
	b.CompletedAt = &at
	if b.ActualEndTime == nil {
		b.ActualEndTime = &at
	}
	return nil
}

func (m *mockBlockRepo) ExistsOccurrence(ctx context.Context, parentID string, start time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.items {
		if b.RecurrenceParentID != nil && *b.RecurrenceParentID == parentID && b.StartTime.Equal(start) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockBlockRepo) SetMaterializedUntil(ctx context.Context, rootID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.items[rootID]; ok {
		b.MaterializedUntil = &until
	}
	return nil
}

func (m *mockBlockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.BlockEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.BlockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) last() events.BlockEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return events.BlockEvent{}
	}
	return p.events[len(p.events)-1]
}

type recordingScheduler struct {
	roots []string
}

func (r *recordingScheduler) Schedule(root models.ScheduledBlock) {
	r.roots = append(r.roots, root.ID)
}

var (
	testNow  = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	mondayAM = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	monWed   = recurrence.Recurring{Frequency: recurrence.FrequencyWeekly, Interval: 1, Days: recurrence.NewWeekdaySet(1, 3)}
)

type blockFixture struct {
	repo      *mockBlockRepo
	cache     *memoryCache
	publisher *recordingPublisher
	scheduler *recordingScheduler
	metrics   *MetricsService
	svc       *BlockService
}

func newBlockFixture() *blockFixture {
	f := &blockFixture{
		repo:      newMockBlockRepo(),
		cache:     newMemoryCache(),
		publisher: &recordingPublisher{},
		scheduler: &recordingScheduler{},
		metrics:   NewMetricsService(),
	}
	cacheSvc := NewCacheService(f.cache, f.metrics, time.Minute, nil, true)
	f.svc = NewBlockService(f.repo, cacheSvc, f.metrics, f.publisher, nil, nil).WithClock(func() time.Time { return testNow })
	f.svc.SetSeriesScheduler(f.scheduler)
	return f
}

// seedSeries stores a Mon/Wed series rooted on Monday 6 Jan with instances on 8, 13 and 15 Jan.
func (f *blockFixture) seedSeries() {
	rule := recurrence.Column{Rule: monWed}
	f.repo.put(models.ScheduledBlock{
		ID: "root", UserID: "u1", Title: "Standup", StartTime: mondayAM, EndTime: mondayAM.Add(time.Hour),
		DemandType: models.DemandFlexible, Priority: models.PriorityMedium, Status: models.BlockPending,
		RecurrenceType: recurrence.TypeWeekly, RecurrenceRule: rule,
	})
	for i, offset := range []int{2, 7, 9} {
		parent := "root"
		start := mondayAM.AddDate(0, 0, offset)
		f.repo.put(models.ScheduledBlock{
			ID: fmt.Sprintf("inst-%d", i+1), UserID: "u1", Title: "Standup", StartTime: start, EndTime: start.Add(time.Hour),
			DemandType: models.DemandFlexible, Priority: models.PriorityMedium, Status: models.BlockPending,
			RecurrenceType: recurrence.TypeWeekly, RecurrenceRule: rule, RecurrenceParentID: &parent,
		})
	}
}

func draftOf(b models.ScheduledBlock) models.BlockDraft {
	return models.BlockDraft{
		Title:             b.Title,
		Description:       b.Description,
		Color:             b.Color,
		StartTime:         b.StartTime,
		EndTime:           b.EndTime,
		DemandType:        b.DemandType,
		Priority:          b.Priority,
		Status:            b.Status,
		RecurrenceType:    b.RecurrenceType,
		RecurrenceRule:    b.RecurrenceRule,
		RecurrenceEndDate: b.RecurrenceEndDate,
	}
}

func scopePtr(s recurrence.Scope) *recurrence.Scope { return &s }

func TestBlockServiceSaveAppliesDefaults(t *testing.T) {
	f := newBlockFixture()
	desc := "   "
	block, err := f.svc.Save(context.Background(), "u1", models.BlockDraft{
		Title:       "  Standup ",
		Description: &desc,
		StartTime:   mondayAM,
		EndTime:     mondayAM.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, block.ID)
	assert.Equal(t, "u1", block.UserID)
	assert.Equal(t, "Standup", block.Title)
	assert.Nil(t, block.Description)
	assert.Equal(t, models.DemandFlexible, block.DemandType)
	assert.Equal(t, models.PriorityMedium, block.Priority)
	assert.Equal(t, models.BlockPending, block.Status)
	assert.Equal(t, recurrence.TypeNone, block.RecurrenceType)
	assert.Equal(t, recurrence.None{}, block.Rule())
	assert.False(t, block.IsPartOfSeries())
	assert.Equal(t, 60, block.DurationMinutes())

	assert.Empty(t, f.scheduler.roots)
	assert.Equal(t, []string{cache.BlocksPattern("u1")}, f.cache.invalidated)
	evt := f.publisher.last()
	assert.Equal(t, events.BlockCreated, evt.Type)
	assert.Equal(t, block.ID, evt.BlockID)
	assert.Empty(t, evt.Scope)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().BlockMutations[events.BlockCreated])
}

func TestBlockServiceSaveValidation(t *testing.T) {
	f := newBlockFixture()
	ctx := context.Background()
	base := models.BlockDraft{Title: "Gym", StartTime: mondayAM, EndTime: mondayAM.Add(time.Hour)}

	cases := []struct {
		name  string
		draft func(d models.BlockDraft) models.BlockDraft
		want  *appErrors.Error
	}{
		{"blank title", func(d models.BlockDraft) models.BlockDraft { d.Title = "  "; return d }, appErrors.ErrValidation},
		{"zero length", func(d models.BlockDraft) models.BlockDraft { d.EndTime = d.StartTime; return d }, appErrors.ErrInvalidRange},
		{"inverted", func(d models.BlockDraft) models.BlockDraft { d.EndTime = d.StartTime.Add(-time.Minute); return d }, appErrors.ErrInvalidRange},
		{"unknown priority", func(d models.BlockDraft) models.BlockDraft { d.Priority = "later"; return d }, appErrors.ErrValidation},
		{"weekly without rule", func(d models.BlockDraft) models.BlockDraft { d.RecurrenceType = recurrence.TypeWeekly; return d }, appErrors.ErrValidation},
		{"zero interval", func(d models.BlockDraft) models.BlockDraft {
			d.RecurrenceType = recurrence.TypeDaily
			d.RecurrenceRule = recurrence.Column{Rule: recurrence.Recurring{Frequency: recurrence.FrequencyDaily}}
			return d
		}, appErrors.ErrValidation},
		{"ends before start", func(d models.BlockDraft) models.BlockDraft {
			until := mondayAM.AddDate(0, 0, -1)
			d.RecurrenceType = recurrence.TypeDaily
			d.RecurrenceRule = recurrence.Column{Rule: recurrence.Recurring{Frequency: recurrence.FrequencyDaily, Interval: 1, Until: &until}}
			return d
		}, appErrors.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Save(ctx, "u1", tc.draft(base))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, f.repo.count())
}

func TestBlockServiceSaveRecurringSchedulesRoot(t *testing.T) {
	f := newBlockFixture()
	until := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	block, err := f.svc.Save(context.Background(), "u1", models.BlockDraft{
		Title:          "Standup",
		StartTime:      mondayAM,
		EndTime:        mondayAM.Add(time.Hour),
		RecurrenceType: recurrence.TypeCustom,
		RecurrenceRule: recurrence.Column{Rule: recurrence.Recurring{Frequency: recurrence.FrequencyWeekly, Interval: 2, Days: recurrence.NewWeekdaySet(1, 3), Until: &until}},
	})
	require.NoError(t, err)
	assert.Equal(t, recurrence.TypeCustom, block.RecurrenceType)
	require.NotNil(t, block.RecurrenceEndDate)
	assert.True(t, block.RecurrenceEndDate.Equal(until))
	assert.Equal(t, []string{block.ID}, f.scheduler.roots)
}

func TestBlockServiceListUsesCache(t *testing.T) {
	f := newBlockFixture()
	f.seedSeries()
	ctx := context.Background()
	filter := models.BlockFilter{UserID: "u1", From: mondayAM.Add(-9 * time.Hour), To: mondayAM.AddDate(0, 0, 7)}

	blocks, hit, err := f.svc.List(ctx, filter)
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, blocks, 2)
	assert.Equal(t, "root", blocks[0].ID)
	assert.Equal(t, "inst-1", blocks[1].ID)

	again, hit, err := f.svc.List(ctx, filter)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Len(t, again, 2)
	assert.Equal(t, 1, f.repo.listCalls)

	_, err = f.svc.Complete(ctx, "u1", "inst-1")
	require.NoError(t, err)
	refreshed, hit, err := f.svc.List(ctx, filter)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, models.BlockCompleted, refreshed[1].Status)
	assert.Equal(t, 2, f.repo.listCalls)

	_, _, err = f.svc.List(ctx, models.BlockFilter{UserID: "u1", From: filter.To, To: filter.From})
	assert.ErrorIs(t, err, appErrors.ErrInvalidRange)

	f.repo.listErr = errors.New("db down")
	_, _, err = f.svc.List(ctx, models.BlockFilter{UserID: "u1", From: filter.From, To: filter.To.Add(time.Hour)})
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestBlockServiceMoveStandalone(t *testing.T) {
	f := newBlockFixture()
	ctx := context.Background()
	block, err := f.svc.Save(ctx, "u1", models.BlockDraft{Title: "Standup", StartTime: mondayAM, EndTime: mondayAM.Add(time.Hour)})
	require.NoError(t, err)

	start := mondayAM.Add(15 * time.Minute)
	moved, err := f.svc.Move(ctx, "u1", block.ID, start, start.Add(time.Hour), nil)
	require.NoError(t, err)
	assert.True(t, moved.StartTime.Equal(start))
	stored, _ := f.repo.get(block.ID)
	assert.True(t, stored.EndTime.Equal(start.Add(time.Hour)))
	assert.Equal(t, events.BlockMoved, f.publisher.last().Type)

	_, err = f.svc.Move(ctx, "u1", block.ID, start, start, nil)
	assert.ErrorIs(t, err, appErrors.ErrInvalidRange)
	_, err = f.svc.Move(ctx, "u2", block.ID, start, start.Add(time.Hour), nil)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestBlockServiceMoveSeriesMember(t *testing.T) {
	f := newBlockFixture()
	f.seedSeries()
	ctx := context.Background()
	inst, _ := f.repo.get("inst-1")

	_, err := f.svc.Move(ctx, "u1", "inst-1", inst.StartTime.Add(time.Hour), inst.EndTime.Add(time.Hour), nil)
	assert.ErrorIs(t, err, appErrors.ErrScopeRequired)
	unchanged, _ := f.repo.get("inst-1")
	assert.True(t, unchanged.StartTime.Equal(inst.StartTime))

	_, err = f.svc.Move(ctx, "u1", "inst-1", inst.StartTime.Add(time.Hour), inst.EndTime.Add(time.Hour), scopePtr(recurrence.ScopeThis))
	require.NoError(t, err)
	root, _ := f.repo.get("root")
	assert.True(t, root.StartTime.Equal(mondayAM))
	evt := f.publisher.last()
	assert.Equal(t, "this", evt.Scope)

	_, err = f.svc.Move(ctx, "u1", "inst-2", mondayAM.AddDate(0, 0, 7).Add(-30*time.Minute), mondayAM.AddDate(0, 0, 7).Add(30*time.Minute), scopePtr(recurrence.ScopeAll))
	require.NoError(t, err)
	root, _ = f.repo.get("root")
	assert.True(t, root.StartTime.Equal(mondayAM.Add(-30*time.Minute)))
	assert.Equal(t, 60, root.DurationMinutes())
	last, _ := f.repo.get("inst-3")
	assert.True(t, last.StartTime.Equal(mondayAM.AddDate(0, 0, 9).Add(-30*time.Minute)))
	evt = f.publisher.last()
	assert.Equal(t, "all", evt.Scope)
	assert.Equal(t, int64(4), evt.Affected)
}

func TestBlockServiceUpdateSeries(t *testing.T) {
	f := newBlockFixture()
	f.seedSeries()
	ctx := context.Background()
	inst, _ := f.repo.get("inst-1")

	draft := draftOf(inst)
	draft.Title = "Daily sync"
	_, err := f.svc.Update(ctx, "u1", "inst-1", draft, nil)
	assert.ErrorIs(t, err, appErrors.ErrScopeRequired)

	// this: title changes on the occurrence only, the rule edit is ignored
	draft.RecurrenceType = recurrence.TypeDaily
	draft.RecurrenceRule = recurrence.Column{Rule: recurrence.Recurring{Frequency: recurrence.FrequencyDaily, Interval: 1}}
	updated, err := f.svc.Update(ctx, "u1", "inst-1", draft, scopePtr(recurrence.ScopeThis))
	require.NoError(t, err)
	assert.Equal(t, "Daily sync", updated.Title)
	assert.Equal(t, recurrence.TypeWeekly, updated.RecurrenceType)
	root, _ := f.repo.get("root")
	assert.Equal(t, "Standup", root.Title)
	assert.Equal(t, 4, f.repo.count())

	// all with the same rule: fields and time offsets reach every block
	draft = draftOf(inst)
	draft.Title = "Team standup"
	draft.StartTime = inst.StartTime.Add(15 * time.Minute)
	draft.EndTime = inst.EndTime.Add(30 * time.Minute)
	updated, err = f.svc.Update(ctx, "u1", "inst-1", draft, scopePtr(recurrence.ScopeAll))
	require.NoError(t, err)
	assert.Equal(t, "Team standup", updated.Title)
	root, _ = f.repo.get("root")
	assert.Equal(t, "Team standup", root.Title)
	assert.True(t, root.StartTime.Equal(mondayAM.Add(15*time.Minute)))
	assert.Equal(t, 75, root.DurationMinutes())
	assert.Equal(t, 4, f.repo.count())

	// all with a new rule: future occurrences are dropped and the root is rescheduled
	draft = draftOf(root)
	draft.RecurrenceType = recurrence.TypeDaily
	draft.RecurrenceRule = recurrence.Column{Rule: recurrence.Recurring{Frequency: recurrence.FrequencyDaily, Interval: 1}}
	_, err = f.svc.Update(ctx, "u1", "root", draft, scopePtr(recurrence.ScopeAll))
	require.NoError(t, err)
	_, ok := f.repo.get("inst-2")
	assert.False(t, ok)
	kept, ok := f.repo.get("inst-1")
	require.True(t, ok)
	assert.Equal(t, recurrence.TypeDaily, kept.RecurrenceType)
	assert.Contains(t, f.scheduler.roots, "root")
}

func TestBlockServiceUpdateStandaloneBecomesSeries(t *testing.T) {
	f := newBlockFixture()
	ctx := context.Background()
	block, err := f.svc.Save(ctx, "u1", models.BlockDraft{Title: "Standup", StartTime: mondayAM, EndTime: mondayAM.Add(time.Hour)})
	require.NoError(t, err)

	draft := draftOf(*block)
	draft.RecurrenceType = recurrence.TypeWeekly
	draft.RecurrenceRule = recurrence.Column{Rule: monWed}
	updated, err := f.svc.Update(ctx, "u1", block.ID, draft, nil)
	require.NoError(t, err)
	assert.True(t, updated.IsPartOfSeries())
	assert.Equal(t, []string{block.ID}, f.scheduler.roots)
}

func TestBlockServiceDelete(t *testing.T) {
	f := newBlockFixture()
	f.seedSeries()
	ctx := context.Background()

	require.NoError(t, f.svc.Delete(ctx, "u1", "inst-3", false))
	assert.Equal(t, 3, f.repo.count())
	assert.Equal(t, "this", f.publisher.last().Scope)

	require.NoError(t, f.svc.Delete(ctx, "u1", "root", false))
	heir, ok := f.repo.get("inst-1")
	require.True(t, ok)
	assert.Nil(t, heir.RecurrenceParentID)
	assert.True(t, heir.IsPartOfSeries())
	next, _ := f.repo.get("inst-2")
	require.NotNil(t, next.RecurrenceParentID)
	assert.Equal(t, "inst-1", *next.RecurrenceParentID)

	require.NoError(t, f.svc.Delete(ctx, "u1", "inst-2", true))
	assert.Zero(t, f.repo.count())
	assert.Equal(t, int64(2), f.publisher.last().Affected)

	assert.ErrorIs(t, f.svc.Delete(ctx, "u1", "root", true), appErrors.ErrNotFound)
}

func TestBlockServiceDuplicate(t *testing.T) {
	f := newBlockFixture()
	f.seedSeries()
	ctx := context.Background()
	_, err := f.svc.Complete(ctx, "u1", "inst-1")
	require.NoError(t, err)

	clone, err := f.svc.Duplicate(ctx, "u1", "inst-1")
	require.NoError(t, err)
	assert.NotEqual(t, "inst-1", clone.ID)
	assert.Equal(t, models.BlockPending, clone.Status)
	assert.Nil(t, clone.CompletedAt)
	assert.Nil(t, clone.ActualEndTime)
	assert.Nil(t, clone.RecurrenceParentID)
	assert.False(t, clone.IsPartOfSeries())
	assert.Empty(t, f.scheduler.roots)

	rootCopy, err := f.svc.Duplicate(ctx, "u1", "root")
	require.NoError(t, err)
	assert.True(t, rootCopy.IsPartOfSeries())
	assert.Nil(t, rootCopy.RecurrenceParentID)
	assert.Equal(t, []string{rootCopy.ID}, f.scheduler.roots)
	assert.Equal(t, events.BlockDuplicated, f.publisher.last().Type)
}

func TestBlockServiceComplete(t *testing.T) {
	f := newBlockFixture()
	f.seedSeries()
	block, err := f.svc.Complete(context.Background(), "u1", "root")
	require.NoError(t, err)
	assert.Equal(t, models.BlockCompleted, block.Status)
	require.NotNil(t, block.CompletedAt)
	assert.True(t, block.CompletedAt.Equal(testNow))
	require.NotNil(t, block.ActualEndTime)

	_, err = f.svc.Complete(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestBlockServiceSetPaused(t *testing.T) {
	f := newBlockFixture()
	f.seedSeries()
	ctx := context.Background()

	root, err := f.svc.SetPaused(ctx, "u1", "inst-2", true)
	require.NoError(t, err)
	assert.Equal(t, "root", root.ID)
	assert.True(t, root.IsRecurrencePaused)
	assert.Empty(t, f.scheduler.roots)

	_, err = f.svc.SetPaused(ctx, "u1", "root", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, f.scheduler.roots)

	block, err := f.svc.Save(ctx, "u1", models.BlockDraft{Title: "One-off", StartTime: mondayAM, EndTime: mondayAM.Add(time.Hour)})
	require.NoError(t, err)
	_, err = f.svc.SetPaused(ctx, "u1", block.ID, true)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestBlockServicePublishFailureDoesNotFailMutation(t *testing.T) {
	f := newBlockFixture()
	f.publisher.err = errors.New("nats unavailable")
	_, err := f.svc.Save(context.Background(), "u1", models.BlockDraft{Title: "Gym", StartTime: mondayAM, EndTime: mondayAM.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.count())
	assert.Zero(t, f.metrics.Snapshot().EventsPublished)
}

func TestBlockHostDrivesEditorAndDayView(t *testing.T) {
	f := newBlockFixture()
	ctx := context.Background()
	var selected []time.Time
	host := f.svc.HostFor("u1", func(start, end time.Time) { selected = append(selected, start, end) })

	editor := calendar.NewBlock(host, nil, mondayAM, mondayAM.Add(time.Hour))
	editor.SetTitle("Standup")
	saved, err := editor.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, recurrence.TypeNone, saved.RecurrenceType)
	assert.Equal(t, recurrence.None{}, saved.Rule())

	ok, err := host.MoveBlock(ctx, saved.ID, mondayAM.Add(15*time.Minute), mondayAM.Add(75*time.Minute), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, _ := f.repo.get(saved.ID)
	editor = calendar.OpenBlock(host, calendar.ScopePrompterFunc(func(context.Context, models.ScheduledBlock, calendar.Action) (recurrence.Scope, bool) {
		return recurrence.ScopeAll, true
	}), stored)
	editor.Edit()
	editor.SetRecurrence(recurrence.Form{Type: recurrence.TypeWeekly, Interval: 1, Days: recurrence.NewWeekdaySet(1, 3)})
	saved, err = editor.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, monWed, saved.Rule())
	assert.Equal(t, []string{saved.ID}, f.scheduler.roots)

	done, err := host.Complete(ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, done)

	host.SelectSlot(mondayAM, mondayAM.Add(30*time.Minute))
	assert.Len(t, selected, 2)

	deleted, err := host.Delete(ctx, saved.ID, true)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Zero(t, f.repo.count())
}
