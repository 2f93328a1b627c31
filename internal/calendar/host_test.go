package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
)

type moveCall struct {
	id    string
	start time.Time
	end   time.Time
	scope *recurrence.Scope
}

type deleteCall struct {
	id     string
	series bool
}

type fakeHost struct {
	mu         sync.Mutex
	saves      []SaveRequest
	saveErr    error
	saveGate   chan struct{}
	deleteGate chan struct{}
	moves      []moveCall
	deletes    []deleteCall
	deleteOK   bool
	slots      [][2]time.Time
	duplicates []models.ScheduledBlock
	completes  []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{deleteOK: true}
}

func (h *fakeHost) Save(ctx context.Context, req SaveRequest) (*models.ScheduledBlock, error) {
	if h.saveGate != nil {
		<-h.saveGate
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saves = append(h.saves, req)
	if h.saveErr != nil {
		return nil, h.saveErr
	}
	id := req.ID
	if id == "" {
		id = "new-block"
	}
	return &models.ScheduledBlock{
		ID:             id,
		Title:          req.Draft.Title,
		StartTime:      req.Draft.StartTime,
		EndTime:        req.Draft.EndTime,
		RecurrenceType: req.Draft.RecurrenceType,
		RecurrenceRule: req.Draft.RecurrenceRule,
		Status:         models.BlockPending,
	}, nil
}

func (h *fakeHost) Delete(ctx context.Context, id string, entireSeries bool) (bool, error) {
	if h.deleteGate != nil {
		<-h.deleteGate
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deletes = append(h.deletes, deleteCall{id: id, series: entireSeries})
	return h.deleteOK, nil
}

func (h *fakeHost) Duplicate(ctx context.Context, block models.ScheduledBlock) (*models.ScheduledBlock, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.duplicates = append(h.duplicates, block)
	cp := block
	cp.ID = block.ID + "-copy"
	return &cp, nil
}

func (h *fakeHost) Complete(ctx context.Context, id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completes = append(h.completes, id)
	return true, nil
}

func (h *fakeHost) MoveBlock(ctx context.Context, id string, start, end time.Time, scope *recurrence.Scope) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.moves = append(h.moves, moveCall{id: id, start: start, end: end, scope: scope})
	return true, nil
}

func (h *fakeHost) SelectSlot(start, end time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slots = append(h.slots, [2]time.Time{start, end})
}

type fakePrompter struct {
	calls   []Action
	scope   recurrence.Scope
	dismiss bool
}

func (p *fakePrompter) ChooseScope(ctx context.Context, block models.ScheduledBlock, action Action) (recurrence.Scope, bool) {
	p.calls = append(p.calls, action)
	if p.dismiss {
		return "", false
	}
	return p.scope, true
}

var day = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return time.Date(2025, 1, 6, h, m, 0, 0, time.UTC)
}

func block(id string, start, end time.Time) models.ScheduledBlock {
	return models.ScheduledBlock{
		ID:             id,
		Title:          "Block " + id,
		StartTime:      start,
		EndTime:        end,
		RecurrenceType: recurrence.TypeNone,
		RecurrenceRule: recurrence.Column{Rule: recurrence.None{}},
		Status:         models.BlockPending,
	}
}

func seriesBlock(id string, start, end time.Time) models.ScheduledBlock {
	b := block(id, start, end)
	b.RecurrenceType = recurrence.TypeWeekly
	b.RecurrenceRule = recurrence.Column{Rule: recurrence.Recurring{Frequency: recurrence.FrequencyWeekly, Interval: 1}}
	return b
}
