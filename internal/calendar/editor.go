package calendar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
)

// Mode is the block editor's display mode.
type Mode int

const (
	ModeView Mode = iota
	ModeEdit
)

// Focus identifies the field holding keyboard focus.
type Focus int

const (
	FocusField Focus = iota
	FocusDescription
)

// minimumRange is how far the end is pushed when the start catches up with it.
const minimumRange = 30 * time.Minute

// Summary is the read-only view of a block.
type Summary struct {
	Title           string
	TimeRange       string
	DurationMinutes int
	Recurrence      string
	Color           *string
	Description     string
	Completed       bool
}

// BlockEditor is the two-mode form for one block.
type BlockEditor struct {
	mu         sync.Mutex
	host       Host
	prompter   ScopePrompter
	block      *models.ScheduledBlock
	mode       Mode
	saving     bool
	processing bool
	closed     bool

	title       string
	start       time.Time
	end         time.Time
	color       *string
	description string
	form        recurrence.Form
	demand      models.DemandType
	priority    models.Priority
}

// OpenBlock opens an existing block in view mode.
func OpenBlock(host Host, prompter ScopePrompter, block models.ScheduledBlock) *BlockEditor {
	e := &BlockEditor{host: host, prompter: prompter, block: &block, mode: ModeView}
	e.reset()
	return e
}

// NewBlock opens an empty editor in edit mode, pre-populated with a selected slot.
func NewBlock(host Host, prompter ScopePrompter, start, end time.Time) *BlockEditor {
	if !end.After(start) {
		end = start.Add(minimumRange)
	}
	return &BlockEditor{
		host:     host,
		prompter: prompter,
		mode:     ModeEdit,
		start:    start,
		end:      end,
		form:     recurrence.DefaultForm(),
		demand:   models.DemandFlexible,
		priority: models.PriorityMedium,
	}
}

func (e *BlockEditor) reset() {
	b := e.block
	e.title = b.Title
	e.start = b.StartTime
	e.end = b.EndTime
	e.color = b.Color
	e.description = ""
	if b.Description != nil {
		e.description = *b.Description
	}
	e.form = recurrence.Hydrate(b.RecurrenceType, b.Rule())
	e.demand = b.DemandType
	e.priority = b.Priority
}

// Mode returns the current mode.
func (e *BlockEditor) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Closed reports whether the editor finished with a successful save or delete.
func (e *BlockEditor) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Saving reports whether a save is outstanding.
func (e *BlockEditor) Saving() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saving
}

// Processing reports whether a delete, duplicate or complete call is outstanding.
func (e *BlockEditor) Processing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processing
}

// Edit switches to edit mode.
func (e *BlockEditor) Edit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = ModeEdit
}

// Cancel discards edits. Existing blocks return to view mode; new blocks close.
func (e *BlockEditor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.block == nil {
		e.closed = true
		return
	}
	e.reset()
	e.mode = ModeView
}

// Summary returns the read-only presentation of the block being edited.
func (e *BlockEditor) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Summary{
		Title:           e.title,
		TimeRange:       formatRange(e.start, e.end),
		DurationMinutes: int(e.end.Sub(e.start) / time.Minute),
		Recurrence:      recurrence.Describe(e.form.Build()),
		Color:           e.color,
		Description:     e.description,
	}
	if e.block != nil {
		s.Completed = e.block.Status == models.BlockCompleted
	}
	return s
}

// Range returns the edited start and end.
func (e *BlockEditor) Range() (time.Time, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.start, e.end
}

// Recurrence returns the recurrence form.
func (e *BlockEditor) Recurrence() recurrence.Form {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.form
}

// SetTitle updates the title.
func (e *BlockEditor) SetTitle(title string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.title = title
}

// SetStart updates the start; when it reaches the current end, the end moves to start+30min.
func (e *BlockEditor) SetStart(start time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.start = start
	if !start.Before(e.end) {
		e.end = start.Add(minimumRange)
	}
}

// SetEnd updates the end.
func (e *BlockEditor) SetEnd(end time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.end = end
}

// SetColor updates the color; nil clears it.
func (e *BlockEditor) SetColor(color *string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.color = color
}

// SetDescription updates the free-text description.
func (e *BlockEditor) SetDescription(description string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.description = description
}

// SetPriority updates the priority.
func (e *BlockEditor) SetPriority(p models.Priority) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.priority = p
}

// SetDemandType updates the demand type.
func (e *BlockEditor) SetDemandType(d models.DemandType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.demand = d
}

// SetRecurrence replaces the recurrence form.
func (e *BlockEditor) SetRecurrence(form recurrence.Form) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.form = form
}

// ToggleDay flips one weekday of the recurrence form.
func (e *BlockEditor) ToggleDay(d recurrence.Weekday) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.form = e.form.ToggleDay(d)
}

// CanSave reports whether the save action is enabled.
func (e *BlockEditor) CanSave() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.saving && strings.TrimSpace(e.title) != "" && e.end.After(e.start)
}

// Draft builds the save payload from the current fields.
func (e *BlockEditor) Draft() models.BlockDraft {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft()
}

func (e *BlockEditor) draft() models.BlockDraft {
	d := models.BlockDraft{
		Title:             strings.TrimSpace(e.title),
		Color:             e.color,
		StartTime:         e.start,
		EndTime:           e.end,
		DemandType:        e.demand,
		Priority:          e.priority,
		Status:            models.BlockPending,
		RecurrenceType:    e.form.StoredType(),
		RecurrenceRule:    recurrence.Column{Rule: e.form.Build()},
		RecurrenceEndDate: e.form.EndDate,
	}
	if desc := strings.TrimSpace(e.description); desc != "" {
		d.Description = &desc
	}
	if e.block != nil {
		d.Status = e.block.Status
	}
	return d
}

// Save persists the form. It is a no-op while another save is outstanding. A failed save keeps
// the editor open so the user can retry.
func (e *BlockEditor) Save(ctx context.Context) (*models.ScheduledBlock, error) {
	e.mu.Lock()
	if e.saving {
		e.mu.Unlock()
		return nil, ErrSaveInFlight
	}
	if e.processing {
		e.mu.Unlock()
		return nil, ErrMutationInFlight
	}
	if strings.TrimSpace(e.title) == "" {
		e.mu.Unlock()
		return nil, ErrTitleRequired
	}
	if !e.end.After(e.start) {
		e.mu.Unlock()
		return nil, ErrInvalidRange
	}
	e.saving = true
	req := SaveRequest{Draft: e.draft()}
	var current *models.ScheduledBlock
	if e.block != nil {
		cp := *e.block
		current = &cp
		req.ID = cp.ID
	}
	e.mu.Unlock()
	defer e.clearSaving()

	if current != nil {
		scope, err := resolveScope(ctx, e.prompter, *current, ActionEdit)
		if err != nil {
			return nil, err
		}
		req.Scope = scope
	}
	saved, err := e.host.Save(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("save block: %w", err)
	}
	e.mu.Lock()
	e.closed = true
	if saved != nil {
		cp := *saved
		e.block = &cp
	}
	e.mu.Unlock()
	return saved, nil
}

// Delete removes the block, asking for a scope first when it belongs to a series. The editor
// closes only when the host confirms.
func (e *BlockEditor) Delete(ctx context.Context) (bool, error) {
	block, err := e.beginProcessing()
	if err != nil {
		return false, err
	}
	defer e.endProcessing()

	entireSeries := false
	scope, err := resolveScope(ctx, e.prompter, block, ActionDelete)
	if err != nil {
		return false, err
	}
	if scope != nil {
		entireSeries = *scope == recurrence.ScopeAll
	}
	deleted, err := e.host.Delete(ctx, block.ID, entireSeries)
	if err != nil {
		return false, fmt.Errorf("delete block: %w", err)
	}
	if deleted {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
	}
	return deleted, nil
}

// Duplicate asks the host for a copy of the block.
func (e *BlockEditor) Duplicate(ctx context.Context) (*models.ScheduledBlock, error) {
	block, err := e.beginProcessing()
	if err != nil {
		return nil, err
	}
	defer e.endProcessing()
	return e.host.Duplicate(ctx, block)
}

// Complete marks the block as completed.
func (e *BlockEditor) Complete(ctx context.Context) (bool, error) {
	block, err := e.beginProcessing()
	if err != nil {
		return false, err
	}
	defer e.endProcessing()
	done, err := e.host.Complete(ctx, block.ID)
	if err != nil {
		return false, err
	}
	if done {
		e.mu.Lock()
		e.block.Status = models.BlockCompleted
		e.mu.Unlock()
	}
	return done, nil
}

// KeyEnter submits the form in edit mode. Enter inside the description field, with or without
// shift, and Shift+Enter elsewhere never submit.
func (e *BlockEditor) KeyEnter(ctx context.Context, focus Focus, shift bool) (bool, error) {
	if e.Mode() != ModeEdit || focus == FocusDescription || shift {
		return false, nil
	}
	if !e.CanSave() {
		return false, nil
	}
	_, err := e.Save(ctx)
	return err == nil, err
}

// beginProcessing claims the editor for one non-save mutation and returns a copy of its block.
func (e *BlockEditor) beginProcessing() (models.ScheduledBlock, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.block == nil {
		return models.ScheduledBlock{}, ErrNotPersisted
	}
	if e.processing || e.saving {
		return models.ScheduledBlock{}, ErrMutationInFlight
	}
	e.processing = true
	return *e.block, nil
}

func (e *BlockEditor) endProcessing() {
	e.mu.Lock()
	e.processing = false
	e.mu.Unlock()
}

func (e *BlockEditor) clearSaving() {
	e.mu.Lock()
	e.saving = false
	e.mu.Unlock()
}

func formatRange(start, end time.Time) string {
	if sameDay(start, end) {
		return fmt.Sprintf("%s, %s - %s", start.Format("02/01/2006"), start.Format("15:04"), end.Format("15:04"))
	}
	return fmt.Sprintf("%s %s - %s %s", start.Format("02/01/2006"), start.Format("15:04"), end.Format("02/01/2006"), end.Format("15:04"))
}
