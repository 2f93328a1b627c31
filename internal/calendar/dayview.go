package calendar

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/pkg/gesture"
	"github.com/noah-isme/planner-api/pkg/timegrid"
)

// ViewConfig tunes a view controller.
type ViewConfig struct {
	Grid       timegrid.Grid
	Thresholds gesture.Thresholds
	// Window receives document-level pointer releases; nil disables the fallback.
	Window *gesture.Window
	Now    func() time.Time
	// OnBlockClick runs when a press on a block resolves as a click.
	OnBlockClick func(block models.ScheduledBlock)
	// OnError receives failures of gestures resolved through the window fallback.
	OnError func(err error)
}

func (c ViewConfig) normalize() ViewConfig {
	c.Grid = c.Grid.Normalize()
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// BlockLayout is the rendered geometry of one block in a day column.
type BlockLayout struct {
	BlockID         string    `json:"block_id"`
	Title           string    `json:"title"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Top             float64   `json:"top"`
	Height          float64   `json:"height"`
	ShowSubtitle    bool      `json:"show_subtitle"`
	ShowDescription bool      `json:"show_description"`
	Color           *string   `json:"color,omitempty"`
	Completed       bool      `json:"completed"`
}

// CreatePreview is the provisional range of an active drag-to-create.
type CreatePreview struct {
	StartMinutes int
	EndMinutes   int
}

// DayView drives a single-day timeline.
type DayView struct {
	mu       sync.Mutex
	day      time.Time
	blocks   []models.ScheduledBlock
	host     Host
	prompter ScopePrompter
	cfg      ViewConfig
	tracker  *gesture.Tracker

	containerTop float64
	scrollOffset float64
	nowTop       float64
	nowVisible   bool
	busy         bool
}

// NewDayView builds a day view for the calendar day of day.
func NewDayView(day time.Time, blocks []models.ScheduledBlock, host Host, prompter ScopePrompter, cfg ViewConfig) *DayView {
	cfg = cfg.normalize()
	v := &DayView{
		day:      timegrid.StartOfDay(day),
		blocks:   append([]models.ScheduledBlock(nil), blocks...),
		host:     host,
		prompter: prompter,
		cfg:      cfg,
		tracker:  gesture.NewTracker(cfg.Window, cfg.Thresholds),
	}
	now := cfg.Now().In(v.day.Location())
	if sameDay(now, v.day) {
		v.nowTop = cfg.Grid.MinutesToPixels(float64(timegrid.MinutesOfDay(now)))
		v.nowVisible = true
	}
	return v
}

// SetViewport records the column's client top and its scroll offset.
func (v *DayView) SetViewport(containerTop, scrollOffset float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.containerTop = containerTop
	v.scrollOffset = scrollOffset
}

// NowIndicator returns the offset of the current-time marker, computed when the view was built.
func (v *DayView) NowIndicator() (float64, bool) {
	return v.nowTop, v.nowVisible
}

// Blocks returns the view's current blocks.
func (v *DayView) Blocks() []models.ScheduledBlock {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.ScheduledBlock(nil), v.blocks...)
}

// Layout computes the geometry of every block that intersects the day.
func (v *DayView) Layout() []BlockLayout {
	v.mu.Lock()
	defer v.mu.Unlock()
	dayEnd := v.day.AddDate(0, 0, 1)
	out := make([]BlockLayout, 0, len(v.blocks))
	for _, b := range v.blocks {
		if !b.StartTime.Before(dayEnd) || !b.EndTime.After(v.day) {
			continue
		}
		start := b.StartTime.In(v.day.Location())
		end := b.EndTime.In(v.day.Location())
		startMin := float64(timegrid.MinutesOfDay(start))
		if start.Before(v.day) {
			start, startMin = v.day, 0
		}
		endMin := startMin + end.Sub(start).Minutes()
		if end.After(dayEnd) || endMin > timegrid.MinutesPerDay {
			endMin = timegrid.MinutesPerDay
		}
		height := v.cfg.Grid.BlockHeight(endMin - startMin)
		out = append(out, BlockLayout{
			BlockID:         b.ID,
			Title:           b.Title,
			Start:           b.StartTime,
			End:             b.EndTime,
			Top:             v.cfg.Grid.MinutesToPixels(startMin),
			Height:          height,
			ShowSubtitle:    timegrid.ShowSubtitle(height),
			ShowDescription: timegrid.ShowDescription(height) && b.Description != nil && *b.Description != "",
			Color:           b.Color,
			Completed:       b.Status == models.BlockCompleted,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Top < out[j].Top })
	return out
}

// PointerDown starts a gesture. blockID is empty when the press hit empty grid space.
func (v *DayView) PointerDown(ctx context.Context, pos gesture.Point, at time.Time, blockID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ev := gesture.PointerDown{Pos: pos, At: at}
	if blockID != "" {
		block, ok := v.find(blockID)
		if !ok {
			return
		}
		top := v.containerTop - v.scrollOffset + v.cfg.Grid.MinutesToPixels(float64(timegrid.MinutesOfDay(block.StartTime.In(v.day.Location()))))
		ev.Target = &gesture.Target{BlockID: blockID, Grab: gesture.Point{X: 0, Y: pos.Y - top}}
	}
	v.tracker.Down(ev, func(up gesture.PointerUp) {
		if err := v.PointerUp(ctx, up.Pos, up.At); err != nil && v.cfg.OnError != nil {
			v.cfg.OnError(err)
		}
	})
}

// PointerMove advances the active gesture.
func (v *DayView) PointerMove(pos gesture.Point, at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tracker.Move(gesture.PointerMove{Pos: pos, At: at})
}

// CreatePreview returns the provisional range while a create drag is active.
func (v *DayView) CreatePreview() (CreatePreview, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.tracker.State().(gesture.DraggingCreate)
	if !ok {
		return CreatePreview{}, false
	}
	start := v.minutesAt(s.Origin.Y)
	end := start + timegrid.Quantum
	if s.Moved {
		end = v.minutesAt(s.Current.Y)
	}
	return CreatePreview{StartMinutes: start, EndMinutes: end}, true
}

// DragTop returns the snapped visual offset of the block being moved.
func (v *DayView) DragTop() (string, float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.tracker.State().(gesture.DraggingMove)
	if !ok {
		return "", 0, false
	}
	return s.Target.BlockID, v.cfg.Grid.MinutesToPixels(float64(v.moveStartMinutes(s.Current, s.Target))), true
}

// PointerUp resolves the gesture as a create, a move or a click.
func (v *DayView) PointerUp(ctx context.Context, pos gesture.Point, at time.Time) error {
	v.mu.Lock()
	out := v.tracker.Up(gesture.PointerUp{Pos: pos, At: at})
	v.mu.Unlock()

	switch o := out.(type) {
	case gesture.CreateDone:
		v.finishCreate(o)
	case gesture.Click:
		v.mu.Lock()
		block, ok := v.find(o.Target.BlockID)
		v.mu.Unlock()
		if ok && v.cfg.OnBlockClick != nil {
			v.cfg.OnBlockClick(block)
		}
	case gesture.MoveDone:
		return v.finishMove(ctx, o)
	}
	return nil
}

// Close drops any in-flight gesture and releases its window capture.
func (v *DayView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tracker.Close()
}

func (v *DayView) finishCreate(o gesture.CreateDone) {
	v.mu.Lock()
	start := v.minutesAt(o.Origin.Y)
	end := start + timegrid.Quantum
	if o.Moved {
		end = v.minutesAt(o.End.Y)
	}
	v.mu.Unlock()

	lo, hi := start, end
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo == hi {
		hi = lo + 30
	}
	if hi > timegrid.MinutesPerDay {
		hi = timegrid.MinutesPerDay
	}
	if v.host != nil {
		v.host.SelectSlot(timegrid.AtMinutes(v.day, lo), timegrid.AtMinutes(v.day, hi))
	}
}

func (v *DayView) finishMove(ctx context.Context, o gesture.MoveDone) error {
	v.mu.Lock()
	block, ok := v.find(o.Target.BlockID)
	if !ok {
		v.mu.Unlock()
		return nil
	}
	if v.busy {
		v.mu.Unlock()
		return ErrMutationInFlight
	}
	startMin := v.moveStartMinutes(o.End, o.Target)
	v.busy = true
	v.mu.Unlock()
	defer v.setBusy(false)

	duration := block.EndTime.Sub(block.StartTime)
	newStart := timegrid.AtMinutes(v.day, startMin)
	newEnd := newStart.Add(duration)

	scope, err := resolveScope(ctx, v.prompter, block, ActionMove)
	if err != nil {
		return err
	}
	moved, err := v.host.MoveBlock(ctx, block.ID, newStart, newEnd, scope)
	if err != nil {
		return err
	}
	if moved {
		v.mu.Lock()
		for i := range v.blocks {
			if v.blocks[i].ID == block.ID {
				v.blocks[i].StartTime = newStart
				v.blocks[i].EndTime = newEnd
			}
		}
		v.mu.Unlock()
	}
	return nil
}

// moveStartMinutes follows the pointer minus the original grab offset, snapped and clamped.
func (v *DayView) moveStartMinutes(pointer gesture.Point, target gesture.Target) int {
	return v.cfg.Grid.PixelToMinutes(pointer.Y-target.Grab.Y, v.containerTop, v.scrollOffset)
}

func (v *DayView) minutesAt(clientY float64) int {
	return v.cfg.Grid.PixelToMinutes(clientY, v.containerTop, v.scrollOffset)
}

func (v *DayView) setBusy(busy bool) {
	v.mu.Lock()
	v.busy = busy
	v.mu.Unlock()
}

func (v *DayView) find(id string) (models.ScheduledBlock, bool) {
	for _, b := range v.blocks {
		if b.ID == id {
			return b, true
		}
	}
	return models.ScheduledBlock{}, false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
