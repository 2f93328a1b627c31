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

// MaxVisiblePerCell is how many blocks a month cell shows before collapsing into "+N".
const MaxVisiblePerCell = 2

// Rect is a cell's client bounding rectangle.
type Rect struct {
	X, Y, W, H float64
}

// Contains reports whether p lies inside r, including its top and left edges.
func (r Rect) Contains(p gesture.Point) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Y >= r.Y && p.Y < r.Y+r.H
}

// DayCell is one day of the month grid.
type DayCell struct {
	Date     time.Time               `json:"date"`
	InMonth  bool                    `json:"in_month"`
	IsToday  bool                    `json:"is_today"`
	Visible  []models.ScheduledBlock `json:"visible"`
	Overflow int                     `json:"overflow"`
}

// Weeks returns the week-aligned days covering month, split into rows of seven.
func Weeks(year int, month time.Month, loc *time.Location, weekStart time.Weekday) [][]time.Time {
	if loc == nil {
		loc = time.Local
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1)
	start := first.AddDate(0, 0, -int((7+first.Weekday()-weekStart)%7))
	end := last.AddDate(0, 0, int((7+weekStart-1-last.Weekday())%7))

	var weeks [][]time.Time
	for day := start; !day.After(end); {
		row := make([]time.Time, 7)
		for i := range row {
			row[i] = day
			day = day.AddDate(0, 0, 1)
		}
		weeks = append(weeks, row)
	}
	return weeks
}

// MoveToDay replaces the date of block's start with day as seen in loc, keeping the wall clock
// of start and end in loc unchanged.
func MoveToDay(block models.ScheduledBlock, day time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = block.StartTime.Location()
	}
	start := block.StartTime.In(loc)
	end := block.EndTime.In(loc)
	y, m, d := day.In(loc).Date()
	newStart := time.Date(y, m, d, start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), loc)
	delta := daysBetween(timegrid.StartOfDay(start), timegrid.StartOfDay(newStart))
	return newStart, end.AddDate(0, 0, delta)
}

func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// MonthView drives a month grid that supports moving blocks between days.
type MonthView struct {
	mu        sync.Mutex
	year      int
	month     time.Month
	loc       *time.Location
	weekStart time.Weekday
	blocks    []models.ScheduledBlock
	host      Host
	prompter  ScopePrompter
	cfg       ViewConfig
	tracker   *gesture.Tracker
	rects     map[string]Rect
	target    *time.Time
	busy      bool
}

// NewMonthView builds a month view. Weeks start on Sunday.
func NewMonthView(year int, month time.Month, loc *time.Location, blocks []models.ScheduledBlock, host Host, prompter ScopePrompter, cfg ViewConfig) *MonthView {
	cfg = cfg.normalize()
	if loc == nil {
		loc = time.Local
	}
	return &MonthView{
		year:      year,
		month:     month,
		loc:       loc,
		weekStart: time.Sunday,
		blocks:    append([]models.ScheduledBlock(nil), blocks...),
		host:      host,
		prompter:  prompter,
		cfg:       cfg,
		tracker:   gesture.NewTracker(cfg.Window, cfg.Thresholds),
		rects:     make(map[string]Rect),
	}
}

// Weeks returns the view's week rows.
func (v *MonthView) Weeks() [][]time.Time {
	return Weeks(v.year, v.month, v.loc, v.weekStart)
}

// Cells returns every grid day with at most MaxVisiblePerCell blocks and an overflow count.
func (v *MonthView) Cells() []DayCell {
	v.mu.Lock()
	blocks := append([]models.ScheduledBlock(nil), v.blocks...)
	v.mu.Unlock()
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].StartTime.Before(blocks[j].StartTime) })

	today := v.cfg.Now().In(v.loc)
	var cells []DayCell
	for _, week := range v.Weeks() {
		for _, day := range week {
			cell := DayCell{Date: day, InMonth: day.Month() == v.month, IsToday: sameDay(day, today)}
			for _, b := range blocks {
				if !sameDay(b.StartTime.In(v.loc), day) {
					continue
				}
				if len(cell.Visible) < MaxVisiblePerCell {
					cell.Visible = append(cell.Visible, b)
				} else {
					cell.Overflow++
				}
			}
			cells = append(cells, cell)
		}
	}
	return cells
}

// SetCellRect records the bounding rectangle of day's cell for hit-testing.
func (v *MonthView) SetCellRect(day time.Time, r Rect) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rects[dayKey(day.In(v.loc))] = r
}

// DropTarget returns the day currently under the dragged block.
func (v *MonthView) DropTarget() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.target == nil {
		return time.Time{}, false
	}
	return *v.target, true
}

// PointerDown presses a block; presses on empty cells are ignored.
func (v *MonthView) PointerDown(ctx context.Context, pos gesture.Point, at time.Time, blockID string) {
	if blockID == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.find(blockID); !ok {
		return
	}
	v.target = nil
	v.tracker.Down(gesture.PointerDown{Pos: pos, At: at, Target: &gesture.Target{BlockID: blockID}}, func(up gesture.PointerUp) {
		if err := v.PointerUp(ctx, up.Pos, up.At); err != nil && v.cfg.OnError != nil {
			v.cfg.OnError(err)
		}
	})
}

// PointerMove advances the gesture and re-runs hit-testing while dragging.
func (v *MonthView) PointerMove(pos gesture.Point, at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tracker.Move(gesture.PointerMove{Pos: pos, At: at})
	if _, dragging := v.tracker.State().(gesture.DraggingMove); dragging {
		if day, ok := v.hitTest(pos); ok {
			v.target = &day
		}
	}
}

// PointerUp resolves the gesture as a click or a day move.
func (v *MonthView) PointerUp(ctx context.Context, pos gesture.Point, at time.Time) error {
	v.mu.Lock()
	out := v.tracker.Up(gesture.PointerUp{Pos: pos, At: at})
	var target *time.Time
	if day, ok := v.hitTest(pos); ok {
		target = &day
	} else {
		target = v.target
	}
	v.target = nil
	v.mu.Unlock()

	switch o := out.(type) {
	case gesture.Click:
		v.mu.Lock()
		block, ok := v.find(o.Target.BlockID)
		v.mu.Unlock()
		if ok && v.cfg.OnBlockClick != nil {
			v.cfg.OnBlockClick(block)
		}
	case gesture.MoveDone:
		if target == nil {
			return nil
		}
		return v.moveTo(ctx, o.Target.BlockID, *target)
	}
	return nil
}

// Close drops any in-flight gesture and releases its window capture.
func (v *MonthView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tracker.Close()
	v.target = nil
}

func (v *MonthView) moveTo(ctx context.Context, blockID string, day time.Time) error {
	v.mu.Lock()
	block, ok := v.find(blockID)
	if !ok {
		v.mu.Unlock()
		return nil
	}
	if sameDay(block.StartTime.In(v.loc), day) {
		v.mu.Unlock()
		return nil
	}
	if v.busy {
		v.mu.Unlock()
		return ErrMutationInFlight
	}
	v.busy = true
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.busy = false
		v.mu.Unlock()
	}()

	newStart, newEnd := MoveToDay(block, day, v.loc)
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

func (v *MonthView) hitTest(p gesture.Point) (time.Time, bool) {
	for _, week := range v.Weeks() {
		for _, day := range week {
			if r, ok := v.rects[dayKey(day)]; ok && r.Contains(p) {
				return day, true
			}
		}
	}
	return time.Time{}, false
}

func (v *MonthView) find(id string) (models.ScheduledBlock, bool) {
	for _, b := range v.blocks {
		if b.ID == id {
			return b, true
		}
	}
	return models.ScheduledBlock{}, false
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
