package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/planner-api/internal/calendar"
	"github.com/noah-isme/planner-api/internal/models"
	appErrors "github.com/noah-isme/planner-api/pkg/errors"
	"github.com/noah-isme/planner-api/pkg/timegrid"
)

type blockLister interface {
	List(ctx context.Context, filter models.BlockFilter) ([]models.ScheduledBlock, bool, error)
}

// DayLayout is the rendered timeline of one day.
type DayLayout struct {
	Date          string                 `json:"date"`
	PixelsPerHour float64                `json:"pixels_per_hour"`
	Height        float64                `json:"height"`
	NowTop        *float64               `json:"now_top,omitempty"`
	Blocks        []calendar.BlockLayout `json:"blocks"`
}

// MonthLayout is the rendered grid of one month.
type MonthLayout struct {
	Year  int                `json:"year"`
	Month int                `json:"month"`
	Weeks int                `json:"weeks"`
	Cells []calendar.DayCell `json:"cells"`
}

// CalendarService renders day and month layouts from a user's blocks.
type CalendarService struct {
	blocks blockLister
	grid   timegrid.Grid
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
}

// NewCalendarService constructs the service. A nil location renders in UTC.
func NewCalendarService(blocks blockLister, grid timegrid.Grid, loc *time.Location, logger *zap.Logger) *CalendarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarService{
		blocks: blocks,
		grid:   grid.Normalize(),
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source used for the now marker and today flags.
func (s *CalendarService) WithClock(now func() time.Time) *CalendarService {
	if now != nil {
		s.now = now
	}
	return s
}

// Location returns the timezone layouts are rendered in.
func (s *CalendarService) Location() *time.Location {
	return s.loc
}

// Day lays out the blocks of the calendar day containing day.
func (s *CalendarService) Day(ctx context.Context, userID string, day time.Time) (*DayLayout, bool, error) {
	start := timegrid.StartOfDay(day.In(s.loc))
	blocks, hit, err := s.blocks.List(ctx, models.BlockFilter{UserID: userID, From: start, To: start.AddDate(0, 0, 1)})
	if err != nil {
		return nil, false, err
	}
	view := calendar.NewDayView(start, blocks, nil, nil, calendar.ViewConfig{Grid: s.grid, Now: s.now})
	layout := &DayLayout{
		Date:          start.Format("2006-01-02"),
		PixelsPerHour: s.grid.PixelsPerHour,
		Height:        s.grid.MinutesToPixels(timegrid.MinutesPerDay),
		Blocks:        view.Layout(),
	}
	if top, ok := view.NowIndicator(); ok {
		layout.NowTop = &top
	}
	return layout, hit, nil
}

// Month lays out the week-aligned grid of month.
func (s *CalendarService) Month(ctx context.Context, userID string, year int, month time.Month) (*MonthLayout, bool, error) {
	if month < time.January || month > time.December {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "month must be between 1 and 12")
	}
	weeks := calendar.Weeks(year, month, s.loc, time.Sunday)
	first := weeks[0][0]
	last := weeks[len(weeks)-1][6]
	blocks, hit, err := s.blocks.List(ctx, models.BlockFilter{UserID: userID, From: first, To: last.AddDate(0, 0, 1)})
	if err != nil {
		return nil, false, err
	}
	view := calendar.NewMonthView(year, month, s.loc, blocks, nil, nil, calendar.ViewConfig{Grid: s.grid, Now: s.now})
	cells := view.Cells()
	for i := range cells {
		if cells[i].Visible == nil {
			cells[i].Visible = []models.ScheduledBlock{}
		}
	}
	s.logger.Debug("month layout built", zap.String("user_id", userID), zap.Int("blocks", len(blocks)))
	return &MonthLayout{Year: year, Month: int(month), Weeks: len(weeks), Cells: cells}, hit, nil
}
