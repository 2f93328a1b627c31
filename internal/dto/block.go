package dto

import (
	"fmt"
	"time"

	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
)

const dateLayout = "2006-01-02"

// RecurrenceRequest is the repeat selection of a block payload. Days use 0 for Sunday.
type RecurrenceRequest struct {
	Type     recurrence.Type `json:"type" example:"weekly"`
	Interval int             `json:"interval" example:"1"`
	Days     []int           `json:"days" example:"1,3"`
	EndDate  *string         `json:"end_date,omitempty" example:"2025-03-31"`
}

// Form converts the request into the editor's recurrence form.
func (r *RecurrenceRequest) Form() (recurrence.Form, error) {
	if r == nil {
		return recurrence.DefaultForm(), nil
	}
	form := recurrence.Form{Type: r.Type, Interval: r.Interval}
	if form.Type == "" {
		form.Type = recurrence.TypeNone
	}
	if !form.Type.Valid() {
		return recurrence.Form{}, fmt.Errorf("unknown recurrence type %q", r.Type)
	}
	for _, d := range r.Days {
		day := recurrence.Weekday(d)
		if !day.Valid() {
			return recurrence.Form{}, fmt.Errorf("weekday %d out of range", d)
		}
		form.Days = form.Days.With(day)
	}
	if r.EndDate != nil && *r.EndDate != "" {
		end, err := time.Parse(dateLayout, *r.EndDate)
		if err != nil {
			return recurrence.Form{}, fmt.Errorf("end_date must be YYYY-MM-DD")
		}
		form.EndDate = &end
	}
	return form, nil
}

// BlockRequest is the create and update payload of a scheduled block.
type BlockRequest struct {
	Title       string             `json:"title" binding:"required" example:"Deep work"`
	Description *string            `json:"description,omitempty"`
	Color       *string            `json:"color,omitempty" example:"#4f46e5"`
	StartTime   time.Time          `json:"start_time" binding:"required"`
	EndTime     time.Time          `json:"end_time" binding:"required"`
	DemandType  models.DemandType  `json:"demand_type,omitempty" example:"flexible"`
	Priority    models.Priority    `json:"priority,omitempty" example:"medium"`
	Status      models.BlockStatus `json:"status,omitempty" example:"pending"`
	Recurrence  *RecurrenceRequest `json:"recurrence,omitempty"`
}

// Draft converts the payload into a block draft.
func (r BlockRequest) Draft() (models.BlockDraft, error) {
	form, err := r.Recurrence.Form()
	if err != nil {
		return models.BlockDraft{}, err
	}
	return models.BlockDraft{
		Title:             r.Title,
		Description:       r.Description,
		Color:             r.Color,
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		DemandType:        r.DemandType,
		Priority:          r.Priority,
		Status:            r.Status,
		RecurrenceType:    form.StoredType(),
		RecurrenceRule:    recurrence.Column{Rule: form.Build()},
		RecurrenceEndDate: form.EndDate,
	}, nil
}

// NewBlockRequest builds the payload that reproduces draft.
func NewBlockRequest(draft models.BlockDraft) BlockRequest {
	req := BlockRequest{
		Title:       draft.Title,
		Description: draft.Description,
		Color:       draft.Color,
		StartTime:   draft.StartTime,
		EndTime:     draft.EndTime,
		DemandType:  draft.DemandType,
		Priority:    draft.Priority,
		Status:      draft.Status,
	}
	form := recurrence.Hydrate(draft.RecurrenceType, draft.RecurrenceRule.Get())
	if form.Type == recurrence.TypeNone {
		return req
	}
	rec := &RecurrenceRequest{Type: form.Type, Interval: form.Interval, Days: []int{}}
	for _, d := range form.Days.Days() {
		rec.Days = append(rec.Days, int(d))
	}
	if form.EndDate != nil {
		end := form.EndDate.Format(dateLayout)
		rec.EndDate = &end
	}
	req.Recurrence = rec
	return req
}

// MoveRequest carries the new range of a dragged block.
type MoveRequest struct {
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
	Scope     *string   `json:"scope,omitempty" example:"this"`
}

// ExportRequest asks for a rendered export of a date window.
type ExportRequest struct {
	From           string `json:"from" binding:"required" example:"2025-01-01"`
	To             string `json:"to" binding:"required" example:"2025-01-31"`
	Format         string `json:"format" binding:"required" example:"ics"`
	CollapseSeries bool   `json:"collapse_series"`
}

// RecurrenceView describes a block's repeat settings for display.
type RecurrenceView struct {
	Type     recurrence.Type `json:"type"`
	Interval int             `json:"interval"`
	Days     []int           `json:"days"`
	EndDate  *string         `json:"end_date,omitempty"`
	Label    string          `json:"label"`
}

// BlockResponse is a block enriched with derived fields.
type BlockResponse struct {
	models.ScheduledBlock
	DurationMinutes int            `json:"duration_minutes"`
	IsPartOfSeries  bool           `json:"is_part_of_series"`
	SeriesRootID    string         `json:"series_root_id"`
	Recurrence      RecurrenceView `json:"recurrence"`
}

// NewBlockResponse derives the response view of b.
func NewBlockResponse(b models.ScheduledBlock) BlockResponse {
	form := recurrence.Hydrate(b.RecurrenceType, b.Rule())
	view := RecurrenceView{
		Type:     form.Type,
		Interval: form.Interval,
		Days:     []int{},
		Label:    recurrence.Describe(b.Rule()),
	}
	for _, d := range form.Days.Days() {
		view.Days = append(view.Days, int(d))
	}
	if form.EndDate != nil {
		end := form.EndDate.Format(dateLayout)
		view.EndDate = &end
	}
	return BlockResponse{
		ScheduledBlock:  b,
		DurationMinutes: b.DurationMinutes(),
		IsPartOfSeries:  b.IsPartOfSeries(),
		SeriesRootID:    b.SeriesRootID(),
		Recurrence:      view,
	}
}

// NewBlockResponses maps a slice of blocks.
func NewBlockResponses(blocks []models.ScheduledBlock) []BlockResponse {
	out := make([]BlockResponse, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, NewBlockResponse(b))
	}
	return out
}

// ParseDate reads a YYYY-MM-DD date at midnight in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(dateLayout, raw, loc)
}
