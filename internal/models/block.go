package models

import (
	"time"

	"github.com/noah-isme/planner-api/internal/recurrence"
)

// DemandType classifies how movable a block is.
type DemandType string

const (
	DemandFixed    DemandType = "fixed"
	DemandFlexible DemandType = "flexible"
)

// Priority ranks a block.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// BlockStatus tracks completion.
type BlockStatus string

const (
	BlockPending   BlockStatus = "pending"
	BlockCompleted BlockStatus = "completed"
)

// ScheduledBlock is a user-owned time-boxed item on the calendar.
type ScheduledBlock struct {
	ID                 string            `db:"id" json:"id"`
	UserID             string            `db:"user_id" json:"user_id"`
	Title              string            `db:"title" json:"title"`
	Description        *string           `db:"description" json:"description"`
	Color              *string           `db:"color" json:"color"`
	StartTime          time.Time         `db:"start_time" json:"start_time"`
	EndTime            time.Time         `db:"end_time" json:"end_time"`
	DemandType         DemandType        `db:"demand_type" json:"demand_type"`
	Priority           Priority          `db:"priority" json:"priority"`
	Status             BlockStatus       `db:"status" json:"status"`
	CompletedAt        *time.Time        `db:"completed_at" json:"completed_at"`
	ActualStartTime    *time.Time        `db:"actual_start_time" json:"actual_start_time"`
	ActualEndTime      *time.Time        `db:"actual_end_time" json:"actual_end_time"`
	RecurrenceType     recurrence.Type   `db:"recurrence_type" json:"recurrence_type"`
	RecurrenceRule     recurrence.Column `db:"recurrence_rule" json:"recurrence_rule"`
	RecurrenceEndDate  *time.Time        `db:"recurrence_end_date" json:"recurrence_end_date"`
	RecurrenceParentID *string           `db:"recurrence_parent_id" json:"recurrence_parent_id"`
	IsRecurrencePaused bool              `db:"is_recurrence_paused" json:"is_recurrence_paused"`
	MaterializedUntil  *time.Time        `db:"recurrence_materialized_until" json:"-"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
}

// DurationMinutes derives the planned length from start and end.
func (b *ScheduledBlock) DurationMinutes() int {
	return int(b.EndTime.Sub(b.StartTime) / time.Minute)
}

// IsPartOfSeries reports whether mutations on b must resolve an edit scope.
func (b *ScheduledBlock) IsPartOfSeries() bool {
	return recurrence.IsPartOfSeries(b.RecurrenceType, b.RecurrenceParentID)
}

// SeriesRootID returns the id of the block that owns the series rule.
func (b *ScheduledBlock) SeriesRootID() string {
	if b.RecurrenceParentID != nil && *b.RecurrenceParentID != "" {
		return *b.RecurrenceParentID
	}
	return b.ID
}

// Rule returns the block's recurrence rule, None when absent.
func (b *ScheduledBlock) Rule() recurrence.Rule {
	return b.RecurrenceRule.Get()
}

// BlockDraft is the save payload: it omits identity, owner, timestamps and duration.
type BlockDraft struct {
	Title             string            `json:"title" validate:"required"`
	Description       *string           `json:"description"`
	Color             *string           `json:"color"`
	StartTime         time.Time         `json:"start_time" validate:"required"`
	EndTime           time.Time         `json:"end_time" validate:"required"`
	DemandType        DemandType        `json:"demand_type" validate:"omitempty,oneof=fixed flexible"`
	Priority          Priority          `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Status            BlockStatus       `json:"status" validate:"omitempty,oneof=pending completed"`
	RecurrenceType    recurrence.Type   `json:"recurrence_type" validate:"omitempty,oneof=none daily weekly monthly custom"`
	RecurrenceRule    recurrence.Column `json:"recurrence_rule"`
	RecurrenceEndDate *time.Time        `json:"recurrence_end_date"`
}

// SeriesPatch is the set of field changes applied to every block of a series by an edit with
// scope all. Deltas shift start and end independently so a duration change propagates too.
type SeriesPatch struct {
	Title       string
	Description *string
	Color       *string
	DemandType  DemandType
	Priority    Priority
	StartDelta  time.Duration
	EndDelta    time.Duration
}

// BlockFilter narrows a block listing to an owner and time window.
type BlockFilter struct {
	UserID string
	From   time.Time
	To     time.Time
}
