// Package calendar holds the headless interaction controllers of the calendar: the day view,
// the month view and the block editor. They translate pointer and keyboard input into calls on a
// Host, which owns persistence.
package calendar

import (
	"context"
	"net/http"
	"time"

	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
	appErrors "github.com/noah-isme/planner-api/pkg/errors"
)

// SaveRequest carries a draft to persist. ID is empty for new blocks; Scope is set only when
// an existing series member is edited.
type SaveRequest struct {
	ID    string
	Draft models.BlockDraft
	Scope *recurrence.Scope
}

// Host is the persistence collaborator behind the controllers.
type Host interface {
	Save(ctx context.Context, req SaveRequest) (*models.ScheduledBlock, error)
	Delete(ctx context.Context, id string, entireSeries bool) (bool, error)
	Duplicate(ctx context.Context, block models.ScheduledBlock) (*models.ScheduledBlock, error)
	Complete(ctx context.Context, id string) (bool, error)
	MoveBlock(ctx context.Context, id string, start, end time.Time, scope *recurrence.Scope) (bool, error)
	SelectSlot(start, end time.Time)
}

// Action names the mutation a scope choice is requested for.
type Action string

const (
	ActionMove   Action = "move"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// ScopePrompter asks the user whether a series mutation applies to one occurrence or all of
// them. ok is false when the prompt was dismissed.
type ScopePrompter interface {
	ChooseScope(ctx context.Context, block models.ScheduledBlock, action Action) (scope recurrence.Scope, ok bool)
}

// ScopePrompterFunc adapts a function to ScopePrompter.
type ScopePrompterFunc func(ctx context.Context, block models.ScheduledBlock, action Action) (recurrence.Scope, bool)

// ChooseScope implements ScopePrompter.
func (f ScopePrompterFunc) ChooseScope(ctx context.Context, block models.ScheduledBlock, action Action) (recurrence.Scope, bool) {
	return f(ctx, block, action)
}

var (
	ErrSaveInFlight     = appErrors.New("SAVE_IN_FLIGHT", http.StatusConflict, "a save is already in progress")
	ErrMutationInFlight = appErrors.New("MUTATION_IN_FLIGHT", http.StatusConflict, "a mutation is already in progress")
	ErrTitleRequired    = appErrors.New("TITLE_REQUIRED", http.StatusBadRequest, "title is required")
	ErrInvalidRange     = appErrors.New("INVALID_RANGE", http.StatusBadRequest, "end must be after start")
	ErrScopeDismissed   = appErrors.New("SCOPE_DISMISSED", http.StatusConflict, "scope choice dismissed")
	ErrNotPersisted     = appErrors.New("NOT_PERSISTED", http.StatusBadRequest, "block has not been saved")
)

// resolveScope gates a mutation on block. Non-series blocks proceed with a nil scope; series
// members proceed only with an explicit choice.
func resolveScope(ctx context.Context, prompter ScopePrompter, block models.ScheduledBlock, action Action) (*recurrence.Scope, error) {
	if !block.IsPartOfSeries() {
		return nil, nil
	}
	if prompter == nil {
		return nil, ErrScopeDismissed
	}
	scope, ok := prompter.ChooseScope(ctx, block, action)
	if !ok {
		return nil, ErrScopeDismissed
	}
	return &scope, nil
}
