package service

import (
	"context"
	"time"

	"github.com/noah-isme/planner-api/internal/calendar"
	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
)

// BlockHost binds a BlockService to one user so the calendar controllers can persist through
// it in-process.
type BlockHost struct {
	svc      *BlockService
	userID   string
	onSelect func(start, end time.Time)
}

var _ calendar.Host = (*BlockHost)(nil)

// HostFor returns a calendar.Host acting as userID. onSelect receives slot selections and may
// be nil.
func (s *BlockService) HostFor(userID string, onSelect func(start, end time.Time)) *BlockHost {
	return &BlockHost{svc: s, userID: userID, onSelect: onSelect}
}

// Save creates the block when req.ID is empty and updates it otherwise.
func (h *BlockHost) Save(ctx context.Context, req calendar.SaveRequest) (*models.ScheduledBlock, error) {
	if req.ID == "" {
		return h.svc.Save(ctx, h.userID, req.Draft)
	}
	return h.svc.Update(ctx, h.userID, req.ID, req.Draft, req.Scope)
}

// Delete implements calendar.Host.
func (h *BlockHost) Delete(ctx context.Context, id string, entireSeries bool) (bool, error) {
	if err := h.svc.Delete(ctx, h.userID, id, entireSeries); err != nil {
		return false, err
	}
	return true, nil
}

// Duplicate implements calendar.Host.
func (h *BlockHost) Duplicate(ctx context.Context, block models.ScheduledBlock) (*models.ScheduledBlock, error) {
	return h.svc.Duplicate(ctx, h.userID, block.ID)
}

// Complete implements calendar.Host.
func (h *BlockHost) Complete(ctx context.Context, id string) (bool, error) {
	if _, err := h.svc.Complete(ctx, h.userID, id); err != nil {
		return false, err
	}
	return true, nil
}

// MoveBlock implements calendar.Host.
func (h *BlockHost) MoveBlock(ctx context.Context, id string, start, end time.Time, scope *recurrence.Scope) (bool, error) {
	if _, err := h.svc.Move(ctx, h.userID, id, start, end, scope); err != nil {
		return false, err
	}
	return true, nil
}

// SelectSlot implements calendar.Host.
func (h *BlockHost) SelectSlot(start, end time.Time) {
	if h.onSelect != nil {
		h.onSelect(start, end)
	}
}
