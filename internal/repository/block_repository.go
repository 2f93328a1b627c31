package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
)

const blockColumns = `id, user_id, title, description, color, start_time, end_time, demand_type, priority, status,
	completed_at, actual_start_time, actual_end_time, recurrence_type, recurrence_rule, recurrence_end_date,
	recurrence_parent_id, is_recurrence_paused, recurrence_materialized_until, created_at, updated_at`

// BlockRepository manages persistence for scheduled blocks. Every query is scoped to the owning
// user.
type BlockRepository struct {
	db *sqlx.DB
}

// NewBlockRepository constructs a BlockRepository.
func NewBlockRepository(db *sqlx.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// Create inserts a new block.
func (r *BlockRepository) Create(ctx context.Context, block *models.ScheduledBlock) error {
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if block.CreatedAt.IsZero() {
		block.CreatedAt = now
	}
	block.UpdatedAt = now

	const query = `INSERT INTO scheduled_blocks (id, user_id, title, description, color, start_time, end_time, demand_type, priority, status,
		completed_at, actual_start_time, actual_end_time, recurrence_type, recurrence_rule, recurrence_end_date,
		recurrence_parent_id, is_recurrence_paused, recurrence_materialized_until, created_at, updated_at)
		VALUES (:id, :user_id, :title, :description, :color, :start_time, :end_time, :demand_type, :priority, :status,
		:completed_at, :actual_start_time, :actual_end_time, :recurrence_type, :recurrence_rule, :recurrence_end_date,
		:recurrence_parent_id, :is_recurrence_paused, :recurrence_materialized_until, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, block); err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	return nil
}

// GetByID fetches one of the user's blocks. It returns sql.ErrNoRows when the block does not
// exist or belongs to someone else.
func (r *BlockRepository) GetByID(ctx context.Context, userID, id string) (*models.ScheduledBlock, error) {
	query := `SELECT ` + blockColumns + ` FROM scheduled_blocks WHERE user_id = $1 AND id = $2`
	var block models.ScheduledBlock
	if err := r.db.GetContext(ctx, &block, query, userID, id); err != nil {
		return nil, err
	}
	return &block, nil
}

// ListRange returns the user's blocks that intersect [from, to), ordered by start.
func (r *BlockRepository) ListRange(ctx context.Context, filter models.BlockFilter) ([]models.ScheduledBlock, error) {
	query := `SELECT ` + blockColumns + ` FROM scheduled_blocks
		WHERE user_id = $1 AND start_time < $2 AND end_time > $3 ORDER BY start_time, id`
	var blocks []models.ScheduledBlock
	if err := r.db.SelectContext(ctx, &blocks, query, filter.UserID, filter.To, filter.From); err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return blocks, nil
}

// ListSeries returns a series root and all of its instances, ordered by start.
func (r *BlockRepository) ListSeries(ctx context.Context, userID, rootID string) ([]models.ScheduledBlock, error) {
	query := `SELECT ` + blockColumns + ` FROM scheduled_blocks
		WHERE user_id = $1 AND (id = $2 OR recurrence_parent_id = $2) ORDER BY start_time, id`
	var blocks []models.ScheduledBlock
	if err := r.db.SelectContext(ctx, &blocks, query, userID, rootID); err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	return blocks, nil
}

// ListRecurringRoots returns every active series root across users.
func (r *BlockRepository) ListRecurringRoots(ctx context.Context) ([]models.ScheduledBlock, error) {
	query := `SELECT ` + blockColumns + ` FROM scheduled_blocks
		WHERE recurrence_type <> 'none' AND recurrence_parent_id IS NULL AND is_recurrence_paused = FALSE
		ORDER BY created_at`
	var blocks []models.ScheduledBlock
	if err := r.db.SelectContext(ctx, &blocks, query); err != nil {
		return nil, fmt.Errorf("list recurring roots: %w", err)
	}
	return blocks, nil
}

// Update rewrites the editable fields of one block.
func (r *BlockRepository) Update(ctx context.Context, block *models.ScheduledBlock) error {
	block.UpdatedAt = time.Now().UTC()
	const query = `UPDATE scheduled_blocks SET title = :title, description = :description, color = :color,
		start_time = :start_time, end_time = :end_time, demand_type = :demand_type, priority = :priority, status = :status,
		completed_at = :completed_at, actual_start_time = :actual_start_time, actual_end_time = :actual_end_time,
		recurrence_type = :recurrence_type, recurrence_rule = :recurrence_rule, recurrence_end_date = :recurrence_end_date,
		is_recurrence_paused = :is_recurrence_paused, recurrence_materialized_until = :recurrence_materialized_until,
		updated_at = :updated_at
		WHERE id = :id AND user_id = :user_id`
	res, err := r.db.NamedExecContext(ctx, query, block)
	if err != nil {
		return fmt.Errorf("update block: %w", err)
	}
	return requireAffected(res, "update block")
}

// UpdateTimes moves one block.
func (r *BlockRepository) UpdateTimes(ctx context.Context, userID, id string, start, end time.Time) error {
	const query = `UPDATE scheduled_blocks SET start_time = $3, end_time = $4, updated_at = $5 WHERE user_id = $1 AND id = $2`
	res, err := r.db.ExecContext(ctx, query, userID, id, start, end, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update block times: %w", err)
	}
	return requireAffected(res, "update block times")
}

// ShiftSeries moves the start and end of the root and every instance of a series. Equal deltas
// keep durations. The materialisation watermark follows the start delta.
func (r *BlockRepository) ShiftSeries(ctx context.Context, userID, rootID string, startDelta, endDelta time.Duration) (int64, error) {
	return r.shiftSeries(ctx, r.db, userID, rootID, startDelta, endDelta)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *BlockRepository) shiftSeries(ctx context.Context, db execer, userID, rootID string, startDelta, endDelta time.Duration) (int64, error) {
	const query = `UPDATE scheduled_blocks SET
		start_time = start_time + make_interval(secs => $3),
		end_time = end_time + make_interval(secs => $4),
		recurrence_materialized_until = recurrence_materialized_until + make_interval(secs => $3),
		updated_at = $5
		WHERE user_id = $1 AND (id = $2 OR recurrence_parent_id = $2)`
	res, err := db.ExecContext(ctx, query, userID, rootID, startDelta.Seconds(), endDelta.Seconds(), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("shift series: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("shift series: %w", err)
	}
	return n, nil
}

// UpdateSeries applies patch to the root and every instance of a series in one transaction.
func (r *BlockRepository) UpdateSeries(ctx context.Context, userID, rootID string, patch models.SeriesPatch) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const query = `UPDATE scheduled_blocks SET title = $3, description = $4, color = $5, demand_type = $6, priority = $7, updated_at = $8
		WHERE user_id = $1 AND (id = $2 OR recurrence_parent_id = $2)`
	if _, err := tx.ExecContext(ctx, query, userID, rootID, patch.Title, patch.Description, patch.Color, patch.DemandType, patch.Priority, time.Now().UTC()); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update series: %w", err)
	}
	if patch.StartDelta != 0 || patch.EndDelta != 0 {
		if _, err := r.shiftSeries(ctx, tx, userID, rootID, patch.StartDelta, patch.EndDelta); err != nil {
			tx.Rollback() //nolint:errcheck
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit series update: %w", err)
	}
	return nil
}

// ReplaceSeriesRule stores a new rule on a series and discards the instances starting at or
// after cutoff so they can be regenerated from there. Remaining instances take the new rule, or are
// detached into standalone blocks when the new rule does not repeat.
func (r *BlockRepository) ReplaceSeriesRule(ctx context.Context, userID, rootID string, recType recurrence.Type, rule recurrence.Column, endDate *time.Time, cutoff time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	const updateRoot = `UPDATE scheduled_blocks SET recurrence_type = $3, recurrence_rule = $4, recurrence_end_date = $5,
		recurrence_materialized_until = $7, updated_at = $6 WHERE user_id = $1 AND id = $2`
	if _, err := tx.ExecContext(ctx, updateRoot, userID, rootID, recType, rule, endDate, now, cutoff); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update series rule: %w", err)
	}
	const dropFuture = `DELETE FROM scheduled_blocks WHERE user_id = $1 AND recurrence_parent_id = $2 AND start_time >= $3`
	if _, err := tx.ExecContext(ctx, dropFuture, userID, rootID, cutoff); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("drop future instances: %w", err)
	}
	if recurrence.IsRecurring(rule.Get()) {
		const propagate = `UPDATE scheduled_blocks SET recurrence_type = $3, recurrence_rule = $4, recurrence_end_date = $5,
			updated_at = $6 WHERE user_id = $1 AND recurrence_parent_id = $2`
		if _, err := tx.ExecContext(ctx, propagate, userID, rootID, recType, rule, endDate, now); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("propagate series rule: %w", err)
		}
	} else {
		const detach = `UPDATE scheduled_blocks SET recurrence_parent_id = NULL, recurrence_type = 'none', recurrence_rule = NULL,
			recurrence_end_date = NULL, updated_at = $3 WHERE user_id = $1 AND recurrence_parent_id = $2`
		if _, err := tx.ExecContext(ctx, detach, userID, rootID, now); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("detach instances: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit series rule: %w", err)
	}
	return nil
}

// Delete removes one block. Deleting a series root hands the rule to its earliest instance so
// the rest of the series survives.
func (r *BlockRepository) Delete(ctx context.Context, userID, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	var heir string
	const next = `SELECT id FROM scheduled_blocks WHERE user_id = $1 AND recurrence_parent_id = $2 ORDER BY start_time, id LIMIT 1`
	err = tx.GetContext(ctx, &heir, next, userID, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("find series heir: %w", err)
	default:
		if err := promoteTx(ctx, tx, userID, id, heir); err != nil {
			tx.Rollback() //nolint:errcheck
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM scheduled_blocks WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete block: %w", err)
	}
	if err := requireAffected(res, "delete block"); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete block: %w", err)
	}
	return nil
}

func promoteTx(ctx context.Context, tx *sqlx.Tx, userID, rootID, heirID string) error {
	const promote = `UPDATE scheduled_blocks h SET recurrence_parent_id = NULL, recurrence_type = r.recurrence_type,
		recurrence_rule = r.recurrence_rule, recurrence_end_date = r.recurrence_end_date,
		is_recurrence_paused = r.is_recurrence_paused, recurrence_materialized_until = r.recurrence_materialized_until
		FROM scheduled_blocks r WHERE h.user_id = $1 AND h.id = $3 AND r.id = $2`
	if _, err := tx.ExecContext(ctx, promote, userID, rootID, heirID); err != nil {
		return fmt.Errorf("promote series heir: %w", err)
	}
	const reparent = `UPDATE scheduled_blocks SET recurrence_parent_id = $3 WHERE user_id = $1 AND recurrence_parent_id = $2`
	if _, err := tx.ExecContext(ctx, reparent, userID, rootID, heirID); err != nil {
		return fmt.Errorf("reparent series: %w", err)
	}
	return nil
}

// DeleteSeries removes a series root and all of its instances.
func (r *BlockRepository) DeleteSeries(ctx context.Context, userID, rootID string) (int64, error) {
	const query = `DELETE FROM scheduled_blocks WHERE user_id = $1 AND (id = $2 OR recurrence_parent_id = $2)`
	res, err := r.db.ExecContext(ctx, query, userID, rootID)
	if err != nil {
		return 0, fmt.Errorf("delete series: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete series: %w", err)
	}
	if n == 0 {
		return 0, sql.ErrNoRows
	}
	return n, nil
}

// MarkCompleted flags a block as done at the given time. An already recorded actual end is kept.
func (r *BlockRepository) MarkCompleted(ctx context.Context, userID, id string, at time.Time) error {
	const query = `UPDATE scheduled_blocks SET status = 'completed', completed_at = $3,
		actual_end_time = COALESCE(actual_end_time, $3), updated_at = $3 WHERE user_id = $1 AND id = $2`
	res, err := r.db.ExecContext(ctx, query, userID, id, at)
	if err != nil {
		return fmt.Errorf("complete block: %w", err)
	}
	return requireAffected(res, "complete block")
}

// SetPaused pauses or resumes materialisation of a series.
func (r *BlockRepository) SetPaused(ctx context.Context, userID, rootID string, paused bool) error {
	const query = `UPDATE scheduled_blocks SET is_recurrence_paused = $3, updated_at = $4
		WHERE user_id = $1 AND id = $2 AND recurrence_parent_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, userID, rootID, paused, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set series paused: %w", err)
	}
	return requireAffected(res, "set series paused")
}

// ExistsOccurrence reports whether a series already has an instance starting at start.
func (r *BlockRepository) ExistsOccurrence(ctx context.Context, parentID string, start time.Time) (bool, error) {
	const query = `SELECT 1 FROM scheduled_blocks WHERE recurrence_parent_id = $1 AND start_time = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, parentID, start); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check occurrence: %w", err)
	}
	return true, nil
}

// SetMaterializedUntil records how far a series root has been expanded.
func (r *BlockRepository) SetMaterializedUntil(ctx context.Context, rootID string, until time.Time) error {
	const query = `UPDATE scheduled_blocks SET recurrence_materialized_until = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, rootID, until); err != nil {
		return fmt.Errorf("set materialized until: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *BlockRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
