package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/planner-api/pkg/config"
)

// DSN renders the lib/pq connection string for cfg.
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s timezone=UTC",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)
}

// NewPostgres returns a configured PostgreSQL client.
func NewPostgres(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Schema creates the scheduled_blocks table and its indexes when missing.
const Schema = `
CREATE TABLE IF NOT EXISTS scheduled_blocks (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	title                TEXT NOT NULL,
	description          TEXT,
	color                TEXT,
	start_time           TIMESTAMPTZ NOT NULL,
	end_time             TIMESTAMPTZ NOT NULL,
	demand_type          TEXT NOT NULL DEFAULT 'flexible',
	priority             TEXT NOT NULL DEFAULT 'medium',
	status               TEXT NOT NULL DEFAULT 'pending',
	completed_at         TIMESTAMPTZ,
	actual_start_time    TIMESTAMPTZ,
	actual_end_time      TIMESTAMPTZ,
	recurrence_type      TEXT NOT NULL DEFAULT 'none',
	recurrence_rule      JSONB,
	recurrence_end_date  TIMESTAMPTZ,
	recurrence_parent_id TEXT REFERENCES scheduled_blocks(id) ON DELETE CASCADE,
	is_recurrence_paused BOOLEAN NOT NULL DEFAULT FALSE,
	recurrence_materialized_until TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CHECK (end_time > start_time)
);
CREATE INDEX IF NOT EXISTS idx_scheduled_blocks_user_start ON scheduled_blocks (user_id, start_time);
CREATE INDEX IF NOT EXISTS idx_scheduled_blocks_parent ON scheduled_blocks (recurrence_parent_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_scheduled_blocks_occurrence ON scheduled_blocks (recurrence_parent_id, start_time) WHERE recurrence_parent_id IS NOT NULL;
`

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
