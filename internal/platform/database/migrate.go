package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS roadmap_progress (
		user_id          TEXT NOT NULL,
		roadmap_id       TEXT NOT NULL,
		last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, roadmap_id)
	)`,
	`CREATE TABLE IF NOT EXISTS roadmap_progress_nodes (
		user_id      TEXT NOT NULL,
		roadmap_id   TEXT NOT NULL,
		node_id      TEXT NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, roadmap_id, node_id)
	)`,
	`CREATE TABLE IF NOT EXISTS master_progress (
		user_id           TEXT NOT NULL,
		master_id         TEXT NOT NULL,
		current_year      INTEGER NOT NULL DEFAULT 1,
		chosen_tech_stack TEXT,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, master_id)
	)`,
	`CREATE TABLE IF NOT EXISTS master_year_progress (
		user_id            TEXT NOT NULL,
		master_id          TEXT NOT NULL,
		year               INTEGER NOT NULL,
		completion_percent INTEGER NOT NULL DEFAULT 0 CHECK (completion_percent BETWEEN 0 AND 100),
		PRIMARY KEY (user_id, master_id, year)
	)`,
	`CREATE TABLE IF NOT EXISTS quiz_attempts (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		roadmap_id  TEXT NOT NULL,
		quiz_id     TEXT NOT NULL,
		status      TEXT NOT NULL CHECK (status IN ('in_progress', 'submitted', 'expired')),
		started_at  TIMESTAMPTZ NOT NULL,
		expires_at  TIMESTAMPTZ,
		finished_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quiz_attempts_user_roadmap ON quiz_attempts (user_id, roadmap_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_quiz_attempts_active
		ON quiz_attempts (user_id, roadmap_id) WHERE status = 'in_progress'`,
	`CREATE TABLE IF NOT EXISTS quiz_results (
		attempt_id      TEXT PRIMARY KEY REFERENCES quiz_attempts (id),
		user_id         TEXT NOT NULL,
		roadmap_id      TEXT NOT NULL,
		quiz_id         TEXT NOT NULL,
		score           INTEGER NOT NULL,
		total_questions INTEGER NOT NULL,
		percentage      INTEGER NOT NULL,
		passed          BOOLEAN NOT NULL,
		answers         JSONB NOT NULL DEFAULT '[]'::jsonb,
		submitted_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quiz_results_user_roadmap ON quiz_results (user_id, roadmap_id)`,
	`CREATE TABLE IF NOT EXISTS certificates (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		roadmap_id        TEXT NOT NULL,
		percentage        INTEGER NOT NULL,
		verification_code TEXT NOT NULL,
		issued_at         TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, roadmap_id)
	)`,
	`CREATE TABLE IF NOT EXISTS progression_events (
		id         BIGSERIAL PRIMARY KEY,
		user_id    TEXT NOT NULL,
		event_type TEXT NOT NULL,
		subject    TEXT,
		data       JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_progression_events_user ON progression_events (user_id, created_at)`,
}

// Migrate creates the engine's tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	slog.Info("database schema applied", "statements", len(schema))
	return nil
}
