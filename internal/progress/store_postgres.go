package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-progress/internal/platform/database"
)

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed progress store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) AddCompletedNodes(ctx context.Context, userID, roadmapID string, nodeIDs []string) (RoadmapProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	if userID == "" || roadmapID == "" {
		return RoadmapProgress{}, fmt.Errorf("user_id and roadmap_id are required")
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO roadmap_progress_nodes (user_id, roadmap_id, node_id)
		 SELECT $1, $2, unnest($3::text[])
		 ON CONFLICT DO NOTHING`,
		userID,
		roadmapID,
		nodeIDs,
	); err != nil {
		return RoadmapProgress{}, fmt.Errorf("insert completed nodes: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO roadmap_progress (user_id, roadmap_id, last_accessed_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id, roadmap_id) DO UPDATE SET last_accessed_at = EXCLUDED.last_accessed_at`,
		userID,
		roadmapID,
	); err != nil {
		return RoadmapProgress{}, fmt.Errorf("touch roadmap progress: %w", err)
	}

	return s.roadmapProgress(ctx, userID, roadmapID)
}

func (s *PostgresStore) RoadmapProgress(ctx context.Context, userID, roadmapID string) (RoadmapProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	return s.roadmapProgress(ctx, userID, roadmapID)
}

func (s *PostgresStore) roadmapProgress(ctx context.Context, userID, roadmapID string) (RoadmapProgress, error) {
	p := RoadmapProgress{UserID: userID, RoadmapID: roadmapID, CompletedNodeIDs: []string{}}

	err := s.pool.QueryRow(ctx,
		`SELECT last_accessed_at FROM roadmap_progress WHERE user_id = $1 AND roadmap_id = $2`,
		userID,
		roadmapID,
	).Scan(&p.LastAccessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, nil
		}
		return RoadmapProgress{}, fmt.Errorf("get roadmap progress: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT node_id FROM roadmap_progress_nodes
		 WHERE user_id = $1 AND roadmap_id = $2
		 ORDER BY node_id ASC`,
		userID,
		roadmapID,
	)
	if err != nil {
		return RoadmapProgress{}, fmt.Errorf("query completed nodes: %w", err)
	}
	nodes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return RoadmapProgress{}, fmt.Errorf("scan completed nodes: %w", err)
	}
	p.CompletedNodeIDs = append(p.CompletedNodeIDs, nodes...)
	return p, nil
}

func (s *PostgresStore) MasterProgress(ctx context.Context, userID, masterID string) (MasterProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	p := MasterProgress{UserID: userID, MasterID: masterID, CurrentYear: 1}

	var techStack *string
	err := s.pool.QueryRow(ctx,
		`SELECT current_year, chosen_tech_stack FROM master_progress
		 WHERE user_id = $1 AND master_id = $2`,
		userID,
		masterID,
	).Scan(&p.CurrentYear, &techStack)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return MasterProgress{}, fmt.Errorf("get master progress: %w", err)
	}
	if techStack != nil {
		p.ChosenTechStack = *techStack
	}

	rows, err := s.pool.Query(ctx,
		`SELECT year, completion_percent FROM master_year_progress
		 WHERE user_id = $1 AND master_id = $2
		 ORDER BY year ASC`,
		userID,
		masterID,
	)
	if err != nil {
		return MasterProgress{}, fmt.Errorf("query year progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var yp YearProgress
		if err := rows.Scan(&yp.Year, &yp.CompletionPercent); err != nil {
			return MasterProgress{}, fmt.Errorf("scan year progress: %w", err)
		}
		p.YearProgress = append(p.YearProgress, yp)
	}
	if err := rows.Err(); err != nil {
		return MasterProgress{}, fmt.Errorf("iterate year progress: %w", err)
	}

	return p, nil
}

func (s *PostgresStore) RaiseMasterProgress(ctx context.Context, next MasterProgress) error {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	batch := &pgx.Batch{}
	batch.Queue(
		`INSERT INTO master_progress (user_id, master_id, current_year, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, master_id) DO UPDATE
		 SET current_year = GREATEST(master_progress.current_year, EXCLUDED.current_year),
		     updated_at = NOW()`,
		next.UserID,
		next.MasterID,
		max(next.CurrentYear, 1),
	)
	for _, yp := range next.YearProgress {
		batch.Queue(
			`INSERT INTO master_year_progress (user_id, master_id, year, completion_percent)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id, master_id, year) DO UPDATE
			 SET completion_percent = GREATEST(master_year_progress.completion_percent, EXCLUDED.completion_percent)`,
			next.UserID,
			next.MasterID,
			yp.Year,
			yp.CompletionPercent,
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("raise master progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTechStack(ctx context.Context, userID, masterID, stack string) error {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO master_progress (user_id, master_id, chosen_tech_stack, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, master_id) DO UPDATE
		 SET chosen_tech_stack = EXCLUDED.chosen_tech_stack, updated_at = NOW()`,
		userID,
		masterID,
		stack,
	)
	if err != nil {
		return fmt.Errorf("set tech stack: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	return database.InTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		for _, table := range []string{"roadmap_progress_nodes", "roadmap_progress", "master_year_progress", "master_progress"} {
			if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE user_id = $1", userID); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		return nil
	})
}
