package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
	"github.com/p-n-ai/pai-progress/internal/platform/database"
)

const attemptColumns = `id, user_id, roadmap_id, quiz_id, status, started_at, expires_at, finished_at`

const resultColumns = `attempt_id, user_id, roadmap_id, quiz_id, score, total_questions, percentage, passed, answers, submitted_at`

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed quiz store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

// CreateAttempt inserts only while the user has no attempt in progress and
// fewer than limit finished ones, evaluated in the inserting statement.
func (s *PostgresStore) CreateAttempt(ctx context.Context, a Attempt, limit int) error {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_attempts (`+attemptColumns+`)
		 SELECT $1::text, $2::text, $3::text, $4::text, $5::text, $6::timestamptz, $7::timestamptz, $8::timestamptz
		 WHERE NOT EXISTS (
		     SELECT 1 FROM quiz_attempts
		     WHERE user_id = $2 AND roadmap_id = $3 AND status = 'in_progress'
		 )
		 AND (
		     SELECT COUNT(*) FROM quiz_attempts
		     WHERE user_id = $2 AND roadmap_id = $3 AND status IN ('submitted', 'expired')
		 ) < $9::int`,
		a.ID,
		a.UserID,
		a.RoadmapID,
		a.QuizID,
		string(a.Status),
		a.StartedAt,
		a.ExpiresAt,
		a.FinishedAt,
		limit,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict(err, "user already has an attempt in progress on %q", a.RoadmapID)
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	used, err := s.CountTerminal(ctx, a.UserID, a.RoadmapID)
	if err != nil {
		return err
	}
	if used >= limit {
		return limitExceeded(limit, a.RoadmapID)
	}
	return apperr.Conflict(nil, "user already has an attempt in progress on %q", a.RoadmapID)
}

func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	a, err := scanAttempt(s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attempt{}, apperr.NotFound("attempt %q", id)
		}
		return Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ActiveAttempt(ctx context.Context, userID, roadmapID string) (Attempt, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	a, err := scanAttempt(s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE user_id = $1 AND roadmap_id = $2 AND status = 'in_progress'`,
		userID,
		roadmapID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attempt{}, false, nil
		}
		return Attempt{}, false, fmt.Errorf("get active attempt: %w", err)
	}
	return a, true, nil
}

func (s *PostgresStore) ExpireAttempt(ctx context.Context, id string, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE quiz_attempts SET status = 'expired', finished_at = $2
		 WHERE id = $1 AND status = 'in_progress'`,
		id,
		at,
	)
	if err != nil {
		return false, fmt.Errorf("expire attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CountTerminal(ctx context.Context, userID, roadmapID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM quiz_attempts
		 WHERE user_id = $1 AND roadmap_id = $2 AND status IN ('submitted', 'expired')`,
		userID,
		roadmapID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) SubmitAttempt(ctx context.Context, r Result) error {
	answers, err := json.Marshal(r.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	return database.InTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE quiz_attempts SET status = 'submitted', finished_at = $2
			 WHERE id = $1 AND status = 'in_progress'`,
			r.AttemptID,
			r.SubmittedAt,
		)
		if err != nil {
			return fmt.Errorf("submit attempt: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var status string
			err := tx.QueryRow(ctx, `SELECT status FROM quiz_attempts WHERE id = $1`, r.AttemptID).Scan(&status)
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NotFound("attempt %q", r.AttemptID)
			}
			if err != nil {
				return fmt.Errorf("read attempt status: %w", err)
			}
			return transitionError(Status(status))
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO quiz_results (`+resultColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.AttemptID,
			r.UserID,
			r.RoadmapID,
			r.QuizID,
			r.Score,
			r.TotalQuestions,
			r.Percentage,
			r.Passed,
			answers,
			r.SubmittedAt,
		)
		if err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Results(ctx context.Context, userID, roadmapID string) ([]Result, error) {
	return s.queryResults(ctx,
		`SELECT `+resultColumns+` FROM quiz_results
		 WHERE user_id = $1 AND roadmap_id = $2
		 ORDER BY submitted_at ASC, attempt_id ASC`,
		userID,
		roadmapID,
	)
}

func (s *PostgresStore) ResultsForRoadmap(ctx context.Context, roadmapID string) ([]Result, error) {
	return s.queryResults(ctx,
		`SELECT `+resultColumns+` FROM quiz_results
		 WHERE $1 = '' OR roadmap_id = $1
		 ORDER BY submitted_at ASC, attempt_id ASC`,
		roadmapID,
	)
}

func (s *PostgresStore) queryResults(ctx context.Context, sql string, args ...any) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := []Result{}
	for rows.Next() {
		var (
			r       Result
			answers []byte
		)
		if err := rows.Scan(
			&r.AttemptID,
			&r.UserID,
			&r.RoadmapID,
			&r.QuizID,
			&r.Score,
			&r.TotalQuestions,
			&r.Percentage,
			&r.Passed,
			&answers,
			&r.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal(answers, &r.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

func scanAttempt(row pgx.Row) (Attempt, error) {
	var (
		a      Attempt
		status string
	)
	if err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.RoadmapID,
		&a.QuizID,
		&status,
		&a.StartedAt,
		&a.ExpiresAt,
		&a.FinishedAt,
	); err != nil {
		return Attempt{}, err
	}
	a.Status = Status(status)
	return a, nil
}
