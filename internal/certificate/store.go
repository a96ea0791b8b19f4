package certificate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
	"github.com/p-n-ai/pai-progress/internal/platform/database"
)

// Store persists certificates. Create fails with a storage conflict when the
// (user, roadmap) pair already holds one.
type Store interface {
	Create(ctx context.Context, c Certificate) error
	Get(ctx context.Context, userID, roadmapID string) (Certificate, bool, error)
	GetByID(ctx context.Context, id string) (Certificate, error)
	ListForUser(ctx context.Context, userID string) ([]Certificate, error)
}

type pairKey struct{ userID, roadmapID string }

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	byPair map[pairKey]Certificate
	byID   map[string]pairKey
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory certificate store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byPair: make(map[pairKey]Certificate),
		byID:   make(map[string]pairKey),
	}
}

func (s *MemoryStore) Create(_ context.Context, c Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{c.UserID, c.RoadmapID}
	if _, ok := s.byPair[key]; ok {
		return apperr.Conflict(nil, "certificate for %q already issued", c.RoadmapID)
	}
	if _, ok := s.byID[c.ID]; ok {
		return apperr.Conflict(nil, "certificate id %q already used", c.ID)
	}
	s.byPair[key] = c
	s.byID[c.ID] = key
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID, roadmapID string) (Certificate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byPair[pairKey{userID, roadmapID}]
	return c, ok, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byID[id]
	if !ok {
		return Certificate{}, apperr.NotFound("certificate %q", id)
	}
	return s.byPair[key], nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID string) ([]Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Certificate{}
	for key, c := range s.byPair {
		if key.userID == userID {
			out = append(out, c)
		}
	}
	sortByIssued(out)
	return out, nil
}

const certificateColumns = `id, user_id, roadmap_id, percentage, verification_code, issued_at`

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed certificate store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, c Certificate) error {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO certificates (`+certificateColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID,
		c.UserID,
		c.RoadmapID,
		c.Percentage,
		c.VerificationCode,
		c.IssuedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict(err, "certificate for %q already issued", c.RoadmapID)
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, roadmapID string) (Certificate, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	c, err := scanCertificate(s.pool.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE user_id = $1 AND roadmap_id = $2`,
		userID,
		roadmapID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Certificate{}, false, nil
		}
		return Certificate{}, false, fmt.Errorf("get certificate: %w", err)
	}
	return c, true, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Certificate, error) {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	c, err := scanCertificate(s.pool.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Certificate{}, apperr.NotFound("certificate %q", id)
		}
		return Certificate{}, fmt.Errorf("get certificate: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]Certificate, error) {
	ctx, cancel := context.WithTimeout(ctx, database.Timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE user_id = $1 ORDER BY issued_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	out := []Certificate{}
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return out, nil
}

func scanCertificate(row pgx.Row) (Certificate, error) {
	var c Certificate
	err := row.Scan(&c.ID, &c.UserID, &c.RoadmapID, &c.Percentage, &c.VerificationCode, &c.IssuedAt)
	return c, err
}
