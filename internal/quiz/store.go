package quiz

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
)

// Store persists attempts and results. Status transitions are conditional
// on the attempt still being in progress.
type Store interface {
	// CreateAttempt fails with a storage conflict when the user already has
	// an in-progress attempt on the roadmap, and with AttemptLimitExceeded
	// when limit submitted or expired attempts exist. Both checks and the
	// insert are one atomic step.
	CreateAttempt(ctx context.Context, a Attempt, limit int) error
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	// ActiveAttempt returns the user's in-progress attempt on the roadmap.
	ActiveAttempt(ctx context.Context, userID, roadmapID string) (Attempt, bool, error)
	// ExpireAttempt moves an in-progress attempt to expired and reports
	// whether this call made the transition.
	ExpireAttempt(ctx context.Context, id string, at time.Time) (bool, error)
	// CountTerminal counts submitted and expired attempts.
	CountTerminal(ctx context.Context, userID, roadmapID string) (int, error)
	// SubmitAttempt marks the attempt submitted and writes its result in
	// one step. The loser of a race gets AlreadySubmitted or AttemptExpired.
	SubmitAttempt(ctx context.Context, r Result) error
	// Results returns the user's results on the roadmap, oldest first.
	Results(ctx context.Context, userID, roadmapID string) ([]Result, error)
	// ResultsForRoadmap returns every user's results on a roadmap, or on all
	// roadmaps when roadmapID is empty, oldest first.
	ResultsForRoadmap(ctx context.Context, roadmapID string) ([]Result, error)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	attempts map[string]*Attempt
	results  map[string]Result // attempt id -> result
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory quiz store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts: make(map[string]*Attempt),
		results:  make(map[string]Result),
	}
}

func (s *MemoryStore) CreateAttempt(_ context.Context, a Attempt, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attempts[a.ID]; ok {
		return apperr.Conflict(nil, "attempt %q already exists", a.ID)
	}
	if _, ok := s.active(a.UserID, a.RoadmapID); ok {
		return apperr.Conflict(nil, "user already has an attempt in progress on %q", a.RoadmapID)
	}
	if s.terminal(a.UserID, a.RoadmapID) >= limit {
		return limitExceeded(limit, a.RoadmapID)
	}
	stored := a
	s.attempts[a.ID] = &stored
	return nil
}

func (s *MemoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[id]
	if !ok {
		return Attempt{}, apperr.NotFound("attempt %q", id)
	}
	return *a, nil
}

func (s *MemoryStore) ActiveAttempt(_ context.Context, userID, roadmapID string) (Attempt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.active(userID, roadmapID)
	if !ok {
		return Attempt{}, false, nil
	}
	return *a, true, nil
}

func (s *MemoryStore) ExpireAttempt(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok {
		return false, apperr.NotFound("attempt %q", id)
	}
	if a.Status != StatusInProgress {
		return false, nil
	}
	a.Status = StatusExpired
	a.FinishedAt = &at
	return true, nil
}

func (s *MemoryStore) CountTerminal(_ context.Context, userID, roadmapID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.terminal(userID, roadmapID), nil
}

// terminal counts submitted and expired attempts. Callers hold mu.
func (s *MemoryStore) terminal(userID, roadmapID string) int {
	n := 0
	for _, a := range s.attempts {
		if a.UserID == userID && a.RoadmapID == roadmapID && a.Status.Terminal() {
			n++
		}
	}
	return n
}

func limitExceeded(limit int, roadmapID string) error {
	return apperr.New(apperr.KindAttemptLimitExceeded, "attempt limit of %d reached for roadmap %q", limit, roadmapID)
}

func (s *MemoryStore) SubmitAttempt(_ context.Context, r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[r.AttemptID]
	if !ok {
		return apperr.NotFound("attempt %q", r.AttemptID)
	}
	if err := transitionError(a.Status); err != nil {
		return err
	}

	submittedAt := r.SubmittedAt
	a.Status = StatusSubmitted
	a.FinishedAt = &submittedAt
	r.Answers = slices.Clone(r.Answers)
	s.results[r.AttemptID] = r
	return nil
}

func (s *MemoryStore) Results(_ context.Context, userID, roadmapID string) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(r Result) bool {
		return r.UserID == userID && r.RoadmapID == roadmapID
	}), nil
}

func (s *MemoryStore) ResultsForRoadmap(_ context.Context, roadmapID string) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(r Result) bool {
		return roadmapID == "" || r.RoadmapID == roadmapID
	}), nil
}

// active returns the in-progress attempt of a user on a roadmap. Callers hold mu.
func (s *MemoryStore) active(userID, roadmapID string) (*Attempt, bool) {
	for _, a := range s.attempts {
		if a.UserID == userID && a.RoadmapID == roadmapID && a.Status == StatusInProgress {
			return a, true
		}
	}
	return nil, false
}

// collect returns matching results oldest first. Callers hold mu.
func (s *MemoryStore) collect(match func(Result) bool) []Result {
	out := []Result{}
	for _, r := range s.results {
		if match(r) {
			r.Answers = slices.Clone(r.Answers)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].AttemptID < out[j].AttemptID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// transitionError explains why an attempt in status s cannot be submitted.
func transitionError(s Status) error {
	switch s {
	case StatusInProgress:
		return nil
	case StatusExpired:
		return apperr.New(apperr.KindAttemptExpired, "attempt has expired")
	default:
		return apperr.New(apperr.KindAlreadySubmitted, "attempt was already submitted")
	}
}
