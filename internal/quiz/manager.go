package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/events"
	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
)

// ManagerConfig holds dependencies for the quiz session manager.
type ManagerConfig struct {
	Catalog    catalog.Reader
	Store      Store
	WeakTopics WeakTopics
	Publisher  events.Publisher
	// Now defaults to time.Now.
	Now func() time.Time
	// Pick returns an index in [0, n). Defaults to a uniform random choice.
	Pick func(n int) int
}

// Manager runs quiz sessions.
type Manager struct {
	catalog    catalog.Reader
	store      Store
	weakTopics WeakTopics
	publisher  events.Publisher
	now        func() time.Time
	pick       func(n int) int
}

// NewManager creates a quiz session manager.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		catalog:    cfg.Catalog,
		store:      cfg.Store,
		weakTopics: cfg.WeakTopics,
		publisher:  cfg.Publisher,
		now:        cfg.Now,
		pick:       cfg.Pick,
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.weakTopics == nil {
		m.weakTopics = NewMemoryWeakTopics(DefaultWeakTopicCapacity)
	}
	if m.publisher == nil {
		m.publisher = events.NopPublisher{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.pick == nil {
		m.pick = rand.IntN
	}
	return m
}

// StartQuiz serves a quiz from the roadmap's bank. A user has at most one
// attempt in progress per roadmap; starting again resumes it.
func (m *Manager) StartQuiz(ctx context.Context, userID, roadmapID string) (Session, error) {
	if userID == "" {
		return Session{}, apperr.Validation("user id is required")
	}
	roadmap, ok := m.catalog.Roadmap(roadmapID)
	if !ok {
		return Session{}, apperr.NotFound("roadmap %q", roadmapID)
	}
	bank := m.catalog.Bank(roadmapID)
	if !roadmap.Published || len(bank) < catalog.MinBankSize {
		return Session{}, apperr.Validation("roadmap %q is not published for assessment", roadmapID)
	}

	if s, ok, err := m.resume(ctx, userID, roadmapID); err != nil || ok {
		return s, err
	}

	quiz := bank[m.pick(len(bank))]
	now := m.now()
	attempt := Attempt{
		ID:        uuid.NewString(),
		UserID:    userID,
		RoadmapID: roadmapID,
		QuizID:    quiz.ID,
		Status:    StatusInProgress,
		StartedAt: now,
	}
	if limit := quiz.Settings.TimeLimit(); limit > 0 {
		expiresAt := now.Add(limit)
		attempt.ExpiresAt = &expiresAt
	}

	if err := m.store.CreateAttempt(ctx, attempt, roadmap.AttemptLimit()); err != nil {
		if apperr.Is(err, apperr.KindAttemptLimitExceeded) {
			return Session{}, err
		}
		if !apperr.Is(err, apperr.KindStorageConflict) {
			return Session{}, fmt.Errorf("create attempt: %w", err)
		}
		// A concurrent start won; serve its attempt.
		s, ok, rerr := m.resume(ctx, userID, roadmapID)
		if rerr != nil {
			return Session{}, rerr
		}
		if !ok {
			return Session{}, err
		}
		return s, nil
	}

	slog.Info("quiz started",
		"user_id", userID,
		"roadmap_id", roadmapID,
		"quiz_id", quiz.ID,
		"attempt_id", attempt.ID,
	)
	events.Emit(ctx, m.publisher, events.Event{
		Type:    events.TypeQuizStarted,
		UserID:  userID,
		Subject: roadmapID,
		Data:    map[string]any{"attemptId": attempt.ID, "quizId": quiz.ID},
	})

	return Session{Attempt: attempt, Quiz: quiz}, nil
}

// resume returns the user's live attempt on the roadmap, expiring it first
// when it ran out of time.
func (m *Manager) resume(ctx context.Context, userID, roadmapID string) (Session, bool, error) {
	active, ok, err := m.store.ActiveAttempt(ctx, userID, roadmapID)
	if err != nil {
		return Session{}, false, fmt.Errorf("get active attempt: %w", err)
	}
	if !ok {
		return Session{}, false, nil
	}
	if active.Overdue(m.now()) {
		if _, err := m.expire(ctx, active); err != nil {
			return Session{}, false, err
		}
		return Session{}, false, nil
	}

	quiz, ok := m.catalog.Quiz(active.QuizID)
	if !ok {
		return Session{}, false, apperr.NotFound("quiz %q of attempt %q", active.QuizID, active.ID)
	}
	return Session{Attempt: active, Quiz: quiz, Resumed: true}, true, nil
}

// SubmitQuiz grades the answers of an in-progress attempt. Exactly one
// submission per attempt succeeds.
func (m *Manager) SubmitQuiz(ctx context.Context, userID, attemptID string, answers []Answer) (Result, error) {
	attempt, err := m.GetAttempt(ctx, userID, attemptID)
	if err != nil {
		return Result{}, err
	}
	if err := transitionError(attempt.Status); err != nil {
		return Result{}, err
	}

	quiz, ok := m.catalog.Quiz(attempt.QuizID)
	if !ok {
		return Result{}, apperr.NotFound("quiz %q of attempt %q", attempt.QuizID, attempt.ID)
	}
	roadmap, ok := m.catalog.Roadmap(attempt.RoadmapID)
	if !ok {
		return Result{}, apperr.NotFound("roadmap %q", attempt.RoadmapID)
	}

	result, err := Grade(quiz, roadmap.PassMark(), answers)
	if err != nil {
		return Result{}, err
	}
	result.AttemptID = attempt.ID
	result.UserID = userID
	result.RoadmapID = attempt.RoadmapID
	result.SubmittedAt = m.now()

	if err := m.store.SubmitAttempt(ctx, result); err != nil {
		return Result{}, err
	}

	if topics := result.IncorrectTopics(); len(topics) > 0 {
		if err := m.weakTopics.Record(ctx, userID, topics); err != nil {
			slog.Warn("failed to record weak topics", "user_id", userID, "error", err)
		}
	}

	slog.Info("quiz submitted",
		"user_id", userID,
		"roadmap_id", result.RoadmapID,
		"attempt_id", attempt.ID,
		"percentage", result.Percentage,
		"passed", result.Passed,
	)
	events.Emit(ctx, m.publisher, events.Event{
		Type:    events.TypeQuizSubmitted,
		UserID:  userID,
		Subject: result.RoadmapID,
		Data: map[string]any{
			"attemptId":  attempt.ID,
			"percentage": result.Percentage,
			"passed":     result.Passed,
		},
	})
	return result, nil
}

// GetAttempt returns one of the user's attempts, expiring it when its time
// limit has passed. Attempts of other users are reported as not found.
func (m *Manager) GetAttempt(ctx context.Context, userID, attemptID string) (Attempt, error) {
	if attemptID == "" {
		return Attempt{}, apperr.Validation("attempt id is required")
	}
	attempt, err := m.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if attempt.UserID != userID {
		return Attempt{}, apperr.NotFound("attempt %q", attemptID)
	}
	if attempt.Overdue(m.now()) {
		return m.expire(ctx, attempt)
	}
	return attempt, nil
}

func (m *Manager) expire(ctx context.Context, a Attempt) (Attempt, error) {
	now := m.now()
	expired, err := m.store.ExpireAttempt(ctx, a.ID, now)
	if err != nil {
		return Attempt{}, fmt.Errorf("expire attempt: %w", err)
	}
	if !expired {
		// Someone else finished it first.
		return m.store.GetAttempt(ctx, a.ID)
	}
	slog.Info("quiz attempt expired", "user_id", a.UserID, "roadmap_id", a.RoadmapID, "attempt_id", a.ID)
	a.Status = StatusExpired
	a.FinishedAt = &now
	return a, nil
}

// Results returns the user's results on a roadmap, oldest first.
func (m *Manager) Results(ctx context.Context, userID, roadmapID string) ([]Result, error) {
	results, err := m.store.Results(ctx, userID, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return results, nil
}

// BestResult returns the user's highest-scoring result on a roadmap.
func (m *Manager) BestResult(ctx context.Context, userID, roadmapID string) (Result, bool, error) {
	results, err := m.Results(ctx, userID, roadmapID)
	if err != nil {
		return Result{}, false, err
	}
	best, ok := Best(results)
	return best, ok, nil
}

// HasPassed reports whether the user ever passed a quiz of the roadmap.
func (m *Manager) HasPassed(ctx context.Context, userID, roadmapID string) (bool, error) {
	best, ok, err := m.BestResult(ctx, userID, roadmapID)
	if err != nil {
		return false, err
	}
	return ok && best.Passed, nil
}

// AllResults returns every result on a roadmap, or on all roadmaps when
// roadmapID is empty.
func (m *Manager) AllResults(ctx context.Context, roadmapID string) ([]Result, error) {
	results, err := m.store.ResultsForRoadmap(ctx, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return results, nil
}

// WeakTopics returns the user's most frequently missed topics.
func (m *Manager) WeakTopics(ctx context.Context, userID string, limit int) ([]TopicCount, error) {
	return m.weakTopics.Top(ctx, userID, limit)
}
