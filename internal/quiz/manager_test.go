package quiz_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/events"
	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
	"github.com/p-n-ai/pai-progress/internal/quiz"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestCatalog publishes "arrays" with two ten-question quizzes. The first
// quiz has a ten minute time limit.
func newTestCatalog(t *testing.T, attemptLimit int) *catalog.Store {
	t.Helper()
	store := catalog.NewStore(catalog.DefaultDefaults)

	err := store.AddRoadmap(catalog.Roadmap{
		Slug:             "arrays",
		Nodes:            []catalog.Node{{ID: "intro"}},
		QuizAttemptLimit: catalog.Ptr(attemptLimit),
		PassingScore:     catalog.Ptr(70),
	})
	if err != nil {
		t.Fatalf("AddRoadmap() error = %v", err)
	}
	if err := store.AddRoadmap(catalog.Roadmap{Slug: "draft", Nodes: []catalog.Node{{ID: "intro"}}}); err != nil {
		t.Fatalf("AddRoadmap(draft) error = %v", err)
	}

	q1 := tenQuestionQuiz("arrays-q1")
	q1.Settings.TimeLimitSeconds = 600
	for _, q := range []catalog.Quiz{q1, tenQuestionQuiz("arrays-q2")} {
		if err := store.AddQuiz(q); err != nil {
			t.Fatalf("AddQuiz(%s) error = %v", q.ID, err)
		}
	}
	if err := store.Publish("arrays"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return store
}

type testManager struct {
	*quiz.Manager
	clock     *fakeClock
	store     *quiz.MemoryStore
	topics    *quiz.MemoryWeakTopics
	publisher *events.MemoryPublisher
	catalog   *catalog.Store
}

func newTestManager(t *testing.T, attemptLimit int, pick func(int) int) *testManager {
	t.Helper()
	tm := &testManager{
		clock:     newFakeClock(),
		store:     quiz.NewMemoryStore(),
		topics:    quiz.NewMemoryWeakTopics(10),
		publisher: events.NewMemoryPublisher(),
		catalog:   newTestCatalog(t, attemptLimit),
	}
	tm.Manager = quiz.NewManager(quiz.ManagerConfig{
		Catalog:    tm.catalog,
		Store:      tm.store,
		WeakTopics: tm.topics,
		Publisher:  tm.publisher,
		Now:        tm.clock.Now,
		Pick:       pick,
	})
	return tm
}

func pickFirst(int) int { return 0 }

func TestStartQuiz(t *testing.T) {
	tm := newTestManager(t, 3, pickFirst)

	s, err := tm.StartQuiz(t.Context(), "u1", "arrays")
	if err != nil {
		t.Fatalf("StartQuiz() error = %v", err)
	}
	if s.Attempt.Status != quiz.StatusInProgress {
		t.Errorf("Status = %q, want in_progress", s.Attempt.Status)
	}
	if s.Attempt.QuizID != "arrays-q1" || s.Quiz.ID != "arrays-q1" {
		t.Errorf("QuizID = %q, want arrays-q1", s.Attempt.QuizID)
	}
	if s.Attempt.ExpiresAt == nil || !s.Attempt.ExpiresAt.Equal(tm.clock.Now().Add(10*time.Minute)) {
		t.Errorf("ExpiresAt = %v, want start + 10m", s.Attempt.ExpiresAt)
	}
	if s.Resumed {
		t.Error("first start should not be resumed")
	}

	again, err := tm.StartQuiz(t.Context(), "u1", "arrays")
	if err != nil {
		t.Fatalf("StartQuiz() again error = %v", err)
	}
	if !again.Resumed || again.Attempt.ID != s.Attempt.ID {
		t.Errorf("second start = %+v, want resumed attempt %s", again.Attempt, s.Attempt.ID)
	}
	if got := len(tm.publisher.OfType(events.TypeQuizStarted)); got != 1 {
		t.Errorf("quiz.started events = %d, want 1", got)
	}
}

func TestStartQuiz_Rejections(t *testing.T) {
	tm := newTestManager(t, 3, pickFirst)

	tests := []struct {
		name    string
		user    string
		roadmap string
		kind    apperr.Kind
	}{
		{"missing user", "", "arrays", apperr.KindValidation},
		{"unknown roadmap", "u1", "nope", apperr.KindNotFound},
		{"unpublished roadmap", "u1", "draft", apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tm.StartQuiz(t.Context(), tt.user, tt.roadmap)
			if !apperr.Is(err, tt.kind) {
				t.Errorf("StartQuiz() error = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestStartQuiz_SelectsEveryBankEntry(t *testing.T) {
	tm := newTestManager(t, 1000, nil)
	ctx := t.Context()
	seen := map[string]int{}

	for range 100 {
		s, err := tm.StartQuiz(ctx, "u1", "arrays")
		if err != nil {
			t.Fatalf("StartQuiz() error = %v", err)
		}
		seen[s.Attempt.QuizID]++
		if _, err := tm.SubmitQuiz(ctx, "u1", s.Attempt.ID, nil); err != nil {
			t.Fatalf("SubmitQuiz() error = %v", err)
		}
	}

	for _, id := range []string{"arrays-q1", "arrays-q2"} {
		if seen[id] == 0 {
			t.Errorf("quiz %s never selected in 100 starts: %v", id, seen)
		}
	}
}

func TestSubmitQuiz_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		correct int
		wantPct int
		passed  bool
	}{
		{"seven of ten", 7, 70, true},
		{"six of ten", 6, 60, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := newTestManager(t, 3, pickFirst)
			ctx := t.Context()

			s, err := tm.StartQuiz(ctx, "u1", "arrays")
			if err != nil {
				t.Fatalf("StartQuiz() error = %v", err)
			}
			res, err := tm.SubmitQuiz(ctx, "u1", s.Attempt.ID, answersWithCorrect(s.Quiz, tt.correct))
			if err != nil {
				t.Fatalf("SubmitQuiz() error = %v", err)
			}
			if res.Percentage != tt.wantPct || res.Passed != tt.passed {
				t.Errorf("result = %d%% passed=%v, want %d%% passed=%v", res.Percentage, res.Passed, tt.wantPct, tt.passed)
			}

			attempt, err := tm.GetAttempt(ctx, "u1", s.Attempt.ID)
			if err != nil {
				t.Fatalf("GetAttempt() error = %v", err)
			}
			if attempt.Status != quiz.StatusSubmitted {
				t.Errorf("Status = %q, want submitted", attempt.Status)
			}

			passed, err := tm.HasPassed(ctx, "u1", "arrays")
			if err != nil {
				t.Fatalf("HasPassed() error = %v", err)
			}
			if passed != tt.passed {
				t.Errorf("HasPassed() = %v, want %v", passed, tt.passed)
			}

			topics, err := tm.WeakTopics(ctx, "u1", 10)
			if err != nil {
				t.Fatalf("WeakTopics() error = %v", err)
			}
			missed := 0
			for _, tc := range topics {
				missed += tc.Count
			}
			if missed != 10-tt.correct {
				t.Errorf("weak topic total = %d, want %d", missed, 10-tt.correct)
			}
		})
	}
}

func TestSubmitQuiz_AlreadySubmitted(t *testing.T) {
	tm := newTestManager(t, 3, pickFirst)
	ctx := t.Context()

	s, err := tm.StartQuiz(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("StartQuiz() error = %v", err)
	}
	if _, err := tm.SubmitQuiz(ctx, "u1", s.Attempt.ID, nil); err != nil {
		t.Fatalf("SubmitQuiz() error = %v", err)
	}
	_, err = tm.SubmitQuiz(ctx, "u1", s.Attempt.ID, nil)
	if !apperr.Is(err, apperr.KindAlreadySubmitted) {
		t.Errorf("second SubmitQuiz() error = %v, want already submitted", err)
	}
}

func TestSubmitQuiz_ConcurrentDuplicates(t *testing.T) {
	tm := newTestManager(t, 3, pickFirst)
	ctx := t.Context()

	s, err := tm.StartQuiz(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("StartQuiz() error = %v", err)
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tm.SubmitQuiz(ctx, "u1", s.Attempt.ID, answersWithCorrect(s.Quiz, 7))
			switch {
			case err == nil:
				succeeded.Add(1)
			case apperr.Is(err, apperr.KindAlreadySubmitted):
				rejected.Add(1)
			default:
				t.Errorf("SubmitQuiz() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 1 || rejected.Load() != 19 {
		t.Errorf("succeeded = %d, rejected = %d, want 1 and 19", succeeded.Load(), rejected.Load())
	}
	results, err := tm.Results(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Results() = %d, want exactly 1", len(results))
	}
}

func TestSubmitQuiz_OtherUsersAttempt(t *testing.T) {
	tm := newTestManager(t, 3, pickFirst)
	ctx := t.Context()

	s, err := tm.StartQuiz(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("StartQuiz() error = %v", err)
	}
	if _, err := tm.SubmitQuiz(ctx, "u2", s.Attempt.ID, nil); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("SubmitQuiz() by another user error = %v, want not found", err)
	}
}

func TestAttemptExpiry(t *testing.T) {
	tm := newTestManager(t, 3, pickFirst)
	ctx := t.Context()

	s, err := tm.StartQuiz(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("StartQuiz() error = %v", err)
	}
	tm.clock.Advance(11 * time.Minute)

	_, err = tm.SubmitQuiz(ctx, "u1", s.Attempt.ID, answersWithCorrect(s.Quiz, 10))
	if !apperr.Is(err, apperr.KindAttemptExpired) {
		t.Fatalf("SubmitQuiz() after time limit error = %v, want attempt expired", err)
	}

	attempt, err := tm.GetAttempt(ctx, "u1", s.Attempt.ID)
	if err != nil {
		t.Fatalf("GetAttempt() error = %v", err)
	}
	if attempt.Status != quiz.StatusExpired {
		t.Errorf("Status = %q, want expired", attempt.Status)
	}

	results, err := tm.Results(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Results() = %d, want none for an expired attempt", len(results))
	}
}

func TestAttemptLimit_CountsSubmittedAndExpired(t *testing.T) {
	tm := newTestManager(t, 3, pickFirst)
	ctx := t.Context()

	// Two submitted attempts.
	for range 2 {
		s, err := tm.StartQuiz(ctx, "u1", "arrays")
		if err != nil {
			t.Fatalf("StartQuiz() error = %v", err)
		}
		if _, err := tm.SubmitQuiz(ctx, "u1", s.Attempt.ID, nil); err != nil {
			t.Fatalf("SubmitQuiz() error = %v", err)
		}
	}

	// One abandoned attempt, expired lazily by the next start.
	if _, err := tm.StartQuiz(ctx, "u1", "arrays"); err != nil {
		t.Fatalf("StartQuiz() error = %v", err)
	}
	tm.clock.Advance(time.Hour)

	for range 3 {
		_, err := tm.StartQuiz(ctx, "u1", "arrays")
		if !apperr.Is(err, apperr.KindAttemptLimitExceeded) {
			t.Fatalf("StartQuiz() over limit error = %v, want attempt limit exceeded", err)
		}
	}

	// Other users are unaffected.
	if _, err := tm.StartQuiz(ctx, "u2", "arrays"); err != nil {
		t.Errorf("StartQuiz(u2) error = %v", err)
	}
}

func TestMemoryStore_CreateAttemptEnforcesLimit(t *testing.T) {
	store := quiz.NewMemoryStore()
	ctx := t.Context()
	attempt := func(id string) quiz.Attempt {
		return quiz.Attempt{ID: id, UserID: "u1", RoadmapID: "arrays", QuizID: "arrays-q1", Status: quiz.StatusInProgress}
	}

	if err := store.CreateAttempt(ctx, attempt("a1"), 1); err != nil {
		t.Fatalf("CreateAttempt(a1) error = %v", err)
	}
	if err := store.SubmitAttempt(ctx, quiz.Result{AttemptID: "a1", UserID: "u1", RoadmapID: "arrays"}); err != nil {
		t.Fatalf("SubmitAttempt(a1) error = %v", err)
	}
	if err := store.CreateAttempt(ctx, attempt("a2"), 1); !apperr.Is(err, apperr.KindAttemptLimitExceeded) {
		t.Errorf("CreateAttempt(a2) error = %v, want attempt limit exceeded", err)
	}
	if err := store.CreateAttempt(ctx, attempt("a3"), 2); err != nil {
		t.Errorf("CreateAttempt(a3) under a higher limit error = %v", err)
	}
}

func TestStartQuiz_ConcurrentStartsAndSubmitsRespectLimit(t *testing.T) {
	const limit = 3
	tm := newTestManager(t, limit, nil)
	ctx := t.Context()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				s, err := tm.StartQuiz(ctx, "u1", "arrays")
				if err != nil {
					continue
				}
				_, _ = tm.SubmitQuiz(ctx, "u1", s.Attempt.ID, nil)
			}
		}()
	}
	wg.Wait()

	used, err := tm.store.CountTerminal(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("CountTerminal() error = %v", err)
	}
	if used < 1 || used > limit {
		t.Errorf("finished attempts = %d, want 1..%d", used, limit)
	}
	results, err := tm.Results(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if len(results) != used {
		t.Errorf("results = %d, want one per finished attempt (%d)", len(results), used)
	}
}

func TestStartQuiz_ConcurrentStartsShareAttempt(t *testing.T) {
	tm := newTestManager(t, 3, nil)
	ctx := t.Context()

	ids := make(chan string, 10)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := tm.StartQuiz(ctx, "u1", "arrays")
			if err != nil {
				t.Errorf("StartQuiz() error = %v", err)
				return
			}
			ids <- s.Attempt.ID
		}()
	}
	wg.Wait()
	close(ids)

	distinct := map[string]bool{}
	for id := range ids {
		distinct[id] = true
	}
	if len(distinct) != 1 {
		t.Errorf("concurrent starts produced %d attempts, want 1", len(distinct))
	}
}

func TestAllResults(t *testing.T) {
	tm := newTestManager(t, 3, pickFirst)
	ctx := t.Context()

	for _, user := range []string{"u1", "u2"} {
		s, err := tm.StartQuiz(ctx, user, "arrays")
		if err != nil {
			t.Fatalf("StartQuiz(%s) error = %v", user, err)
		}
		tm.clock.Advance(time.Second)
		if _, err := tm.SubmitQuiz(ctx, user, s.Attempt.ID, answersWithCorrect(s.Quiz, 9)); err != nil {
			t.Fatalf("SubmitQuiz(%s) error = %v", user, err)
		}
	}

	results, err := tm.AllResults(ctx, "")
	if err != nil {
		t.Fatalf("AllResults() error = %v", err)
	}
	if len(results) != 2 || results[0].UserID != "u1" {
		t.Errorf("AllResults() = %+v, want u1 then u2", results)
	}
}
