package certificate_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/certificate"
	"github.com/p-n-ai/pai-progress/internal/events"
	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
	"github.com/p-n-ai/pai-progress/internal/progress"
	"github.com/p-n-ai/pai-progress/internal/quiz"
)

type stubProgress map[string][]string

func (s stubProgress) RoadmapProgress(_ context.Context, userID, roadmapID string) (progress.RoadmapProgress, error) {
	return progress.RoadmapProgress{UserID: userID, RoadmapID: roadmapID, CompletedNodeIDs: s[userID]}, nil
}

type stubResults map[string]quiz.Result

func (s stubResults) BestResult(_ context.Context, userID, _ string) (quiz.Result, bool, error) {
	r, ok := s[userID]
	return r, ok, nil
}

func newCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	c := catalog.NewStore(catalog.DefaultDefaults)
	err := c.AddRoadmap(catalog.Roadmap{
		Slug:  "arrays",
		Nodes: []catalog.Node{{ID: "intro"}, {ID: "two-pointers"}},
	})
	if err != nil {
		t.Fatalf("AddRoadmap() error = %v", err)
	}
	return c
}

// Users: "done" completed and passed with 85, "incomplete" passed only,
// "failed" completed but scored 60, "fresh" has nothing.
func newIssuer(t *testing.T, store certificate.Store, publisher events.Publisher) *certificate.Issuer {
	t.Helper()
	all := []string{"intro", "two-pointers"}
	return certificate.NewIssuer(certificate.IssuerConfig{
		Catalog: newCatalog(t),
		Store:   store,
		Progress: stubProgress{
			"done":       all,
			"incomplete": {"intro"},
			"failed":     all,
		},
		Results: stubResults{
			"done":       {Percentage: 85, Passed: true},
			"incomplete": {Percentage: 90, Passed: true},
			"failed":     {Percentage: 60, Passed: false},
		},
		Publisher: publisher,
		Secret:    "test-secret",
		Now:       func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func TestIssueOrGet_Idempotent(t *testing.T) {
	publisher := events.NewMemoryPublisher()
	issuer := newIssuer(t, certificate.NewMemoryStore(), publisher)
	ctx := t.Context()

	first, err := issuer.IssueOrGet(ctx, "done", "arrays")
	if err != nil {
		t.Fatalf("IssueOrGet() error = %v", err)
	}
	if first.ID == "" || first.Percentage != 85 {
		t.Errorf("certificate = %+v, want id and 85%%", first)
	}

	second, err := issuer.IssueOrGet(ctx, "done", "arrays")
	if err != nil {
		t.Fatalf("second IssueOrGet() error = %v", err)
	}
	if second != first {
		t.Errorf("second certificate = %+v, want %+v", second, first)
	}
	if got := len(publisher.OfType(events.TypeCertificateIssued)); got != 1 {
		t.Errorf("certificate.issued events = %d, want 1", got)
	}
}

func TestIssueOrGet_NotEligible(t *testing.T) {
	issuer := newIssuer(t, certificate.NewMemoryStore(), nil)

	tests := []struct {
		user    string
		missing []string
	}{
		{"incomplete", []string{apperr.MissingRoadmapIncomplete}},
		{"failed", []string{apperr.MissingQuizNotPassed}},
		{"fresh", []string{apperr.MissingRoadmapIncomplete, apperr.MissingQuizNotPassed}},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			_, err := issuer.IssueOrGet(t.Context(), tt.user, "arrays")
			var appErr *apperr.Error
			if !errors.As(err, &appErr) || appErr.Kind != apperr.KindNotEligible {
				t.Fatalf("IssueOrGet() error = %v, want not eligible", err)
			}
			if !slices.Equal(appErr.Missing, tt.missing) {
				t.Errorf("Missing = %v, want %v", appErr.Missing, tt.missing)
			}
		})
	}

	if _, err := issuer.IssueOrGet(t.Context(), "done", "nope"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("IssueOrGet(unknown roadmap) error = %v, want not found", err)
	}
}

func TestGet(t *testing.T) {
	issuer := newIssuer(t, certificate.NewMemoryStore(), nil)
	ctx := t.Context()

	if _, err := issuer.Get(ctx, "failed", "arrays"); !apperr.Is(err, apperr.KindNotEligible) {
		t.Errorf("Get(failed) error = %v, want not eligible", err)
	}
	if _, err := issuer.Get(ctx, "done", "arrays"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Get(done) before issue error = %v, want not found", err)
	}

	issued, err := issuer.IssueOrGet(ctx, "done", "arrays")
	if err != nil {
		t.Fatalf("IssueOrGet() error = %v", err)
	}
	got, err := issuer.Get(ctx, "done", "arrays")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != issued.ID {
		t.Errorf("Get() id = %q, want %q", got.ID, issued.ID)
	}
}

func TestIssueOrGet_Concurrent(t *testing.T) {
	store := certificate.NewMemoryStore()
	publisher := events.NewMemoryPublisher()
	// Two issuers stand in for two server instances sharing one database.
	issuers := []*certificate.Issuer{newIssuer(t, store, publisher), newIssuer(t, store, publisher)}
	ctx := t.Context()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	for n := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := issuers[n%2].IssueOrGet(ctx, "done", "arrays")
			if err != nil {
				t.Errorf("IssueOrGet() error = %v", err)
				return
			}
			mu.Lock()
			ids[c.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != 1 {
		t.Errorf("distinct certificate ids = %d, want 1", len(ids))
	}
	certs, err := store.ListForUser(ctx, "done")
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	if len(certs) != 1 {
		t.Errorf("stored certificates = %d, want 1", len(certs))
	}
	if got := len(publisher.OfType(events.TypeCertificateIssued)); got != 1 {
		t.Errorf("certificate.issued events = %d, want 1", got)
	}
}

// gatedStore holds Create until release is closed or the call's context ends.
type gatedStore struct {
	*certificate.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Create(ctx context.Context, c certificate.Certificate) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
		return s.MemoryStore.Create(ctx, c)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestIssue_InitiatorCancelDoesNotFailJoinedCallers(t *testing.T) {
	store := &gatedStore{
		MemoryStore: certificate.NewMemoryStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	issuer := newIssuer(t, store, nil)

	type outcome struct {
		cert certificate.Certificate
		err  error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)

	firstCtx, cancel := context.WithCancel(t.Context())
	go func() {
		c, _, err := issuer.Issue(firstCtx, "done", "arrays")
		first <- outcome{c, err}
	}()
	<-store.entered

	go func() {
		c, _, err := issuer.Issue(t.Context(), "done", "arrays")
		second <- outcome{c, err}
	}()
	// Let the second caller join the issuance in flight.
	time.Sleep(20 * time.Millisecond)

	cancel()
	if got := <-first; !errors.Is(got.err, context.Canceled) {
		t.Errorf("cancelled caller error = %v, want context.Canceled", got.err)
	}
	close(store.release)

	got := <-second
	if got.err != nil {
		t.Fatalf("joined caller error = %v", got.err)
	}
	stored, ok, err := store.Get(t.Context(), "done", "arrays")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.cert.ID != stored.ID {
		t.Errorf("joined caller got %q, stored %q", got.cert.ID, stored.ID)
	}
}

// staleStore misses the first lookup, as a replica lagging behind a
// concurrent insert would.
type staleStore struct {
	*certificate.MemoryStore
	misses atomic.Int32
}

func (s *staleStore) Get(ctx context.Context, userID, roadmapID string) (certificate.Certificate, bool, error) {
	if s.misses.Add(1) == 1 {
		return certificate.Certificate{}, false, nil
	}
	return s.MemoryStore.Get(ctx, userID, roadmapID)
}

func TestIssueOrGet_FetchesExistingOnConflict(t *testing.T) {
	ctx := t.Context()
	mem := certificate.NewMemoryStore()
	existing := certificate.Certificate{ID: "existing", UserID: "done", RoadmapID: "arrays", Percentage: 70}
	if err := mem.Create(ctx, existing); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	issuer := newIssuer(t, &staleStore{MemoryStore: mem}, nil)
	c, created, err := issuer.Issue(ctx, "done", "arrays")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if created || c.ID != "existing" || c.Percentage != 70 {
		t.Errorf("Issue() = %+v created=%v, want the existing certificate", c, created)
	}
}

func TestVerify(t *testing.T) {
	issuer := newIssuer(t, certificate.NewMemoryStore(), nil)
	ctx := t.Context()

	c, err := issuer.IssueOrGet(ctx, "done", "arrays")
	if err != nil {
		t.Fatalf("IssueOrGet() error = %v", err)
	}
	if c.VerificationCode != issuer.VerificationCode(c.ID) || len(c.VerificationCode) != 20 {
		t.Errorf("VerificationCode = %q", c.VerificationCode)
	}

	got, err := issuer.Verify(ctx, c.ID, c.VerificationCode)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.UserID != "done" {
		t.Errorf("Verify() user = %q, want done", got.UserID)
	}

	if _, err := issuer.Verify(ctx, c.ID, "0000"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Verify(wrong code) error = %v, want not found", err)
	}
	if _, err := issuer.Verify(ctx, "missing", c.VerificationCode); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Verify(unknown id) error = %v, want not found", err)
	}
}

func TestVerificationCode_DependsOnSecret(t *testing.T) {
	a := certificate.NewIssuer(certificate.IssuerConfig{Secret: "one"})
	b := certificate.NewIssuer(certificate.IssuerConfig{Secret: "two"})
	long := certificate.NewIssuer(certificate.IssuerConfig{Secret: string(make([]byte, 100))})

	if a.VerificationCode("id") == b.VerificationCode("id") {
		t.Error("codes under different secrets should differ")
	}
	if a.VerificationCode("id") != a.VerificationCode("id") {
		t.Error("codes should be stable")
	}
	if long.VerificationCode("id") == "" {
		t.Error("long secrets should still produce a code")
	}
}
