package engine_test

import (
	"slices"
	"testing"
	"time"

	"github.com/p-n-ai/pai-progress/internal/engine"
	"github.com/p-n-ai/pai-progress/internal/engine/enginetest"
	"github.com/p-n-ai/pai-progress/internal/events"
	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
)

func newTestEngine(t *testing.T) (*engine.Engine, *events.MemoryPublisher) {
	t.Helper()
	publisher := events.NewMemoryPublisher()
	e := engine.New(engine.Config{
		Catalog:            enginetest.Catalog(t),
		Publisher:          publisher,
		VerificationSecret: "test-secret",
		Now:                func() time.Time { return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC) },
	})
	return e, publisher
}

func TestEngine_CompletionThenPassIssuesCertificate(t *testing.T) {
	e, publisher := newTestEngine(t)
	ctx := t.Context()

	done, err := e.CompleteNodes(ctx, "u1", "arrays", []string{"a", "b"})
	if err != nil {
		t.Fatalf("CompleteNodes() error = %v", err)
	}
	if done.Roadmap.OverallProgress != 100 {
		t.Errorf("OverallProgress = %d, want 100", done.Roadmap.OverallProgress)
	}
	if done.Certificate != nil {
		t.Errorf("Certificate = %+v, want none before the quiz is passed", done.Certificate)
	}
	if len(done.Unlocks) != 1 || !slices.Equal(done.Unlocks[0].UnlockedYears, []int{1, 2}) {
		t.Errorf("Unlocks = %+v, want %s years 1 and 2", done.Unlocks, enginetest.Master)
	}

	session, err := e.StartQuiz(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("StartQuiz() error = %v", err)
	}
	sub, err := e.SubmitQuiz(ctx, "u1", session.Attempt.ID, enginetest.Answers(session.Quiz, 8))
	if err != nil {
		t.Fatalf("SubmitQuiz() error = %v", err)
	}
	if !sub.Passed || sub.Percentage != 80 {
		t.Errorf("result = %+v, want passed with 80", sub.Result)
	}
	if sub.Certificate == nil {
		t.Fatal("Certificate = nil, want one issued on pass")
	}
	if sub.Certificate.Percentage != 80 {
		t.Errorf("certificate percentage = %d, want 80", sub.Certificate.Percentage)
	}

	got, err := e.Certificate(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("Certificate() error = %v", err)
	}
	if got.ID != sub.Certificate.ID {
		t.Errorf("Certificate() id = %s, want %s", got.ID, sub.Certificate.ID)
	}
	again, err := e.IssueCertificate(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("IssueCertificate() error = %v", err)
	}
	if again.ID != got.ID {
		t.Errorf("IssueCertificate() id = %s, want existing %s", again.ID, got.ID)
	}
	if _, err := e.VerifyCertificate(ctx, got.ID, got.VerificationCode); err != nil {
		t.Errorf("VerifyCertificate() error = %v", err)
	}
	if n := len(publisher.OfType(events.TypeCertificateIssued)); n != 1 {
		t.Errorf("certificate.issued events = %d, want 1", n)
	}
}

func TestEngine_PassThenCompletionIssuesCertificate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := t.Context()

	session, err := e.StartQuiz(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("StartQuiz() error = %v", err)
	}
	sub, err := e.SubmitQuiz(ctx, "u1", session.Attempt.ID, enginetest.Answers(session.Quiz, 10))
	if err != nil {
		t.Fatalf("SubmitQuiz() error = %v", err)
	}
	if sub.Certificate != nil {
		t.Errorf("Certificate = %+v, want none before the roadmap is complete", sub.Certificate)
	}

	half, err := e.CompleteNodes(ctx, "u1", "arrays", []string{"a"})
	if err != nil {
		t.Fatalf("CompleteNodes(a) error = %v", err)
	}
	if half.Certificate != nil {
		t.Error("Certificate issued at 50% completion")
	}

	done, err := e.CompleteNodes(ctx, "u1", "arrays", []string{"b"})
	if err != nil {
		t.Fatalf("CompleteNodes(b) error = %v", err)
	}
	if done.Certificate == nil || done.Certificate.Percentage != 100 {
		t.Errorf("Certificate = %+v, want one at 100%%", done.Certificate)
	}

	repeat, err := e.CompleteNodes(ctx, "u1", "arrays", []string{"b"})
	if err != nil {
		t.Fatalf("CompleteNodes(b) again error = %v", err)
	}
	if repeat.Certificate != nil {
		t.Error("repeat completion reported the certificate as newly issued")
	}

	certs, err := e.Certificates(ctx, "u1")
	if err != nil {
		t.Fatalf("Certificates() error = %v", err)
	}
	if len(certs) != 1 {
		t.Errorf("Certificates() = %d, want 1", len(certs))
	}
}

func TestEngine_TestOutUnlocksNextYear(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := t.Context()

	unlocked, err := e.IsYearUnlocked(ctx, "u1", enginetest.Master, 2)
	if err != nil {
		t.Fatalf("IsYearUnlocked() error = %v", err)
	}
	if unlocked {
		t.Fatal("year 2 unlocked before anything was done")
	}

	session, err := e.StartQuiz(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("StartQuiz() error = %v", err)
	}
	if _, err := e.SubmitQuiz(ctx, "u1", session.Attempt.ID, enginetest.Answers(session.Quiz, 7)); err != nil {
		t.Fatalf("SubmitQuiz() error = %v", err)
	}

	st, err := e.UnlockStatus(ctx, "u1", enginetest.Master)
	if err != nil {
		t.Fatalf("UnlockStatus() error = %v", err)
	}
	if !slices.Equal(st.UnlockedYears, []int{1, 2}) {
		t.Errorf("UnlockedYears = %v, want [1 2]", st.UnlockedYears)
	}
	if !st.Years[0].TestOutPassed || st.Years[0].CompletionPercent != 0 {
		t.Errorf("year 1 = %+v, want test-out passed with no completion", st.Years[0])
	}
}

func TestEngine_ChooseTechStack(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := t.Context()

	st, err := e.ChooseTechStack(ctx, "u1", enginetest.Master, "go")
	if err != nil {
		t.Fatalf("ChooseTechStack(go) error = %v", err)
	}
	if st.MasterID != enginetest.Master {
		t.Errorf("MasterID = %q", st.MasterID)
	}
	mp, err := e.MasterProgress(ctx, "u1", enginetest.Master)
	if err != nil {
		t.Fatalf("MasterProgress() error = %v", err)
	}
	if mp.ChosenTechStack != "go" {
		t.Errorf("ChosenTechStack = %q, want go", mp.ChosenTechStack)
	}

	if _, err := e.ChooseTechStack(ctx, "u1", enginetest.Master, "graphs"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("ChooseTechStack(graphs) error = %v, want validation", err)
	}
}

func TestEngine_AllResults(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := t.Context()

	for _, user := range []string{"u1", "u2"} {
		session, err := e.StartQuiz(ctx, user, "arrays")
		if err != nil {
			t.Fatalf("StartQuiz(%s) error = %v", user, err)
		}
		if _, err := e.SubmitQuiz(ctx, user, session.Attempt.ID, enginetest.Answers(session.Quiz, 5)); err != nil {
			t.Fatalf("SubmitQuiz(%s) error = %v", user, err)
		}
	}

	all, err := e.AllResults(ctx, "arrays")
	if err != nil {
		t.Fatalf("AllResults() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("AllResults() = %d results, want 2", len(all))
	}
	if _, err := e.AllResults(ctx, "nope"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("AllResults(nope) error = %v, want not found", err)
	}

	mine, err := e.Results(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if len(mine) != 1 || mine[0].UserID != "u1" {
		t.Errorf("Results(u1) = %+v", mine)
	}

	topics, err := e.WeakTopics(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("WeakTopics() error = %v", err)
	}
	if len(topics) == 0 {
		t.Error("WeakTopics() empty after a failed quiz")
	}
}

func TestEngine_DeleteUser(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := t.Context()

	if _, err := e.CompleteNodes(ctx, "u1", "arrays", []string{"a"}); err != nil {
		t.Fatalf("CompleteNodes() error = %v", err)
	}
	if err := e.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	p, err := e.RoadmapProgress(ctx, "u1", "arrays")
	if err != nil {
		t.Fatalf("RoadmapProgress() error = %v", err)
	}
	if p.OverallProgress != 0 || len(p.CompletedNodeIDs) != 0 {
		t.Errorf("progress after delete = %+v, want empty", p)
	}
}
