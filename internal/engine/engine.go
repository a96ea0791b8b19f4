// Package engine wires the catalog, progress ledger, quiz manager, unlock
// evaluator and certificate issuer into the operations the API exposes.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/certificate"
	"github.com/p-n-ai/pai-progress/internal/events"
	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
	"github.com/p-n-ai/pai-progress/internal/progress"
	"github.com/p-n-ai/pai-progress/internal/quiz"
	"github.com/p-n-ai/pai-progress/internal/unlock"
)

// Config holds dependencies for the engine. Nil stores fall back to memory.
type Config struct {
	Catalog            catalog.Reader
	ProgressStore      progress.Store
	QuizStore          quiz.Store
	CertificateStore   certificate.Store
	WeakTopics         quiz.WeakTopics
	Publisher          events.Publisher
	VerificationSecret string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine is the progression and assessment gating engine.
type Engine struct {
	catalog      catalog.Reader
	ledger       *progress.Ledger
	quizzes      *quiz.Manager
	unlock       *unlock.Evaluator
	certificates *certificate.Issuer
}

// New builds the engine and its components.
func New(cfg Config) *Engine {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	quizzes := quiz.NewManager(quiz.ManagerConfig{
		Catalog:    cfg.Catalog,
		Store:      cfg.QuizStore,
		WeakTopics: cfg.WeakTopics,
		Publisher:  publisher,
		Now:        cfg.Now,
	})
	ledger := progress.NewLedger(progress.LedgerConfig{
		Catalog:   cfg.Catalog,
		Store:     cfg.ProgressStore,
		Publisher: publisher,
		TestOuts:  quizzes,
	})
	return &Engine{
		catalog:      cfg.Catalog,
		ledger:       ledger,
		quizzes:      quizzes,
		unlock:       unlock.NewEvaluator(cfg.Catalog, ledger, quizzes),
		certificates: certificate.NewIssuer(certificate.IssuerConfig{
			Catalog:   cfg.Catalog,
			Store:     cfg.CertificateStore,
			Progress:  ledger,
			Results:   quizzes,
			Publisher: publisher,
			Secret:    cfg.VerificationSecret,
			Now:       cfg.Now,
		}),
	}
}

// NodeCompletion is the outcome of recording completed nodes.
type NodeCompletion struct {
	progress.Change
	Unlocks []unlock.Status `json:"unlocks"`
	// Certificate is set when this completion made the user eligible.
	Certificate *certificate.Certificate `json:"certificate,omitempty"`
}

// CompleteNodes records node completions and refreshes everything derived
// from them: master progress, unlocked years and certificate issuance.
func (e *Engine) CompleteNodes(ctx context.Context, userID, roadmapID string, nodeIDs []string) (NodeCompletion, error) {
	change, err := e.ledger.CompleteNodes(ctx, userID, roadmapID, nodeIDs)
	if err != nil {
		return NodeCompletion{}, err
	}

	out := NodeCompletion{Change: change, Unlocks: []unlock.Status{}}
	for _, m := range change.Masters {
		st, err := e.unlock.Status(ctx, userID, m.MasterID)
		if err != nil {
			return NodeCompletion{}, err
		}
		out.Unlocks = append(out.Unlocks, st)
	}
	if change.Roadmap.OverallProgress == 100 {
		out.Certificate = e.autoIssue(ctx, userID, roadmapID)
	}
	return out, nil
}

// RoadmapProgress returns the user's progress on a roadmap.
func (e *Engine) RoadmapProgress(ctx context.Context, userID, roadmapID string) (progress.RoadmapProgress, error) {
	return e.ledger.RoadmapProgress(ctx, userID, roadmapID)
}

// MasterProgress returns the user's progress on a master roadmap.
func (e *Engine) MasterProgress(ctx context.Context, userID, masterID string) (progress.MasterProgress, error) {
	return e.ledger.MasterProgress(ctx, userID, masterID)
}

// ChooseTechStack records an elective choice, given as a stack label or an
// elective roadmap, and returns the new unlock state.
func (e *Engine) ChooseTechStack(ctx context.Context, userID, masterID, choice string) (unlock.Status, error) {
	if _, err := e.ledger.ChooseTechStack(ctx, userID, masterID, choice); err != nil {
		return unlock.Status{}, err
	}
	return e.unlock.Status(ctx, userID, masterID)
}

// UnlockStatus recomputes which years of the master the user may enter.
func (e *Engine) UnlockStatus(ctx context.Context, userID, masterID string) (unlock.Status, error) {
	return e.unlock.Status(ctx, userID, masterID)
}

// IsYearUnlocked evaluates a single year.
func (e *Engine) IsYearUnlocked(ctx context.Context, userID, masterID string, year int) (bool, error) {
	return e.unlock.IsYearUnlocked(ctx, userID, masterID, year)
}

// StartQuiz serves a quiz attempt.
func (e *Engine) StartQuiz(ctx context.Context, userID, roadmapID string) (quiz.Session, error) {
	return e.quizzes.StartQuiz(ctx, userID, roadmapID)
}

// Submission is a graded attempt, plus the certificate it earned if any.
type Submission struct {
	quiz.Result
	Certificate *certificate.Certificate `json:"certificate,omitempty"`
}

// SubmitQuiz grades an attempt and issues the certificate when passing it
// completes the requirements.
func (e *Engine) SubmitQuiz(ctx context.Context, userID, attemptID string, answers []quiz.Answer) (Submission, error) {
	res, err := e.quizzes.SubmitQuiz(ctx, userID, attemptID, answers)
	if err != nil {
		return Submission{}, err
	}
	out := Submission{Result: res}
	if res.Passed {
		out.Certificate = e.autoIssue(ctx, userID, res.RoadmapID)
	}
	return out, nil
}

// Attempt returns one of the user's attempts.
func (e *Engine) Attempt(ctx context.Context, userID, attemptID string) (quiz.Attempt, error) {
	return e.quizzes.GetAttempt(ctx, userID, attemptID)
}

// Results returns the user's results on a roadmap.
func (e *Engine) Results(ctx context.Context, userID, roadmapID string) ([]quiz.Result, error) {
	return e.quizzes.Results(ctx, userID, roadmapID)
}

// AllResults returns every result on a roadmap, or all roadmaps when empty.
func (e *Engine) AllResults(ctx context.Context, roadmapID string) ([]quiz.Result, error) {
	if roadmapID != "" {
		if _, ok := e.catalog.Roadmap(roadmapID); !ok {
			return nil, apperr.NotFound("roadmap %q", roadmapID)
		}
	}
	return e.quizzes.AllResults(ctx, roadmapID)
}

// WeakTopics returns the user's most frequently missed topics.
func (e *Engine) WeakTopics(ctx context.Context, userID string, limit int) ([]quiz.TopicCount, error) {
	return e.quizzes.WeakTopics(ctx, userID, limit)
}

// Certificate returns an issued certificate without issuing one.
func (e *Engine) Certificate(ctx context.Context, userID, roadmapID string) (certificate.Certificate, error) {
	return e.certificates.Get(ctx, userID, roadmapID)
}

// IssueCertificate issues the certificate or returns the existing one.
func (e *Engine) IssueCertificate(ctx context.Context, userID, roadmapID string) (certificate.Certificate, error) {
	return e.certificates.IssueOrGet(ctx, userID, roadmapID)
}

// Certificates lists the user's certificates.
func (e *Engine) Certificates(ctx context.Context, userID string) ([]certificate.Certificate, error) {
	return e.certificates.ListForUser(ctx, userID)
}

// VerifyCertificate checks a certificate id against its verification code.
func (e *Engine) VerifyCertificate(ctx context.Context, id, code string) (certificate.Certificate, error) {
	return e.certificates.Verify(ctx, id, code)
}

// DeleteUser removes the user's progress.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	return e.ledger.DeleteUser(ctx, userID)
}

// autoIssue issues a certificate after a completion or a quiz pass. The
// triggering write already succeeded, so failures are only logged.
func (e *Engine) autoIssue(ctx context.Context, userID, roadmapID string) *certificate.Certificate {
	c, created, err := e.certificates.Issue(ctx, userID, roadmapID)
	switch {
	case apperr.Is(err, apperr.KindNotEligible):
		return nil
	case err != nil:
		slog.Warn("automatic certificate issuance failed",
			"user_id", userID,
			"roadmap_id", roadmapID,
			"error", err,
		)
		return nil
	case !created:
		return nil
	}
	return &c
}
