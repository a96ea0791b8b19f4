// Package certificate issues at most one certificate per user and roadmap,
// once the roadmap is complete and its quiz passed.
package certificate

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/events"
	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
	"github.com/p-n-ai/pai-progress/internal/progress"
	"github.com/p-n-ai/pai-progress/internal/quiz"
)

// Certificate is an issued completion record. The id doubles as a public
// verification token.
type Certificate struct {
	ID               string    `json:"certificateId"`
	UserID           string    `json:"userId"`
	RoadmapID        string    `json:"roadmapId"`
	Percentage       int       `json:"percentage"`
	IssuedAt         time.Time `json:"issuedAt"`
	VerificationCode string    `json:"verificationCode"`
}

func sortByIssued(cs []Certificate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].IssuedAt.Equal(cs[j].IssuedAt) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].IssuedAt.Before(cs[j].IssuedAt)
	})
}

// ProgressReader reads roadmap completion.
type ProgressReader interface {
	RoadmapProgress(ctx context.Context, userID, roadmapID string) (progress.RoadmapProgress, error)
}

// ResultReader reads the best quiz result of a user on a roadmap.
type ResultReader interface {
	BestResult(ctx context.Context, userID, roadmapID string) (quiz.Result, bool, error)
}

// Eligibility lists the conditions a user still misses for a certificate.
type Eligibility struct {
	Missing []string `json:"missing"`
	// Percentage is the best passing quiz percentage.
	Percentage int `json:"percentage"`
}

// Eligible reports whether nothing is missing.
func (e Eligibility) Eligible() bool {
	return len(e.Missing) == 0
}

// IssuerConfig holds dependencies for the issuer.
type IssuerConfig struct {
	Catalog   catalog.Reader
	Store     Store
	Progress  ProgressReader
	Results   ResultReader
	Publisher events.Publisher
	// Secret keys the verification codes.
	Secret string
	Now    func() time.Time
}

// Issuer evaluates eligibility and issues certificates.
type Issuer struct {
	catalog   catalog.Reader
	store     Store
	progress  ProgressReader
	results   ResultReader
	publisher events.Publisher
	key       []byte
	now       func() time.Time
	group     singleflight.Group
}

// NewIssuer creates a certificate issuer.
func NewIssuer(cfg IssuerConfig) *Issuer {
	i := &Issuer{
		catalog:   cfg.Catalog,
		store:     cfg.Store,
		progress:  cfg.Progress,
		results:   cfg.Results,
		publisher: cfg.Publisher,
		key:       verificationKey(cfg.Secret),
		now:       cfg.Now,
	}
	if i.store == nil {
		i.store = NewMemoryStore()
	}
	if i.publisher == nil {
		i.publisher = events.NopPublisher{}
	}
	if i.now == nil {
		i.now = time.Now
	}
	return i
}

// Eligibility checks the certificate conditions for a roadmap.
func (i *Issuer) Eligibility(ctx context.Context, userID, roadmapID string) (Eligibility, error) {
	if userID == "" {
		return Eligibility{}, apperr.Validation("user id is required")
	}
	roadmap, ok := i.catalog.Roadmap(roadmapID)
	if !ok {
		return Eligibility{}, apperr.NotFound("roadmap %q", roadmapID)
	}

	p, err := i.progress.RoadmapProgress(ctx, userID, roadmapID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("read roadmap progress: %w", err)
	}
	best, ok, err := i.results.BestResult(ctx, userID, roadmapID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("read best result: %w", err)
	}

	var e Eligibility
	if progress.Percent(roadmap, p.CompletedNodeIDs) < 100 {
		e.Missing = append(e.Missing, apperr.MissingRoadmapIncomplete)
	}
	if !ok || !best.Passed {
		e.Missing = append(e.Missing, apperr.MissingQuizNotPassed)
	} else {
		e.Percentage = best.Percentage
	}
	return e, nil
}

// Get returns the issued certificate without issuing one. A user who is not
// yet eligible gets NotEligible; an eligible user without a certificate gets
// NotFound.
func (i *Issuer) Get(ctx context.Context, userID, roadmapID string) (Certificate, error) {
	if c, ok, err := i.store.Get(ctx, userID, roadmapID); err != nil || ok {
		return c, err
	}
	e, err := i.Eligibility(ctx, userID, roadmapID)
	if err != nil {
		return Certificate{}, err
	}
	if !e.Eligible() {
		return Certificate{}, apperr.NotEligible(e.Missing...)
	}
	return Certificate{}, apperr.NotFound("certificate for %q not issued yet", roadmapID)
}

// IssueOrGet returns the user's certificate for the roadmap, issuing it when
// the user is eligible and has none. An existing certificate is returned
// unchanged.
func (i *Issuer) IssueOrGet(ctx context.Context, userID, roadmapID string) (Certificate, error) {
	c, _, err := i.Issue(ctx, userID, roadmapID)
	return c, err
}

type issued struct {
	cert    Certificate
	created bool
}

// Issue is IssueOrGet that also reports whether the certificate was created
// by this call or by a concurrent call it joined. The shared issuance is not
// cancelled with the caller that started it.
func (i *Issuer) Issue(ctx context.Context, userID, roadmapID string) (Certificate, bool, error) {
	shared := context.WithoutCancel(ctx)
	ch := i.group.DoChan(userID+"|"+roadmapID, func() (any, error) {
		return i.issue(shared, userID, roadmapID)
	})
	select {
	case <-ctx.Done():
		return Certificate{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Certificate{}, false, res.Err
		}
		out := res.Val.(issued)
		return out.cert, out.created, nil
	}
}

func (i *Issuer) issue(ctx context.Context, userID, roadmapID string) (issued, error) {
	if existing, ok, err := i.store.Get(ctx, userID, roadmapID); err != nil {
		return issued{}, fmt.Errorf("get certificate: %w", err)
	} else if ok {
		return issued{cert: existing}, nil
	}

	e, err := i.Eligibility(ctx, userID, roadmapID)
	if err != nil {
		return issued{}, err
	}
	if !e.Eligible() {
		return issued{}, apperr.NotEligible(e.Missing...)
	}

	id := uuid.NewString()
	c := Certificate{
		ID:               id,
		UserID:           userID,
		RoadmapID:        roadmapID,
		Percentage:       e.Percentage,
		IssuedAt:         i.now().UTC(),
		VerificationCode: i.VerificationCode(id),
	}
	if err := i.store.Create(ctx, c); err != nil {
		if !apperr.Is(err, apperr.KindStorageConflict) {
			return issued{}, fmt.Errorf("create certificate: %w", err)
		}
		// Another instance issued it first.
		existing, ok, gerr := i.store.Get(ctx, userID, roadmapID)
		if gerr != nil {
			return issued{}, fmt.Errorf("get certificate after conflict: %w", gerr)
		}
		if !ok {
			return issued{}, err
		}
		return issued{cert: existing}, nil
	}

	slog.Info("certificate issued",
		"user_id", userID,
		"roadmap_id", roadmapID,
		"certificate_id", c.ID,
		"percentage", c.Percentage,
	)
	events.Emit(ctx, i.publisher, events.Event{
		Type:    events.TypeCertificateIssued,
		UserID:  userID,
		Subject: roadmapID,
		Data:    map[string]any{"certificateId": c.ID, "percentage": c.Percentage},
	})
	return issued{cert: c, created: true}, nil
}

// ListForUser returns the user's certificates, oldest first.
func (i *Issuer) ListForUser(ctx context.Context, userID string) ([]Certificate, error) {
	return i.store.ListForUser(ctx, userID)
}

// Verify returns the certificate when code matches its verification code.
// A wrong code is indistinguishable from an unknown id.
func (i *Issuer) Verify(ctx context.Context, id, code string) (Certificate, error) {
	c, err := i.store.GetByID(ctx, id)
	if err != nil {
		return Certificate{}, err
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(i.VerificationCode(id))) != 1 {
		return Certificate{}, apperr.NotFound("certificate %q", id)
	}
	return c, nil
}

// VerificationCode is a keyed BLAKE2b digest of the certificate id, printed
// on the rendered certificate.
func (i *Issuer) VerificationCode(id string) string {
	h, err := blake2b.New256(i.key)
	if err != nil {
		// The key is always at most 64 bytes.
		panic(err)
	}
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil)[:10])
}

// verificationKey fits the secret into a BLAKE2b key.
func verificationKey(secret string) []byte {
	if len(secret) <= blake2b.Size {
		return []byte(secret)
	}
	sum := blake2b.Sum512([]byte(secret))
	return sum[:]
}
