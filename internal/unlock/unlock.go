// Package unlock decides which years of a master roadmap a user may enter.
// Nothing here is stored: every answer is recomputed from progress and quiz
// results.
package unlock

import (
	"context"
	"fmt"

	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
	"github.com/p-n-ai/pai-progress/internal/progress"
)

// Facts are the inputs to the unlock rule for one user and master.
type Facts struct {
	Progress progress.MasterProgress
	// Passed holds the roadmaps the user has a passing quiz result for.
	Passed map[string]bool
}

// IsYearUnlocked reports whether the year is open. Year 1 always is. Year N
// opens once year N-1 is complete or its test-out roadmap quiz was passed.
func IsYearUnlocked(m catalog.MasterRoadmap, f Facts, year int) bool {
	return progress.YearOpen(m, f.Progress, func(id string) bool { return f.Passed[id] }, year)
}

// UnlockedYears returns every open year in ascending order.
func UnlockedYears(m catalog.MasterRoadmap, f Facts) []int {
	years := []int{}
	for _, y := range m.Years {
		if IsYearUnlocked(m, f, y.Number) {
			years = append(years, y.Number)
		}
	}
	return years
}

// ProgressReader reads master progress.
type ProgressReader interface {
	MasterProgress(ctx context.Context, userID, masterID string) (progress.MasterProgress, error)
}

// ResultReader tells whether a user passed a roadmap's quiz.
type ResultReader interface {
	HasPassed(ctx context.Context, userID, roadmapID string) (bool, error)
}

// YearStatus describes one year for a user.
type YearStatus struct {
	Year              int    `json:"year"`
	Title             string `json:"title,omitempty"`
	CompletionPercent int    `json:"completionPercent"`
	Unlocked          bool   `json:"unlocked"`
	TestOutRoadmap    string `json:"testOutRoadmap,omitempty"`
	TestOutPassed     bool   `json:"testOutPassed,omitempty"`
}

// Status is the unlock state of a master roadmap for a user.
type Status struct {
	UserID        string       `json:"userId"`
	MasterID      string       `json:"masterId"`
	CurrentYear   int          `json:"currentYear"`
	UnlockedYears []int        `json:"unlockedYears"`
	Years         []YearStatus `json:"years"`
}

// Evaluator applies the unlock rule to stored progress and results.
type Evaluator struct {
	catalog  catalog.Reader
	progress ProgressReader
	results  ResultReader
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(c catalog.Reader, p ProgressReader, r ResultReader) *Evaluator {
	return &Evaluator{catalog: c, progress: p, results: r}
}

// Status computes the unlock state of every year of the master.
func (e *Evaluator) Status(ctx context.Context, userID, masterID string) (Status, error) {
	if userID == "" {
		return Status{}, apperr.Validation("user id is required")
	}
	m, ok := e.catalog.Master(masterID)
	if !ok {
		return Status{}, apperr.NotFound("master roadmap %q", masterID)
	}
	f, err := e.facts(ctx, userID, m)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		UserID:        userID,
		MasterID:      masterID,
		CurrentYear:   f.Progress.CurrentYear,
		UnlockedYears: UnlockedYears(m, f),
		Years:         make([]YearStatus, 0, len(m.Years)),
	}
	for _, y := range m.Years {
		st.Years = append(st.Years, YearStatus{
			Year:              y.Number,
			Title:             y.Title,
			CompletionPercent: f.Progress.Completion(y.Number),
			Unlocked:          IsYearUnlocked(m, f, y.Number),
			TestOutRoadmap:    y.TestOutRoadmap,
			TestOutPassed:     f.Passed[y.TestOutRoadmap],
		})
	}
	return st, nil
}

// IsYearUnlocked evaluates a single year.
func (e *Evaluator) IsYearUnlocked(ctx context.Context, userID, masterID string, year int) (bool, error) {
	m, ok := e.catalog.Master(masterID)
	if !ok {
		return false, apperr.NotFound("master roadmap %q", masterID)
	}
	if year == 1 {
		return true, nil
	}
	f, err := e.facts(ctx, userID, m)
	if err != nil {
		return false, err
	}
	return IsYearUnlocked(m, f, year), nil
}

func (e *Evaluator) facts(ctx context.Context, userID string, m catalog.MasterRoadmap) (Facts, error) {
	p, err := e.progress.MasterProgress(ctx, userID, m.ID)
	if err != nil {
		return Facts{}, fmt.Errorf("read master progress: %w", err)
	}
	f := Facts{Progress: p, Passed: make(map[string]bool)}
	for _, y := range m.Years {
		if y.TestOutRoadmap == "" {
			continue
		}
		if _, done := f.Passed[y.TestOutRoadmap]; done {
			continue
		}
		passed, err := e.results.HasPassed(ctx, userID, y.TestOutRoadmap)
		if err != nil {
			return Facts{}, fmt.Errorf("read test-out result: %w", err)
		}
		f.Passed[y.TestOutRoadmap] = passed
	}
	return f, nil
}
