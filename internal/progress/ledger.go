// Package progress is the ledger of what each user has completed: roadmap
// node sets and per-year completion of master roadmaps.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/events"
	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
)

// TestOutReader tells whether a user passed a roadmap's quiz.
type TestOutReader interface {
	HasPassed(ctx context.Context, userID, roadmapID string) (bool, error)
}

// LedgerConfig holds dependencies for the ledger.
type LedgerConfig struct {
	Catalog   catalog.Reader
	Store     Store
	Publisher events.Publisher
	// TestOuts opens years by test-out when moving the current year. Nil
	// means only completed years open the next one.
	TestOuts TestOutReader
}

// Ledger records node completions and derives roadmap and master progress.
type Ledger struct {
	catalog   catalog.Reader
	store     Store
	publisher events.Publisher
	testOuts  TestOutReader
}

// Change is the outcome of a node completion. It replaces ambient
// broadcasts: callers refresh derived state from it.
type Change struct {
	Roadmap RoadmapProgress  `json:"roadmap"`
	Masters []MasterProgress `json:"masters"`
	// NewlyCompleted lists node ids that were not completed before.
	NewlyCompleted []string `json:"newlyCompleted"`
}

// NewLedger creates a progress ledger.
func NewLedger(cfg LedgerConfig) *Ledger {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Ledger{
		catalog:   cfg.Catalog,
		store:     store,
		publisher: publisher,
		testOuts:  cfg.TestOuts,
	}
}

// CompleteNodes marks nodes of a roadmap as completed and raises the
// progress of every master roadmap containing it.
func (l *Ledger) CompleteNodes(ctx context.Context, userID, roadmapID string, nodeIDs []string) (Change, error) {
	if userID == "" {
		return Change{}, apperr.Validation("user id is required")
	}
	if len(nodeIDs) == 0 {
		return Change{}, apperr.Validation("at least one node id is required")
	}
	roadmap, ok := l.catalog.Roadmap(roadmapID)
	if !ok {
		return Change{}, apperr.NotFound("roadmap %q", roadmapID)
	}
	for _, id := range nodeIDs {
		if !roadmap.HasNode(id) {
			return Change{}, apperr.Validation("node %q is not part of roadmap %q", id, roadmapID)
		}
	}

	before, err := l.store.RoadmapProgress(ctx, userID, roadmapID)
	if err != nil {
		return Change{}, fmt.Errorf("read roadmap progress: %w", err)
	}

	after, err := l.store.AddCompletedNodes(ctx, userID, roadmapID, nodeIDs)
	if err != nil {
		return Change{}, fmt.Errorf("add completed nodes: %w", err)
	}
	after.OverallProgress = Percent(roadmap, after.CompletedNodeIDs)

	change := Change{Roadmap: after, NewlyCompleted: []string{}}
	for _, id := range nodeIDs {
		if !before.HasCompleted(id) && !slices.Contains(change.NewlyCompleted, id) {
			change.NewlyCompleted = append(change.NewlyCompleted, id)
		}
	}

	for _, m := range l.catalog.MastersContaining(roadmapID) {
		mp, err := l.refreshMaster(ctx, userID, m, m.YearsContaining(roadmapID)...)
		if err != nil {
			return Change{}, err
		}
		change.Masters = append(change.Masters, mp)
	}

	slog.Info("nodes completed",
		"user_id", userID,
		"roadmap_id", roadmapID,
		"new_nodes", len(change.NewlyCompleted),
		"overall_progress", after.OverallProgress,
	)

	events.Emit(ctx, l.publisher, events.Event{
		Type:    events.TypeProgressUpdated,
		UserID:  userID,
		Subject: roadmapID,
		Data: map[string]any{
			"overallProgress": after.OverallProgress,
			"newlyCompleted":  change.NewlyCompleted,
			"masters":         masterIDs(change.Masters),
		},
	})
	return change, nil
}

// RoadmapProgress returns a user's progress on one roadmap.
func (l *Ledger) RoadmapProgress(ctx context.Context, userID, roadmapID string) (RoadmapProgress, error) {
	roadmap, ok := l.catalog.Roadmap(roadmapID)
	if !ok {
		return RoadmapProgress{}, apperr.NotFound("roadmap %q", roadmapID)
	}
	p, err := l.store.RoadmapProgress(ctx, userID, roadmapID)
	if err != nil {
		return RoadmapProgress{}, fmt.Errorf("read roadmap progress: %w", err)
	}
	p.OverallProgress = Percent(roadmap, p.CompletedNodeIDs)
	return p, nil
}

// MasterProgress returns stored master progress merged with a fresh
// recomputation from roadmap progress. It does not write.
func (l *Ledger) MasterProgress(ctx context.Context, userID, masterID string) (MasterProgress, error) {
	m, ok := l.catalog.Master(masterID)
	if !ok {
		return MasterProgress{}, apperr.NotFound("master roadmap %q", masterID)
	}
	stored, err := l.store.MasterProgress(ctx, userID, masterID)
	if err != nil {
		return MasterProgress{}, fmt.Errorf("read master progress: %w", err)
	}
	percents, err := l.roadmapPercents(ctx, userID, m)
	if err != nil {
		return MasterProgress{}, err
	}
	return Recompute(m, stored, lookup(percents), nil), nil
}

// ChooseTechStack records the user's elective branch for a master roadmap.
// choice is a tech stack label or one of that stack's elective roadmaps; the
// branch then applies to every elective year. Progress recorded under a
// previous choice is kept.
func (l *Ledger) ChooseTechStack(ctx context.Context, userID, masterID, choice string) (MasterProgress, error) {
	if userID == "" {
		return MasterProgress{}, apperr.Validation("user id is required")
	}
	m, ok := l.catalog.Master(masterID)
	if !ok {
		return MasterProgress{}, apperr.NotFound("master roadmap %q", masterID)
	}
	stack := choice
	if !m.HasStack(stack) {
		if stack, ok = m.StackOf(choice); !ok {
			return MasterProgress{}, apperr.Validation("%q is not a tech stack or elective of %q", choice, masterID)
		}
	}

	if err := l.store.SetTechStack(ctx, userID, masterID, stack); err != nil {
		return MasterProgress{}, fmt.Errorf("set tech stack: %w", err)
	}
	mp, err := l.refreshMaster(ctx, userID, m)
	if err != nil {
		return MasterProgress{}, err
	}

	slog.Info("tech stack chosen", "user_id", userID, "master_id", masterID, "tech_stack", stack)
	events.Emit(ctx, l.publisher, events.Event{
		Type:    events.TypeTechStackChosen,
		UserID:  userID,
		Subject: masterID,
		Data:    map[string]any{"techStack": stack},
	})
	return mp, nil
}

// DeleteUser removes all progress of a deleted account.
func (l *Ledger) DeleteUser(ctx context.Context, userID string) error {
	if userID == "" {
		return apperr.Validation("user id is required")
	}
	return l.store.DeleteUser(ctx, userID)
}

// refreshMaster recomputes and persists a master's progress.
func (l *Ledger) refreshMaster(ctx context.Context, userID string, m catalog.MasterRoadmap, touchedYears ...int) (MasterProgress, error) {
	stored, err := l.store.MasterProgress(ctx, userID, m.ID)
	if err != nil {
		return MasterProgress{}, fmt.Errorf("read master progress: %w", err)
	}
	percents, err := l.roadmapPercents(ctx, userID, m)
	if err != nil {
		return MasterProgress{}, err
	}

	passed, err := l.passedTestOuts(ctx, userID, m, touchedYears)
	if err != nil {
		return MasterProgress{}, err
	}

	next := Recompute(m, stored, lookup(percents), passed, touchedYears...)
	next.UserID = userID
	if err := l.store.RaiseMasterProgress(ctx, next); err != nil {
		return MasterProgress{}, fmt.Errorf("raise master progress: %w", err)
	}
	return next, nil
}

// roadmapPercents reads the progress of every roadmap referenced by m.
func (l *Ledger) roadmapPercents(ctx context.Context, userID string, m catalog.MasterRoadmap) (map[string]int, error) {
	percents := make(map[string]int)
	for _, y := range m.Years {
		for _, id := range append(slices.Clone(y.Roadmaps), y.ElectiveRoadmaps()...) {
			if _, done := percents[id]; done {
				continue
			}
			roadmap, ok := l.catalog.Roadmap(id)
			if !ok {
				percents[id] = 0
				continue
			}
			p, err := l.store.RoadmapProgress(ctx, userID, id)
			if err != nil {
				return nil, fmt.Errorf("read roadmap progress %s: %w", id, err)
			}
			percents[id] = Percent(roadmap, p.CompletedNodeIDs)
		}
	}
	return percents, nil
}

// passedTestOuts reads the test-out results that could open the touched
// years.
func (l *Ledger) passedTestOuts(ctx context.Context, userID string, m catalog.MasterRoadmap, touchedYears []int) (func(string) bool, error) {
	if l.testOuts == nil {
		return nil, nil
	}
	passed := make(map[string]bool)
	for _, n := range touchedYears {
		prev, ok := m.Year(n - 1)
		if !ok || prev.TestOutRoadmap == "" {
			continue
		}
		if _, done := passed[prev.TestOutRoadmap]; done {
			continue
		}
		pass, err := l.testOuts.HasPassed(ctx, userID, prev.TestOutRoadmap)
		if err != nil {
			return nil, fmt.Errorf("read test-out result: %w", err)
		}
		passed[prev.TestOutRoadmap] = pass
	}
	return func(id string) bool { return passed[id] }, nil
}

func lookup(percents map[string]int) func(string) int {
	return func(id string) int { return percents[id] }
}

func masterIDs(masters []MasterProgress) []string {
	ids := make([]string, 0, len(masters))
	for _, m := range masters {
		ids = append(ids, m.MasterID)
	}
	return ids
}
