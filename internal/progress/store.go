package progress

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Store persists progress. Node completion is a set union and percentages
// only ever rise, so writers never need to read-modify-write a snapshot.
type Store interface {
	// AddCompletedNodes unions nodeIDs into the completed set and returns
	// the resulting set. OverallProgress is left for the caller to derive.
	AddCompletedNodes(ctx context.Context, userID, roadmapID string, nodeIDs []string) (RoadmapProgress, error)
	// RoadmapProgress returns empty progress when the user never started.
	RoadmapProgress(ctx context.Context, userID, roadmapID string) (RoadmapProgress, error)
	// MasterProgress returns progress with CurrentYear 1 when the user never started.
	MasterProgress(ctx context.Context, userID, masterID string) (MasterProgress, error)
	// RaiseMasterProgress stores the maximum of stored and given values.
	RaiseMasterProgress(ctx context.Context, p MasterProgress) error
	SetTechStack(ctx context.Context, userID, masterID, stack string) error
	// DeleteUser removes every progress record of the user.
	DeleteUser(ctx context.Context, userID string) error
}

type roadmapKey struct{ userID, roadmapID string }

type masterKey struct{ userID, masterID string }

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	roadmaps map[roadmapKey]*RoadmapProgress
	masters  map[masterKey]*MasterProgress
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roadmaps: make(map[roadmapKey]*RoadmapProgress),
		masters:  make(map[masterKey]*MasterProgress),
	}
}

func (s *MemoryStore) AddCompletedNodes(_ context.Context, userID, roadmapID string, nodeIDs []string) (RoadmapProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := roadmapKey{userID, roadmapID}
	p, ok := s.roadmaps[key]
	if !ok {
		p = &RoadmapProgress{UserID: userID, RoadmapID: roadmapID, CompletedNodeIDs: []string{}}
		s.roadmaps[key] = p
	}
	for _, id := range nodeIDs {
		if !slices.Contains(p.CompletedNodeIDs, id) {
			p.CompletedNodeIDs = append(p.CompletedNodeIDs, id)
		}
	}
	slices.Sort(p.CompletedNodeIDs)
	p.LastAccessedAt = time.Now()
	return copyRoadmap(p), nil
}

func (s *MemoryStore) RoadmapProgress(_ context.Context, userID, roadmapID string) (RoadmapProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.roadmaps[roadmapKey{userID, roadmapID}]
	if !ok {
		return RoadmapProgress{UserID: userID, RoadmapID: roadmapID, CompletedNodeIDs: []string{}}, nil
	}
	return copyRoadmap(p), nil
}

func (s *MemoryStore) MasterProgress(_ context.Context, userID, masterID string) (MasterProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.masters[masterKey{userID, masterID}]
	if !ok {
		return MasterProgress{UserID: userID, MasterID: masterID, CurrentYear: 1}, nil
	}
	return copyMaster(p), nil
}

func (s *MemoryStore) RaiseMasterProgress(_ context.Context, next MasterProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.master(next.UserID, next.MasterID)
	p.CurrentYear = max(p.CurrentYear, next.CurrentYear)
	for _, yp := range next.YearProgress {
		i := slices.IndexFunc(p.YearProgress, func(e YearProgress) bool { return e.Year == yp.Year })
		if i < 0 {
			p.YearProgress = append(p.YearProgress, yp)
			continue
		}
		p.YearProgress[i].CompletionPercent = max(p.YearProgress[i].CompletionPercent, yp.CompletionPercent)
	}
	slices.SortFunc(p.YearProgress, func(a, b YearProgress) int { return a.Year - b.Year })
	return nil
}

func (s *MemoryStore) SetTechStack(_ context.Context, userID, masterID, stack string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.master(userID, masterID).ChosenTechStack = stack
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.roadmaps {
		if k.userID == userID {
			delete(s.roadmaps, k)
		}
	}
	for k := range s.masters {
		if k.userID == userID {
			delete(s.masters, k)
		}
	}
	return nil
}

// master returns the stored master progress, creating it. Callers hold mu.
func (s *MemoryStore) master(userID, masterID string) *MasterProgress {
	key := masterKey{userID, masterID}
	p, ok := s.masters[key]
	if !ok {
		p = &MasterProgress{UserID: userID, MasterID: masterID, CurrentYear: 1}
		s.masters[key] = p
	}
	return p
}

func copyRoadmap(p *RoadmapProgress) RoadmapProgress {
	out := *p
	out.CompletedNodeIDs = slices.Clone(p.CompletedNodeIDs)
	return out
}

func copyMaster(p *MasterProgress) MasterProgress {
	out := *p
	out.YearProgress = slices.Clone(p.YearProgress)
	return out
}
