// Package catalog holds the read-mostly curriculum definitions: master
// roadmaps, roadmaps and their quiz banks.
package catalog

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
)

// MinBankSize is the number of quizzes a roadmap needs before it can be
// published for assessment.
const MinBankSize = 2

// Reader is the read side of the catalog consumed by the engine.
type Reader interface {
	Master(id string) (MasterRoadmap, bool)
	Roadmap(slug string) (Roadmap, bool)
	Bank(roadmapID string) []Quiz
	Quiz(id string) (Quiz, bool)
	MastersContaining(roadmapID string) []MasterRoadmap
}

// Defaults fill roadmap fields left unset by the catalog author.
type Defaults struct {
	QuizAttemptLimit int
	PassingScore     int
}

// DefaultDefaults matches the platform defaults: 5 attempts, 70% to pass.
var DefaultDefaults = Defaults{QuizAttemptLimit: 5, PassingScore: 70}

// Store is an in-memory catalog.
type Store struct {
	defaults Defaults
	masters  map[string]MasterRoadmap
	roadmaps map[string]Roadmap
	quizzes  map[string]Quiz
	banks    map[string][]string // roadmap slug -> quiz ids in insertion order
	mu       sync.RWMutex
}

// NewStore creates an empty catalog.
func NewStore(defaults Defaults) *Store {
	if defaults.QuizAttemptLimit == 0 {
		defaults.QuizAttemptLimit = DefaultDefaults.QuizAttemptLimit
	}
	if defaults.PassingScore == 0 {
		defaults.PassingScore = DefaultDefaults.PassingScore
	}
	return &Store{
		defaults: defaults,
		masters:  make(map[string]MasterRoadmap),
		roadmaps: make(map[string]Roadmap),
		quizzes:  make(map[string]Quiz),
		banks:    make(map[string][]string),
	}
}

// AddMaster registers a master roadmap. Years must be numbered 1..N in order.
func (s *Store) AddMaster(m MasterRoadmap) error {
	if m.ID == "" {
		return apperr.Validation("master roadmap id is required")
	}
	if len(m.Years) == 0 {
		return apperr.Validation("master roadmap %q has no years", m.ID)
	}
	for i, y := range m.Years {
		if y.Number != i+1 {
			return apperr.Validation("master roadmap %q: year at position %d is numbered %d", m.ID, i+1, y.Number)
		}
	}
	if err := validateElectives(m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.masters[m.ID] = m
	return nil
}

// AddRoadmap registers a roadmap as unpublished, applying defaults.
func (s *Store) AddRoadmap(r Roadmap) error {
	if r.Slug == "" {
		return apperr.Validation("roadmap slug is required")
	}
	if len(r.Nodes) == 0 {
		return apperr.Validation("roadmap %q has no nodes", r.Slug)
	}
	r.QuizAttemptLimit = Ptr(orDefault(r.QuizAttemptLimit, s.defaults.QuizAttemptLimit))
	r.PassingScore = Ptr(orDefault(r.PassingScore, s.defaults.PassingScore))
	if r.AttemptLimit() < 1 {
		return apperr.Validation("roadmap %q: quiz attempt limit must be positive", r.Slug)
	}
	if r.PassMark() < 0 || r.PassMark() > 100 {
		return apperr.Validation("roadmap %q: passing score must be within 0-100", r.Slug)
	}
	seen := make(map[string]bool, len(r.Nodes))
	for _, n := range r.Nodes {
		if n.ID == "" || seen[n.ID] {
			return apperr.Validation("roadmap %q: node ids must be unique and non-empty", r.Slug)
		}
		seen[n.ID] = true
	}
	r.Published = false

	s.mu.Lock()
	defer s.mu.Unlock()
	s.roadmaps[r.Slug] = r
	return nil
}

// AddQuiz adds a quiz to the bank of its roadmap.
func (s *Store) AddQuiz(q Quiz) error {
	if err := validateQuiz(q); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roadmaps[q.RoadmapID]; !ok {
		return apperr.NotFound("roadmap %q for quiz %q", q.RoadmapID, q.ID)
	}
	if existing, ok := s.quizzes[q.ID]; ok && existing.RoadmapID != q.RoadmapID {
		return apperr.Validation("quiz %q already belongs to roadmap %q", q.ID, existing.RoadmapID)
	}
	if !slices.Contains(s.banks[q.RoadmapID], q.ID) {
		s.banks[q.RoadmapID] = append(s.banks[q.RoadmapID], q.ID)
	}
	s.quizzes[q.ID] = q
	return nil
}

// Publish marks a roadmap as available for assessment.
func (s *Store) Publish(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roadmaps[slug]
	if !ok {
		return apperr.NotFound("roadmap %q", slug)
	}
	if n := len(s.banks[slug]); n < MinBankSize {
		return apperr.Validation("roadmap %q has %d quizzes in its bank, need at least %d to publish", slug, n, MinBankSize)
	}
	r.Published = true
	s.roadmaps[slug] = r
	return nil
}

func (s *Store) Master(id string) (MasterRoadmap, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.masters[id]
	return m, ok
}

func (s *Store) Roadmap(slug string) (Roadmap, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roadmaps[slug]
	return r, ok
}

// Bank returns the quizzes of a roadmap in insertion order.
func (s *Store) Bank(roadmapID string) []Quiz {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.banks[roadmapID]
	bank := make([]Quiz, 0, len(ids))
	for _, id := range ids {
		bank = append(bank, s.quizzes[id])
	}
	return bank
}

func (s *Store) Quiz(id string) (Quiz, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quizzes[id]
	return q, ok
}

// MastersContaining returns the masters referencing the roadmap, sorted by id.
func (s *Store) MastersContaining(roadmapID string) []MasterRoadmap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var masters []MasterRoadmap
	for _, m := range s.masters {
		if len(m.YearsContaining(roadmapID)) > 0 {
			masters = append(masters, m)
		}
	}
	sort.Slice(masters, func(i, j int) bool { return masters[i].ID < masters[j].ID })
	return masters
}

// AllRoadmaps returns every roadmap sorted by slug.
func (s *Store) AllRoadmaps() []Roadmap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roadmaps := make([]Roadmap, 0, len(s.roadmaps))
	for _, r := range s.roadmaps {
		roadmaps = append(roadmaps, r)
	}
	sort.Slice(roadmaps, func(i, j int) bool { return roadmaps[i].Slug < roadmaps[j].Slug })
	return roadmaps
}

// AllMasters returns every master roadmap sorted by id.
func (s *Store) AllMasters() []MasterRoadmap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	masters := make([]MasterRoadmap, 0, len(s.masters))
	for _, m := range s.masters {
		masters = append(masters, m)
	}
	sort.Slice(masters, func(i, j int) bool { return masters[i].ID < masters[j].ID })
	return masters
}

func orDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// validateElectives checks that the tech stack choice is a single branch:
// every elective year offers the same stacks and an elective roadmap belongs
// to one stack only.
func validateElectives(m MasterRoadmap) error {
	var stacks []string
	owner := make(map[string]string)
	for _, y := range m.Years {
		if !y.HasElectives() {
			continue
		}
		offered := y.Stacks()
		if stacks == nil {
			stacks = offered
		} else if !slices.Equal(stacks, offered) {
			return apperr.Validation("master roadmap %q: year %d offers tech stacks %v, want %v", m.ID, y.Number, offered, stacks)
		}
		for _, s := range offered {
			r := y.Electives[s]
			if s == "" || r == "" {
				return apperr.Validation("master roadmap %q: year %d has an empty elective", m.ID, y.Number)
			}
			if prev, ok := owner[r]; ok && prev != s {
				return apperr.Validation("master roadmap %q: roadmap %q is an elective of both %q and %q", m.ID, r, prev, s)
			}
			owner[r] = s
		}
	}
	return nil
}

func validateQuiz(q Quiz) error {
	if q.ID == "" {
		return apperr.Validation("quiz id is required")
	}
	if q.RoadmapID == "" {
		return apperr.Validation("quiz %q has no roadmap", q.ID)
	}
	if len(q.Questions) == 0 {
		return apperr.Validation("quiz %q has no questions", q.ID)
	}
	if q.Settings.TimeLimitSeconds < 0 {
		return apperr.Validation("quiz %q: time limit must not be negative", q.ID)
	}

	ids := make(map[string]bool, len(q.Questions))
	for _, question := range q.Questions {
		if question.ID == "" || ids[question.ID] {
			return apperr.Validation("quiz %q: question ids must be unique and non-empty", q.ID)
		}
		ids[question.ID] = true
		if err := validateQuestion(question); err != nil {
			return fmt.Errorf("quiz %q: %w", q.ID, err)
		}
	}
	return nil
}

func validateQuestion(q Question) error {
	if !q.Type.Valid() {
		return apperr.Validation("question %q has unknown type %q", q.ID, q.Type)
	}
	if len(q.Correct) == 0 {
		return apperr.Validation("question %q has no correct answer", q.ID)
	}
	if q.Type == QuestionSingle && len(q.Correct) != 1 {
		return apperr.Validation("single-answer question %q has %d correct answers", q.ID, len(q.Correct))
	}
	for _, c := range q.Correct {
		if !slices.Contains(q.Options, c) {
			return apperr.Validation("question %q: correct answer %q is not an option", q.ID, c)
		}
	}
	return nil
}
