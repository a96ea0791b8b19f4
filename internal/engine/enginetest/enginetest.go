// Package enginetest provides a small curriculum for engine and API tests.
package enginetest

import (
	"fmt"
	"testing"

	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/quiz"
)

// Master is the id of the fixture master roadmap. Year 1 is "arrays", which
// doubles as its test-out roadmap. Year 2 is "graphs" plus a choice of "go"
// or "rust".
const Master = "dsa-track"

// AttemptLimit and PassingScore apply to "arrays".
const (
	AttemptLimit = 3
	PassingScore = 70
)

// Catalog builds the fixture. Every roadmap has nodes "a" and "b". Only
// "arrays" is published, with quizzes "arrays-q1" (ten minute limit) and
// "arrays-q2", each of ten single-answer questions whose answer is "a".
func Catalog(t testing.TB) *catalog.Store {
	t.Helper()
	store := catalog.NewStore(catalog.DefaultDefaults)

	for _, slug := range []string{"arrays", "graphs", "go", "rust"} {
		r := catalog.Roadmap{
			Slug:  slug,
			Title: slug,
			Nodes: []catalog.Node{{ID: "a"}, {ID: "b"}},
		}
		if slug == "arrays" {
			r.QuizAttemptLimit = catalog.Ptr(AttemptLimit)
			r.PassingScore = catalog.Ptr(PassingScore)
		}
		if err := store.AddRoadmap(r); err != nil {
			t.Fatalf("AddRoadmap(%s) error = %v", slug, err)
		}
	}

	err := store.AddMaster(catalog.MasterRoadmap{
		ID:    Master,
		Title: "Data Structures",
		Years: []catalog.Year{
			{Number: 1, Title: "Foundations", Roadmaps: []string{"arrays"}, TestOutRoadmap: "arrays"},
			{Number: 2, Title: "Graphs", Roadmaps: []string{"graphs"}, Electives: map[string]string{"go": "go", "rust": "rust"}},
		},
	})
	if err != nil {
		t.Fatalf("AddMaster() error = %v", err)
	}

	q1 := Quiz("arrays-q1")
	q1.Settings.TimeLimitSeconds = 600
	for _, q := range []catalog.Quiz{q1, Quiz("arrays-q2")} {
		if err := store.AddQuiz(q); err != nil {
			t.Fatalf("AddQuiz(%s) error = %v", q.ID, err)
		}
	}
	if err := store.Publish("arrays"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return store
}

// Quiz returns a ten question "arrays" quiz. Topics cycle through
// "topic-0", "topic-1" and "topic-2".
func Quiz(id string) catalog.Quiz {
	q := catalog.Quiz{ID: id, Name: "Quiz " + id, RoadmapID: "arrays"}
	for i := range 10 {
		q.Questions = append(q.Questions, catalog.Question{
			ID:      fmt.Sprintf("%s-q%d", id, i),
			Text:    "Pick a",
			Type:    catalog.QuestionSingle,
			Options: []string{"a", "b", "c"},
			Correct: []string{"a"},
			Topic:   fmt.Sprintf("topic-%d", i%3),
		})
	}
	return q
}

// Answers answers the first n questions of q correctly and the rest wrong.
func Answers(q catalog.Quiz, n int) []quiz.Answer {
	answers := make([]quiz.Answer, 0, len(q.Questions))
	for i, question := range q.Questions {
		selected := "b"
		if i < n {
			selected = "a"
		}
		answers = append(answers, quiz.Answer{QuestionID: question.ID, Selected: []string{selected}})
	}
	return answers
}
