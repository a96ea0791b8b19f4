// Package quiz serves quizzes from a roadmap's bank, enforces attempt
// limits, grades submissions and aggregates weak topics.
package quiz

import (
	"time"

	"github.com/p-n-ai/pai-progress/internal/catalog"
)

// Status is the state of a quiz attempt.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSubmitted || s == StatusExpired
}

// Attempt is one quiz session of a user on a roadmap.
type Attempt struct {
	ID        string    `json:"attemptId"`
	UserID    string    `json:"userId"`
	RoadmapID string    `json:"roadmapId"`
	QuizID    string    `json:"quizId"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
	// ExpiresAt is nil when the quiz has no time limit.
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Overdue reports whether an in-progress attempt ran past its time limit.
func (a Attempt) Overdue(now time.Time) bool {
	return a.Status == StatusInProgress && a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// Session is a started attempt together with the quiz to answer. Correct
// answers are never serialized.
type Session struct {
	Attempt Attempt      `json:"attempt"`
	Quiz    catalog.Quiz `json:"quiz"`
	Resumed bool         `json:"resumed"`
}

// Answer is the user's selection for one question.
type Answer struct {
	QuestionID string   `json:"questionId" validate:"required"`
	Selected   []string `json:"selected"`
}

// GradedAnswer is an answer tagged with its correctness.
type GradedAnswer struct {
	QuestionID string   `json:"questionId"`
	Selected   []string `json:"selected"`
	IsCorrect  bool     `json:"isCorrect"`
	Topic      string   `json:"topic,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
}

// Result is the immutable outcome of a submitted attempt.
type Result struct {
	AttemptID      string         `json:"attemptId"`
	UserID         string         `json:"userId"`
	RoadmapID      string         `json:"roadmapId"`
	QuizID         string         `json:"quizId"`
	Score          int            `json:"score"`
	TotalQuestions int            `json:"totalQuestions"`
	Percentage     int            `json:"percentage"`
	Passed         bool           `json:"passed"`
	Answers        []GradedAnswer `json:"answers"`
	SubmittedAt    time.Time      `json:"submittedAt"`
}

// IncorrectTopics returns the topic of every incorrect answer, repeats included.
func (r Result) IncorrectTopics() []string {
	var topics []string
	for _, a := range r.Answers {
		if !a.IsCorrect && a.Topic != "" {
			topics = append(topics, a.Topic)
		}
	}
	return topics
}

// Best returns the result with the highest percentage, the earliest on ties.
func Best(results []Result) (Result, bool) {
	if len(results) == 0 {
		return Result{}, false
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Percentage > best.Percentage {
			best = r
		}
	}
	return best, true
}
