package quiz

import (
	"math"
	"slices"

	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
)

// Grade scores answers against the quiz. Unanswered questions count as
// incorrect; answers to unknown or repeated questions are rejected.
// Multiple-answer questions need the exact correct set, no partial credit.
func Grade(q catalog.Quiz, passingScore int, answers []Answer) (Result, error) {
	byQuestion := make(map[string][]string, len(answers))
	for _, a := range answers {
		if _, ok := q.Question(a.QuestionID); !ok {
			return Result{}, apperr.Validation("question %q is not part of quiz %q", a.QuestionID, q.ID)
		}
		if _, dup := byQuestion[a.QuestionID]; dup {
			return Result{}, apperr.Validation("question %q answered more than once", a.QuestionID)
		}
		byQuestion[a.QuestionID] = a.Selected
	}

	res := Result{
		QuizID:         q.ID,
		TotalQuestions: len(q.Questions),
		Answers:        make([]GradedAnswer, 0, len(q.Questions)),
	}
	for _, question := range q.Questions {
		selected := byQuestion[question.ID]
		correct := isCorrect(question, selected)
		if correct {
			res.Score++
		}
		res.Answers = append(res.Answers, GradedAnswer{
			QuestionID: question.ID,
			Selected:   nonNil(selected),
			IsCorrect:  correct,
			Topic:      question.Topic,
			Difficulty: question.Difficulty,
		})
	}

	res.Percentage = Percentage(res.Score, res.TotalQuestions)
	res.Passed = res.Percentage >= passingScore
	return res, nil
}

// Percentage returns round(100 * correct / total).
func Percentage(correct, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(correct) / float64(total)))
}

func isCorrect(q catalog.Question, selected []string) bool {
	got := set(selected)
	switch q.Type {
	case catalog.QuestionSingle:
		return len(got) == 1 && len(q.Correct) == 1 && got[0] == q.Correct[0]
	case catalog.QuestionMultiple:
		return slices.Equal(got, set(q.Correct))
	default:
		return false
	}
}

// set returns the sorted distinct values.
func set(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
