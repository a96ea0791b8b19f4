package catalog

import (
	"slices"
	"time"
)

// QuestionType distinguishes single-answer from multiple-answer questions.
type QuestionType string

const (
	QuestionSingle   QuestionType = "single"
	QuestionMultiple QuestionType = "multiple"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	return t == QuestionSingle || t == QuestionMultiple
}

// Question is one quiz question. Correct never leaves the service.
type Question struct {
	ID         string       `yaml:"id" json:"id"`
	Text       string       `yaml:"text" json:"text"`
	Type       QuestionType `yaml:"type" json:"type"`
	Options    []string     `yaml:"options" json:"options"`
	Correct    []string     `yaml:"correct" json:"-"`
	Topic      string       `yaml:"topic" json:"topic,omitempty"`
	Difficulty string       `yaml:"difficulty" json:"difficulty,omitempty"`
}

// QuizSettings holds per-quiz limits.
type QuizSettings struct {
	TimeLimitSeconds int `yaml:"time_limit_seconds" json:"timeLimitSeconds"`
	PassingScore     int `yaml:"passing_score" json:"passingScore,omitempty"`
}

// TimeLimit returns the time allowed for one attempt; zero means unlimited.
func (s QuizSettings) TimeLimit() time.Duration {
	return time.Duration(s.TimeLimitSeconds) * time.Second
}

// Quiz is one entry of a roadmap's quiz bank.
type Quiz struct {
	ID        string       `yaml:"id" json:"quizId"`
	Name      string       `yaml:"name" json:"quizName"`
	RoadmapID string       `yaml:"-" json:"roadmapId"`
	Questions []Question   `yaml:"questions" json:"questions"`
	Settings  QuizSettings `yaml:"settings" json:"settings"`
}

// Question returns the question with the given id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// Node is a unit of roadmap content. Only its id matters to progression.
type Node struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
}

// Roadmap is a single learning track with an optional quiz bank.
// QuizAttemptLimit and PassingScore are optional; nil takes the catalog
// default when the roadmap is added.
type Roadmap struct {
	Slug             string `yaml:"slug" json:"slug"`
	Title            string `yaml:"title" json:"title"`
	Nodes            []Node `yaml:"nodes" json:"nodes"`
	QuizAttemptLimit *int   `yaml:"quiz_attempt_limit" json:"quizAttemptLimit"`
	PassingScore     *int   `yaml:"passing_score" json:"passingScore"`
	// Published is set only once the quiz bank holds at least MinBankSize quizzes.
	Published bool `yaml:"-" json:"published"`
}

// AttemptLimit returns the number of quiz attempts allowed.
func (r Roadmap) AttemptLimit() int {
	if r.QuizAttemptLimit == nil {
		return 0
	}
	return *r.QuizAttemptLimit
}

// PassMark returns the percentage needed to pass the roadmap's quizzes.
func (r Roadmap) PassMark() int {
	if r.PassingScore == nil {
		return 0
	}
	return *r.PassingScore
}

// Ptr returns a pointer to v, for the optional roadmap fields.
func Ptr[T any](v T) *T {
	return &v
}

// HasNode reports whether the roadmap contains the node.
func (r Roadmap) HasNode(id string) bool {
	return slices.ContainsFunc(r.Nodes, func(n Node) bool { return n.ID == id })
}

// Year is one year of a master roadmap. Roadmaps all count toward the year's
// completion; of the Electives only the roadmap of the user's chosen tech
// stack counts. Electives maps a tech stack label to its roadmap slug.
type Year struct {
	Number         int               `yaml:"year" json:"yearNumber"`
	Title          string            `yaml:"title" json:"title"`
	Roadmaps       []string          `yaml:"roadmaps" json:"roadmaps"`
	Electives      map[string]string `yaml:"electives" json:"electives,omitempty"`
	TestOutRoadmap string            `yaml:"test_out_roadmap" json:"testOutRoadmap,omitempty"`
}

// HasElectives reports whether the year branches on a tech stack choice.
func (y Year) HasElectives() bool {
	return len(y.Electives) > 0
}

// Elective returns the roadmap the tech stack takes in this year.
func (y Year) Elective(stack string) (string, bool) {
	r, ok := y.Electives[stack]
	return r, ok
}

// ElectiveRoadmaps returns the elective roadmap slugs sorted by stack label.
func (y Year) ElectiveRoadmaps() []string {
	stacks := y.Stacks()
	out := make([]string, 0, len(stacks))
	for _, s := range stacks {
		out = append(out, y.Electives[s])
	}
	return out
}

// Stacks returns the tech stack labels offered in this year, sorted.
func (y Year) Stacks() []string {
	stacks := make([]string, 0, len(y.Electives))
	for s := range y.Electives {
		stacks = append(stacks, s)
	}
	slices.Sort(stacks)
	return stacks
}

// MasterRoadmap is a multi-year curriculum.
type MasterRoadmap struct {
	ID    string `yaml:"id" json:"masterId"`
	Title string `yaml:"title" json:"title"`
	Years []Year `yaml:"years" json:"years"`
}

// Year returns year n (1-based).
func (m MasterRoadmap) Year(n int) (Year, bool) {
	if n < 1 || n > len(m.Years) {
		return Year{}, false
	}
	return m.Years[n-1], true
}

// YearsContaining returns the numbers of years that reference the roadmap,
// either as a core roadmap or as an elective.
func (m MasterRoadmap) YearsContaining(roadmapID string) []int {
	var years []int
	for _, y := range m.Years {
		if slices.Contains(y.Roadmaps, roadmapID) || slices.Contains(y.ElectiveRoadmaps(), roadmapID) {
			years = append(years, y.Number)
		}
	}
	return years
}

// IsElective reports whether the roadmap is an elective option in any year.
func (m MasterRoadmap) IsElective(roadmapID string) bool {
	_, ok := m.StackOf(roadmapID)
	return ok
}

// StackOf returns the tech stack whose branch contains the elective roadmap.
func (m MasterRoadmap) StackOf(roadmapID string) (string, bool) {
	for _, y := range m.Years {
		for _, s := range y.Stacks() {
			if y.Electives[s] == roadmapID {
				return s, true
			}
		}
	}
	return "", false
}

// HasStack reports whether the tech stack is offered by the master.
func (m MasterRoadmap) HasStack(stack string) bool {
	return slices.ContainsFunc(m.Years, func(y Year) bool {
		_, ok := y.Electives[stack]
		return ok
	})
}
