package progress

import (
	"slices"
	"sort"
	"time"

	"github.com/p-n-ai/pai-progress/internal/catalog"
)

// RoadmapProgress is a user's completion state for one roadmap.
type RoadmapProgress struct {
	UserID           string    `json:"userId"`
	RoadmapID        string    `json:"roadmapId"`
	CompletedNodeIDs []string  `json:"completedNodeIds"`
	OverallProgress  int       `json:"overallProgress"`
	LastAccessedAt   time.Time `json:"lastAccessedAt,omitzero"`
}

// HasCompleted reports whether the node is in the completed set.
func (p RoadmapProgress) HasCompleted(nodeID string) bool {
	return slices.Contains(p.CompletedNodeIDs, nodeID)
}

// YearProgress is the completion of one year of a master roadmap.
type YearProgress struct {
	Year              int `json:"year"`
	CompletionPercent int `json:"completionPercent"`
}

// MasterProgress is a user's state in a master roadmap.
type MasterProgress struct {
	UserID          string         `json:"userId"`
	MasterID        string         `json:"masterId"`
	CurrentYear     int            `json:"currentYear"`
	YearProgress    []YearProgress `json:"yearProgress"`
	// ChosenTechStack is a tech stack label of the master's elective years.
	ChosenTechStack string `json:"chosenTechStack,omitempty"`
}

// Completion returns the completion percent of year n, or 0 when the user
// never started it.
func (m MasterProgress) Completion(year int) int {
	for _, yp := range m.YearProgress {
		if yp.Year == year {
			return yp.CompletionPercent
		}
	}
	return 0
}

// Percent returns the share of the roadmap's nodes in completed, rounded down.
func Percent(r catalog.Roadmap, completed []string) int {
	if len(r.Nodes) == 0 {
		return 0
	}
	done := 0
	for _, n := range r.Nodes {
		if slices.Contains(completed, n.ID) {
			done++
		}
	}
	return done * 100 / len(r.Nodes)
}

// YearCompletion averages the roadmaps that count toward the year. An
// elective year counts the chosen tech stack's roadmap as one extra slot,
// which stays at 0 until a stack is chosen.
func YearCompletion(y catalog.Year, techStack string, percent func(roadmapID string) int) int {
	slots := len(y.Roadmaps)
	sum := 0
	for _, r := range y.Roadmaps {
		sum += percent(r)
	}
	if y.HasElectives() {
		slots++
		if r, ok := y.Elective(techStack); ok {
			sum += percent(r)
		}
	}
	if slots == 0 {
		return 0
	}
	return sum / slots
}

// YearOpen reports whether a year of the master is open to the user. Year 1
// always is. Year N opens once year N-1 is complete or the test-out roadmap
// of year N-1 was passed. passed may be nil.
func YearOpen(m catalog.MasterRoadmap, p MasterProgress, passed func(roadmapID string) bool, year int) bool {
	if year < 1 || year > len(m.Years) {
		return false
	}
	if year == 1 {
		return true
	}
	prev, _ := m.Year(year - 1)
	if p.Completion(prev.Number) == 100 {
		return true
	}
	return prev.TestOutRoadmap != "" && passed != nil && passed(prev.TestOutRoadmap)
}

// Recompute derives master progress from current roadmap percentages and
// merges it with stored so that no percentage or the current year ever
// decreases. touchedYears are years the user just worked in; they move the
// current year forward only when open.
func Recompute(m catalog.MasterRoadmap, stored MasterProgress, percent func(roadmapID string) int, passed func(roadmapID string) bool, touchedYears ...int) MasterProgress {
	out := MasterProgress{
		UserID:          stored.UserID,
		MasterID:        m.ID,
		CurrentYear:     max(stored.CurrentYear, 1),
		ChosenTechStack: stored.ChosenTechStack,
	}

	byYear := make(map[int]int, len(m.Years))
	for _, yp := range stored.YearProgress {
		byYear[yp.Year] = yp.CompletionPercent
	}

	frontier := 0
	for _, y := range m.Years {
		pct := max(byYear[y.Number], YearCompletion(y, stored.ChosenTechStack, percent))
		byYear[y.Number] = pct
		if frontier == 0 && pct < 100 {
			frontier = y.Number
		}
	}
	if frontier == 0 {
		frontier = len(m.Years)
	}
	out.CurrentYear = max(out.CurrentYear, frontier)

	for year, pct := range byYear {
		if pct > 0 {
			out.YearProgress = append(out.YearProgress, YearProgress{Year: year, CompletionPercent: pct})
		}
	}
	sort.Slice(out.YearProgress, func(i, j int) bool {
		return out.YearProgress[i].Year < out.YearProgress[j].Year
	})

	for _, y := range touchedYears {
		if YearOpen(m, out, passed, y) {
			out.CurrentYear = max(out.CurrentYear, y)
		}
	}
	return out
}
