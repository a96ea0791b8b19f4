// Package report exports quiz results as XLSX workbooks for admins.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-progress/internal/quiz"
)

// Sheet names.
const (
	ResultsSheet = "Results"
	SummarySheet = "Summary"
)

// ContentType is the MIME type of the workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var resultHeader = []any{
	"Attempt ID", "User ID", "Roadmap", "Quiz", "Score", "Total Questions", "Percentage", "Passed", "Submitted At",
}

var summaryHeader = []any{"Roadmap", "Attempts", "Passed", "Pass Rate (%)", "Average (%)"}

// WriteQuizResults writes one row per result plus a per-roadmap summary.
func WriteQuizResults(w io.Writer, results []quiz.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ResultsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	rows := make([][]any, 0, len(results))
	for _, r := range results {
		rows = append(rows, []any{
			r.AttemptID,
			r.UserID,
			r.RoadmapID,
			r.QuizID,
			r.Score,
			r.TotalQuestions,
			r.Percentage,
			r.Passed,
			r.SubmittedAt.UTC().Format(time.RFC3339),
		})
	}
	if err := writeTable(f, ResultsSheet, bold, resultHeader, rows); err != nil {
		return err
	}
	if err := writeTable(f, SummarySheet, bold, summaryHeader, summarize(results)); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeTable(f *excelize.File, sheet string, headerStyle int, header []any, rows [][]any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze %s header: %w", sheet, err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

func summarize(results []quiz.Result) [][]any {
	type agg struct {
		attempts, passed, total int
	}
	byRoadmap := make(map[string]*agg)
	for _, r := range results {
		a, ok := byRoadmap[r.RoadmapID]
		if !ok {
			a = &agg{}
			byRoadmap[r.RoadmapID] = a
		}
		a.attempts++
		a.total += r.Percentage
		if r.Passed {
			a.passed++
		}
	}

	roadmaps := make([]string, 0, len(byRoadmap))
	for id := range byRoadmap {
		roadmaps = append(roadmaps, id)
	}
	sort.Strings(roadmaps)

	rows := make([][]any, 0, len(roadmaps))
	for _, id := range roadmaps {
		a := byRoadmap[id]
		rows = append(rows, []any{
			id,
			a.attempts,
			a.passed,
			quiz.Percentage(a.passed, a.attempts),
			quiz.Percentage(a.total, 100*a.attempts),
		})
	}
	return rows
}
