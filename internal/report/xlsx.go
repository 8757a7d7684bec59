package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary = "Summary"
	sheetRuns    = "Runs"
	sheetSteps   = "Steps"
)

// Workbook builds a spreadsheet with a summary, one row per run and one row
// per executed step.
func Workbook(r *Report) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, err
	}
	for _, name := range []string{sheetRuns, sheetSteps} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	s := r.Summary
	summary := [][]interface{}{
		{"Report", r.Title},
		{"Target", r.Target},
		{"Generated", r.GeneratedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Total", s.Total},
		{"Passed", s.Passed},
		{"Failed", s.Failed},
		{"Errors", s.Errors},
	}
	if err := writeRows(f, sheetSummary, summary); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheetSummary, "A1", fmt.Sprintf("A%d", len(summary)), bold); err != nil {
		return nil, err
	}

	runs := [][]interface{}{{"Run ID", "Scenario", "Title", "Status", "Phase", "Started", "Duration (s)", "Error", "Cause", "Screenshot"}}
	steps := [][]interface{}{{"Run ID", "Scenario", "Step", "Action", "Target", "Passed", "Duration (s)", "Error"}}
	for _, res := range r.Results {
		runs = append(runs, []interface{}{
			res.RunID, res.ScenarioID, res.Title, string(res.Status), string(res.Phase),
			res.StartedAt.UTC().Format("2006-01-02 15:04:05"), res.Duration.Seconds(),
			res.Error, res.Cause, res.Screenshot,
		})
		for _, st := range res.Steps {
			steps = append(steps, []interface{}{
				res.RunID, res.ScenarioID, st.Index + 1, string(st.Action), st.Target, st.Passed, st.Duration.Seconds(), st.Error,
			})
		}
	}
	for sheet, rows := range map[string][][]interface{}{sheetRuns: runs, sheetSteps: steps} {
		if err := writeRows(f, sheet, rows); err != nil {
			return nil, err
		}
		last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
			return nil, err
		}
		if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func writeXLSX(w io.Writer, r *Report) error {
	f, err := Workbook(r)
	if err != nil {
		return fmt.Errorf("failed to build workbook: %w", err)
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}
