package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// UnmatchedRow is one reconciliation queue item as shown to the people
// working the queue.
type UnmatchedRow struct {
	ID            string
	Kind          string
	Reason        string
	EventType     string
	ControlNumber string
	Identifiers   string
	Candidates    string
	Summary       string
	FileID        string
	OccurredAt    time.Time
	CreatedAt     time.Time
	ResolvedClaim string
	ResolvedAt    *time.Time
}

const unmatchedSheet = "Reconciliation"

var unmatchedHeader = []string{
	"ID",
	"Kind",
	"Reason",
	"Event Type",
	"Control Number",
	"Identifiers",
	"Candidates",
	"Summary",
	"File ID",
	"Occurred At",
	"Queued At",
	"Resolved Claim",
	"Resolved At",
}

var unmatchedWidths = []float64{38, 8, 12, 22, 18, 40, 40, 60, 38, 20, 20, 38, 20}

const timeLayout = "2006-01-02 15:04:05"

func (r UnmatchedRow) values() []interface{} {
	resolvedAt := ""
	if r.ResolvedAt != nil {
		resolvedAt = r.ResolvedAt.UTC().Format(timeLayout)
	}
	return []interface{}{
		r.ID,
		r.Kind,
		r.Reason,
		r.EventType,
		r.ControlNumber,
		r.Identifiers,
		r.Candidates,
		r.Summary,
		r.FileID,
		r.OccurredAt.UTC().Format(timeLayout),
		r.CreatedAt.UTC().Format(timeLayout),
		r.ResolvedClaim,
		resolvedAt,
	}
}

// WriteUnmatched renders the queue as an XLSX workbook with a frozen,
// styled header row.
func WriteUnmatched(w io.Writer, rows []UnmatchedRow) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(unmatchedSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := f.SetSheetRow(unmatchedSheet, "A1", &unmatchedHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(unmatchedHeader), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(unmatchedSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	for i, width := range unmatchedWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(unmatchedSheet, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := r.values()
		if err := f.SetSheetRow(unmatchedSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(unmatchedSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
