package xlsx

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docsign/internal/core/domain"
)

const (
	SummarySheet   = "Summary"
	DocumentsSheet = "Documents"
)

var documentColumns = []string{"#", "Name", "Original path", "Signed path", "Status", "Processed at", "Error"}

// Renderer writes a batch outcome as an XLSX workbook with a summary sheet
// and one row per document.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (r *Renderer) Render(w io.Writer, batch domain.BatchResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	if _, err := f.NewSheet(DocumentsSheet); err != nil {
		return fmt.Errorf("create documents sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeSummary(f, batch, header); err != nil {
		return err
	}
	if err := writeDocuments(f, batch, header); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, batch domain.BatchResult, header int) error {
	completed, failed := 0, 0
	for _, doc := range batch.Documents {
		if doc.Status == domain.DocumentCompleted {
			completed++
		} else {
			failed++
		}
	}

	rows := [][2]any{
		{"Signing room", batch.SigningRoomID},
		{"Batch", batch.ID},
		{"Status", string(batch.Status)},
		{"Timestamp", domain.FormatTimestamp(batch.Timestamp)},
		{"Documents", len(batch.Documents)},
		{"Completed", completed},
		{"Failed", failed},
	}
	for i, row := range rows {
		if err := setRow(f, SummarySheet, i+1, row[0], row[1]); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", fmt.Sprintf("A%d", len(rows)), header); err != nil {
		return fmt.Errorf("style summary: %w", err)
	}
	if err := f.SetColWidth(SummarySheet, "A", "B", 32); err != nil {
		return fmt.Errorf("size summary columns: %w", err)
	}
	return nil
}

func writeDocuments(f *excelize.File, batch domain.BatchResult, header int) error {
	values := make([]any, len(documentColumns))
	for i, col := range documentColumns {
		values[i] = col
	}
	if err := setRow(f, DocumentsSheet, 1, values...); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(documentColumns), 1)
	if err != nil {
		return fmt.Errorf("header range: %w", err)
	}
	if err := f.SetCellStyle(DocumentsSheet, "A1", last, header); err != nil {
		return fmt.Errorf("style documents header: %w", err)
	}

	for i, doc := range batch.Documents {
		if err := setRow(f, DocumentsSheet, i+2,
			i+1,
			doc.Name,
			doc.OriginalPath,
			doc.SignedPath,
			string(doc.Status),
			domain.FormatTimestamp(doc.Timestamp),
			doc.Error,
		); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(DocumentsSheet, "B", "D", 36); err != nil {
		return fmt.Errorf("size document columns: %w", err)
	}
	if err := f.SetColWidth(DocumentsSheet, "E", "G", 28); err != nil {
		return fmt.Errorf("size document columns: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values ...any) error {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}
