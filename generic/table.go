package generic

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// =============================================================================
// TABLE - Tabular export shared by audit reports and alert panels
// =============================================================================

// Table is a header plus string rows, rendered as CSV or a single-sheet XLSX.
type Table struct {
	Sheet  string
	Header []string
	Rows   [][]string
}

func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

func (t Table) WriteXLSX(w io.Writer) error {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	name := sheetName(t.Sheet)
	if err := xl.SetSheetName(xl.GetSheetName(0), name); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := t.Header
	if err := xl.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("write xlsx header: %w", err)
	}
	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		r := row
		if err := xl.SetSheetRow(name, cell, &r); err != nil {
			return fmt.Errorf("write xlsx row %d: %w", i+1, err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("render xlsx: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// Excel sheet names cannot contain : \ / ? * [ ] and are at most 31 characters.
func sheetName(name string) string {
	safe := strings.NewReplacer(":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_").
		Replace(strings.TrimSpace(name))
	if safe == "" {
		return "Sheet1"
	}
	if runes := []rune(safe); len(runes) > 31 {
		return string(runes[:31])
	}
	return safe
}
