// Package spreadsheet reads and writes aggregated datasets as .xlsx workbooks.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/couchcryptid/case-rollup-etl/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Columns is the header row of every dataset workbook.
var Columns = []string{"date", "location_code", "location_name", "num_population", "num_sick"}

const sheetName = "Sheet1"

// Writer serializes datasets with the excelize stream writer.
type Writer struct{}

// NewWriter creates a Writer.
func NewWriter() *Writer { return &Writer{} }

// Extension is the file extension of the datasets this writer produces.
func (w *Writer) Extension() string { return ".xlsx" }

// WriteDataset writes records in the given order. An unavailable population
// is left as an empty cell.
func (w *Writer) WriteDataset(out io.Writer, records []domain.AggregatedRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("create stream writer: %w", err)
	}
	if err := sw.SetColWidth(1, 1, 12); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := sw.SetColWidth(2, 3, 18); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		var pop any
		if r.Population.Valid {
			pop = r.Population.Value
		}
		row := []any{
			r.Date.Format(domain.DateLayout),
			r.LocationCode,
			r.LocationName,
			pop,
			r.CaseCount,
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// ReadDataset parses a workbook written by WriteDataset. Records carry the
// given granularity; their Level is left unset because the file does not
// record it.
func ReadDataset(r io.Reader, source string, granularity domain.Granularity) ([]domain.AggregatedRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &domain.MalformedInputError{Source: source, Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &domain.MalformedInputError{Source: source, Err: errors.New("workbook has no sheets")}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &domain.MalformedInputError{Source: source, Err: err}
	}
	if len(rows) == 0 {
		return nil, &domain.MalformedInputError{Source: source, Err: errors.New("empty workbook")}
	}
	for i, name := range Columns {
		if i >= len(rows[0]) || strings.TrimSpace(rows[0][i]) != name {
			return nil, &domain.MalformedInputError{Source: source, Line: 1, Field: name, Err: errors.New("missing column")}
		}
	}

	out := make([]domain.AggregatedRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		cell := func(j int) string {
			if j < len(row) {
				return strings.TrimSpace(row[j])
			}
			return ""
		}

		date, err := domain.ParseDay(cell(0))
		if err != nil {
			return nil, &domain.MalformedInputError{Source: source, Line: line, Field: Columns[0], Err: err}
		}
		rec := domain.AggregatedRecord{
			Granularity:  granularity,
			Date:         date,
			LocationCode: cell(1),
			LocationName: cell(2),
		}
		if raw := cell(3); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, &domain.MalformedInputError{Source: source, Line: line, Field: Columns[3], Err: err}
			}
			rec.Population = domain.KnownPopulation(v)
		}
		n, err := strconv.Atoi(cell(4))
		if err != nil {
			return nil, &domain.MalformedInputError{Source: source, Line: line, Field: Columns[4], Err: err}
		}
		rec.CaseCount = n
		out = append(out, rec)
	}
	return out, nil
}
