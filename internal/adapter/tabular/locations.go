package tabular

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/anrid/xls"
	"github.com/couchcryptid/case-rollup-etl/internal/domain"
	"github.com/xuri/excelize/v2"
)

// locationColumns are columns A:D of the location table.
var locationColumns = []string{"municip_code", "municip_name", "county_code", "county_name"}

// ReadLocations parses a location table. The format follows the file
// extension of source: .xlsx, legacy .xls, or .csv.
func ReadLocations(r io.ReadSeeker, source string) ([]domain.LocationRecord, error) {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".xlsx", ".xlsm":
		return readLocationsXLSX(r, source)
	case ".xls":
		return readLocationsXLS(r, source)
	case ".csv":
		return readLocationsCSV(r, source)
	default:
		return nil, &domain.MalformedInputError{Source: source, Err: fmt.Errorf("unsupported location table format %q", filepath.Ext(source))}
	}
}

func readLocationsXLSX(r io.Reader, source string) ([]domain.LocationRecord, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &domain.MalformedInputError{Source: source, Err: err}
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, &domain.MalformedInputError{Source: source, Err: errors.New("workbook has no sheets")}
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, &domain.MalformedInputError{Source: source, Err: fmt.Errorf("read sheet %q: %w", sheets[0], err)}
	}
	return locationsFromRows(rows, source)
}

func readLocationsXLS(r io.ReadSeeker, source string) ([]domain.LocationRecord, error) {
	wb, err := xls.OpenReader(r, "utf-8")
	if err != nil {
		return nil, &domain.MalformedInputError{Source: source, Err: err}
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, &domain.MalformedInputError{Source: source, Err: errors.New("workbook has no sheets")}
	}

	rows := make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cols := make([]string, 0, len(locationColumns))
		for j := 0; j <= row.LastCol() && j < len(locationColumns); j++ {
			cols = append(cols, row.Col(j))
		}
		rows = append(rows, cols)
	}
	return locationsFromRows(rows, source)
}

// locationsFromRows validates the header row and converts the remaining
// rows. Blank rows are skipped; a partially filled row is malformed.
func locationsFromRows(rows [][]string, source string) ([]domain.LocationRecord, error) {
	if len(rows) == 0 {
		return nil, &domain.MalformedInputError{Source: source, Err: errors.New("empty file")}
	}
	header := rows[0]
	for i, name := range locationColumns {
		if i >= len(header) || !strings.EqualFold(headerName(header[i]), name) {
			return nil, &domain.MalformedInputError{Source: source, Line: 1, Field: name, Err: errors.New("missing column")}
		}
	}

	out := make([]domain.LocationRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		cells := make([]string, len(locationColumns))
		blank := true
		for j := range cells {
			if j < len(row) {
				cells[j] = strings.TrimSpace(row[j])
			}
			if cells[j] != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		for j, v := range cells {
			if v == "" {
				return nil, &domain.MalformedInputError{Source: source, Line: line, Field: locationColumns[j], Err: errors.New("empty value")}
			}
		}
		out = append(out, domain.LocationRecord{
			MunicipalityCode: cells[0],
			MunicipalityName: cells[1],
			CountyCode:       cells[2],
			CountyName:       cells[3],
		})
	}
	return out, nil
}
