package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/couchcryptid/case-rollup-etl/internal/domain"
)

// Column names of the individual-level case file.
const (
	colDate         = "date"
	colLocationCode = "location_code"
)

// Positional columns of the population dataset: region label, year, and
// population. Column 2 holds the SSB "contents" dimension and is ignored.
const (
	popColRegion     = 0
	popColYear       = 1
	popColPopulation = 3
)

// missingValue is the SSB marker for a suppressed or unpublished figure.
const missingValue = ".."

// ReadCases parses the individual-level case CSV. The header row must name
// the date and location_code columns; any other columns are ignored.
func ReadCases(r io.Reader, source string) ([]domain.CaseEvent, error) {
	cr := newCSVReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, readError(source, err)
	}
	dateCol, codeCol := indexOf(header, colDate), indexOf(header, colLocationCode)
	if dateCol < 0 {
		return nil, &domain.MalformedInputError{Source: source, Line: 1, Field: colDate, Err: errors.New("missing column")}
	}
	if codeCol < 0 {
		return nil, &domain.MalformedInputError{Source: source, Line: 1, Field: colLocationCode, Err: errors.New("missing column")}
	}

	var events []domain.CaseEvent
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readError(source, err)
		}
		line, _ := cr.FieldPos(0)

		if dateCol >= len(rec) || codeCol >= len(rec) {
			return nil, &domain.MalformedInputError{Source: source, Line: line, Err: fmt.Errorf("expected at least %d fields, got %d", max(dateCol, codeCol)+1, len(rec))}
		}
		date, err := domain.ParseDay(strings.TrimSpace(rec[dateCol]))
		if err != nil {
			return nil, &domain.MalformedInputError{Source: source, Line: line, Field: colDate, Err: err}
		}
		code := strings.TrimSpace(rec[codeCol])
		if code == "" {
			return nil, &domain.MalformedInputError{Source: source, Line: line, Field: colLocationCode, Err: errors.New("empty value")}
		}
		events = append(events, domain.CaseEvent{Date: date, LocationCode: code})
	}
	return events, nil
}

// PopulationOptions controls how raw region labels become location codes.
type PopulationOptions struct {
	CodeStrip  int
	CodeMarker string
}

// DefaultPopulationOptions match the SSB municipality labels ("K-0301 Oslo").
var DefaultPopulationOptions = PopulationOptions{CodeStrip: 2, CodeMarker: "municip"}

// ReadPopulation parses the population CSV (header row, then region label,
// year, contents, population). Rows whose region label cannot be normalized
// or whose figure is suppressed are skipped; the second result counts them.
func ReadPopulation(r io.Reader, source string, opts PopulationOptions) ([]domain.PopulationObservation, int, error) {
	if opts.CodeStrip < 0 {
		return nil, 0, fmt.Errorf("population code strip length %d is negative", opts.CodeStrip)
	}
	cr := newCSVReader(r)

	if _, err := cr.Read(); err != nil {
		return nil, 0, readError(source, err)
	}

	var (
		obs     []domain.PopulationObservation
		skipped int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, readError(source, err)
		}
		line, _ := cr.FieldPos(0)

		if len(rec) <= popColPopulation {
			return nil, 0, &domain.MalformedInputError{Source: source, Line: line, Err: fmt.Errorf("expected at least %d fields, got %d", popColPopulation+1, len(rec))}
		}
		code, err := domain.NormalizePopulationCode(rec[popColRegion], opts.CodeStrip, opts.CodeMarker)
		if err != nil {
			skipped++
			continue
		}
		year, err := strconv.Atoi(strings.TrimSpace(rec[popColYear]))
		if err != nil {
			return nil, 0, &domain.MalformedInputError{Source: source, Line: line, Field: "year", Err: err}
		}
		raw := strings.TrimSpace(rec[popColPopulation])
		if raw == missingValue || raw == "" {
			skipped++
			continue
		}
		pop, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, 0, &domain.MalformedInputError{Source: source, Line: line, Field: "population", Err: err}
		}
		obs = append(obs, domain.PopulationObservation{LocationCode: code, Year: year, Population: pop})
	}
	return obs, skipped, nil
}

// readLocationsCSV parses a location table with the four columns
// municip_code, municip_name, county_code, county_name after a header row.
func readLocationsCSV(r io.Reader, source string) ([]domain.LocationRecord, error) {
	cr := newCSVReader(r)
	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readError(source, err)
		}
		rows = append(rows, append([]string(nil), rec...))
	}
	return locationsFromRows(rows, source)
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	return cr
}

func readError(source string, err error) error {
	if errors.Is(err, io.EOF) {
		return &domain.MalformedInputError{Source: source, Err: errors.New("empty file")}
	}
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &domain.MalformedInputError{Source: source, Line: pe.Line, Err: pe.Err}
	}
	return fmt.Errorf("read %s: %w", source, err)
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(headerName(h), name) {
			return i
		}
	}
	return -1
}

// headerName trims whitespace and a UTF-8 byte order mark from a header cell.
func headerName(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
}
