package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// DateLayout is the calendar-day format used on every input and output surface.
const DateLayout = "2006-01-02"

// Level is a node depth in the location hierarchy.
type Level string

const (
	LevelMunicipality Level = "municipality"
	LevelCounty       Level = "county"
	LevelNational     Level = "national"
)

// Granularity is the temporal bucket size of an aggregated record.
type Granularity string

const (
	Daily  Granularity = "daily"
	Weekly Granularity = "weekly"
)

// CaseEvent is one observed case. Identical rows are independent cases.
type CaseEvent struct {
	Date         time.Time
	LocationCode string
}

// LocationRecord places a municipality in exactly one county.
type LocationRecord struct {
	MunicipalityCode string `json:"municip_code"`
	MunicipalityName string `json:"municip_name"`
	CountyCode       string `json:"county_code"`
	CountyName       string `json:"county_name"`
}

// County is a distinct (code, name) pair from the location table.
type County struct {
	Code string
	Name string
}

// PopulationObservation is a yearly population figure for one location.
type PopulationObservation struct {
	LocationCode string
	Year         int
	Population   int64
}

// AsOf returns the instant the observation becomes valid: January 1 of its year.
func (o PopulationObservation) AsOf() time.Time {
	return time.Date(o.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// Population is a non-negative head count that may be unavailable.
// Unavailability is sticky under Add.
type Population struct {
	Value int64
	Valid bool
}

// KnownPopulation returns an available population of n.
func KnownPopulation(n int64) Population {
	return Population{Value: n, Valid: true}
}

// Add sums two populations. The result is unavailable if either operand is.
func (p Population) Add(q Population) Population {
	if !p.Valid || !q.Valid {
		return Population{}
	}
	return KnownPopulation(p.Value + q.Value)
}

// String renders the count, or an empty string when unavailable.
func (p Population) String() string {
	if !p.Valid {
		return ""
	}
	return strconv.FormatInt(p.Value, 10)
}

func (p Population) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(p.Value, 10)), nil
}

func (p *Population) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Population{}
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = KnownPopulation(n)
	return nil
}

// AggregatedRecord is one row of the daily or weekly output dataset.
// For weekly records Date holds the week label.
type AggregatedRecord struct {
	Granularity  Granularity `json:"granularity"`
	Level        Level       `json:"level"`
	Date         time.Time   `json:"date"`
	LocationCode string      `json:"location_code"`
	LocationName string      `json:"location_name"`
	Population   Population  `json:"num_population"`
	CaseCount    int         `json:"num_sick"`
}

// National identifies the root of the hierarchy in output datasets.
type National struct {
	Code string
	Name string
}

// DefaultNational is the sentinel used when none is configured.
var DefaultNational = National{Code: "norge", Name: "Norge"}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a calendar date in DateLayout, tolerating a trailing time component.
func ParseDay(s string) (time.Time, error) {
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
