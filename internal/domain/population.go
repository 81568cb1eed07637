package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PopulationResolver answers as-of population queries: the latest
// observation at or before a date, never a later one.
type PopulationResolver struct {
	series  map[string][]PopulationObservation
	minDate time.Time
}

// NewPopulationResolver indexes observations per location, sorted by time.
// Observations dated before minDate are dropped entirely. Two observations
// for the same location and year, or a negative population, are malformed.
func NewPopulationResolver(observations []PopulationObservation, minDate time.Time) (*PopulationResolver, error) {
	r := &PopulationResolver{
		series:  make(map[string][]PopulationObservation),
		minDate: minDate,
	}
	for _, o := range observations {
		if o.Population < 0 {
			return nil, &MalformedInputError{
				Source: "population", Field: "population",
				Err: fmt.Errorf("negative population %d for %s in %d", o.Population, o.LocationCode, o.Year),
			}
		}
		if o.AsOf().Before(minDate) {
			continue
		}
		r.series[o.LocationCode] = append(r.series[o.LocationCode], o)
	}
	for code, s := range r.series {
		sort.Slice(s, func(i, j int) bool { return s[i].Year < s[j].Year })
		for i := 1; i < len(s); i++ {
			if s[i].Year == s[i-1].Year {
				return nil, &MalformedInputError{
					Source: "population", Field: "year",
					Err: fmt.Errorf("duplicate observation for %s in %d", code, s[i].Year),
				}
			}
		}
	}
	return r, nil
}

// AsOf returns the population of code valid on date, or an unavailable
// Population when no observation qualifies.
func (r *PopulationResolver) AsOf(code string, date time.Time) Population {
	s := r.series[code]
	i := sort.Search(len(s), func(i int) bool { return s[i].AsOf().After(date) })
	if i == 0 {
		return Population{}
	}
	return KnownPopulation(s[i-1].Population)
}

// Lookup is AsOf with the unavailable case reported as ErrPopulationUnavailable.
func (r *PopulationResolver) Lookup(code string, date time.Time) (int64, error) {
	p := r.AsOf(code, date)
	if !p.Valid {
		return 0, fmt.Errorf("%w: %s on %s", ErrPopulationUnavailable, code, date.Format(DateLayout))
	}
	return p.Value, nil
}

// Locations returns the number of locations with at least one indexed observation.
func (r *PopulationResolver) Locations() int { return len(r.series) }

// NormalizePopulationCode turns a raw region label such as "K-0301 Oslo" into
// a municipality code such as "municip0301": the first token loses its first
// stripLen characters and gains marker as prefix.
func NormalizePopulationCode(raw string, stripLen int, marker string) (string, error) {
	if stripLen < 0 {
		return "", fmt.Errorf("negative prefix length %d", stripLen)
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty region label")
	}
	token := fields[0]
	if len(token) <= stripLen {
		return "", fmt.Errorf("region code %q shorter than prefix length %d", token, stripLen)
	}
	return marker + token[stripLen:], nil
}
