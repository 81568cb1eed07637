package domain

import (
	"fmt"
	"sort"
)

// LocationIndex resolves municipality codes to their place in the hierarchy.
type LocationIndex struct {
	byCode   map[string]LocationRecord
	counties map[string]string // county code -> name
}

// NewLocationIndex builds an exact-match index over the location table.
// A municipality listed under two counties, or a county listed under two
// names, violates the tree invariant and is reported as malformed input.
func NewLocationIndex(records []LocationRecord) (*LocationIndex, error) {
	idx := &LocationIndex{
		byCode:   make(map[string]LocationRecord, len(records)),
		counties: make(map[string]string),
	}
	for i, rec := range records {
		if rec.MunicipalityCode == "" {
			return nil, &MalformedInputError{Source: "locations", Line: i + 1, Field: "municip_code", Err: fmt.Errorf("empty code")}
		}
		if prev, ok := idx.byCode[rec.MunicipalityCode]; ok && prev != rec {
			return nil, &MalformedInputError{
				Source: "locations", Line: i + 1, Field: "municip_code",
				Err: fmt.Errorf("%s listed twice with different placement", rec.MunicipalityCode),
			}
		}
		if name, ok := idx.counties[rec.CountyCode]; ok && name != rec.CountyName {
			return nil, &MalformedInputError{
				Source: "locations", Line: i + 1, Field: "county_name",
				Err: fmt.Errorf("county %s named both %q and %q", rec.CountyCode, name, rec.CountyName),
			}
		}
		idx.byCode[rec.MunicipalityCode] = rec
		idx.counties[rec.CountyCode] = rec.CountyName
	}
	return idx, nil
}

// Resolve returns the hierarchy entry for a municipality code.
func (x *LocationIndex) Resolve(code string) (LocationRecord, error) {
	rec, ok := x.byCode[code]
	if !ok {
		return LocationRecord{}, &UnknownLocationError{Code: code}
	}
	return rec, nil
}

// Len returns the number of municipalities in the index.
func (x *LocationIndex) Len() int { return len(x.byCode) }

// Counties lists every county, ordered by code.
func (x *LocationIndex) Counties() []County {
	out := make([]County, 0, len(x.counties))
	for code, name := range x.counties {
		out = append(out, County{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Municipalities lists the municipalities of one county, ordered by code.
func (x *LocationIndex) Municipalities(countyCode string) []LocationRecord {
	var out []LocationRecord
	for _, rec := range x.byCode {
		if rec.CountyCode == countyCode {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MunicipalityCode < out[j].MunicipalityCode })
	return out
}
