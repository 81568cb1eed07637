package domain

import (
	"sort"
	"time"
)

type dayKey struct {
	date time.Time
	code string
}

func lessDayKey(a, b dayKey) bool {
	if !a.date.Equal(b.date) {
		return a.date.Before(b.date)
	}
	return a.code < b.code
}

// AggregateDaily counts cases per day and municipality, attaches the as-of
// population, and rolls the result up to counties and the nation.
//
// The returned dataset holds municipality rows ordered by (date, code), then
// county rows ordered by (date, county code), then national rows ordered by
// date. Days without events produce no rows. An event whose municipality is
// not in the index aborts the aggregation with an *UnknownLocationError.
func AggregateDaily(events []CaseEvent, index *LocationIndex, resolver *PopulationResolver, national National) ([]AggregatedRecord, error) {
	counts := make(map[dayKey]int)
	for _, e := range events {
		if _, err := index.Resolve(e.LocationCode); err != nil {
			return nil, err
		}
		counts[dayKey{date: Day(e.Date), code: e.LocationCode}]++
	}

	keys := make([]dayKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessDayKey(keys[i], keys[j]) })

	municipalities := make([]AggregatedRecord, 0, len(keys))
	countyTotals := make(map[dayKey]*AggregatedRecord)
	for _, k := range keys {
		loc, _ := index.Resolve(k.code)
		rec := AggregatedRecord{
			Granularity:  Daily,
			Level:        LevelMunicipality,
			Date:         k.date,
			LocationCode: k.code,
			LocationName: loc.MunicipalityName,
			Population:   resolver.AsOf(k.code, k.date),
			CaseCount:    counts[k],
		}
		municipalities = append(municipalities, rec)

		ck := dayKey{date: k.date, code: loc.CountyCode}
		county, ok := countyTotals[ck]
		if !ok {
			county = &AggregatedRecord{
				Granularity:  Daily,
				Level:        LevelCounty,
				Date:         k.date,
				LocationCode: loc.CountyCode,
				LocationName: loc.CountyName,
				Population:   KnownPopulation(0),
			}
			countyTotals[ck] = county
		}
		county.CaseCount += rec.CaseCount
		county.Population = county.Population.Add(rec.Population)
	}

	counties := rollUp(countyTotals)
	nationTotals := make(map[dayKey]*AggregatedRecord)
	for _, c := range counties {
		nk := dayKey{date: c.Date, code: national.Code}
		nation, ok := nationTotals[nk]
		if !ok {
			nation = &AggregatedRecord{
				Granularity:  Daily,
				Level:        LevelNational,
				Date:         c.Date,
				LocationCode: national.Code,
				LocationName: national.Name,
				Population:   KnownPopulation(0),
			}
			nationTotals[nk] = nation
		}
		nation.CaseCount += c.CaseCount
		nation.Population = nation.Population.Add(c.Population)
	}
	nations := rollUp(nationTotals)

	out := make([]AggregatedRecord, 0, len(municipalities)+len(counties)+len(nations))
	out = append(out, municipalities...)
	out = append(out, counties...)
	out = append(out, nations...)
	return out, nil
}

// rollUp flattens a level's totals into rows ordered by (date, code).
func rollUp(totals map[dayKey]*AggregatedRecord) []AggregatedRecord {
	keys := make([]dayKey, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessDayKey(keys[i], keys[j]) })

	out := make([]AggregatedRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, *totals[k])
	}
	return out
}
