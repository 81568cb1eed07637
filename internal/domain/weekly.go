package domain

import (
	"sort"
	"time"
)

// reportingLag is how far dates move back before weekly bucketing.
const reportingLag = 7 * 24 * time.Hour

// WeekLabel returns the weekly bucket of a daily date: the date is shifted
// back seven days and assigned to the week ending on the first Monday at or
// after the shifted date. Tuesday 2021-01-05 is labelled Monday 2021-01-04.
func WeekLabel(date time.Time) time.Time {
	shifted := Day(date).Add(-reportingLag)
	offset := (int(time.Monday) - int(shifted.Weekday()) + 7) % 7
	return shifted.AddDate(0, 0, offset)
}

type weekKey struct {
	week time.Time
	code string
	name string
}

// AggregateWeekly re-buckets a daily dataset onto the weekly grid. Case
// counts are summed per (week, location code, location name). Population is
// the first available value in date order within the bucket, not a sum.
// Output rows are ordered by (week, code, name).
func AggregateWeekly(daily []AggregatedRecord) []AggregatedRecord {
	ordered := make([]AggregatedRecord, len(daily))
	copy(ordered, daily)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Date.Before(ordered[j].Date) })

	buckets := make(map[weekKey]*AggregatedRecord)
	for _, d := range ordered {
		k := weekKey{week: WeekLabel(d.Date), code: d.LocationCode, name: d.LocationName}
		w, ok := buckets[k]
		if !ok {
			w = &AggregatedRecord{
				Granularity:  Weekly,
				Level:        d.Level,
				Date:         k.week,
				LocationCode: d.LocationCode,
				LocationName: d.LocationName,
			}
			buckets[k] = w
		}
		w.CaseCount += d.CaseCount
		if !w.Population.Valid {
			w.Population = d.Population
		}
	}

	keys := make([]weekKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if !a.week.Equal(b.week) {
			return a.week.Before(b.week)
		}
		if a.code != b.code {
			return a.code < b.code
		}
		return a.name < b.name
	})

	out := make([]AggregatedRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, *buckets[k])
	}
	return out
}
