package domain

import (
	"math"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/gonum/stat"
)

// LocationExtract is the slice of the daily and weekly datasets belonging to
// one location, with a chart descriptor for each.
type LocationExtract struct {
	Level       Level
	Code        string
	Name        string
	CountyName  string // set for municipalities; empty otherwise
	Daily       []AggregatedRecord
	Weekly      []AggregatedRecord
	DailyChart  ChartSpec
	WeeklyChart ChartSpec
}

// ChartSpec describes a case-count line chart independently of any renderer.
type ChartSpec struct {
	Title  string
	XLabel string
	YLabel string
	Dates  []time.Time
	Counts []float64
}

// Empty reports whether the chart has no points to draw.
func (c ChartSpec) Empty() bool { return len(c.Dates) == 0 }

var labelPrinter = message.NewPrinter(language.English)

// SplitByLocation walks the hierarchy (nation, then each county followed by
// its municipalities) and emits one extract per location, including locations
// without any rows. It performs no aggregation.
func SplitByLocation(daily, weekly []AggregatedRecord, index *LocationIndex, national National) []LocationExtract {
	dailyByCode := groupByCode(daily)
	weeklyByCode := groupByCode(weekly)

	extract := func(level Level, code, name, countyName string) LocationExtract {
		d, w := dailyByCode[code], weeklyByCode[code]
		return LocationExtract{
			Level:       level,
			Code:        code,
			Name:        name,
			CountyName:  countyName,
			Daily:       d,
			Weekly:      w,
			DailyChart:  chartFor(name, "Date", d),
			WeeklyChart: chartFor(name, "Week", w),
		}
	}

	out := []LocationExtract{extract(LevelNational, national.Code, national.Name, "")}
	for _, county := range index.Counties() {
		out = append(out, extract(LevelCounty, county.Code, county.Name, ""))
		for _, m := range index.Municipalities(county.Code) {
			out = append(out, extract(LevelMunicipality, m.MunicipalityCode, m.MunicipalityName, county.Name))
		}
	}
	return out
}

func groupByCode(records []AggregatedRecord) map[string][]AggregatedRecord {
	out := make(map[string][]AggregatedRecord)
	for _, r := range records {
		out[r.LocationCode] = append(out[r.LocationCode], r)
	}
	return out
}

func chartFor(name, xLabel string, records []AggregatedRecord) ChartSpec {
	spec := ChartSpec{
		Title:  name,
		XLabel: xLabel,
		Dates:  make([]time.Time, 0, len(records)),
		Counts: make([]float64, 0, len(records)),
	}
	for _, r := range records {
		spec.Dates = append(spec.Dates, r.Date)
		spec.Counts = append(spec.Counts, float64(r.CaseCount))
	}
	mean, ok := MeanPopulation(records)
	if !ok {
		spec.YLabel = labelPrinter.Sprintf("Cases in %s (population unavailable)", name)
		return spec
	}
	spec.YLabel = labelPrinter.Sprintf("Cases in %s (mean population %d)", name, int64(math.Round(mean)))
	return spec
}

// MeanPopulation averages the available populations of a series. The second
// result is false when no record carries a population.
func MeanPopulation(records []AggregatedRecord) (float64, bool) {
	pops := make([]float64, 0, len(records))
	for _, r := range records {
		if r.Population.Valid {
			pops = append(pops, float64(r.Population.Value))
		}
	}
	if len(pops) == 0 {
		return 0, false
	}
	return stat.Mean(pops, nil), true
}
