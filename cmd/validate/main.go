// Command validate checks the integrity of a published output tree: dataset
// schema, roll-up conservation between hierarchy levels, weekly rebucketing,
// and agreement with the run manifest.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -output-dir output \
//	  -locations data_structural/norway_locations_b2020.xlsx
//
// With -sqlite the datasets are read from the SQLite store instead of the
// spreadsheets, and its runs table stands in for the manifest.
//
// Flags default to the same environment configuration as cmd/etl.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/couchcryptid/case-rollup-etl/internal/adapter/fsout"
	"github.com/couchcryptid/case-rollup-etl/internal/adapter/spreadsheet"
	"github.com/couchcryptid/case-rollup-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/case-rollup-etl/internal/adapter/tabular"
	"github.com/couchcryptid/case-rollup-etl/internal/config"
	"github.com/couchcryptid/case-rollup-etl/internal/domain"
	"github.com/couchcryptid/case-rollup-etl/internal/observability"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// maxReported caps the detailed errors printed per phase.
const maxReported = 20

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}
	outputDir := flag.String("output-dir", cfg.OutputDir, "published output directory")
	locationsPath := flag.String("locations", cfg.LocationsPath, "location table (.xlsx, .xls, or .csv)")
	sqlitePath := flag.String("sqlite", "", "validate this SQLite store instead of the output spreadsheets")
	flag.Parse()

	var src datasets = spreadsheetDatasets{dir: *outputDir}
	if *sqlitePath != "" {
		src = storeDatasets{path: *sqlitePath}
	}
	if code := run(src, *locationsPath, cfg.National()); code != 0 {
		os.Exit(code)
	}
}

func run(src datasets, locationsPath string, national domain.National) int {
	fmt.Println("=== Case Roll-up Integrity Validation ===")
	fmt.Println()

	index, err := loadIndex(locationsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load location table: %v\n", err)
		return 1
	}
	daily, weekly, manifest, err := src.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	c := newClassifier(index, national)
	phases := []*phase{
		validateSchema("Daily schema", daily, c),
		validateSchema("Weekly schema", weekly, c),
		validateConservation(daily, c),
		validateWeekly(daily, weekly),
	}
	if manifest != nil {
		phases = append(phases, validateManifest(*manifest, daily, weekly))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	printer := message.NewPrinter(language.English)
	fmt.Println()
	printer.Printf("Records: %d daily, %d weekly, %d municipalities, %d cases\n",
		len(daily), len(weekly), index.Len(), totalCases(daily, c))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxReported {
				fmt.Printf("  ... %d more\n", len(p.errors)-maxReported)
				break
			}
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadIndex(path string) (*domain.LocationIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := tabular.ReadLocations(f, path)
	if err != nil {
		return nil, err
	}
	return domain.NewLocationIndex(records)
}

// datasets yields the published daily and weekly datasets plus the record
// counts the publisher claimed, when it left any.
type datasets interface {
	load() (daily, weekly []domain.AggregatedRecord, manifest *fsout.Manifest, err error)
}

type spreadsheetDatasets struct{ dir string }

func (s spreadsheetDatasets) load() ([]domain.AggregatedRecord, []domain.AggregatedRecord, *fsout.Manifest, error) {
	daily, err := loadDataset(filepath.Join(s.dir, fsout.FullDay+".xlsx"), domain.Daily)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load daily dataset: %w", err)
	}
	weekly, err := loadDataset(filepath.Join(s.dir, fsout.FullWeek+".xlsx"), domain.Weekly)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load weekly dataset: %w", err)
	}
	m, err := fsout.ReadManifest(s.dir)
	switch {
	case err == nil:
		return daily, weekly, &m, nil
	case errors.Is(err, fs.ErrNotExist):
		return daily, weekly, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("read manifest: %w", err)
	}
}

func loadDataset(path string, g domain.Granularity) ([]domain.AggregatedRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return spreadsheet.ReadDataset(f, path, g)
}

type storeDatasets struct{ path string }

func (s storeDatasets) load() ([]domain.AggregatedRecord, []domain.AggregatedRecord, *fsout.Manifest, error) {
	store, err := sqlite.Open(s.path, observability.DiscardLogger())
	if err != nil {
		return nil, nil, nil, err
	}
	defer store.Close()

	ctx := context.Background()
	daily, err := store.Records(ctx, domain.Daily)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read daily_cases: %w", err)
	}
	weekly, err := store.Records(ctx, domain.Weekly)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read weekly_cases: %w", err)
	}
	run, err := store.LastRun(ctx)
	switch {
	case err == nil:
		return daily, weekly, &fsout.Manifest{
			RunID:         run.ID,
			GeneratedAt:   run.GeneratedAt,
			DailyRecords:  run.DailyRecords,
			WeeklyRecords: run.WeeklyRecords,
		}, nil
	case errors.Is(err, sql.ErrNoRows):
		return daily, weekly, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("read runs: %w", err)
	}
}

// ── Classification ──

// classifier assigns hierarchy levels to location codes, which the
// datasets do not store.
type classifier struct {
	index    *domain.LocationIndex
	national domain.National
	counties map[string]string
}

func newClassifier(index *domain.LocationIndex, national domain.National) *classifier {
	c := &classifier{index: index, national: national, counties: make(map[string]string)}
	for _, county := range index.Counties() {
		c.counties[county.Code] = county.Name
	}
	return c
}

// level returns the level and display name expected for code.
func (c *classifier) level(code string) (domain.Level, string, bool) {
	if code == c.national.Code {
		return domain.LevelNational, c.national.Name, true
	}
	if name, ok := c.counties[code]; ok {
		return domain.LevelCounty, name, true
	}
	if rec, err := c.index.Resolve(code); err == nil {
		return domain.LevelMunicipality, rec.MunicipalityName, true
	}
	return "", "", false
}

func totalCases(records []domain.AggregatedRecord, c *classifier) int {
	n := 0
	for _, r := range records {
		if lvl, _, _ := c.level(r.LocationCode); lvl == domain.LevelNational {
			n += r.CaseCount
		}
	}
	return n
}

// ── Validation phases ──

type rowKey struct {
	date string
	code string
	name string
}

func validateSchema(name string, records []domain.AggregatedRecord, c *classifier) *phase {
	p := &phase{name: name}
	seen := make(map[rowKey]bool, len(records))
	for i, r := range records {
		row := i + 2
		if r.CaseCount <= 0 {
			p.errorf("row %d: %s has non-positive num_sick %d", row, r.LocationCode, r.CaseCount)
		}
		if r.Population.Valid && r.Population.Value < 0 {
			p.errorf("row %d: %s has negative population", row, r.LocationCode)
		}
		_, wantName, ok := c.level(r.LocationCode)
		if !ok {
			p.errorf("row %d: unknown location code %q", row, r.LocationCode)
		} else if wantName != r.LocationName {
			p.errorf("row %d: %s named %q, location table says %q", row, r.LocationCode, r.LocationName, wantName)
		}
		k := rowKey{r.Date.Format(domain.DateLayout), r.LocationCode, r.LocationName}
		if seen[k] {
			p.errorf("row %d: duplicate row for %s on %s", row, k.code, k.date)
		}
		seen[k] = true
	}
	return p
}

type dayTotal struct {
	cases int
	pop   domain.Population
	rows  int
}

func (t *dayTotal) add(r domain.AggregatedRecord) {
	if t.rows == 0 {
		t.pop = r.Population
	} else {
		t.pop = t.pop.Add(r.Population)
	}
	t.cases += r.CaseCount
	t.rows++
}

// validateConservation checks that every county row equals the sum of its
// municipality rows and the national row equals the sum of county rows, for
// both case counts and populations.
func validateConservation(daily []domain.AggregatedRecord, c *classifier) *phase {
	p := &phase{name: "Daily roll-up conservation"}

	type key struct{ date, code string }
	fromMunicipalities := make(map[key]*dayTotal)
	fromCounties := make(map[key]*dayTotal)
	reported := make(map[key]domain.AggregatedRecord)

	bump := func(m map[key]*dayTotal, k key, r domain.AggregatedRecord) {
		t, ok := m[k]
		if !ok {
			t = &dayTotal{}
			m[k] = t
		}
		t.add(r)
	}

	for _, r := range daily {
		date := r.Date.Format(domain.DateLayout)
		lvl, _, ok := c.level(r.LocationCode)
		if !ok {
			continue
		}
		switch lvl {
		case domain.LevelMunicipality:
			rec, _ := c.index.Resolve(r.LocationCode)
			bump(fromMunicipalities, key{date, rec.CountyCode}, r)
		case domain.LevelCounty:
			reported[key{date, r.LocationCode}] = r
			bump(fromCounties, key{date, c.national.Code}, r)
		case domain.LevelNational:
			reported[key{date, r.LocationCode}] = r
		}
	}

	check := func(sums map[key]*dayTotal, level string) {
		keys := make([]key, 0, len(sums))
		for k := range sums {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].date != keys[j].date {
				return keys[i].date < keys[j].date
			}
			return keys[i].code < keys[j].code
		})
		for _, k := range keys {
			sum := sums[k]
			got, ok := reported[k]
			if !ok {
				p.errorf("%s %s: missing row for %d cases rolled up from %s rows", k.date, k.code, sum.cases, level)
				continue
			}
			if got.CaseCount != sum.cases {
				p.errorf("%s %s: num_sick %d, %s rows sum to %d", k.date, k.code, got.CaseCount, level, sum.cases)
			}
			if got.Population != sum.pop {
				p.errorf("%s %s: num_population %q, %s rows sum to %q", k.date, k.code, got.Population, level, sum.pop)
			}
			delete(reported, k)
		}
	}
	check(fromMunicipalities, "municipality")
	check(fromCounties, "county")

	for k := range reported {
		p.errorf("%s %s: row without any contributing rows below it", k.date, k.code)
	}
	return p
}

// validateWeekly checks that weekly rows are labelled with Mondays and that
// each equals the sum of the daily rows bucketed into it.
func validateWeekly(daily, weekly []domain.AggregatedRecord) *phase {
	p := &phase{name: "Weekly rebucketing"}

	want := make(map[rowKey]int)
	for _, r := range daily {
		k := rowKey{domain.WeekLabel(r.Date).Format(domain.DateLayout), r.LocationCode, r.LocationName}
		want[k] += r.CaseCount
	}
	for _, r := range weekly {
		k := rowKey{r.Date.Format(domain.DateLayout), r.LocationCode, r.LocationName}
		if wd := r.Date.Weekday(); wd != time.Monday {
			p.errorf("%s %s: week label falls on %s", k.date, k.code, wd)
		}
		if want[k] != r.CaseCount {
			p.errorf("%s %s: num_sick %d, daily rows sum to %d", k.date, k.code, r.CaseCount, want[k])
		}
		delete(want, k)
	}
	for k, n := range want {
		p.errorf("%s %s: %d daily cases missing from the weekly dataset", k.date, k.code, n)
	}
	return p
}

func validateManifest(m fsout.Manifest, daily, weekly []domain.AggregatedRecord) *phase {
	p := &phase{name: "Run manifest"}
	if m.DailyRecords != len(daily) {
		p.errorf("manifest lists %d daily records, dataset has %d", m.DailyRecords, len(daily))
	}
	if m.WeeklyRecords != len(weekly) {
		p.errorf("manifest lists %d weekly records, dataset has %d", m.WeeklyRecords, len(weekly))
	}
	return p
}
