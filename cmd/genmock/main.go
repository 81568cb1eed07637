// Command genmock generates a synthetic individual-level case file, and
// optionally a matching population table, from a location table. Output is
// fully determined by the flags, so fixtures can be regenerated.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -locations data_structural/norway_locations_b2020.xlsx \
//	  -out input/individual_level_data.csv \
//	  -population-out data_structural/pop_data.csv \
//	  -start 2020-03-01 -days 90 -peak 400 -seed 42
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/case-rollup-etl/internal/adapter/tabular"
	"github.com/couchcryptid/case-rollup-etl/internal/domain"
)

type options struct {
	start    time.Time
	days     int
	peak     float64
	seed     uint64
	popYears []int
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	locationsPath := flag.String("locations", "", "location table (.xlsx, .xls, or .csv)")
	out := flag.String("out", "", "output path for the case CSV")
	populationOut := flag.String("population-out", "", "optional output path for a population CSV")
	start := flag.String("start", "2020-03-01", "first outbreak day (YYYY-MM-DD)")
	days := flag.Int("days", 90, "number of days to generate")
	peak := flag.Float64("peak", 200, "nationwide cases on the peak day")
	seed := flag.Uint64("seed", 1, "random seed")
	years := flag.String("population-years", "2019,2020,2021", "comma-separated population years")
	flag.Parse()

	if *locationsPath == "" || *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -locations, -out")
	}

	opts := options{days: *days, peak: *peak, seed: *seed}
	var err error
	if opts.start, err = domain.ParseDay(*start); err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	if opts.days <= 0 || opts.peak < 0 {
		return fmt.Errorf("-days must be positive and -peak non-negative")
	}
	if opts.popYears, err = parseYears(*years); err != nil {
		return err
	}

	locations, err := readLocations(*locationsPath)
	if err != nil {
		return err
	}
	if len(locations) == 0 {
		return fmt.Errorf("location table %s has no rows", *locationsPath)
	}

	n, err := writeFile(*out, func(w io.Writer) (int, error) {
		return writeCases(w, locations, opts)
	})
	if err != nil {
		return fmt.Errorf("writing cases: %w", err)
	}
	log.Printf("wrote %d cases across %d municipalities: %s", n, len(locations), *out)

	if *populationOut != "" {
		n, err := writeFile(*populationOut, func(w io.Writer) (int, error) {
			return writePopulation(w, locations, opts)
		})
		if err != nil {
			return fmt.Errorf("writing population: %w", err)
		}
		log.Printf("wrote %d population rows: %s", n, *populationOut)
	}
	return nil
}

func readLocations(path string) ([]domain.LocationRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	return tabular.ReadLocations(f, path)
}

func parseYears(s string) ([]int, error) {
	var years []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		y, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid -population-years entry %q", part)
		}
		years = append(years, y)
	}
	return years, nil
}

func writeFile(path string, fill func(io.Writer) (int, error)) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := fill(f)
	if err != nil {
		_ = f.Close()
		return 0, err
	}
	return n, f.Close()
}

// dailyExpected follows a bell-shaped outbreak curve peaking mid-period.
func dailyExpected(day, days int, peak float64) float64 {
	mid := float64(days-1) / 2
	width := math.Max(float64(days)/5, 1)
	z := (float64(day) - mid) / width
	return peak * math.Exp(-z*z/2)
}

// poisson draws from a Poisson distribution by inversion.
func poisson(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	if lambda > 500 {
		// normal approximation keeps large draws cheap
		return max(0, int(math.Round(lambda+math.Sqrt(lambda)*rng.NormFloat64())))
	}
	l, k, p := math.Exp(-lambda), 0, 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}

// writeCases emits one row per case. Municipalities get fixed random
// weights so some are consistently busier than others.
func writeCases(w io.Writer, locations []domain.LocationRecord, opts options) (int, error) {
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	weights := make([]float64, len(locations))
	var total float64
	for i := range weights {
		weights[i] = rng.ExpFloat64()
		total += weights[i]
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "age", "location_code"}); err != nil {
		return 0, err
	}
	n := 0
	for d := range opts.days {
		date := opts.start.AddDate(0, 0, d).Format(domain.DateLayout)
		expected := dailyExpected(d, opts.days, opts.peak)
		for i, loc := range locations {
			for range poisson(rng, expected*weights[i]/total) {
				age := strconv.Itoa(rng.IntN(95))
				if err := cw.Write([]string{date, age, loc.MunicipalityCode}); err != nil {
					return n, err
				}
				n++
			}
		}
	}
	cw.Flush()
	return n, cw.Error()
}

// writePopulation emits an SSB-shaped table ("K-0301 Oslo" labels) whose
// codes normalize back to the location table's municipality codes.
func writePopulation(w io.Writer, locations []domain.LocationRecord, opts options) (int, error) {
	rng := rand.New(rand.NewPCG(opts.seed+1, opts.seed))

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"region", "year", "contents", "07459: Population, by region, year and contents"}); err != nil {
		return 0, err
	}
	n := 0
	for _, loc := range locations {
		label := regionLabel(loc)
		base := 1000 + rng.IntN(50000)
		for i, year := range opts.popYears {
			pop := base + i*rng.IntN(500)
			if err := cw.Write([]string{label, strconv.Itoa(year), "Persons", strconv.Itoa(pop)}); err != nil {
				return n, err
			}
			n++
		}
	}
	cw.Flush()
	return n, cw.Error()
}

// regionLabel reverses the default population code normalization.
func regionLabel(loc domain.LocationRecord) string {
	marker := tabular.DefaultPopulationOptions.CodeMarker
	code := strings.TrimPrefix(loc.MunicipalityCode, marker)
	return "K-" + code + " " + loc.MunicipalityName
}
