package pipeline

import (
	"log/slog"
	"time"

	"github.com/couchcryptid/case-rollup-etl/internal/domain"
)

// CaseAggregator implements Aggregator with the domain roll-up engines.
type CaseAggregator struct {
	minDate  time.Time
	national domain.National
	split    bool
	logger   *slog.Logger
}

// NewAggregator creates a CaseAggregator. Population observations dated
// before minDate are ignored; split enables per-location extracts.
func NewAggregator(minDate time.Time, national domain.National, split bool, logger *slog.Logger) *CaseAggregator {
	return &CaseAggregator{
		minDate:  minDate,
		national: national,
		split:    split,
		logger:   logger,
	}
}

func (a *CaseAggregator) Aggregate(in Inputs) (Result, error) {
	index, err := domain.NewLocationIndex(in.Locations)
	if err != nil {
		return Result{}, err
	}
	resolver, err := domain.NewPopulationResolver(in.Population, a.minDate)
	if err != nil {
		return Result{}, err
	}
	a.logger.Debug("inputs indexed",
		"municipalities", index.Len(),
		"population_locations", resolver.Locations(),
	)

	daily, err := domain.AggregateDaily(in.Events, index, resolver, a.national)
	if err != nil {
		return Result{}, err
	}
	a.logUnavailable(daily, resolver)
	weekly := domain.AggregateWeekly(daily)

	res := Result{
		National: a.national,
		Index:    index,
		Daily:    daily,
		Weekly:   weekly,
	}
	if a.split {
		res.Extracts = domain.SplitByLocation(daily, weekly, index, a.national)
	}
	return res, nil
}

// logUnavailable reports each municipality-day whose population could not be
// resolved. The rows themselves already carry an unavailable Population.
func (a *CaseAggregator) logUnavailable(daily []domain.AggregatedRecord, resolver *domain.PopulationResolver) {
	for _, r := range daily {
		if r.Level != domain.LevelMunicipality || r.Population.Valid {
			continue
		}
		if _, err := resolver.Lookup(r.LocationCode, r.Date); err != nil {
			a.logger.Debug("population lookup failed", "location_code", r.LocationCode, "error", err)
		}
	}
}
