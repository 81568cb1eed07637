package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/case-rollup-etl/internal/domain"
	"github.com/couchcryptid/case-rollup-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Inputs are complete snapshots of the three input tables.
type Inputs struct {
	Events     []domain.CaseEvent
	Locations  []domain.LocationRecord
	Population []domain.PopulationObservation
}

// Source loads every input of a run. Schema violations must be reported as
// *domain.MalformedInputError before any aggregation starts.
type Source interface {
	Load(ctx context.Context) (Inputs, error)
}

// Aggregator turns loaded inputs into a run result.
type Aggregator interface {
	Aggregate(in Inputs) (Result, error)
}

// Result is the complete output of one run.
type Result struct {
	RunID       string
	GeneratedAt time.Time
	National    domain.National
	Index       *domain.LocationIndex
	Daily       []domain.AggregatedRecord
	Weekly      []domain.AggregatedRecord
	Extracts    []domain.LocationExtract
}

// Sink writes a result in two phases so that a run publishes everything or
// nothing. Prepare stages the output; the returned Pending makes it visible
// or discards it.
type Sink interface {
	Name() string
	Prepare(ctx context.Context, res Result) (Pending, error)
}

// Pending is staged sink output.
type Pending interface {
	Commit(ctx context.Context) error
	Abort() error
}

// RunSummary describes a finished run.
type RunSummary struct {
	RunID                 string        `json:"run_id"`
	StartedAt             time.Time     `json:"started_at"`
	Duration              time.Duration `json:"duration_ns"`
	Events                int           `json:"events"`
	DailyRecords          int           `json:"daily_records"`
	WeeklyRecords         int           `json:"weekly_records"`
	Extracts              int           `json:"extracts"`
	PopulationUnavailable int           `json:"population_unavailable"`
	Error                 string        `json:"error,omitempty"`
}

// Pipeline orchestrates the load-aggregate-publish batch.
type Pipeline struct {
	source     Source
	aggregator Aggregator
	sinks      []Sink
	logger     *slog.Logger
	metrics    *observability.Metrics
	clock      clockwork.Clock
	ready      atomic.Bool
	last       atomic.Pointer[RunSummary]
}

// New creates a Pipeline. Sinks commit in the order given, so
// non-transactional sinks belong at the end.
func New(s Source, a Aggregator, sinks []Sink, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		source:     s,
		aggregator: a,
		sinks:      sinks,
		logger:     logger,
		metrics:    metrics,
		clock:      clock,
	}
}

// CheckReadiness returns nil once a run has completed successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no successful aggregation run yet")
	}
	return nil
}

// LastRun returns the summary of the most recent run, successful or not.
func (p *Pipeline) LastRun() (RunSummary, bool) {
	s := p.last.Load()
	if s == nil {
		return RunSummary{}, false
	}
	return *s, true
}

// Run executes one complete batch. On error nothing is published.
func (p *Pipeline) Run(ctx context.Context) (RunSummary, error) {
	start := p.clock.Now()
	summary := RunSummary{
		RunID:     start.UTC().Format("20060102T150405Z"),
		StartedAt: start,
	}
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	p.logger.Info("run started", "run_id", summary.RunID, "sinks", len(p.sinks))

	err := p.run(ctx, &summary)
	summary.Duration = p.clock.Since(start)
	p.metrics.RunDuration.Observe(summary.Duration.Seconds())

	if err != nil {
		summary.Error = err.Error()
		p.last.Store(&summary)
		p.metrics.Runs.WithLabelValues("error").Inc()
		if errors.Is(err, domain.ErrUnknownLocation) {
			p.metrics.UnknownLocations.Inc()
		}
		p.logger.Error("run failed", "run_id", summary.RunID, "error", err)
		return summary, err
	}

	p.last.Store(&summary)
	p.ready.Store(true)
	p.metrics.Runs.WithLabelValues("success").Inc()
	p.metrics.LastSuccessfulRun.Set(float64(p.clock.Now().Unix()))
	p.logger.Info("run finished",
		"run_id", summary.RunID,
		"events", summary.Events,
		"daily_records", summary.DailyRecords,
		"weekly_records", summary.WeeklyRecords,
		"extracts", summary.Extracts,
		"duration", summary.Duration,
	)
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, summary *RunSummary) error {
	in, err := p.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load inputs: %w", err)
	}
	summary.Events = len(in.Events)
	p.metrics.EventsRead.Add(float64(len(in.Events)))
	p.logger.Info("inputs loaded",
		"events", len(in.Events),
		"locations", len(in.Locations),
		"population_observations", len(in.Population),
	)

	res, err := p.aggregator.Aggregate(in)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	res.RunID = summary.RunID
	res.GeneratedAt = summary.StartedAt

	summary.DailyRecords = len(res.Daily)
	summary.WeeklyRecords = len(res.Weekly)
	summary.Extracts = len(res.Extracts)
	summary.PopulationUnavailable = p.reportUnavailable(res.Daily)

	if err := p.publish(ctx, res); err != nil {
		return err
	}

	for _, ds := range [][]domain.AggregatedRecord{res.Daily, res.Weekly} {
		for _, r := range ds {
			p.metrics.RecordsProduced.WithLabelValues(string(r.Granularity), string(r.Level)).Inc()
		}
	}
	return nil
}

// reportUnavailable counts municipality-day rows without a population.
func (p *Pipeline) reportUnavailable(daily []domain.AggregatedRecord) int {
	n := 0
	for _, r := range daily {
		if r.Level != domain.LevelMunicipality || r.Population.Valid {
			continue
		}
		n++
	}
	if n > 0 {
		p.metrics.PopulationUnavailable.Add(float64(n))
		p.logger.Warn("population unavailable for some municipality-days; county and national sums for those days are unavailable too",
			"records", n,
		)
	}
	return n
}

// publish prepares every sink, then commits them in order. A failed
// Prepare aborts everything staged so far.
func (p *Pipeline) publish(ctx context.Context, res Result) error {
	pending := make([]Pending, 0, len(p.sinks))
	abort := func() {
		for _, pd := range pending {
			if err := pd.Abort(); err != nil {
				p.logger.Warn("abort staged output failed", "error", err)
			}
		}
	}

	for _, s := range p.sinks {
		start := p.clock.Now()
		pd, err := s.Prepare(ctx, res)
		if err != nil {
			abort()
			return fmt.Errorf("prepare %s: %w", s.Name(), err)
		}
		pending = append(pending, pd)
		p.metrics.SinkDuration.WithLabelValues(s.Name()).Observe(p.clock.Since(start).Seconds())
	}

	for i, pd := range pending {
		if err := pd.Commit(ctx); err != nil {
			for _, rest := range pending[i+1:] {
				_ = rest.Abort()
			}
			return fmt.Errorf("commit %s: %w", p.sinks[i].Name(), err)
		}
		p.logger.Debug("sink committed", "sink", p.sinks[i].Name(), "run_id", res.RunID)
	}
	return nil
}

// Watch re-runs the batch each time a trigger arrives until ctx is done.
// A failed run is logged and leaves the previous outputs in place.
func (p *Pipeline) Watch(ctx context.Context, triggers <-chan struct{}) error {
	p.logger.Info("watching inputs for changes")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("watch stopping", "reason", ctx.Err())
			return nil
		case _, ok := <-triggers:
			if !ok {
				return nil
			}
			if _, err := p.Run(ctx); err != nil && ctx.Err() != nil {
				return nil
			}
		}
	}
}
