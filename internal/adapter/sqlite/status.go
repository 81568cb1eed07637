package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/couchcryptid/case-rollup-etl/internal/pipeline"
)

// LiveStatus is the in-process view of the latest run.
type LiveStatus interface {
	LastRun() (pipeline.RunSummary, bool)
}

// RunStatus reports the latest run of this process, falling back to the last
// run recorded in the store so a restarted service still has an answer.
type RunStatus struct {
	live  LiveStatus
	store *Store
}

// StatusWithHistory wraps live with the store's run history.
func (s *Store) StatusWithHistory(live LiveStatus) *RunStatus {
	return &RunStatus{live: live, store: s}
}

func (r *RunStatus) LastRun() (pipeline.RunSummary, bool) {
	if summary, ok := r.live.LastRun(); ok {
		return summary, true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	run, err := r.store.LastRun(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			r.store.logger.Warn("read stored run", "error", err)
		}
		return pipeline.RunSummary{}, false
	}
	return pipeline.RunSummary{
		RunID:         run.ID,
		StartedAt:     run.GeneratedAt,
		DailyRecords:  run.DailyRecords,
		WeeklyRecords: run.WeeklyRecords,
	}, true
}
