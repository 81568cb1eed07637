// Package sqlite keeps the latest run's datasets in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/case-rollup-etl/internal/domain"
	"github.com/couchcryptid/case-rollup-etl/internal/pipeline"
	_ "modernc.org/sqlite"
)

var tables = map[domain.Granularity]string{
	domain.Daily:  "daily_cases",
	domain.Weekly: "weekly_cases",
}

// Store replaces both datasets inside one transaction per run.
// It implements pipeline.Sink.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			generated_at TIMESTAMP NOT NULL,
			daily_records INTEGER NOT NULL,
			weekly_records INTEGER NOT NULL
		);`,
	}
	for _, table := range []string{tables[domain.Daily], tables[domain.Weekly]} {
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS `+table+` (
				date TEXT NOT NULL,
				location_code TEXT NOT NULL,
				location_name TEXT NOT NULL,
				level TEXT NOT NULL,
				num_population INTEGER,
				num_sick INTEGER NOT NULL,
				run_id TEXT NOT NULL,
				PRIMARY KEY (date, location_code, location_name)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_`+table+`_code ON `+table+`(location_code, date);`,
		)
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Name() string { return "sqlite" }

// Prepare writes the run inside an open transaction that Commit or Abort
// finishes.
func (s *Store) Prepare(ctx context.Context, res pipeline.Result) (pipeline.Pending, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	if err := writeRun(ctx, tx, res); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return &pendingTx{tx: tx, store: s, runID: res.RunID}, nil
}

func writeRun(ctx context.Context, tx *sql.Tx, res pipeline.Result) error {
	datasets := map[domain.Granularity][]domain.AggregatedRecord{
		domain.Daily:  res.Daily,
		domain.Weekly: res.Weekly,
	}
	for _, g := range []domain.Granularity{domain.Daily, domain.Weekly} {
		table := tables[g]
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+
			`(date, location_code, location_name, level, num_population, num_sick, run_id) VALUES(?,?,?,?,?,?,?)`)
		if err != nil {
			return fmt.Errorf("prepare insert into %s: %w", table, err)
		}
		for _, r := range datasets[g] {
			pop := sql.NullInt64{Int64: r.Population.Value, Valid: r.Population.Valid}
			if _, err := stmt.ExecContext(ctx, r.Date.Format(domain.DateLayout), r.LocationCode, r.LocationName, string(r.Level), pop, r.CaseCount, res.RunID); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("insert into %s: %w", table, err)
			}
		}
		if err := stmt.Close(); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, generated_at, daily_records, weekly_records) VALUES(?,?,?,?)
		ON CONFLICT(run_id) DO UPDATE SET generated_at=excluded.generated_at, daily_records=excluded.daily_records, weekly_records=excluded.weekly_records`,
		res.RunID, res.GeneratedAt.UTC(), len(res.Daily), len(res.Weekly))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

type pendingTx struct {
	tx    *sql.Tx
	store *Store
	runID string
}

func (p *pendingTx) Commit(_ context.Context) error {
	if err := p.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	p.store.logger.Info("records stored", "sink", "sqlite", "run_id", p.runID)
	return nil
}

func (p *pendingTx) Abort() error {
	err := p.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// Records returns the stored dataset of one granularity in output order.
func (s *Store) Records(ctx context.Context, g domain.Granularity) ([]domain.AggregatedRecord, error) {
	table, ok := tables[g]
	if !ok {
		return nil, fmt.Errorf("unknown granularity %q", g)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT date, location_code, location_name, level, num_population, num_sick FROM `+table+` ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AggregatedRecord
	for rows.Next() {
		var (
			date, level string
			pop         sql.NullInt64
			r           = domain.AggregatedRecord{Granularity: g}
		)
		if err := rows.Scan(&date, &r.LocationCode, &r.LocationName, &level, &pop, &r.CaseCount); err != nil {
			return nil, err
		}
		if r.Date, err = domain.ParseDay(date); err != nil {
			return nil, fmt.Errorf("stored date %q: %w", date, err)
		}
		r.Level = domain.Level(level)
		if pop.Valid {
			r.Population = domain.KnownPopulation(pop.Int64)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Run is a row of the runs table.
type Run struct {
	ID            string
	GeneratedAt   time.Time
	DailyRecords  int
	WeeklyRecords int
}

// LastRun returns the most recently generated run, or sql.ErrNoRows.
func (s *Store) LastRun(ctx context.Context) (Run, error) {
	var r Run
	err := s.db.QueryRowContext(ctx, `SELECT run_id, generated_at, daily_records, weekly_records FROM runs ORDER BY generated_at DESC LIMIT 1`).
		Scan(&r.ID, &r.GeneratedAt, &r.DailyRecords, &r.WeeklyRecords)
	return r, err
}
