package fsout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/couchcryptid/case-rollup-etl/internal/domain"
	"github.com/couchcryptid/case-rollup-etl/internal/pipeline"
)

// File names inside the output tree.
const (
	FullDay      = "full_day"
	FullWeek     = "full_week"
	ExtractDay   = "day"
	ExtractWeek  = "week"
	ManifestFile = "run.json"
)

// DatasetWriter serializes one dataset.
type DatasetWriter interface {
	Extension() string
	WriteDataset(w io.Writer, records []domain.AggregatedRecord) error
}

// ChartRenderer draws one chart.
type ChartRenderer interface {
	Extension() string
	Render(w io.Writer, spec domain.ChartSpec) error
}

// Manifest describes the contents of a published output tree.
type Manifest struct {
	RunID         string    `json:"run_id"`
	GeneratedAt   time.Time `json:"generated_at"`
	DailyRecords  int       `json:"daily_records"`
	WeeklyRecords int       `json:"weekly_records"`
	Extracts      int       `json:"extracts"`
	Files         []string  `json:"files"`
}

// Sink writes a run into a staging directory next to the output directory
// and swaps it into place on Commit. It implements pipeline.Sink.
type Sink struct {
	root     string
	datasets DatasetWriter
	charts   ChartRenderer
	logger   *slog.Logger
}

// NewSink creates a file sink rooted at root. charts may be nil to skip
// chart rendering.
func NewSink(root string, datasets DatasetWriter, charts ChartRenderer, logger *slog.Logger) *Sink {
	return &Sink{
		root:     filepath.Clean(root),
		datasets: datasets,
		charts:   charts,
		logger:   logger,
	}
}

func (s *Sink) Name() string { return "files" }

func (s *Sink) sibling(kind, runID string) string {
	return filepath.Join(filepath.Dir(s.root), fmt.Sprintf(".%s.%s-%s", filepath.Base(s.root), kind, runID))
}

// Prepare writes the complete tree into a staging directory. On error the
// staging directory is removed.
func (s *Sink) Prepare(ctx context.Context, res pipeline.Result) (pipeline.Pending, error) {
	staging := s.sibling("staging", res.RunID)
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("clear staging directory: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	w := &treeWriter{root: staging, sink: s}
	if err := w.write(ctx, res); err != nil {
		_ = os.RemoveAll(staging)
		return nil, err
	}
	s.logger.Debug("output staged", "dir", staging, "files", len(w.files))
	return &stagedTree{sink: s, staging: staging, runID: res.RunID}, nil
}

type treeWriter struct {
	root  string
	sink  *Sink
	files []string
}

func (w *treeWriter) write(ctx context.Context, res pipeline.Result) error {
	if res.Index != nil {
		layout := NewLayout(res.Index, res.National)
		if err := layout.Provision(w.root); err != nil {
			return err
		}
		if err := w.extracts(ctx, layout, res.Extracts); err != nil {
			return err
		}
	}

	ext := w.sink.datasets.Extension()
	if err := w.dataset(FullDay+ext, res.Daily); err != nil {
		return err
	}
	if err := w.dataset(FullWeek+ext, res.Weekly); err != nil {
		return err
	}

	sort.Strings(w.files)
	manifest := Manifest{
		RunID:         res.RunID,
		GeneratedAt:   res.GeneratedAt,
		DailyRecords:  len(res.Daily),
		WeeklyRecords: len(res.Weekly),
		Extracts:      len(res.Extracts),
		Files:         w.files,
	}
	return w.create(ManifestFile, func(out io.Writer) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(manifest)
	})
}

func (w *treeWriter) extracts(ctx context.Context, layout *Layout, extracts []domain.LocationExtract) error {
	ext := w.sink.datasets.Extension()
	for _, ex := range extracts {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir, ok := layout.Dir(ex.Code)
		if !ok {
			return fmt.Errorf("no output folder for location %q", ex.Code)
		}
		if err := w.dataset(filepath.Join(dir, ExtractDay+ext), ex.Daily); err != nil {
			return err
		}
		if err := w.dataset(filepath.Join(dir, ExtractWeek+ext), ex.Weekly); err != nil {
			return err
		}
		if w.sink.charts == nil {
			continue
		}
		if err := w.chart(filepath.Join(dir, ExtractDay), ex.DailyChart); err != nil {
			return err
		}
		if err := w.chart(filepath.Join(dir, ExtractWeek), ex.WeeklyChart); err != nil {
			return err
		}
	}
	return nil
}

func (w *treeWriter) dataset(rel string, records []domain.AggregatedRecord) error {
	return w.create(rel, func(out io.Writer) error {
		return w.sink.datasets.WriteDataset(out, records)
	})
}

// chart skips series without points.
func (w *treeWriter) chart(relBase string, spec domain.ChartSpec) error {
	if spec.Empty() {
		return nil
	}
	return w.create(relBase+w.sink.charts.Extension(), func(out io.Writer) error {
		return w.sink.charts.Render(out, spec)
	})
}

func (w *treeWriter) create(rel string, fill func(io.Writer) error) error {
	f, err := os.Create(filepath.Join(w.root, rel))
	if err != nil {
		return fmt.Errorf("create %s: %w", rel, err)
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", rel, err)
	}
	w.files = append(w.files, filepath.ToSlash(rel))
	return nil
}

type stagedTree struct {
	sink    *Sink
	staging string
	runID   string
}

// Commit replaces the output directory with the staged tree. The previous
// tree is restored if the swap fails.
func (t *stagedTree) Commit(_ context.Context) error {
	root := t.sink.root
	previous := t.sink.sibling("previous", t.runID)

	hadPrevious := true
	if err := os.Rename(root, previous); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("move previous output aside: %w", err)
		}
		hadPrevious = false
	}
	if err := os.Rename(t.staging, root); err != nil {
		if hadPrevious {
			if rerr := os.Rename(previous, root); rerr != nil {
				t.sink.logger.Error("restore previous output failed", "dir", previous, "error", rerr)
			}
		}
		return fmt.Errorf("publish output: %w", err)
	}
	if hadPrevious {
		if err := os.RemoveAll(previous); err != nil {
			t.sink.logger.Warn("remove previous output failed", "dir", previous, "error", err)
		}
	}
	t.sink.logger.Info("output published", "sink", "files", "dir", root, "run_id", t.runID)
	return nil
}

func (t *stagedTree) Abort() error {
	return os.RemoveAll(t.staging)
}

// ReadManifest loads the manifest of a published output tree.
func ReadManifest(root string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	return m, nil
}
