package tabular

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/couchcryptid/case-rollup-etl/internal/domain"
	"github.com/couchcryptid/case-rollup-etl/internal/pipeline"
)

// PopulationFetcher downloads the population CSV when no local copy exists.
type PopulationFetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// FileSource implements pipeline.Source over files on disk.
type FileSource struct {
	casesPath      string
	locationsPath  string
	populationPath string
	fetcher        PopulationFetcher
	opts           PopulationOptions
	logger         *slog.Logger
}

// NewFileSource creates a FileSource. fetcher may be nil, in which case the
// local population file is required.
func NewFileSource(casesPath, locationsPath, populationPath string, fetcher PopulationFetcher, opts PopulationOptions, logger *slog.Logger) *FileSource {
	return &FileSource{
		casesPath:      casesPath,
		locationsPath:  locationsPath,
		populationPath: populationPath,
		fetcher:        fetcher,
		opts:           opts,
		logger:         logger,
	}
}

// Paths returns the local input files, for watching.
func (s *FileSource) Paths() []string {
	paths := []string{s.casesPath, s.locationsPath}
	if s.populationPath != "" {
		paths = append(paths, s.populationPath)
	}
	return paths
}

// Load reads all three inputs. Any schema violation aborts the load.
func (s *FileSource) Load(ctx context.Context) (pipeline.Inputs, error) {
	locations, err := s.loadLocations()
	if err != nil {
		return pipeline.Inputs{}, err
	}
	population, err := s.loadPopulation(ctx)
	if err != nil {
		return pipeline.Inputs{}, err
	}
	events, err := s.loadCases()
	if err != nil {
		return pipeline.Inputs{}, err
	}
	return pipeline.Inputs{
		Events:     events,
		Locations:  locations,
		Population: population,
	}, nil
}

func (s *FileSource) loadLocations() ([]domain.LocationRecord, error) {
	f, err := os.Open(s.locationsPath)
	if err != nil {
		return nil, fmt.Errorf("open location table: %w", err)
	}
	defer f.Close()

	records, err := ReadLocations(f, s.locationsPath)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("location table read", "path", s.locationsPath, "rows", len(records))
	return records, nil
}

func (s *FileSource) loadCases() ([]domain.CaseEvent, error) {
	f, err := os.Open(s.casesPath)
	if err != nil {
		return nil, fmt.Errorf("open case file: %w", err)
	}
	defer f.Close()

	events, err := ReadCases(f, s.casesPath)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("case file read", "path", s.casesPath, "events", len(events))
	return events, nil
}

// loadPopulation prefers the local file and falls back to the fetcher.
func (s *FileSource) loadPopulation(ctx context.Context) ([]domain.PopulationObservation, error) {
	source := s.populationPath
	data, err := os.ReadFile(s.populationPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && s.fetcher != nil:
		s.logger.Info("local population file missing, downloading", "path", s.populationPath)
		data, err = s.fetcher.Fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("download population: %w", err)
		}
		source = "population download"
	default:
		return nil, fmt.Errorf("read population file: %w", err)
	}

	obs, skipped, err := ReadPopulation(bytes.NewReader(data), source, s.opts)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("population read", "source", source, "observations", len(obs), "skipped", skipped)
	return obs, nil
}
