package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/case-rollup-etl/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"
)

// Config holds all run settings. Environment variables win over the optional
// YAML file named by CONFIG_PATH, which wins over built-in defaults.
type Config struct {
	CasesPath      string
	LocationsPath  string
	PopulationPath string
	OutputDir      string

	// Population source and normalization.
	PopulationURL        string
	PopulationTimeout    time.Duration
	PopulationCacheTTL   time.Duration
	PopulationMinYear    int
	PopulationCodeStrip  int
	PopulationCodeMarker string

	NationalCode  string
	NationalName  string
	SplitEnabled  bool
	ChartsEnabled bool

	// Optional sinks.
	SQLitePath     string
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string

	WatchEnabled    bool
	WatchDebounce   time.Duration
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// fileConfig mirrors Config for the YAML overlay. Pointers distinguish
// "unset" from zero values.
type fileConfig struct {
	CasesPath            string `yaml:"cases_path"`
	LocationsPath        string `yaml:"locations_path"`
	PopulationPath       string `yaml:"population_path"`
	OutputDir            string `yaml:"output_dir"`
	PopulationURL        string `yaml:"population_url"`
	PopulationTimeout    string `yaml:"population_timeout"`
	PopulationCacheTTL   string `yaml:"population_cache_ttl"`
	PopulationMinYear    *int   `yaml:"population_min_year"`
	PopulationCodeStrip  *int   `yaml:"population_code_strip"`
	PopulationCodeMarker string `yaml:"population_code_marker"`
	NationalCode         string `yaml:"national_code"`
	NationalName         string `yaml:"national_name"`
	SplitEnabled         *bool  `yaml:"split_enabled"`
	ChartsEnabled        *bool  `yaml:"charts_enabled"`
	SQLitePath           string `yaml:"sqlite_path"`
	KafkaEnabled         *bool  `yaml:"kafka_enabled"`
	KafkaBrokers         string `yaml:"kafka_brokers"`
	KafkaSinkTopic       string `yaml:"kafka_sink_topic"`
	WatchEnabled         *bool  `yaml:"watch_enabled"`
	WatchDebounce        string `yaml:"watch_debounce"`
	HTTPAddr             string `yaml:"http_addr"`
	LogLevel             string `yaml:"log_level"`
	LogFormat            string `yaml:"log_format"`
}

const defaultPopulationURL = "https://data.ssb.no/api/v0/dataset/26975.csv?lang=en"

// Load reads configuration from environment variables and the optional YAML
// file, applying defaults where unset.
func Load() (*Config, error) {
	fc, err := loadFile(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	populationTimeout, err := parseDuration("POPULATION_TIMEOUT", fc.PopulationTimeout, "30s")
	if err != nil {
		return nil, err
	}
	populationCacheTTL, err := parseDuration("POPULATION_CACHE_TTL", fc.PopulationCacheTTL, "1h")
	if err != nil {
		return nil, err
	}
	watchDebounce, err := parseDuration("WATCH_DEBOUNCE", fc.WatchDebounce, "2s")
	if err != nil {
		return nil, err
	}
	minYear, err := parseInt("POPULATION_MIN_YEAR", fc.PopulationMinYear, 2015)
	if err != nil {
		return nil, err
	}
	codeStrip, err := parseInt("POPULATION_CODE_STRIP", fc.PopulationCodeStrip, 2)
	if err != nil {
		return nil, err
	}
	if codeStrip < 0 {
		return nil, errors.New("invalid POPULATION_CODE_STRIP: must not be negative")
	}
	splitEnabled, err := parseBool("SPLIT_ENABLED", fc.SplitEnabled, true)
	if err != nil {
		return nil, err
	}
	chartsEnabled, err := parseBool("CHARTS_ENABLED", fc.ChartsEnabled, true)
	if err != nil {
		return nil, err
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", fc.KafkaEnabled, false)
	if err != nil {
		return nil, err
	}
	watchEnabled, err := parseBool("WATCH_ENABLED", fc.WatchEnabled, false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		CasesPath:      setting("CASES_PATH", fc.CasesPath, "input/individual_level_data.csv"),
		LocationsPath:  setting("LOCATIONS_PATH", fc.LocationsPath, "data_structural/norway_locations_b2020.xlsx"),
		PopulationPath: setting("POPULATION_PATH", fc.PopulationPath, "data_structural/pop_data.csv"),
		OutputDir:      setting("OUTPUT_DIR", fc.OutputDir, "output"),

		PopulationURL:        setting("POPULATION_URL", fc.PopulationURL, defaultPopulationURL),
		PopulationTimeout:    populationTimeout,
		PopulationCacheTTL:   populationCacheTTL,
		PopulationMinYear:    minYear,
		PopulationCodeStrip:  codeStrip,
		PopulationCodeMarker: setting("POPULATION_CODE_MARKER", fc.PopulationCodeMarker, "municip"),

		NationalCode:  setting("NATIONAL_CODE", fc.NationalCode, domain.DefaultNational.Code),
		NationalName:  setting("NATIONAL_NAME", fc.NationalName, domain.DefaultNational.Name),
		SplitEnabled:  splitEnabled,
		ChartsEnabled: chartsEnabled,

		SQLitePath:     setting("SQLITE_PATH", fc.SQLitePath, ""),
		KafkaEnabled:   kafkaEnabled,
		KafkaBrokers:   sharedcfg.ParseBrokers(setting("KAFKA_BROKERS", fc.KafkaBrokers, "localhost:9092")),
		KafkaSinkTopic: setting("KAFKA_SINK_TOPIC", fc.KafkaSinkTopic, "aggregated-case-counts"),

		WatchEnabled:    watchEnabled,
		WatchDebounce:   watchDebounce,
		HTTPAddr:        setting("HTTP_ADDR", fc.HTTPAddr, ":8080"),
		LogLevel:        setting("LOG_LEVEL", fc.LogLevel, "info"),
		LogFormat:       setting("LOG_FORMAT", fc.LogFormat, "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.CasesPath == "" {
		return nil, errors.New("CASES_PATH is required")
	}
	if cfg.LocationsPath == "" {
		return nil, errors.New("LOCATIONS_PATH is required")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("OUTPUT_DIR is required")
	}
	if cfg.NationalCode == "" {
		return nil, errors.New("NATIONAL_CODE is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_SINK_TOPIC is empty")
	}

	return cfg, nil
}

// PopulationMinDate is the retention boundary for population observations.
func (c *Config) PopulationMinDate() time.Time {
	return time.Date(c.PopulationMinYear, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// National returns the configured root of the location hierarchy.
func (c *Config) National() domain.National {
	return domain.National{Code: c.NationalCode, Name: c.NationalName}
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read CONFIG_PATH %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse CONFIG_PATH %s: %w", path, err)
	}
	return fc, nil
}

func setting(key, fileValue, def string) string {
	if fileValue != "" {
		def = fileValue
	}
	return sharedcfg.EnvOrDefault(key, def)
}

func parseDuration(key, fileValue, def string) (time.Duration, error) {
	d, err := time.ParseDuration(setting(key, fileValue, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, fileValue *int, def int) (int, error) {
	if fileValue != nil {
		def = *fileValue
	}
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseBool(key string, fileValue *bool, def bool) (bool, error) {
	if fileValue != nil {
		def = *fileValue
	}
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
