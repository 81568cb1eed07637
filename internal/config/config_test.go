package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "input/individual_level_data.csv", cfg.CasesPath)
	assert.Equal(t, "data_structural/norway_locations_b2020.xlsx", cfg.LocationsPath)
	assert.Equal(t, "data_structural/pop_data.csv", cfg.PopulationPath)
	assert.Equal(t, "output", cfg.OutputDir)
	assert.Equal(t, defaultPopulationURL, cfg.PopulationURL)
	assert.Equal(t, 30*time.Second, cfg.PopulationTimeout)
	assert.Equal(t, time.Hour, cfg.PopulationCacheTTL)
	assert.Equal(t, 2015, cfg.PopulationMinYear)
	assert.Equal(t, 2, cfg.PopulationCodeStrip)
	assert.Equal(t, "municip", cfg.PopulationCodeMarker)
	assert.Equal(t, "norge", cfg.NationalCode)
	assert.Equal(t, "Norge", cfg.NationalName)
	assert.True(t, cfg.SplitEnabled)
	assert.True(t, cfg.ChartsEnabled)
	assert.Empty(t, cfg.SQLitePath)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "aggregated-case-counts", cfg.KafkaSinkTopic)
	assert.False(t, cfg.WatchEnabled)
	assert.Equal(t, 2*time.Second, cfg.WatchDebounce)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC), cfg.PopulationMinDate())
	assert.Equal(t, "norge", cfg.National().Code)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("CASES_PATH", "/data/cases.csv")
	t.Setenv("LOCATIONS_PATH", "/data/locations.xls")
	t.Setenv("POPULATION_PATH", "/data/pop.csv")
	t.Setenv("OUTPUT_DIR", "/out")
	t.Setenv("POPULATION_TIMEOUT", "5s")
	t.Setenv("POPULATION_MIN_YEAR", "2018")
	t.Setenv("POPULATION_CODE_STRIP", "3")
	t.Setenv("POPULATION_CODE_MARKER", "kommune")
	t.Setenv("NATIONAL_CODE", "se")
	t.Setenv("NATIONAL_NAME", "Sverige")
	t.Setenv("SPLIT_ENABLED", "false")
	t.Setenv("CHARTS_ENABLED", "0")
	t.Setenv("SQLITE_PATH", "/out/cases.db")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_SINK_TOPIC", "custom-sink")
	t.Setenv("WATCH_ENABLED", "true")
	t.Setenv("WATCH_DEBOUNCE", "500ms")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/cases.csv", cfg.CasesPath)
	assert.Equal(t, "/data/locations.xls", cfg.LocationsPath)
	assert.Equal(t, "/data/pop.csv", cfg.PopulationPath)
	assert.Equal(t, "/out", cfg.OutputDir)
	assert.Equal(t, 5*time.Second, cfg.PopulationTimeout)
	assert.Equal(t, 2018, cfg.PopulationMinYear)
	assert.Equal(t, 3, cfg.PopulationCodeStrip)
	assert.Equal(t, "kommune", cfg.PopulationCodeMarker)
	assert.Equal(t, "se", cfg.NationalCode)
	assert.Equal(t, "Sverige", cfg.NationalName)
	assert.False(t, cfg.SplitEnabled)
	assert.False(t, cfg.ChartsEnabled)
	assert.Equal(t, "/out/cases.db", cfg.SQLitePath)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-sink", cfg.KafkaSinkTopic)
	assert.True(t, cfg.WatchEnabled)
	assert.Equal(t, 500*time.Millisecond, cfg.WatchDebounce)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cases_path: /yaml/cases.csv
output_dir: /yaml/out
population_min_year: 2017
charts_enabled: false
watch_debounce: 5s
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("OUTPUT_DIR", "/env/out")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/yaml/cases.csv", cfg.CasesPath)
	assert.Equal(t, "/env/out", cfg.OutputDir, "environment wins over file")
	assert.Equal(t, 2017, cfg.PopulationMinYear)
	assert.False(t, cfg.ChartsEnabled)
	assert.True(t, cfg.SplitEnabled, "unset file keys keep defaults")
	assert.Equal(t, 5*time.Second, cfg.WatchDebounce)
}

func TestLoad_MissingYAMLFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFIG_PATH")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{key: "SHUTDOWN_TIMEOUT", value: "not-a-duration"},
		{key: "POPULATION_TIMEOUT", value: "bad"},
		{key: "POPULATION_TIMEOUT", value: "-1s"},
		{key: "WATCH_DEBOUNCE", value: "soon"},
		{key: "POPULATION_MIN_YEAR", value: "twenty"},
		{key: "POPULATION_CODE_STRIP", value: "-1"},
		{key: "SPLIT_ENABLED", value: "maybe"},
		{key: "KAFKA_ENABLED", value: "yes please"},
	}
	for _, tc := range tests {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.key)
		})
	}
}

func TestLoad_KafkaFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kafka_enabled: true\nkafka_brokers: a:9092,b:9092\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "aggregated-case-counts", cfg.KafkaSinkTopic)
}
