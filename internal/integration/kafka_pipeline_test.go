//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/case-rollup-etl/internal/adapter/fsout"
	"github.com/couchcryptid/case-rollup-etl/internal/adapter/kafka"
	"github.com/couchcryptid/case-rollup-etl/internal/adapter/spreadsheet"
	"github.com/couchcryptid/case-rollup-etl/internal/adapter/tabular"
	"github.com/couchcryptid/case-rollup-etl/internal/config"
	"github.com/couchcryptid/case-rollup-etl/internal/domain"
	"github.com/couchcryptid/case-rollup-etl/internal/observability"
	"github.com/couchcryptid/case-rollup-etl/internal/pipeline"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const testSinkTopic = "test-case-rollups"

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("case-rollup-test"))
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminate kafka: %v", err)
		}
	})
	require.NoError(t, err, "start kafka container")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))

	// Wait for the partition leader so the first publish does not race topic creation.
	require.Eventually(t, func() bool {
		parts, err := conn.ReadPartitions(topic)
		return err == nil && len(parts) == 1 && parts[0].Leader.Host != ""
	}, 30*time.Second, 250*time.Millisecond)
}

func writeInputs(t *testing.T) (cases, locations, population string) {
	t.Helper()
	dir := t.TempDir()
	cases = filepath.Join(dir, "cases.csv")
	locations = filepath.Join(dir, "locations.csv")
	population = filepath.Join(dir, "population.csv")

	require.NoError(t, os.WriteFile(cases, []byte(
		"date,location_code\n"+
			"2020-03-02,municip0301\n"+
			"2020-03-02,municip0301\n"+
			"2020-03-02,municip0301\n"), 0o600))
	require.NoError(t, os.WriteFile(locations, []byte(
		"municip_code,municip_name,county_code,county_name\n"+
			"municip0301,Oslo,county03,Oslo\n"), 0o600))
	require.NoError(t, os.WriteFile(population, []byte(
		"region,year,contents,population\n"+
			"K-0301 Oslo,2020,Population,693494\n"), 0o600))
	return cases, locations, population
}

type publishedRecord struct {
	Record  domain.AggregatedRecord
	Key     string
	Headers map[string]string
}

func readPublished(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedRecord {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var rec domain.AggregatedRecord
	require.NoError(t, json.Unmarshal(msg.Value, &rec), "unmarshal sink message")
	return publishedRecord{Record: rec, Key: string(msg.Key), Headers: headers}
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	logger := observability.DiscardLogger()
	cfg := &config.Config{
		KafkaBrokers:   []string{broker},
		KafkaSinkTopic: testSinkTopic,
	}

	casesPath, locationsPath, populationPath := writeInputs(t)
	source := tabular.NewFileSource(casesPath, locationsPath, populationPath, nil, tabular.DefaultPopulationOptions, logger)
	aggregator := pipeline.NewAggregator(time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC), domain.DefaultNational, false, logger)

	outDir := filepath.Join(t.TempDir(), "output")
	files := fsout.NewSink(outDir, spreadsheet.NewWriter(), nil, logger)
	writer := kafka.NewWriter(cfg, logger)
	t.Cleanup(func() { _ = writer.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2020, time.March, 10, 6, 0, 0, 0, time.UTC))
	p := pipeline.New(source, aggregator, []pipeline.Sink{files, writer}, logger, observability.NewMetricsForTesting(), clock)

	summary, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Events)
	assert.Equal(t, 3, summary.DailyRecords)
	assert.Equal(t, 3, summary.WeeklyRecords)

	manifest, err := fsout.ReadManifest(outDir)
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, manifest.RunID)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	byKey := make(map[string]publishedRecord)
	for range summary.DailyRecords + summary.WeeklyRecords {
		pr := readPublished(ctx, t, consumer)
		assert.Equal(t, summary.RunID, pr.Headers["run_id"])
		assert.Equal(t, string(pr.Record.Granularity), pr.Headers["granularity"])
		assert.Equal(t, string(pr.Record.Level), pr.Headers["level"])
		assert.Equal(t, kafka.MessageKey(pr.Record), pr.Key)
		byKey[pr.Key] = pr
	}
	require.Len(t, byKey, 6)

	national, ok := byKey["daily|2020-03-02|norge"]
	require.True(t, ok, "national daily record published")
	assert.Equal(t, 3, national.Record.CaseCount)
	assert.Equal(t, domain.KnownPopulation(693494), national.Record.Population)
	assert.Equal(t, "Norge", national.Record.LocationName)

	// 2020-03-02 shifted back a week lands in the week labelled 2020-02-24.
	weekly, ok := byKey["weekly|2020-02-24|municip0301"]
	require.True(t, ok, "municipality weekly record published")
	assert.Equal(t, domain.LevelMunicipality, weekly.Record.Level)
	assert.Equal(t, 3, weekly.Record.CaseCount)
}

func TestPipelineMalformedInputPublishesNothing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	logger := observability.DiscardLogger()
	casesPath, locationsPath, populationPath := writeInputs(t)
	require.NoError(t, os.WriteFile(casesPath, []byte("date,location_code\nnot-a-date,municip0301\n"), 0o600))

	source := tabular.NewFileSource(casesPath, locationsPath, populationPath, nil, tabular.DefaultPopulationOptions, logger)
	aggregator := pipeline.NewAggregator(time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC), domain.DefaultNational, false, logger)
	writer := kafka.NewWriter(&config.Config{KafkaBrokers: []string{broker}, KafkaSinkTopic: testSinkTopic}, logger)
	t.Cleanup(func() { _ = writer.Close() })

	p := pipeline.New(source, aggregator, []pipeline.Sink{writer}, logger, observability.NewMetricsForTesting(), clockwork.NewFakeClock())
	_, err := p.Run(ctx)
	require.ErrorIs(t, err, domain.ErrMalformedInput)

	conn, err := kafkago.DialLeader(ctx, "tcp", broker, testSinkTopic, 0)
	require.NoError(t, err)
	defer conn.Close()
	last, err := conn.ReadLastOffset()
	require.NoError(t, err)
	assert.Zero(t, last, "no records published after a failed load")
}
