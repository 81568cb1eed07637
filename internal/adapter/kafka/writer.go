package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/case-rollup-etl/internal/config"
	"github.com/couchcryptid/case-rollup-etl/internal/domain"
	"github.com/couchcryptid/case-rollup-etl/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
)

// batchSize bounds the number of messages per WriteMessages call.
const batchSize = 500

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes aggregated records to a Kafka topic.
// It implements pipeline.Sink.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

func (w *Writer) Name() string { return "kafka" }

// Prepare serializes every daily and weekly record. Nothing is sent until
// Commit.
func (w *Writer) Prepare(_ context.Context, res pipeline.Result) (pipeline.Pending, error) {
	msgs := make([]kafkago.Message, 0, len(res.Daily)+len(res.Weekly))
	for _, ds := range [][]domain.AggregatedRecord{res.Daily, res.Weekly} {
		for i := range ds {
			msg, err := serializeToMessage(ds[i], res.RunID)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		}
	}
	return &pendingBatch{w: w, msgs: msgs, runID: res.RunID}, nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

type pendingBatch struct {
	w     *Writer
	msgs  []kafkago.Message
	runID string
}

// Commit publishes the staged messages in batches.
func (p *pendingBatch) Commit(ctx context.Context) error {
	for start := 0; start < len(p.msgs); start += batchSize {
		end := min(start+batchSize, len(p.msgs))
		if err := p.w.writer.WriteMessages(ctx, p.msgs[start:end]...); err != nil {
			return fmt.Errorf("publish records %d-%d: %w", start, end, err)
		}
	}
	p.w.logger.Info("records published", "sink", "kafka", "run_id", p.runID, "messages", len(p.msgs))
	return nil
}

func (p *pendingBatch) Abort() error {
	p.msgs = nil
	return nil
}

// MessageKey identifies a record across runs so compacted topics keep the
// latest value per granularity, date, and location.
func MessageKey(r domain.AggregatedRecord) string {
	return string(r.Granularity) + "|" + r.Date.Format(domain.DateLayout) + "|" + r.LocationCode
}

// serializeToMessage marshals an AggregatedRecord into a Kafka message.
func serializeToMessage(r domain.AggregatedRecord, runID string) (kafkago.Message, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize aggregated record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(MessageKey(r)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "granularity", Value: []byte(r.Granularity)},
			{Key: "level", Value: []byte(r.Level)},
			{Key: "run_id", Value: []byte(runID)},
		},
		Time: r.Date,
	}, nil
}
