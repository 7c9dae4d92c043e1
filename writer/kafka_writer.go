package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	kafka "github.com/segmentio/kafka-go"

	appconfig "payeerflow/config"
	"payeerflow/internal/metrics"
	"payeerflow/internal/symbols"
	"payeerflow/logger"
	"payeerflow/models"
)

const kafkaComponent = "kafka_writer"

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes DIFF and TRADE messages keyed by exchange symbol, so
// that all events of one pair land on the same partition in order.
type KafkaWriter struct {
	writer MessageWriter
	topic  string
	log    *logger.Log

	batches atomic.Int64
	bytes   atomic.Int64
	errors  atomic.Int64
}

func NewKafkaWriter(cfg appconfig.KafkaConfig) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	kw := newKafkaWriter(&kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}, cfg.Topic)
	kw.log.WithComponent(kafkaComponent).WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Info("kafka writer initialized")
	return kw, nil
}

func newKafkaWriter(w MessageWriter, topic string) *KafkaWriter {
	return &KafkaWriter{writer: w, topic: topic, log: logger.GetLogger()}
}

// Publish writes msgs as one batch.
func (kw *KafkaWriter) Publish(ctx context.Context, msgs ...models.OrderBookMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafka.Message, 0, len(msgs))
	size := 0
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			kw.errors.Add(1)
			return fmt.Errorf("marshal %s message: %w", m.Type, err)
		}
		size += len(data)
		out = append(out, kafka.Message{
			Key:     []byte(symbols.ToPayeer(m.TradingPair)),
			Value:   data,
			Headers: []kafka.Header{{Key: "type", Value: []byte(m.Type)}},
		})
	}

	if err := kw.writer.WriteMessages(ctx, out...); err != nil {
		kw.errors.Add(1)
		kw.log.WithComponent(kafkaComponent).WithError(err).WithField("messages", len(out)).Warn("failed to write messages")
		return err
	}
	kw.batches.Add(1)
	kw.bytes.Add(int64(size))
	logger.RecordFlow("kafka_publish", size)
	kw.log.WithComponent(kafkaComponent).WithFields(logger.Fields{
		"topic":    kw.topic,
		"messages": len(out),
	}).Debug("batch written to kafka")
	return nil
}

func (kw *KafkaWriter) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		BatchesWritten: kw.batches.Load(),
		BytesWritten:   kw.bytes.Load(),
		ErrorsCount:    kw.errors.Load(),
	}
}

func (kw *KafkaWriter) Close() error {
	metrics.ReportWriter(kw.log, kafkaComponent, kw.Stats())
	return kw.writer.Close()
}
