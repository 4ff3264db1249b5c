package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxSendAttempts = 3
	baseBackoff     = 100 * time.Millisecond
)

// KafkaPublisher writes events to a single Kafka topic.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaPublisher connects an idempotent sync producer to brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

// Publish sends e, retrying with exponential backoff.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.ParentID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(e.Type)},
			{Key: []byte("event-id"), Value: []byte(uuid.NewString())},
			{Key: []byte("timestamp"), Value: []byte(e.OccurredAt.UTC().Format(time.RFC3339))},
		},
	}

	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		partition, offset, err := p.producer.SendMessage(msg)
		if err == nil {
			p.logger.Debug("event published",
				zap.String("type", e.Type),
				zap.String("entity", e.EntityID),
				zap.Int32("partition", partition),
				zap.Int64("offset", offset),
			)
			return nil
		}

		p.logger.Warn("publishing event failed",
			zap.String("type", e.Type),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		if attempt < maxSendAttempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("publishing %s: %w", e.Type, ctx.Err())
			case <-time.After(baseBackoff << attempt):
			}
		}
	}
	return fmt.Errorf("publishing %s: gave up after %d attempts", e.Type, maxSendAttempts)
}

// Close shuts down the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
