package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds configuration for the Kafka publisher.
type KafkaConfig struct {
	Brokers         []string
	Topic           string
	BatchSize       int
	BatchTimeout    time.Duration
	WriteTimeout    time.Duration
	RequiredAcks    int // 0, 1, or -1 (all)
	MaxMessageBytes int
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes transition events to a Kafka topic. Messages are
// keyed by operation id so one operation's events stay in one partition
// and keep their order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	mu     sync.RWMutex
	closed bool
}

// NewKafkaPublisher creates a publisher with a synchronous kafka.Writer.
func NewKafkaPublisher(config KafkaConfig) (*KafkaPublisher, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		BatchBytes:   int64(config.MaxMessageBytes),
		MaxAttempts:  3,
		Async:        false,
	}
	return newKafkaPublisher(writer, config.Topic), nil
}

func newKafkaPublisher(writer messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic}
}

// Publish writes events as JSON messages.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...TransitionEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal transition event: %w", err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(ev.OperationID),
			Value: data,
			Time:  ev.At,
			Headers: []kafka.Header{
				{Key: "from", Value: []byte(ev.From)},
				{Key: "to", Value: []byte(ev.To)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("failed to write to Kafka topic %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}
