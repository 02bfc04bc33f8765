package kafka

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"

	"tokenmeter/internal/domain/usage"
	"tokenmeter/internal/metrics"
	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

// messageWriter is the subset of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles Kafka message publishing
type Producer struct {
	mu        sync.Mutex
	writers   map[string]messageWriter
	newWriter func(topic string) messageWriter
	log       *logger.Logger
}

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	Brokers []string
	Async   bool
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig) *Producer {
	return &Producer{
		writers: make(map[string]messageWriter),
		newWriter: func(topic string) messageWriter {
			return &kafka.Writer{
				Addr:                   kafka.TCP(cfg.Brokers...),
				Topic:                  topic,
				Balancer:               &kafka.Hash{}, // keep one user's events ordered on one partition
				Async:                  cfg.Async,
				AllowAutoTopicCreation: true,
			}
		},
		log: logger.Get().Component("kafka_producer"),
	}
}

// getWriter returns or creates a writer for a topic
func (p *Producer) getWriter(topic string) messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := p.newWriter(topic)
	p.writers[topic] = w
	return w
}

// Publish sends a message to a topic
func (p *Producer) Publish(ctx context.Context, topic string, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	err = p.getWriter(topic).WriteMessages(ctx, msg)
	metrics.RecordEventPublished(topic, err)
	if err != nil {
		p.log.Errorf("Failed to publish to %s: %v", topic, err)
		return errors.Wrapf(err, "failed to publish to %s", topic)
	}

	p.log.Debugf("Published to %s: %s", topic, key)
	return nil
}

// Close closes all writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.log.Errorf("Failed to close writer for %s: %v", topic, err)
			return err
		}
	}
	return nil
}

// UsagePublisher publishes usage events to a single topic keyed by user id
type UsagePublisher struct {
	producer *Producer
	topic    string
}

// NewUsagePublisher creates a publisher for topic, defaulting to TopicUsageEvents
func NewUsagePublisher(producer *Producer, topic string) *UsagePublisher {
	if topic == "" {
		topic = TopicUsageEvents
	}
	return &UsagePublisher{producer: producer, topic: topic}
}

// PublishUsage sends one usage event
func (p *UsagePublisher) PublishUsage(ctx context.Context, event usage.Event) error {
	return p.producer.Publish(ctx, p.topic, event.UserID, event)
}
