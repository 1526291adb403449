package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrProducerClosed is returned by WriteMessages after Close.
var ErrProducerClosed = errors.New("change feed producer closed")

// Writer writes records to a topic.
type Writer interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

type topicWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerOption configures a KafkaProducer.
type ProducerOption func(*KafkaProducer)

// WithProducerLogger receives the kafka-go writer's error log.
func WithProducerLogger(logger *zap.Logger) ProducerOption {
	return func(p *KafkaProducer) {
		p.logger = logger
	}
}

// WithBatchTimeout bounds how long a write waits for its batch to fill.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(p *KafkaProducer) {
		p.batchTimeout = d
	}
}

// KafkaProducer writes change feed events, opening one writer per topic on first use. Messages
// are partitioned by key hash, so all of an owner's events land on one partition in write order.
type KafkaProducer struct {
	brokers      []string
	batchTimeout time.Duration
	logger       *zap.Logger
	dial         func(topic string) topicWriter

	mu      sync.Mutex
	closed  bool
	writers map[string]topicWriter
}

// NewKafkaProducer creates a KafkaProducer for brokers.
func NewKafkaProducer(brokers []string, opts ...ProducerOption) *KafkaProducer {
	p := &KafkaProducer{
		brokers:      brokers,
		batchTimeout: 10 * time.Millisecond,
		logger:       zap.NewNop(),
		writers:      make(map[string]topicWriter),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.dial = p.kafkaWriter
	return p
}

func (p *KafkaProducer) kafkaWriter(topic string) topicWriter {
	logger := p.logger.With(zap.String("topic", topic))
	return &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           p.batchTimeout,
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
}

// WriteMessages writes msgs to topic. Every message must carry the owner key.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	for _, m := range msgs {
		if len(m.Key) == 0 {
			return fmt.Errorf("write %s: message without owner key", topic)
		}
	}
	w, err := p.writer(topic)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writer(topic string) (topicWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProducerClosed
	}
	w, ok := p.writers[topic]
	if !ok {
		w = p.dial(topic)
		p.writers[topic] = w
	}
	return w, nil
}

// Close flushes and closes every writer. Later writes fail with ErrProducerClosed.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %s: %w", topic, err))
		}
	}
	p.writers = nil
	return errors.Join(errs...)
}
