package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"satya.ledger/sl/internal/types"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Acks    int
	// ConsecutiveFailures opens the breaker; zero uses 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open; zero uses 30s.
	OpenTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const kafkaBreakerName = "ledger-kafka-sink"

var (
	errKafkaNoTopic   = errors.New("kafka topic must not be empty")
	errKafkaNoBrokers = errors.New("at least one kafka broker is required")
)

// KafkaSink publishes events to a Kafka topic keyed by transaction id, so all
// events of one transaction land on one partition in order.
type KafkaSink struct {
	cfg     KafkaConfig
	writer  messageWriter
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// NewKafkaSink builds a sink backed by a kafka-go writer.
func NewKafkaSink(cfg KafkaConfig, log *zap.Logger) (*KafkaSink, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errKafkaNoTopic
	}
	if len(cfg.Brokers) == 0 {
		return nil, errKafkaNoBrokers
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: false,
		BatchTimeout:           10 * time.Millisecond,
	}
	return newKafkaSinkWithWriter(cfg, log, w), nil
}

// newKafkaSinkWithWriter wires the provided writer into the sink. It is used in tests.
func newKafkaSinkWithWriter(cfg KafkaConfig, log *zap.Logger, w messageWriter) *KafkaSink {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "kafka_sink"), zap.String("topic", cfg.Topic))

	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        kafkaBreakerName,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &KafkaSink{cfg: cfg, writer: w, breaker: breaker, log: log}
}

// Name implements Sink.
func (k *KafkaSink) Name() string { return "kafka" }

// Deliver implements Sink.
func (k *KafkaSink) Deliver(ctx context.Context, ev types.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.TxID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}

	_, err = k.breaker.Execute(func() (interface{}, error) {
		return nil, k.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("kafka unavailable (breaker %s): %w", k.breaker.State(), err)
		}
		k.log.Warn("kafka write failed", zap.Int64("seq", ev.Seq), zap.Error(err))
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// State returns the breaker state, for health reporting.
func (k *KafkaSink) State() string { return k.breaker.State().String() }

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
