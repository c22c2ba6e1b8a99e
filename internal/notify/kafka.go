package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-queue/internal/metrics"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes events keyed by appointment id, so every event
// of one appointment lands on the same partition. A circuit breaker stops
// calls to an unreachable cluster from piling up behind WriteTimeout.
type KafkaDispatcher struct {
	writer  messageWriter
	topic   string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewKafkaDispatcher(brokers []string, topic string, logger *zap.Logger, m *metrics.Metrics) *KafkaDispatcher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return newKafkaDispatcher(writer, topic, logger, m)
}

func newKafkaDispatcher(w messageWriter, topic string, logger *zap.Logger, m *metrics.Metrics) *KafkaDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &KafkaDispatcher{
		writer:  w,
		topic:   topic,
		logger:  logger,
		metrics: m,
	}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notify-kafka",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return d
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafka.Message{
		Topic: d.topic,
		Key:   []byte(ev.AppointmentID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID.String())},
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}

	_, err = d.breaker.Execute(func() (interface{}, error) {
		return nil, d.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		if d.metrics != nil {
			d.metrics.NotificationsFailed.Inc()
		}
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	if d.metrics != nil {
		d.metrics.NotificationsSent.Inc()
	}
	return nil
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
