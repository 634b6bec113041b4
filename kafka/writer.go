package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"order-processor/circuitbreaker"
	"order-processor/config"
	"order-processor/events"
	"order-processor/middleware"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewKafkaGoWriter builds a writer that routes by message topic and hashes
// keys, so all events of an order land on the same partition.
func NewKafkaGoWriter(cfg config.KafkaConfig) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		MaxAttempts:            5,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// Writer is the segmentio/kafka-go alternative to Producer.
type Writer struct {
	writer           messageWriter
	topics           config.Topics
	deadLetterSuffix string
	breaker          *circuitbreaker.CircuitBreaker
	now              func() time.Time
	logger           *zap.Logger
}

func NewWriter(w messageWriter, cfg config.KafkaConfig, logger *zap.Logger) *Writer {
	return &Writer{
		writer:           w,
		topics:           cfg.Topics,
		deadLetterSuffix: cfg.DeadLetterSuffix,
		breaker:          circuitbreaker.NewCircuitBreaker(5, 30*time.Second),
		now:              time.Now,
		logger:           logger,
	}
}

func (w *Writer) Publish(ctx context.Context, event events.Event) (err error) {
	defer func() { middleware.RecordEventPublished(string(event.EventType()), err) }()

	topic, err := topicFor(w.topics, event.EventType())
	if err != nil {
		return err
	}

	ctx, span := otel.Tracer("order-processor").Start(ctx, "Publish "+string(event.EventType()),
		trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	env, payload, err := events.Encode(event, w.now())
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(
		attribute.String("event.type", string(env.Type)),
		attribute.String("event.id", env.ID),
		attribute.Int("order.id", event.AggregateID()),
	)

	carrier := make(kafkaGoHeaderCarrier, 0, 4)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	carrier.Set(headerEventType, string(env.Type))
	carrier.Set(headerEventID, env.ID)

	msg := kafkago.Message{
		Topic:   topic,
		Key:     []byte(strconv.Itoa(event.AggregateID())),
		Value:   payload,
		Headers: []kafkago.Header(carrier),
	}

	err = w.breaker.Execute(ctx, func() error {
		return w.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish %s for order %d: %w", env.Type, event.AggregateID(), err)
	}

	w.logger.Info("Event published",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("topic", topic),
		zap.String("event_id", env.ID),
		zap.Int("order_id", event.AggregateID()),
	)
	return nil
}

func (w *Writer) SendDeadLetter(ctx context.Context, msg *sarama.ConsumerMessage, attempts int, reason error) error {
	letter := newDeadLetter(msg, w.deadLetterSuffix, attempts, reason)

	headers := make([]kafkago.Header, len(letter.headers))
	for i, h := range letter.headers {
		headers[i] = kafkago.Header{Key: string(h.Key), Value: h.Value}
	}

	err := w.writer.WriteMessages(ctx, kafkago.Message{
		Topic:   letter.topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("failed to send to dead-letter topic %s: %w", letter.topic, err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}
