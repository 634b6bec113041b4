package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"order-processor/circuitbreaker"
	"order-processor/config"
	"order-processor/events"
	"order-processor/middleware"
)

const (
	headerEventType = "event_type"
	headerEventID   = "event_id"
)

var ErrUnknownTopic = errors.New("no topic configured for event type")

func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

func InitProducer(cfg config.KafkaConfig, logger *zap.Logger) (sarama.SyncProducer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Brokers))
	return producer, nil
}

func topicFor(topics config.Topics, t events.Type) (string, error) {
	var topic string
	switch t {
	case events.TypeOrderCreated:
		topic = topics.Created
	case events.TypeOrderCompleted:
		topic = topics.Completed
	case events.TypeOrderExpired:
		topic = topics.Expired
	}
	if topic == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownTopic, t)
	}
	return topic, nil
}

// Producer publishes order events through a sarama SyncProducer. Sends go
// through a circuit breaker so a dead broker fails fast instead of stalling
// every handler on producer retries.
type Producer struct {
	producer         sarama.SyncProducer
	topics           config.Topics
	deadLetterSuffix string
	breaker          *circuitbreaker.CircuitBreaker
	now              func() time.Time
	logger           *zap.Logger
}

func NewProducer(producer sarama.SyncProducer, cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	breaker := circuitbreaker.NewCircuitBreaker(5, 30*time.Second)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warn("Kafka producer circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	})

	return &Producer{
		producer:         producer,
		topics:           cfg.Topics,
		deadLetterSuffix: cfg.DeadLetterSuffix,
		breaker:          breaker,
		now:              time.Now,
		logger:           logger,
	}
}

func (p *Producer) Publish(ctx context.Context, event events.Event) (err error) {
	defer func() { middleware.RecordEventPublished(string(event.EventType()), err) }()

	topic, err := topicFor(p.topics, event.EventType())
	if err != nil {
		return err
	}

	ctx, span := otel.Tracer("order-processor").Start(ctx, "Publish "+string(event.EventType()),
		trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	env, payload, err := events.Encode(event, p.now())
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.String("event.type", string(env.Type)),
		attribute.String("event.id", env.ID),
		attribute.Int("order.id", event.AggregateID()),
	)

	// Inject trace context into Kafka message headers
	carrier := make(saramaHeaderCarrier, 0, 4)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	carrier.Set(headerEventType, string(env.Type))
	carrier.Set(headerEventID, env.ID)

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(strconv.Itoa(event.AggregateID())),
		Value:   sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader(carrier),
	}

	var partition int32
	var offset int64
	err = p.breaker.Execute(ctx, func() error {
		var sendErr error
		partition, offset, sendErr = p.producer.SendMessage(msg)
		return sendErr
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish %s for order %d: %w", env.Type, event.AggregateID(), err)
	}

	p.logger.Info("Event published",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("topic", topic),
		zap.String("event_id", env.ID),
		zap.Int("order_id", event.AggregateID()),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// SendDeadLetter copies msg to its dead-letter topic.
func (p *Producer) SendDeadLetter(ctx context.Context, msg *sarama.ConsumerMessage, attempts int, reason error) error {
	letter := newDeadLetter(msg, p.deadLetterSuffix, attempts, reason)

	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:   letter.topic,
		Key:     sarama.ByteEncoder(msg.Key),
		Value:   sarama.ByteEncoder(msg.Value),
		Headers: letter.headers,
	})
	if err != nil {
		return fmt.Errorf("failed to send to dead-letter topic %s: %w", letter.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
