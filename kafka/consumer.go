package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"order-processor/config"
	"order-processor/events"
	"order-processor/middleware"
	"order-processor/retry"
)

func NewConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Retry.Backoff = 1 * time.Second
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	return config
}

func InitConsumerGroup(cfg config.KafkaConfig, logger *zap.Logger) (sarama.ConsumerGroup, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, NewConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}

	logger.Info("Kafka consumer group initialized", zap.String("group_id", cfg.GroupID))
	return group, nil
}

// Consumer feeds broker messages into a Router. Each message is retried with
// the configured policy and parked on the dead-letter topic once retries are
// exhausted, so one poison message never blocks its partition.
type Consumer struct {
	group  sarama.ConsumerGroup
	topics []string
	router *events.Router
	policy retry.Policy
	dlq    DeadLetterSink
	logger *zap.Logger
}

func NewConsumer(
	group sarama.ConsumerGroup,
	topics []string,
	router *events.Router,
	policy retry.Policy,
	dlq DeadLetterSink,
	logger *zap.Logger,
) *Consumer {
	return &Consumer{
		group:  group,
		topics: topics,
		router: router,
		policy: policy,
		dlq:    dlq,
		logger: logger,
	}
}

// Run joins the consumer group and blocks until ctx is cancelled or the group
// is closed. Failed sessions are logged and rejoined after a backoff.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	c.logger.Info("Kafka consumer started", zap.Strings("topics", c.topics))

	failures := 0
	for {
		// Consume returns on every rebalance.
		err := c.group.Consume(ctx, c.topics, c)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
			return nil
		}
		if err == nil {
			failures = 0
			continue
		}

		delay := c.policy.Backoff(failures)
		failures++
		c.logger.Error("Consumer group session failed, rejoining",
			zap.Error(err),
			zap.Int("failures", failures),
			zap.Duration("backoff", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	c.logger.Info("Consumer group session started",
		zap.String("member_id", session.MemberID()),
		zap.Int32("generation", session.GenerationID()),
	)
	return nil
}

func (c *Consumer) Cleanup(session sarama.ConsumerGroupSession) error {
	c.logger.Info("Consumer group session ended", zap.String("member_id", session.MemberID()))
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.handle(session.Context(), msg); err != nil {
				// Offset stays unmarked; the message is redelivered to the
				// next owner of the partition.
				if session.Context().Err() != nil {
					return nil
				}
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// handle returns nil once the message is either processed or dead-lettered.
func (c *Consumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, saramaHeaderCarrierConsumer(msg.Headers))
	ctx, span := otel.Tracer("order-processor").Start(ctx, "Process "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int("messaging.partition", int(msg.Partition)),
		attribute.Int64("messaging.offset", msg.Offset),
	)

	logger := c.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	env, err := events.Decode(msg.Value)
	if err != nil {
		span.RecordError(err)
		logger.Error("Dropping malformed message", zap.Error(err))
		return c.deadLetter(ctx, msg, 1, err, logger)
	}

	span.SetAttributes(
		attribute.String("event.type", string(env.Type)),
		attribute.String("event.id", env.ID),
	)
	logger = logger.With(zap.String("event_type", string(env.Type)), zap.String("event_id", env.ID))
	logger.Info("Received event")

	attempts, err := c.policy.Do(ctx, func(ctx context.Context) error {
		err := c.router.Dispatch(ctx, env)
		if errors.Is(err, events.ErrMalformed) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, delay time.Duration, err error) {
		middleware.RecordMessageRetry(msg.Topic)
		logger.Warn("Retrying message handling",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	})
	if err == nil {
		middleware.RecordMessageConsumed(msg.Topic, "success")
		return nil
	}

	span.RecordError(err)
	if ctx.Err() != nil {
		logger.Info("Message handling interrupted by shutdown", zap.Int("attempts", attempts))
		return ctx.Err()
	}

	logger.Error("Failed to handle message after retries", zap.Int("attempts", attempts), zap.Error(err))
	return c.deadLetter(ctx, msg, attempts, err, logger)
}

func (c *Consumer) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, attempts int, reason error, logger *zap.Logger) error {
	if err := c.dlq.SendDeadLetter(ctx, msg, attempts, reason); err != nil {
		middleware.RecordMessageConsumed(msg.Topic, "error")
		logger.Error("Failed to dead-letter message", zap.Error(err))
		return err
	}
	middleware.RecordMessageConsumed(msg.Topic, "dead_letter")
	middleware.RecordDeadLetter(msg.Topic)
	logger.Warn("Message moved to dead-letter topic", zap.Int("attempts", attempts))
	return nil
}
