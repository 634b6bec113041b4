package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// InMemoryBus delivers published events straight to a Router, in the
// caller's goroutine. Used for local runs without a broker.
type InMemoryBus struct {
	router *Router
	now    func() time.Time
	logger *zap.Logger
}

func NewInMemoryBus(router *Router, logger *zap.Logger) *InMemoryBus {
	return &InMemoryBus{router: router, now: time.Now, logger: logger}
}

func (b *InMemoryBus) Publish(ctx context.Context, event Event) error {
	env, err := NewEnvelope(event, b.now())
	if err != nil {
		return err
	}

	b.logger.Debug("Relaying event in-process",
		zap.String("event_type", string(env.Type)),
		zap.String("event_id", env.ID),
		zap.Int("order_id", event.AggregateID()),
	)
	return b.router.Dispatch(ctx, env)
}
