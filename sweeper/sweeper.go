// Package sweeper expires orders that have been stuck in processing for
// longer than the configured threshold.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"order-processor/config"
	"order-processor/events"
	"order-processor/middleware"
	"order-processor/models"
)

type Phase int32

const (
	WaitingForTick Phase = iota
	Sweeping
)

func (p Phase) String() string {
	switch p {
	case WaitingForTick:
		return "waiting_for_tick"
	case Sweeping:
		return "sweeping"
	default:
		return "unknown"
	}
}

type Store interface {
	QueryOrders(ctx context.Context, status models.OrderStatus, updatedBefore time.Time) ([]models.Order, error)
	TransitionOrder(ctx context.Context, id int, from, to models.OrderStatus, updatedAt time.Time, fn func(context.Context) error) (bool, error)
}

type Result struct {
	Scanned int
	Expired int
	// Skipped orders left processing between the query and the update.
	Skipped int
	Failed  int
}

type Sweeper struct {
	store        Store
	publisher    events.Publisher
	interval     time.Duration
	threshold    time.Duration
	startupDelay time.Duration
	phase        atomic.Int32
	now          func() time.Time
	logger       *zap.Logger
}

func New(store Store, publisher events.Publisher, cfg config.OrderExpirationConfig, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:        store,
		publisher:    publisher,
		interval:     cfg.Interval(),
		threshold:    cfg.Threshold,
		startupDelay: cfg.StartupDelay,
		now:          time.Now,
		logger:       logger,
	}
}

func (s *Sweeper) Phase() Phase {
	return Phase(s.phase.Load())
}

// Run sweeps every interval until ctx is cancelled. A failed sweep is logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Expiration sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("threshold", s.threshold),
		zap.Duration("startup_delay", s.startupDelay),
	)

	if !sleep(ctx, s.startupDelay) {
		s.logger.Info("Expiration sweeper stopped")
		return nil
	}

	for {
		s.tick(ctx)
		if !sleep(ctx, s.interval) {
			s.logger.Info("Expiration sweeper stopped")
			return nil
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.phase.Store(int32(WaitingForTick))
			s.logger.Error("Expiration sweep panicked", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	result, err := s.SweepOnce(ctx)
	middleware.RecordSweep(result.Expired, time.Since(start), err)

	fields := []zap.Field{
		zap.Int("scanned", result.Scanned),
		zap.Int("expired", result.Expired),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		s.logger.Error("Expiration sweep failed", append(fields, zap.Error(err))...)
		return
	}
	if result.Scanned > 0 {
		s.logger.Info("Expiration sweep finished", fields...)
	} else {
		s.logger.Debug("Expiration sweep finished", fields...)
	}
}

// SweepOnce expires every processing order last updated strictly before
// now minus the threshold. Each order gets its own transaction; a failure is
// recorded and the remaining orders are still attempted.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	s.phase.Store(int32(Sweeping))
	defer s.phase.Store(int32(WaitingForTick))

	ctx, span := otel.Tracer("order-processor").Start(ctx, "SweepExpiredOrders")
	defer span.End()

	var result Result
	now := s.now()
	cutoff := now.Add(-s.threshold)

	orders, err := s.store.QueryOrders(ctx, models.OrderStatusProcessing, cutoff)
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("failed to query stale orders: %w", err)
	}
	result.Scanned = len(orders)
	span.SetAttributes(attribute.Int("orders.scanned", len(orders)))

	var errs []error
	for _, order := range orders {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		expired := events.OrderExpired{OrderID: order.ID, UserID: order.UserID, ExpiredAt: now.UTC()}
		changed, err := s.store.TransitionOrder(ctx, order.ID, models.OrderStatusProcessing, models.OrderStatusExpired, now,
			func(ctx context.Context) error {
				return s.publisher.Publish(ctx, expired)
			})
		switch {
		case err != nil:
			result.Failed++
			errs = append(errs, fmt.Errorf("order %d: %w", order.ID, err))
			s.logger.Warn("Failed to expire order", zap.Int("order_id", order.ID), zap.Error(err))
		case !changed:
			result.Skipped++
			s.logger.Debug("Order left processing before expiry", zap.Int("order_id", order.ID))
		default:
			result.Expired++
			s.logger.Info("Order expired",
				zap.Int("order_id", order.ID),
				zap.Int("user_id", order.UserID),
				zap.Time("last_updated", order.UpdatedAt),
			)
		}
	}

	span.SetAttributes(attribute.Int("orders.expired", result.Expired))
	return result, errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
