package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"order-processor/events"
	"order-processor/middleware"
	"order-processor/models"
	"order-processor/payment"
)

type OrderStore interface {
	FindOrderByID(ctx context.Context, id int) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int, from, to models.OrderStatus, updatedAt time.Time) (bool, error)
	TransitionOrder(ctx context.Context, id int, from, to models.OrderStatus, updatedAt time.Time, fn func(context.Context) error) (bool, error)
}

// OrderCreatedHandler runs the simulated payment for a freshly created order.
type OrderCreatedHandler struct {
	store     OrderStore
	publisher events.Publisher
	oracle    payment.Oracle
	delay     time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewOrderCreatedHandler(
	store OrderStore,
	publisher events.Publisher,
	oracle payment.Oracle,
	delay time.Duration,
	logger *zap.Logger,
) *OrderCreatedHandler {
	return &OrderCreatedHandler{
		store:     store,
		publisher: publisher,
		oracle:    oracle,
		delay:     delay,
		now:       time.Now,
		logger:    logger,
	}
}

func (h *OrderCreatedHandler) Handle(ctx context.Context, event events.OrderCreated) error {
	ctx, span := otel.Tracer("order-processor").Start(ctx, "HandleOrderCreated")
	defer span.End()
	span.SetAttributes(attribute.Int("order.id", event.OrderID))

	logger := h.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", event.OrderID),
	)

	order, err := h.store.FindOrderByID(ctx, event.OrderID)
	if errors.Is(err, models.ErrOrderNotFound) {
		logger.Warn("Order not found, skipping payment")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	if order.Status != models.OrderStatusPending {
		logger.Info("Order already advanced, ignoring redelivery", zap.String("status", string(order.Status)))
		return nil
	}

	changed, err := h.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusProcessing, h.now())
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !changed {
		logger.Info("Order claimed by a concurrent delivery")
		return nil
	}
	logger.Info("Order moved to processing, awaiting payment", zap.Duration("delay", h.delay))

	if err := h.wait(ctx); err != nil {
		logger.Info("Payment simulation interrupted", zap.Error(err))
		return err
	}

	approved := h.oracle.Decide()
	middleware.RecordPaymentDecision(approved)
	span.SetAttributes(attribute.Bool("payment.approved", approved))

	if !approved {
		logger.Info("Payment declined, order left in processing")
		return nil
	}

	completed := events.OrderCompleted{OrderID: order.ID, UserID: order.UserID, Total: order.Total}
	changed, err = h.store.TransitionOrder(ctx, order.ID, models.OrderStatusProcessing, models.OrderStatusCompleted, h.now(),
		func(ctx context.Context) error {
			return h.publisher.Publish(ctx, completed)
		})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to complete order %d: %w", order.ID, err)
	}
	if !changed {
		logger.Warn("Order left processing before payment finished, not completing")
		return nil
	}

	logger.Info("Order completed", zap.String("total", order.Total.StringFixed(2)))
	return nil
}

func (h *OrderCreatedHandler) wait(ctx context.Context) error {
	if h.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(h.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
