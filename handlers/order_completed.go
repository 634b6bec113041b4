package handlers

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"order-processor/events"
	"order-processor/middleware"
	"order-processor/models"
)

type OrderCompletedHandler struct {
	notifier
}

func NewOrderCompletedHandler(store NotificationStore, marks NotificationMarker, logger *zap.Logger) *OrderCompletedHandler {
	return &OrderCompletedHandler{notifier: newNotifier(store, marks, logger)}
}

func (h *OrderCompletedHandler) Handle(ctx context.Context, event events.OrderCompleted) error {
	ctx, span := otel.Tracer("order-processor").Start(ctx, "HandleOrderCompleted")
	defer span.End()
	span.SetAttributes(
		attribute.Int("order.id", event.OrderID),
		attribute.Int("user.id", event.UserID),
	)

	total := event.Total.StringFixed(2)
	message := fmt.Sprintf("Order #%d completed: payment of %s approved", event.OrderID, total)

	middleware.RecordNotificationSent(string(models.NotificationTypeOrderCompleted))
	h.logger.Info("Order completion notification sent",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", event.OrderID),
		zap.Int("user_id", event.UserID),
		zap.String("message", message),
	)
	h.logger.Info("[EMAIL] Order Confirmation",
		zap.String("to", fmt.Sprintf("user_%d@example.com", event.UserID)),
		zap.String("body", message),
	)

	_, err := h.record(ctx, event.OrderID, models.NotificationTypeOrderCompleted, message, models.Metadata{
		"order_id": event.OrderID,
		"user_id":  event.UserID,
		"total":    total,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record completion notification for order %d: %w", event.OrderID, err)
	}
	return nil
}
