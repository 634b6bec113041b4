package handlers

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"order-processor/events"
	"order-processor/middleware"
	"order-processor/models"
)

type OrderExpiredHandler struct {
	notifier
}

func NewOrderExpiredHandler(store NotificationStore, marks NotificationMarker, logger *zap.Logger) *OrderExpiredHandler {
	return &OrderExpiredHandler{notifier: newNotifier(store, marks, logger)}
}

func (h *OrderExpiredHandler) Handle(ctx context.Context, event events.OrderExpired) error {
	ctx, span := otel.Tracer("order-processor").Start(ctx, "HandleOrderExpired")
	defer span.End()
	span.SetAttributes(
		attribute.Int("order.id", event.OrderID),
		attribute.Int("user.id", event.UserID),
	)

	message := fmt.Sprintf("Order #%d expired: payment was not confirmed in time", event.OrderID)

	middleware.RecordNotificationSent(string(models.NotificationTypeOrderExpired))
	h.logger.Info("Order expiration notification sent",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", event.OrderID),
		zap.Int("user_id", event.UserID),
		zap.String("message", message),
	)

	metadata := models.Metadata{
		"order_id": event.OrderID,
		"user_id":  event.UserID,
	}
	if !event.ExpiredAt.IsZero() {
		metadata["expired_at"] = event.ExpiredAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := h.record(ctx, event.OrderID, models.NotificationTypeOrderExpired, message, metadata)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record expiration notification for order %d: %w", event.OrderID, err)
	}
	return nil
}
