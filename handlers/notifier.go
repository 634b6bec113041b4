package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"order-processor/models"
)

type NotificationStore interface {
	NotificationExists(ctx context.Context, orderID int, t models.NotificationType) (bool, error)
	InsertNotification(ctx context.Context, n *models.Notification) error
}

// NotificationMarker is a best-effort cache in front of NotificationStore.
type NotificationMarker interface {
	Seen(ctx context.Context, orderID int, t models.NotificationType) (bool, error)
	Mark(ctx context.Context, orderID int, t models.NotificationType) error
}

// notifier writes at most one audit notification per order and type.
type notifier struct {
	store  NotificationStore
	marks  NotificationMarker
	now    func() time.Time
	logger *zap.Logger
}

func newNotifier(store NotificationStore, marks NotificationMarker, logger *zap.Logger) notifier {
	return notifier{store: store, marks: marks, now: time.Now, logger: logger}
}

// record reports whether a new row was written.
func (n notifier) record(ctx context.Context, orderID int, t models.NotificationType, message string, metadata models.Metadata) (bool, error) {
	logger := n.logger.With(zap.Int("order_id", orderID), zap.String("type", string(t)))

	if n.marks != nil {
		seen, err := n.marks.Seen(ctx, orderID, t)
		if err != nil {
			logger.Warn("Notification marker lookup failed", zap.Error(err))
		} else if seen {
			logger.Debug("Notification already recorded (cached)")
			return false, nil
		}
	}

	exists, err := n.store.NotificationExists(ctx, orderID, t)
	if err != nil {
		return false, err
	}
	if exists {
		logger.Info("Notification already recorded, skipping duplicate")
		n.mark(ctx, orderID, t, logger)
		return false, nil
	}

	metadata["processed_at"] = n.now().UTC().Format(time.RFC3339Nano)
	notification := &models.Notification{
		OrderID:  &orderID,
		Type:     t,
		Message:  message,
		Metadata: metadata,
	}
	if err := n.store.InsertNotification(ctx, notification); err != nil {
		return false, err
	}

	logger.Info("Notification recorded", zap.Int("notification_id", notification.ID))
	n.mark(ctx, orderID, t, logger)
	return true, nil
}

func (n notifier) mark(ctx context.Context, orderID int, t models.NotificationType, logger *zap.Logger) {
	if n.marks == nil {
		return
	}
	if err := n.marks.Mark(ctx, orderID, t); err != nil {
		logger.Warn("Failed to set notification marker", zap.Error(err))
	}
}
