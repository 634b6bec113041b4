package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"order-processor/config"
	"order-processor/models"
)

func InitRedis(cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Addr))
	return rdb, nil
}

// NotificationMarks remembers which notifications were already written so
// redelivered events can skip the database lookup. A missing mark means
// "unknown", never "not sent".
type NotificationMarks struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewNotificationMarks(rdb *redis.Client, ttl time.Duration) *NotificationMarks {
	return &NotificationMarks{rdb: rdb, ttl: ttl}
}

func notificationKey(orderID int, t models.NotificationType) string {
	return fmt.Sprintf("notification:%d:%s", orderID, t)
}

func (m *NotificationMarks) Seen(ctx context.Context, orderID int, t models.NotificationType) (bool, error) {
	err := m.rdb.Get(ctx, notificationKey(orderID, t)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *NotificationMarks) Mark(ctx context.Context, orderID int, t models.NotificationType) error {
	return m.rdb.Set(ctx, notificationKey(orderID, t), "1", m.ttl).Err()
}
