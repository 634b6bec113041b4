package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"order-processor/models"
)

// Store is the storage engine the processing core talks to. Every call
// borrows its own connection from the pool.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) FindOrderByID(ctx context.Context, id int) (*models.Order, error) {
	var order models.Order
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, total, status, created_at, updated_at FROM orders WHERE id = $1",
		id,
	).Scan(&order.ID, &order.UserID, &order.Total, &order.Status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	return &order, nil
}

// UpdateOrderStatus moves order id from one status to the next only if it is
// still in from. It reports whether the row changed.
func (s *Store) UpdateOrderStatus(ctx context.Context, id int, from, to models.OrderStatus, updatedAt time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	return updateStatus(ctx, s.db, id, from, to, updatedAt)
}

// TransitionOrder performs the guarded status change and then runs fn inside
// the same transaction. The change is committed only if fn succeeds.
func (s *Store) TransitionOrder(
	ctx context.Context,
	id int,
	from, to models.OrderStatus,
	updatedAt time.Time,
	fn func(context.Context) error,
) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	changed, err := updateStatus(ctx, tx, id, from, to, updatedAt)
	if err != nil || !changed {
		return false, err
	}

	if fn != nil {
		if err := fn(ctx); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateStatus(ctx context.Context, db execer, id int, from, to models.OrderStatus, updatedAt time.Time) (bool, error) {
	result, err := db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4",
		to, updatedAt.UTC(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order %d status: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows > 0, nil
}

// QueryOrders returns orders in status whose updated_at is strictly before
// updatedBefore.
func (s *Store) QueryOrders(ctx context.Context, status models.OrderStatus, updatedBefore time.Time) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, total, status, created_at, updated_at FROM orders WHERE status = $1 AND updated_at < $2 ORDER BY updated_at",
		status, updatedBefore.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Total, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

func (s *Store) NotificationExists(ctx context.Context, orderID int, t models.NotificationType) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM notifications WHERE order_id = $1 AND type = $2)",
		orderID, t,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check notification: %w", err)
	}
	return exists, nil
}

func (s *Store) InsertNotification(ctx context.Context, n *models.Notification) error {
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO notifications (order_id, type, message, metadata) VALUES ($1, $2, $3, $4) RETURNING id, created_at",
		n.OrderID, n.Type, n.Message, n.Metadata,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, orderID int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, order_id, type, message, metadata, created_at FROM notifications WHERE order_id = $1 ORDER BY created_at",
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.OrderID, &n.Type, &n.Message, &n.Metadata, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}
