package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type NotificationType string

const (
	NotificationTypeOrderCompleted NotificationType = "order_completed"
	NotificationTypeOrderExpired   NotificationType = "order_expired"
)

// Metadata is the key/value snapshot stored next to a notification so the
// row alone explains what happened to the order.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}

	out := Metadata{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	*m = out
	return nil
}

type Notification struct {
	ID        int              `json:"id"`
	OrderID   *int             `json:"order_id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Metadata  Metadata         `json:"metadata"`
	CreatedAt time.Time        `json:"created_at"`
}
