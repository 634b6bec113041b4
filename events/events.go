// Package events defines the order lifecycle events exchanged over the
// broker, their wire envelope and the routing table consumers dispatch
// through.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeOrderCreated   Type = "order_created"
	TypeOrderCompleted Type = "order_completed"
	TypeOrderExpired   Type = "order_expired"
)

// ErrMalformed marks input that can never be processed, no matter how often
// it is redelivered.
var ErrMalformed = errors.New("malformed event")

// Event is implemented by every order lifecycle event.
type Event interface {
	EventType() Type
	// AggregateID is the order the event belongs to; used as partition key.
	AggregateID() int
}

// Publisher hands events to the broker. Errors are never swallowed.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type OrderCreated struct {
	OrderID int             `json:"order_id"`
	UserID  int             `json:"user_id"`
	Total   decimal.Decimal `json:"total"`
}

func (OrderCreated) EventType() Type    { return TypeOrderCreated }
func (e OrderCreated) AggregateID() int { return e.OrderID }

type OrderCompleted struct {
	OrderID int             `json:"order_id"`
	UserID  int             `json:"user_id"`
	Total   decimal.Decimal `json:"total"`
}

func (OrderCompleted) EventType() Type    { return TypeOrderCompleted }
func (e OrderCompleted) AggregateID() int { return e.OrderID }

type OrderExpired struct {
	OrderID   int       `json:"order_id"`
	UserID    int       `json:"user_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

func (OrderExpired) EventType() Type    { return TypeOrderExpired }
func (e OrderExpired) AggregateID() int { return e.OrderID }

// Envelope is the JSON document written to the broker.
type Envelope struct {
	ID         string          `json:"event_id"`
	Type       Type            `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func NewEnvelope(event Event, occurredAt time.Time) (Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", event.EventType(), err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       event.EventType(),
		OccurredAt: occurredAt.UTC(),
		Payload:    payload,
	}, nil
}

// Encode builds the wire bytes for event.
func Encode(event Event, occurredAt time.Time) (Envelope, []byte, error) {
	env, err := NewEnvelope(event, occurredAt)
	if err != nil {
		return Envelope{}, nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return env, data, nil
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing event_type", ErrMalformed)
	}
	if len(env.Payload) == 0 {
		return Envelope{}, fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	return env, nil
}
