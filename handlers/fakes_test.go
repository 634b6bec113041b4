package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"order-processor/events"
	"order-processor/models"
)

// memoryStore mimics database.Store: guarded updates, transactional
// transitions and check-then-insert notifications.
type memoryStore struct {
	mu            sync.Mutex
	orders        map[int]*models.Order
	notifications []models.Notification
	nextID        int

	findErr   error
	insertErr error
	existsErr error
}

func newMemoryStore(orders ...models.Order) *memoryStore {
	s := &memoryStore{orders: make(map[int]*models.Order)}
	for i := range orders {
		o := orders[i]
		s.orders[o.ID] = &o
	}
	return s
}

func (s *memoryStore) status(id int) models.OrderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id].Status
}

func (s *memoryStore) order(id int) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *memoryStore) setStatus(id int, status models.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[id].Status = status
}

func (s *memoryStore) FindOrderByID(_ context.Context, id int) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	copied := *o
	return &copied, nil
}

func (s *memoryStore) cas(id int, from, to models.OrderStatus, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return false
	}
	o.Status = to
	o.UpdatedAt = at
	return true
}

func (s *memoryStore) UpdateOrderStatus(_ context.Context, id int, from, to models.OrderStatus, at time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, models.ErrInvalidTransition
	}
	return s.cas(id, from, to, at), nil
}

func (s *memoryStore) TransitionOrder(ctx context.Context, id int, from, to models.OrderStatus, at time.Time, fn func(context.Context) error) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, models.ErrInvalidTransition
	}

	s.mu.Lock()
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		s.mu.Unlock()
		return false, nil
	}
	before := *o
	o.Status = to
	o.UpdatedAt = at
	s.mu.Unlock()

	if fn != nil {
		if err := fn(ctx); err != nil {
			s.mu.Lock()
			*s.orders[id] = before
			s.mu.Unlock()
			return false, err
		}
	}
	return true, nil
}

func (s *memoryStore) NotificationExists(_ context.Context, orderID int, t models.NotificationType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	for _, n := range s.notifications {
		if n.OrderID != nil && *n.OrderID == orderID && n.Type == t {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) InsertNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.nextID++
	n.ID = s.nextID
	n.CreatedAt = time.Now()
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *memoryStore) ListNotifications(_ context.Context, orderID int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	out := []models.Notification{}
	for _, n := range s.notifications {
		if n.OrderID != nil && *n.OrderID == orderID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memoryStore) notificationsFor(orderID int, t models.NotificationType) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.OrderID != nil && *n.OrderID == orderID && n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []events.Event
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, event)
	return nil
}

func (p *recordingPublisher) sent() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.published...)
}

type oracleFunc func() bool

func (f oracleFunc) Decide() bool { return f() }

type fakeMarks struct {
	seen    map[string]bool
	seenErr error
	marked  int
}

func (m *fakeMarks) key(orderID int, t models.NotificationType) string {
	return fmt.Sprintf("%d:%s", orderID, t)
}

func (m *fakeMarks) Seen(_ context.Context, orderID int, t models.NotificationType) (bool, error) {
	if m.seenErr != nil {
		return false, m.seenErr
	}
	return m.seen[m.key(orderID, t)], nil
}

func (m *fakeMarks) Mark(_ context.Context, orderID int, t models.NotificationType) error {
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	m.seen[m.key(orderID, t)] = true
	m.marked++
	return nil
}

var errDatabaseDown = errors.New("database down")

// sequenceClock returns the given instants in order, then repeats the last one.
func sequenceClock(times ...time.Time) func() time.Time {
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		next := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return next
	}
}
