package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type HandlerFunc func(ctx context.Context, env Envelope) error

// Handle adapts a typed handler into a HandlerFunc that decodes the envelope
// payload first.
func Handle[E Event](fn func(context.Context, E) error) HandlerFunc {
	return func(ctx context.Context, env Envelope) error {
		var event E
		if err := json.Unmarshal(env.Payload, &event); err != nil {
			return fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
		}
		return fn(ctx, event)
	}
}

// Router is the routing table from event type to handler.
type Router struct {
	mu     sync.RWMutex
	routes map[Type]HandlerFunc
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		routes: make(map[Type]HandlerFunc),
		logger: logger,
	}
}

func (r *Router) Register(t Type, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[t] = fn
}

// Types lists the registered event types.
func (r *Router) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.routes))
	for t := range r.routes {
		types = append(types, t)
	}
	return types
}

// Dispatch calls the handler bound to env.Type. Events nobody subscribed to
// are acknowledged.
func (r *Router) Dispatch(ctx context.Context, env Envelope) error {
	r.mu.RLock()
	fn, ok := r.routes[env.Type]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("Unknown event type", zap.String("event_type", string(env.Type)), zap.String("event_id", env.ID))
		return nil
	}
	return fn(ctx, env)
}
