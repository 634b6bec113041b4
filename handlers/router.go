package handlers

import "order-processor/events"

// RegisterEventHandlers binds each lifecycle event to its handler.
func RegisterEventHandlers(
	router *events.Router,
	created *OrderCreatedHandler,
	completed *OrderCompletedHandler,
	expired *OrderExpiredHandler,
) {
	router.Register(events.TypeOrderCreated, events.Handle(created.Handle))
	router.Register(events.TypeOrderCompleted, events.Handle(completed.Handle))
	router.Register(events.TypeOrderExpired, events.Handle(expired.Handle))
}
