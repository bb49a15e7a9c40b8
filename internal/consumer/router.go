package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"example.com/fuelsync/internal/events"
)

// Router dispatches messages to the handler registered for their event type. Event types without
// a route are acknowledged and counted.
type Router struct {
	routes map[string]Handler
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Handler)}
}

// Route registers h for eventType, replacing any earlier registration.
func (r *Router) Route(eventType string, h Handler) *Router {
	r.routes[eventType] = h
	return r
}

// Handle implements Handler.
func (r *Router) Handle(ctx context.Context, msg Message) error {
	h, ok := r.routes[msg.EventType]
	if !ok {
		countRecord(msg.Topic, msg.EventType, resultUnrouted)
		return nil
	}
	return h.Handle(ctx, msg)
}

// ConnectionLogHandler writes an audit line for each connection change.
type ConnectionLogHandler struct {
	logger *log.Logger
}

// NewConnectionLogHandler constructs a ConnectionLogHandler.
func NewConnectionLogHandler(logger *log.Logger) *ConnectionLogHandler {
	return &ConnectionLogHandler{logger: logger}
}

// Handle implements Handler.
func (h *ConnectionLogHandler) Handle(ctx context.Context, msg Message) error {
	var event events.ConnectionChanged
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
	}
	h.logger.Printf("user %s %s %s (athlete %s) at %s",
		event.UserID, event.Change, event.Provider, event.AthleteID, event.OccurredAt.UTC().Format("2006-01-02T15:04:05Z"))
	return nil
}
