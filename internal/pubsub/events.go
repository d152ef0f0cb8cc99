// Package pubsub provides in-process event fan-out.
//
// Two shapes are offered. Broker delivers events asynchronously over
// buffered channels and drops on a full buffer; it suits observers such as
// log followers and identity listeners. Notifier invokes callbacks
// synchronously in registration order on the publishing goroutine; it backs
// profile-change notification where every subscriber must have reacted
// before Publish returns.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	CreatedEvent EventType = "created"
	UpdatedEvent EventType = "updated"
	DeletedEvent EventType = "deleted"

	// Identity connection lifecycle.
	ConnectedEvent    EventType = "connected"
	DisconnectedEvent EventType = "disconnected"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
