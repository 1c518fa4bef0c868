// Package events is the in-process event bus connecting the session registry
// to its observers: the realtime hub, the rating updater, the game archive
// and the optional NATS relay.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

// Define event types
const (
	EventGameCreated        EventType = "GAME_CREATED"
	EventMoveMade           EventType = "MOVE_MADE"
	EventEngineMoved        EventType = "ENGINE_MOVED"
	EventGameFinished       EventType = "GAME_FINISHED"
	EventDrawOffered        EventType = "DRAW_OFFERED"
	EventDrawDeclined       EventType = "DRAW_DECLINED"
	EventTakebackRequested  EventType = "TAKEBACK_REQUESTED"
	EventTakebackAccepted   EventType = "TAKEBACK_ACCEPTED"
	EventTakebackDeclined   EventType = "TAKEBACK_DECLINED"
	EventPlayerDisconnected EventType = "PLAYER_DISCONNECTED"
	EventPlayerReconnected  EventType = "PLAYER_RECONNECTED"
	EventMatchFound         EventType = "MATCH_FOUND"
	allEvents               EventType = "*"
)

// Event represents an event in the system
type Event struct {
	ID      uuid.UUID
	Type    EventType
	GameID  string // Optional, can be empty for non-game events
	At      time.Time
	Payload interface{}
}

// NewEvent stamps a new event with an id and the current time
func NewEvent(t EventType, gameID string, payload interface{}) Event {
	return Event{
		ID:      uuid.New(),
		Type:    t,
		GameID:  gameID,
		At:      time.Now().UTC(),
		Payload: payload,
	}
}

// Handler is a function that processes events. Handlers run on the
// publishing goroutine and must not block.
type Handler func(event Event)

// Publisher is the central event publisher
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
}

// NewPublisher creates a new event publisher
func NewPublisher() *Publisher {
	return &Publisher{
		subscribers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a specific event type
func (p *Publisher) Subscribe(eventType EventType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers[eventType] = append(p.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for all event types
func (p *Publisher) SubscribeAll(handler Handler) {
	p.Subscribe(allEvents, handler)
}

// Publish delivers an event to the handlers of its type, then to the
// catch-all handlers, in subscription order
func (p *Publisher) Publish(event Event) {
	if p == nil {
		return
	}

	p.mu.RLock()
	handlers := append([]Handler(nil), p.subscribers[event.Type]...)
	handlers = append(handlers, p.subscribers[allEvents]...)
	p.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
