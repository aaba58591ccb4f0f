package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle event emitted by the flight engine and the resource
// service.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type, one of the EventType constants.
	Type string `json:"type"`

	// FlightID is the associated flight, if applicable.
	FlightID string `json:"flight_id,omitempty"`

	// WorkspaceID and ResourceID identify the resource involved, if any.
	WorkspaceID string `json:"workspace_id,omitempty"`
	ResourceID  string `json:"resource_id,omitempty"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Level is the severity (info, warning, error).
	Level string `json:"level"`
}

// Event type constants.
const (
	EventTypeFlightStarted       = "flight.started"
	EventTypeFlightSucceeded     = "flight.succeeded"
	EventTypeFlightCompensating  = "flight.compensating"
	EventTypeFlightError         = "flight.error"
	EventTypeFlightFatal         = "flight.fatal"
	EventTypeStepCompleted       = "step.completed"
	EventTypeResourceStateChange = "resource.state_changed"
)

// EventPublisher fans lifecycle events out to in-process subscribers.
// Publishing never blocks a flight: a subscriber whose buffer is full
// misses the event.
type EventPublisher struct {
	mu   sync.RWMutex
	cfg  EventsConfig
	subs []chan Event
}

// NewEventPublisher creates an event publisher.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &EventPublisher{cfg: cfg}, nil
}

// Subscribe registers a new subscriber and returns its channel.
func (p *EventPublisher) Subscribe() <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Event, p.cfg.BufferSize)
	p.subs = append(p.subs, ch)
	return ch
}

// Publish delivers the event to all subscribers without blocking.
func (p *EventPublisher) Publish(ev Event) {
	if p == nil || !p.cfg.Enabled {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels.
func (p *EventPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		close(ch)
	}
	p.subs = nil
}
