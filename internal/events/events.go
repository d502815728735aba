package events

import (
	"context"
	"sync"
)

// Streams
const (
	StreamSession = "events:session"
)

// Event types
const (
	EventSessionRevoked = "session_revoked"
	EventUserUpdated    = "user_updated"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// SessionRevoked is published when a bearer token stops being valid,
// so every open socket of that wallet can sign out.
func SessionRevoked(wallet, userID, reason string) Event {
	return Event{
		Type: EventSessionRevoked,
		Payload: map[string]any{
			"wallet":  wallet,
			"user_id": userID,
			"reason":  reason,
		},
	}
}

// PayloadString reads a string field from the payload.
func (e Event) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// MemoryBus delivers events in-process. Used by tests and single-instance runs.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]func(Event)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]func(Event))}
}

func (b *MemoryBus) Publish(_ context.Context, stream string, event Event) error {
	b.mu.RLock()
	hs := append([]func(Event){}, b.handlers[stream]...)
	b.mu.RUnlock()
	for _, h := range hs {
		h(event)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, stream string, handler func(Event)) error {
	b.mu.Lock()
	b.handlers[stream] = append(b.handlers[stream], handler)
	b.mu.Unlock()
	return nil
}
