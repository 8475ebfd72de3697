// Package channel multiplexes named events over one duplex connection to the
// recognition service.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrClosed       = errors.New("channel closed")
	ErrDisconnected = errors.New("channel disconnected")
)

// Message is one event on the wire.
type Message struct {
	Event     string          `json:"event"`
	RequestID string          `json:"id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals payload into a Message.
func NewMessage(event, requestID string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return Message{Event: event, RequestID: requestID, Data: data}, nil
}

// Handler receives inbound messages for one event name. Handlers run on the
// channel's delivery goroutine and must not block.
type Handler func(Message)

// Channel is the duplex event channel to the recognition service.
// Delivery is FIFO per event name; there is no ordering across names.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	Subscribe(event string, h Handler)
	Unsubscribe(event string)
	Close() error
}

// Logger is the logging surface used by channel implementations.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// registry is the subscriber table shared by the implementations.
type registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]Handler)}
}

func (r *registry) set(event string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = h
}

func (r *registry) remove(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, event)
}

func (r *registry) lookup(event string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[event]
	return h, ok
}

func (r *registry) events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}
