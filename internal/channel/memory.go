package channel

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Channel. Outbound messages are recorded and
// published on Outbound; Deliver plays the remote side.
type Memory struct {
	subs     *registry
	mu       sync.Mutex
	sent     []Message
	outbound chan Message
	closed   bool
}

// NewMemory returns a Memory channel whose Outbound buffer holds up to 64 messages.
func NewMemory() *Memory {
	return &Memory{
		subs:     newRegistry(),
		outbound: make(chan Message, 64),
	}
}

func (m *Memory) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sent = append(m.sent, msg)
	select {
	case m.outbound <- msg:
	default:
	}
	return nil
}

func (m *Memory) Subscribe(event string, h Handler) { m.subs.set(event, h) }

func (m *Memory) Unsubscribe(event string) { m.subs.remove(event) }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.outbound)
	}
	return nil
}

// Deliver hands msg to the subscribed handler and reports whether one was registered.
func (m *Memory) Deliver(msg Message) bool {
	h, ok := m.subs.lookup(msg.Event)
	if !ok {
		return false
	}
	h(msg)
	return true
}

// Outbound publishes every sent message.
func (m *Memory) Outbound() <-chan Message { return m.outbound }

// Sent returns a copy of all messages sent so far.
func (m *Memory) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// Subscribed returns the sorted event names that currently have a handler.
func (m *Memory) Subscribed() []string {
	names := m.subs.events()
	sort.Strings(names)
	return names
}
