package broker

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Broker. Every Server sharing one Memory behaves as
// if it were a separate process attached to the same medium.
type Memory struct {
	mu        sync.RWMutex
	topics    map[string]map[string]struct{}
	listeners map[int]listener
	nextID    int
	closed    bool
}

type listener struct {
	prefix string
	fn     Handler
}

var _ Broker = (*Memory)(nil)

// NewMemory returns an empty in-process broker.
func NewMemory() *Memory {
	return &Memory{
		topics:    make(map[string]map[string]struct{}),
		listeners: make(map[int]listener),
	}
}

// Subscribe adds subscriberID to topic.
func (m *Memory) Subscribe(_ context.Context, topic, subscriberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	subs, ok := m.topics[topic]
	if !ok {
		subs = make(map[string]struct{})
		m.topics[topic] = subs
	}
	subs[subscriberID] = struct{}{}
	return nil
}

// Unsubscribe removes subscriberID from topic. Empty topics are dropped.
func (m *Memory) Unsubscribe(_ context.Context, topic, subscriberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if subs, ok := m.topics[topic]; ok {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(m.topics, topic)
		}
	}
	return nil
}

// Publish hands payload to every matching listener synchronously, in
// registration order.
func (m *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	ids := make([]int, 0, len(m.listeners))
	for id, l := range m.listeners {
		if strings.HasPrefix(topic, l.prefix) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	targets := make([]Handler, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, m.listeners[id].fn)
	}
	m.mu.RUnlock()

	for _, fn := range targets {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		fn(topic, msg)
	}
	return nil
}

// Listen registers fn until ctx is cancelled.
func (m *Memory) Listen(ctx context.Context, prefix string, fn Handler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener{prefix: prefix, fn: fn}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}()
	return nil
}

// Topics lists non-empty topics starting with prefix, sorted.
func (m *Memory) Topics(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	out := make([]string, 0, len(m.topics))
	for topic, subs := range m.topics {
		if len(subs) > 0 && strings.HasPrefix(topic, prefix) {
			out = append(out, topic)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SubscriberCount returns the number of subscribers of topic.
func (m *Memory) SubscriberCount(_ context.Context, topic string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return int64(len(m.topics[topic])), nil
}

// Ping reports whether the broker is still open.
func (m *Memory) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close drops all state and listeners. Further calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.topics = make(map[string]map[string]struct{})
	m.listeners = make(map[int]listener)
	return nil
}
