// Package registry records which connections belong to which room on the
// shared broadcast medium and answers which rooms are legitimately active.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Tyrowin/roomchat/internal/broker"
	"github.com/Tyrowin/roomchat/internal/room"
	"github.com/Tyrowin/roomchat/internal/session"
)

const (
	defaultJoinAttempts = 3
	defaultJoinBackoff  = 50 * time.Millisecond
)

// Registry mirrors live connections into room topics.
type Registry struct {
	broker   broker.Broker
	sessions session.Store
	log      *slog.Logger

	joinAttempts int
	joinBackoff  time.Duration
}

// Option customizes a Registry.
type Option func(*Registry)

// WithJoinRetry sets how many times Join tries the broker and the pause
// between attempts.
func WithJoinRetry(attempts int, backoff time.Duration) Option {
	return func(r *Registry) {
		if attempts > 0 {
			r.joinAttempts = attempts
		}
		if backoff >= 0 {
			r.joinBackoff = backoff
		}
	}
}

// New returns a Registry over b. sessions is consulted by ActiveRoomNames.
func New(b broker.Broker, sessions session.Store, log *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		broker:       b,
		sessions:     sessions,
		log:          log,
		joinAttempts: defaultJoinAttempts,
		joinBackoff:  defaultJoinBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join subscribes connID to the room topic. Transient broker failures are
// retried; if every attempt fails the error wraps room.ErrRegistryUnavailable.
func (r *Registry) Join(ctx context.Context, name, connID string) error {
	topic := room.Topic(name)
	var err error
	for attempt := 1; attempt <= r.joinAttempts; attempt++ {
		if err = r.broker.Subscribe(ctx, topic, connID); err == nil {
			return nil
		}
		r.log.Warn("registry.join.retry", "room", name, "conn", connID, "attempt", attempt, "err", err)
		if attempt == r.joinAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("join %s: %w: %v", name, room.ErrRegistryUnavailable, ctx.Err())
		case <-time.After(r.joinBackoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("join %s: %w: %v", name, room.ErrRegistryUnavailable, err)
}

// Leave unsubscribes connID from the room topic. A failure is logged and
// swallowed: the leaked entry has no live socket behind it.
func (r *Registry) Leave(ctx context.Context, name, connID string) {
	if err := r.broker.Unsubscribe(ctx, room.Topic(name), connID); err != nil {
		r.log.Warn("registry.leave.failed", "room", name, "conn", connID, "err", err)
	}
}

// ActiveRoomNames returns rooms with at least one member and a live session,
// sorted by name. Topics without a governing session are skipped.
func (r *Registry) ActiveRoomNames(ctx context.Context) ([]string, error) {
	topics, err := r.broker.Topics(ctx, room.TopicPrefix)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	names := make([]string, 0, len(topics))
	for _, topic := range topics {
		name, ok := room.NameFromTopic(topic)
		if !ok {
			continue
		}
		n, err := r.broker.SubscriberCount(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", topic, err)
		}
		if n == 0 {
			continue
		}
		_, ok, err = r.sessions.Get(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", name, err)
		}
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// MemberCount returns how many connections are subscribed to a room across
// all processes.
func (r *Registry) MemberCount(ctx context.Context, name string) (int64, error) {
	return r.broker.SubscriberCount(ctx, room.Topic(name))
}
