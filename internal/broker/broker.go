// Package broker adapts the shared broadcast medium that server processes
// use to exchange room membership and notices. A topic is a set of
// subscriber identifiers plus a publish channel of the same name.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a broker that has been closed.
var ErrClosed = errors.New("broker: closed")

// Handler receives every payload published on a topic matched by Listen.
type Handler func(topic string, payload []byte)

// Broker is the contract of the broadcast medium.
//
// Subscribe and Unsubscribe are idempotent. Publish delivers payload to every
// Listen handler whose prefix matches topic, on every process sharing the
// medium. Topics and SubscriberCount are introspection helpers for listing
// rooms; they are not on the delivery path.
type Broker interface {
	Subscribe(ctx context.Context, topic, subscriberID string) error
	Unsubscribe(ctx context.Context, topic, subscriberID string) error
	Publish(ctx context.Context, topic string, payload []byte) error

	// Listen starts delivering published payloads whose topic begins with
	// prefix. It returns once the subscription is established; delivery
	// stops when ctx is cancelled.
	Listen(ctx context.Context, prefix string, fn Handler) error

	Topics(ctx context.Context, prefix string) ([]string, error)
	SubscriberCount(ctx context.Context, topic string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
