package broker

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 100

// Redis is a Broker backed by a Redis server shared by all processes.
// Membership lives in a set keyed by the topic and notices travel over a
// pub/sub channel with the same name.
type Redis struct {
	rdb *redis.Client
}

var _ Broker = (*Redis)(nil)

// NewRedis wraps an existing client. The broker owns the client from here on
// and closes it in Close.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// DialRedis connects to addr and verifies connectivity.
func DialRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedis(rdb), nil
}

// Client exposes the underlying client so other Redis backed stores can
// share the connection pool.
func (r *Redis) Client() *redis.Client { return r.rdb }

// Subscribe adds subscriberID to the topic set.
func (r *Redis) Subscribe(ctx context.Context, topic, subscriberID string) error {
	if err := r.rdb.SAdd(ctx, topic, subscriberID).Err(); err != nil {
		return fmt.Errorf("redis sadd %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes subscriberID from the topic set. Redis drops the key
// once the set is empty.
func (r *Redis) Unsubscribe(ctx context.Context, topic, subscriberID string) error {
	if err := r.rdb.SRem(ctx, topic, subscriberID).Err(); err != nil {
		return fmt.Errorf("redis srem %s: %w", topic, err)
	}
	return nil
}

// Publish sends payload on the topic channel.
func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Listen pattern-subscribes to prefix* and dispatches messages to fn from a
// single goroutine, so delivery order per topic is the order Redis emits.
func (r *Redis) Listen(ctx context.Context, prefix string, fn Handler) error {
	pubsub := r.rdb.PSubscribe(ctx, prefix+"*")
	// Wait for the subscription confirmation so nothing published after
	// Listen returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis psubscribe %s*: %w", prefix, err)
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fn(msg.Channel, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

// Topics scans for topic sets starting with prefix.
func (r *Redis) Topics(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s*: %w", prefix, err)
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// SubscriberCount returns the cardinality of the topic set.
func (r *Redis) SubscriberCount(ctx context.Context, topic string) (int64, error) {
	n, err := r.rdb.SCard(ctx, topic).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scard %s: %w", topic, err)
	}
	return n, nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the client connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
