package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces session keys in Redis.
const KeyPrefix = "session:"

// createAttempts bounds the SETNX/GET loop when a competing session is
// deleted between the two commands.
const createAttempts = 3

// RedisStore shares sessions between every process attached to the same
// Redis, so the creator check holds across instances.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store using rdb. The caller keeps ownership of the
// client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func key(room string) string { return KeyPrefix + room }

// CreateIfAbsent implements Store using SET NX.
func (s *RedisStore) CreateIfAbsent(ctx context.Context, sess Session) (Session, bool, error) {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return Session{}, false, fmt.Errorf("encode session %s: %w", sess.Room, err)
	}

	for i := 0; i < createAttempts; i++ {
		ok, err := s.rdb.SetNX(ctx, key(sess.Room), data, 0).Result()
		if err != nil {
			return Session{}, false, fmt.Errorf("redis setnx %s: %w", key(sess.Room), err)
		}
		if ok {
			return sess, true, nil
		}

		existing, found, err := s.Get(ctx, sess.Room)
		if err != nil {
			return Session{}, false, err
		}
		if found {
			return existing, false, nil
		}
	}
	return Session{}, false, fmt.Errorf("create session %s: key changed concurrently", sess.Room)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, room string) (Session, bool, error) {
	data, err := s.rdb.Get(ctx, key(room)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("redis get %s: %w", key(room), err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, false, fmt.Errorf("decode session %s: %w", room, err)
	}
	return sess, true, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, room string) error {
	if err := s.rdb.Del(ctx, key(room)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key(room), err)
	}
	return nil
}

// List implements Store by scanning the session keyspace.
func (s *RedisStore) List(ctx context.Context) ([]Session, error) {
	rooms := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s*: %w", KeyPrefix, err)
		}
		for _, k := range keys {
			rooms[k[len(KeyPrefix):]] = struct{}{}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	out := make([]Session, 0, len(rooms))
	for room := range rooms {
		sess, ok, err := s.Get(ctx, room)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out, nil
}
