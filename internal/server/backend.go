package server

import (
	"context"
	"fmt"

	"github.com/Tyrowin/roomchat/internal/broker"
	"github.com/Tyrowin/roomchat/internal/session"
)

// Backend is the shared state a Server runs on.
type Backend struct {
	Broker   broker.Broker
	Sessions session.Store
}

// MemoryBackend keeps everything in process. Only one server instance can
// use it.
func MemoryBackend() Backend {
	return Backend{Broker: broker.NewMemory(), Sessions: session.NewMemoryStore()}
}

// OpenBackend selects Redis when an address is configured and memory
// otherwise. With Redis, sessions live in the same instance as the room
// topics so every server process sees them.
func OpenBackend(ctx context.Context, cfg Config) (Backend, error) {
	if cfg.Redis.Addr == "" {
		return MemoryBackend(), nil
	}

	b, err := broker.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return Backend{}, fmt.Errorf("open redis backend: %w", err)
	}
	return Backend{Broker: b, Sessions: session.NewRedisStore(b.Client())}, nil
}
