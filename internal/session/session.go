// Package session stores the secret and creator that gate a room's
// lifecycle. A session is created at most once per room, never mutated,
// and removed when the creator shuts the room down.
package session

import (
	"context"
	"time"
)

// Session is the immutable metadata of a secret-gated room.
type Session struct {
	Room      string    `json:"room"`
	Secret    string    `json:"secret"`
	Creator   string    `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
}

// Store maps room names to sessions. Implementations must be safe for
// concurrent use.
type Store interface {
	// CreateIfAbsent stores s unless a session already exists for s.Room.
	// It returns the session now in effect and whether s was the one
	// stored. The check and the set are a single atomic step.
	CreateIfAbsent(ctx context.Context, s Session) (Session, bool, error)
	Get(ctx context.Context, room string) (Session, bool, error)
	Delete(ctx context.Context, room string) error
	List(ctx context.Context) ([]Session, error)
}
