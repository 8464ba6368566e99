package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tyrowin/roomchat/internal/session"
)

// Janitor deletes sessions whose room has had no members for longer than a
// grace period. Without it a session lives until its creator shuts the room
// down or the store is wiped.
type Janitor struct {
	registry *Registry
	sessions session.Store
	grace    time.Duration
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	emptySince map[string]time.Time
}

// NewJanitor returns a janitor that evicts sessions after grace of
// emptiness, checking every interval. A non-positive interval defaults to a
// quarter of grace.
func NewJanitor(reg *Registry, sessions session.Store, grace, interval time.Duration, log *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = grace / 4
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Janitor{
		registry:   reg,
		sessions:   sessions,
		grace:      grace,
		interval:   interval,
		log:        log,
		now:        time.Now,
		emptySince: make(map[string]time.Time),
	}
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.log.Warn("janitor.sweep.failed", "err", err)
			}
		}
	}
}

// Sweep runs one eviction pass and returns the rooms whose sessions were
// deleted.
func (j *Janitor) Sweep(ctx context.Context) ([]string, error) {
	all, err := j.sessions.List(ctx)
	if err != nil {
		return nil, err
	}

	now := j.now()
	live := make(map[string]struct{}, len(all))
	var evicted []string
	for _, sess := range all {
		live[sess.Room] = struct{}{}

		n, err := j.registry.MemberCount(ctx, sess.Room)
		if err != nil {
			return evicted, err
		}
		if n > 0 {
			delete(j.emptySince, sess.Room)
			continue
		}

		since, tracked := j.emptySince[sess.Room]
		if !tracked {
			j.emptySince[sess.Room] = now
			continue
		}
		if now.Sub(since) < j.grace {
			continue
		}

		if err := j.sessions.Delete(ctx, sess.Room); err != nil {
			return evicted, err
		}
		delete(j.emptySince, sess.Room)
		evicted = append(evicted, sess.Room)
		j.log.Info("janitor.session.evicted", "room", sess.Room, "empty_for", now.Sub(since))
	}

	for name := range j.emptySince {
		if _, ok := live[name]; !ok {
			delete(j.emptySince, name)
		}
	}
	return evicted, nil
}
