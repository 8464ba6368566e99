package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/broker"
	"github.com/Tyrowin/roomchat/internal/registry"
	"github.com/Tyrowin/roomchat/internal/room"
	"github.com/Tyrowin/roomchat/internal/session"
)

// Router applies the room protocol to a connection: it authorizes the
// connect, joins the registry, turns inbound frames into notices, and
// leaves on disconnect.
type Router struct {
	sessions session.Store
	registry *registry.Registry
	broker   broker.Broker
	metrics  *Metrics
	log      *slog.Logger
}

// NewRouter wires a Router to its collaborators.
func NewRouter(sessions session.Store, reg *registry.Registry, b broker.Broker, metrics *Metrics, log *slog.Logger) *Router {
	return &Router{
		sessions: sessions,
		registry: reg,
		broker:   b,
		metrics:  metrics,
		log:      log,
	}
}

// Authorize decides whether id may enter the named room with secret. It
// reports whether this call created the room's session.
//
// With an existing session, a connect without a secret is accepted, and a
// connect with a secret is accepted only from the creator presenting the
// stored secret. Without a session, an authenticated caller with a secret
// creates one; anyone else gets room.ErrRoomNotFound.
func (rt *Router) Authorize(ctx context.Context, name, secret string, id auth.Identity) (bool, error) {
	sess, ok, err := rt.sessions.Get(ctx, name)
	if err != nil {
		return false, fmt.Errorf("load session %s: %w", name, err)
	}
	if ok {
		return false, admit(sess, secret, id)
	}

	if !id.Authenticated || secret == "" {
		return false, room.ErrRoomNotFound
	}

	winner, created, err := rt.sessions.CreateIfAbsent(ctx, session.Session{
		Room:    name,
		Secret:  secret,
		Creator: id.Name,
	})
	if err != nil {
		return false, fmt.Errorf("create session %s: %w", name, err)
	}
	if created {
		rt.log.Info("room.created", "room", name, "creator", id.Name)
		return true, nil
	}
	// Lost the race to another creator; judge against the winning session.
	return false, admit(winner, secret, id)
}

func admit(sess session.Session, secret string, id auth.Identity) error {
	if secret == "" {
		return nil
	}
	if id.Authenticated && id.Name == sess.Creator && secretEqual(secret, sess.Secret) {
		return nil
	}
	return room.ErrAccessDenied
}

func secretEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Admit authorizes c and joins it to its room. On a registry failure a
// session created by this attempt is removed again so the room does not
// outlive a creator who never got in.
func (rt *Router) Admit(ctx context.Context, c *Client) error {
	if !c.state.advance(stateConnecting, stateAuthorizing) {
		return fmt.Errorf("admit %s: connection is %s", c.id, c.state.load())
	}

	created, err := rt.Authorize(ctx, c.room, c.secret, c.identity)
	if err != nil {
		c.state.close()
		return err
	}

	if err := rt.registry.Join(ctx, c.room, c.id); err != nil {
		rt.metrics.registryError("join")
		if created {
			if derr := rt.sessions.Delete(ctx, c.room); derr != nil {
				rt.log.Error("room.rollback.failed", "room", c.room, "err", derr)
			}
		}
		c.state.close()
		return err
	}

	c.state.advance(stateAuthorizing, stateJoined)
	return nil
}

// HandleInbound processes one frame from a joined client. The returned reply,
// if any, goes to the sender only.
func (rt *Router) HandleInbound(ctx context.Context, c *Client, data []byte) ([]byte, error) {
	if c.state.load() != stateJoined {
		return nil, fmt.Errorf("inbound on %s connection", c.state.load())
	}

	in, err := room.ParseInbound(data)
	if err != nil {
		return errorReply(room.InvalidFormatText), err
	}

	if c.identity.Authenticated {
		sess, ok, err := rt.sessions.Get(ctx, c.room)
		if err != nil {
			return errorReply(room.InternalErrorText), fmt.Errorf("load session %s: %w", c.room, err)
		}
		if ok && sess.Creator == c.identity.Name && secretEqual(in.Message, sess.Secret) {
			return rt.shutdownRoom(ctx, c)
		}
	}

	notice := room.ChatNotice(displayName(c.identity, in.Username), in.Message)
	if err := rt.publish(ctx, c.room, notice); err != nil {
		return errorReply(room.InternalErrorText), err
	}
	return nil, nil
}

// shutdownRoom deletes the session before announcing the shutdown, so no
// member can observe the notice while the session still exists.
func (rt *Router) shutdownRoom(ctx context.Context, c *Client) ([]byte, error) {
	if err := rt.sessions.Delete(ctx, c.room); err != nil {
		return errorReply(room.InternalErrorText), fmt.Errorf("delete session %s: %w", c.room, err)
	}
	rt.log.Info("room.shutdown", "room", c.room, "creator", c.identity.Name)

	if err := rt.publish(ctx, c.room, room.ShutdownNotice()); err != nil {
		return errorReply(room.InternalErrorText), err
	}
	return nil, nil
}

func (rt *Router) publish(ctx context.Context, name string, n room.Notice) error {
	payload, err := n.Encode()
	if err != nil {
		return err
	}
	if err := rt.broker.Publish(ctx, room.Topic(name), payload); err != nil {
		rt.metrics.registryError("publish")
		return fmt.Errorf("publish %s to %s: %w", n.Kind, name, err)
	}
	rt.metrics.published(n.Kind.String())
	return nil
}

// Disconnect leaves the registry if c had joined. It is safe to call more
// than once.
func (rt *Router) Disconnect(ctx context.Context, c *Client) {
	if prev := c.state.close(); prev != stateJoined {
		return
	}
	rt.registry.Leave(ctx, c.room, c.id)
}

// displayName picks the author shown for a message. Authenticated senders
// always appear under their identity.
func displayName(id auth.Identity, claimed string) string {
	if id.Authenticated {
		return id.Name
	}
	if claimed != "" {
		return claimed
	}
	return room.AnonymousAuthor
}

func errorReply(text string) []byte {
	b, err := json.Marshal(room.ErrorFrame{Error: text})
	if err != nil {
		return nil
	}
	return b
}

// rejectOutcome maps a connect error onto its metrics label.
func rejectOutcome(err error) string {
	switch {
	case errors.Is(err, room.ErrAccessDenied):
		return outcomeAccessDenied
	case errors.Is(err, room.ErrRoomNotFound):
		return outcomeRoomNotFound
	default:
		return outcomeInternalError
	}
}
