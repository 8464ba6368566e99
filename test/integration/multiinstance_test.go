package integration

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/broker"
	"github.com/Tyrowin/roomchat/internal/room"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/session"
	th "github.com/Tyrowin/roomchat/test/testhelpers"
)

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// redisBackend returns a backend on a fresh in-process Redis. Each call
// builds its own client, as separate server processes would.
func redisBackend(t *testing.T, mr *miniredis.Miniredis) server.Backend {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := broker.NewRedis(rdb)
	t.Cleanup(func() { _ = b.Close() })
	return server.Backend{Broker: b, Sessions: session.NewRedisStore(rdb)}
}

type pair struct {
	name   string
	first  *th.TestServer
	second *th.TestServer
}

func instancePairs(t *testing.T) []pair {
	t.Helper()
	shared := server.MemoryBackend()
	mr := miniredis.RunT(t)
	return []pair{
		{
			name:   "memory",
			first:  th.StartServerOn(t, shared, nil),
			second: th.StartServerOn(t, shared, nil),
		},
		{
			name:   "redis",
			first:  th.StartServerOn(t, redisBackend(t, mr), nil),
			second: th.StartServerOn(t, redisBackend(t, mr), nil),
		},
	}
}

// TestFanOutAcrossInstances verifies that a message reaches every member of
// its room whichever process the member is connected to.
func TestFanOutAcrossInstances(t *testing.T) {
	for _, p := range instancePairs(t) {
		t.Run(p.name, func(t *testing.T) {
			alice := p.first.Join(t, "lobby", th.DialOptions{User: "alice", Secret: "swordfish"})
			bob := p.second.Join(t, "lobby", th.DialOptions{})
			carol := p.second.Join(t, "lobby", th.DialOptions{User: "carol"})

			th.SendChat(t, bob, "hi", "Bob")

			want := th.Frame{Message: "hi", Username: "Bob"}
			assert.Equal(t, want, th.ReadFrame(t, alice))
			assert.Equal(t, want, th.ReadFrame(t, bob))
			assert.Equal(t, want, th.ReadFrame(t, carol))

			n, err := p.first.Registry().MemberCount(context.Background(), "lobby")
			require.NoError(t, err)
			assert.Equal(t, int64(3), n, "membership is shared by both instances")
		})
	}
}

// TestRoomIsolation verifies that traffic never leaks between rooms, on one
// instance or across two.
func TestRoomIsolation(t *testing.T) {
	for _, p := range instancePairs(t) {
		t.Run(p.name, func(t *testing.T) {
			lobby := p.first.Join(t, "lobby", th.DialOptions{User: "alice", Secret: "swordfish"})
			attic := p.second.Join(t, "attic", th.DialOptions{User: "bob", Secret: "trout"})
			atticLocal := p.first.Join(t, "attic", th.DialOptions{})

			th.SendChat(t, lobby, "lobby only", "")
			assert.Equal(t, "lobby only", th.ReadFrame(t, lobby).Message)

			th.SendChat(t, attic, "attic only", "")
			assert.Equal(t, "attic only", th.ReadFrame(t, attic).Message)
			assert.Equal(t, "attic only", th.ReadFrame(t, atticLocal).Message)

			th.ExpectNoFrame(t, lobby, 200*time.Millisecond)
		})
	}
}

// TestShutdownAcrossInstances verifies that the creator's shutdown closes the
// room on every instance and that the room can then be created afresh.
func TestShutdownAcrossInstances(t *testing.T) {
	for _, p := range instancePairs(t) {
		t.Run(p.name, func(t *testing.T) {
			alice := p.first.Join(t, "lobby", th.DialOptions{User: "alice", Secret: "swordfish"})
			bob := p.second.Join(t, "lobby", th.DialOptions{})

			// The session is visible to the other instance.
			conn, _, err := p.second.Dial(t, "lobby", th.DialOptions{User: "mallory", Secret: "guess"})
			require.NoError(t, err)
			th.ExpectClose(t, conn, room.CloseAccessDenied)

			th.SendChat(t, alice, "swordfish", "")
			assert.Equal(t, room.SystemAuthor, th.ReadFrame(t, alice).Username)
			assert.Equal(t, room.SystemAuthor, th.ReadFrame(t, bob).Username)
			th.ExpectClose(t, alice, 1000)
			th.ExpectClose(t, bob, 1000)

			for _, ts := range []*th.TestServer{p.first, p.second} {
				_, ok, err := ts.Sessions().Get(context.Background(), "lobby")
				require.NoError(t, err)
				assert.False(t, ok)
			}

			// A fresh creator on the other instance.
			p.second.Join(t, "lobby", th.DialOptions{User: "bob", Secret: "new-secret"})
			sess, ok, err := p.first.Sessions().Get(context.Background(), "lobby")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "bob", sess.Creator)
		})
	}
}

// TestManyClientsOneRoom checks fan-out to a larger room split over two
// instances.
func TestManyClientsOneRoom(t *testing.T) {
	shared := server.MemoryBackend()
	servers := []*th.TestServer{
		th.StartServerOn(t, shared, nil),
		th.StartServerOn(t, shared, nil),
	}

	creator := servers[0].Join(t, "lobby", th.DialOptions{User: "alice", Secret: "swordfish"})
	members := []*websocket.Conn{creator}
	for i := 0; i < 10; i++ {
		ts := servers[i%len(servers)]
		members = append(members, ts.Join(t, "lobby", th.DialOptions{User: fmt.Sprintf("user-%d", i)}))
	}

	th.SendChat(t, members[5], "roll call", "")
	for i, conn := range members {
		assert.Equal(t, th.Frame{Message: "roll call", Username: "user-4"}, th.ReadFrame(t, conn), "member %d", i)
	}
}
