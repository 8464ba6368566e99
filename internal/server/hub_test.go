package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/broker"
	"github.com/Tyrowin/roomchat/internal/room"
)

func newTestHub() (*Hub, *broker.Memory) {
	b := broker.NewMemory()
	return NewHub(b, NewMetrics(), discardLogger()), b
}

func receiveOutbound(t *testing.T, c *Client) outbound {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a queued frame")
		return outbound{}
	}
}

func expectNoOutbound(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected frame %s", msg.payload)
	default:
	}
}

func decodeFrame(t *testing.T, payload []byte) room.Frame {
	t.Helper()
	var f room.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		t.Fatalf("frame %s: %v", payload, err)
	}
	return f
}

// TestHubDeliversWithinRoom verifies that a notice reaches every local member of
// its room and no one else.
func TestHubDeliversWithinRoom(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("lobby", "", auth.Anonymous())
	b := newTestClient("lobby", "", auth.Anonymous())
	c := newTestClient("attic", "", auth.Anonymous())
	for _, client := range []*Client{a, b, c} {
		h.addClient(client)
	}

	h.handleBroadcast(roomNotice{room: "lobby", notice: room.ChatNotice("Bob", "hi")})

	for _, client := range []*Client{a, b} {
		msg := receiveOutbound(t, client)
		if got := decodeFrame(t, msg.payload); got != (room.Frame{Message: "hi", Username: "Bob"}) {
			t.Errorf("frame = %+v", got)
		}
		if msg.closeCode != 0 {
			t.Errorf("chat frame must not close, got code %d", msg.closeCode)
		}
	}
	expectNoOutbound(t, c)
}

func TestHubShutdownNoticeClosesNormally(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("lobby", "", auth.Anonymous())
	h.addClient(a)

	h.handleBroadcast(roomNotice{room: "lobby", notice: room.ShutdownNotice()})

	msg := receiveOutbound(t, a)
	if msg.closeCode != websocket.CloseNormalClosure {
		t.Errorf("close code = %d, want %d", msg.closeCode, websocket.CloseNormalClosure)
	}
	if got := decodeFrame(t, msg.payload); got.Username != "System" || got.Message != room.ShutdownText {
		t.Errorf("frame = %+v", got)
	}
}

func TestHubIgnoresUnknownKind(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("lobby", "", auth.Anonymous())
	h.addClient(a)

	h.handleBroadcast(roomNotice{room: "lobby", notice: room.Notice{Kind: room.Kind(99), Text: "?"}})
	expectNoOutbound(t, a)
}

func TestHubDropsClientWithFullBuffer(t *testing.T) {
	h, _ := newTestHub()
	slow := newTestClient("lobby", "", auth.Anonymous())
	slow.send = make(chan outbound, 1)
	slow.send <- outbound{payload: []byte("backlog")}
	fast := newTestClient("lobby", "", auth.Anonymous())
	h.addClient(slow)
	h.addClient(fast)

	h.handleBroadcast(roomNotice{room: "lobby", notice: room.ChatNotice("Bob", "hi")})

	receiveOutbound(t, fast)
	if got := h.RoomSize("lobby"); got != 1 {
		t.Errorf("room size = %d, want 1", got)
	}
	<-slow.send
	if _, ok := <-slow.send; ok {
		t.Error("dropped client's send channel must be closed")
	}
}

func TestHubRemoveClientIsIdempotent(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("lobby", "", auth.Anonymous())
	h.addClient(a)

	h.removeClient(a)
	h.removeClient(a)

	if h.ClientCount() != 0 || h.RoomSize("lobby") != 0 {
		t.Errorf("count=%d room=%d after removal", h.ClientCount(), h.RoomSize("lobby"))
	}
	if h.safeSend(a, outbound{payload: []byte("x")}) {
		t.Error("safeSend to a removed client must fail")
	}
}

// TestHubRunDeliversFromBroker drives the full path from a publish on the
// medium through the hub loop.
func TestHubRunDeliversFromBroker(t *testing.T) {
	h, b := newTestHub()
	if err := h.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go h.Run()

	a := newTestClient("lobby", "", auth.Anonymous())
	h.addClient(a)

	payload, err := room.ChatNotice("Bob", "hi").Encode()
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(context.Background(), room.Topic("lobby"), payload); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if got := decodeFrame(t, receiveOutbound(t, a).payload); got.Message != "hi" {
		t.Errorf("frame = %+v", got)
	}

	if err := h.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if _, ok := <-a.send; ok {
		t.Error("shutdown must close client send channels")
	}
	if h.Register(newTestClient("lobby", "", auth.Anonymous())) {
		t.Error("Register must fail after shutdown")
	}
	// Publishing after shutdown must not block.
	if err := b.Publish(context.Background(), room.Topic("lobby"), payload); err != nil {
		t.Fatalf("Publish() after shutdown error = %v", err)
	}
}
