package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/broker"
	"github.com/Tyrowin/roomchat/internal/room"
)

// roomNotice is a notice received from the broadcast medium for one room.
type roomNotice struct {
	room   string
	notice room.Notice
}

// Hub owns the clients connected to this process, grouped by room, and
// delivers notices arriving from the broadcast medium to them. Notices
// published by any process, this one included, reach clients only through
// the medium.
type Hub struct {
	rooms      map[string]map[*Client]struct{}
	count      int
	broadcast  chan roomNotice
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	running    atomic.Bool

	broker  broker.Broker
	metrics *Metrics
	log     *slog.Logger
}

// NewHub creates a hub that will listen on b.
func NewHub(b broker.Broker, metrics *Metrics, log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		broadcast:  make(chan roomNotice),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		broker:     b,
		metrics:    metrics,
		log:        log,
	}
}

// Listen subscribes the hub to every room topic on the broadcast medium.
// It returns once the subscription is live.
func (h *Hub) Listen() error {
	return h.broker.Listen(h.ctx, room.TopicPrefix, h.onPublish)
}

func (h *Hub) onPublish(topic string, payload []byte) {
	name, ok := room.NameFromTopic(topic)
	if !ok {
		return
	}
	n, err := room.DecodeNotice(payload)
	if err != nil {
		h.log.Warn("hub.notice.invalid", "topic", topic, "err", err)
		return
	}
	select {
	case h.broadcast <- roomNotice{room: name, notice: n}:
	case <-h.ctx.Done():
	}
}

// Register hands an admitted, upgraded client to the hub, which starts its
// pumps. It reports false if the hub has shut down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// RoomSize returns how many clients of this process are in the named room.
func (h *Hub) RoomSize(name string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[name])
}

// ClientCount returns how many clients this process serves.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

func (h *Hub) safeSend(client *Client, msg outbound) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("hub.send.panic", "conn", client.id, "panic", r)
		}
	}()

	// Hold the lock during the send so the channel cannot be closed under us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.rooms[client.room][client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// sendTo queues msg for one client, dropping the client if its buffer is full.
func (h *Hub) sendTo(client *Client, msg outbound) {
	if !h.safeSend(client, msg) {
		h.removeFailedClients([]*Client{client})
	}
}

// Run starts the hub's main event loop, handling client registration, unregistration,
// and notice delivery. It returns after Shutdown.
func (h *Hub) Run() {
	h.running.Store(true)
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				continue
			}
			h.addClient(client)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.removeClient(client)

		case rn := <-h.broadcast:
			h.handleBroadcast(rn)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	members, ok := h.rooms[client.room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[client.room] = members
	}
	client.closed = false
	members[client] = struct{}{}
	h.count++
	roomSize, total := len(members), h.count
	h.mutex.Unlock()

	h.metrics.live.Inc()
	client.log.Info("ws.joined", "identity", client.identity.Name, "room_size", roomSize, "clients", total)
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if !h.detach(client) {
		h.mutex.Unlock()
		return
	}
	total := h.count
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.metrics.live.Dec()
	client.log.Debug("hub.unregistered", "clients", total)
}

// detach removes client from its room. The caller holds the write lock.
func (h *Hub) detach(client *Client) bool {
	members := h.rooms[client.room]
	if _, ok := members[client]; !ok {
		return false
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, client.room)
	}
	client.closed = true
	h.count--
	return true
}

// handleBroadcast renders a notice and queues it for every local member of its room.
func (h *Hub) handleBroadcast(rn roomNotice) {
	frame, err := rn.notice.ClientFrame()
	if err != nil {
		h.log.Error("hub.notice.render", "room", rn.room, "err", err)
		return
	}

	var msg outbound
	switch rn.notice.Kind {
	case room.KindMessage:
		msg = outbound{payload: frame}
	case room.KindShutdown:
		msg = outbound{payload: frame, closeCode: websocket.CloseNormalClosure}
	default:
		h.log.Error("hub.notice.unknown", "room", rn.room, "kind", rn.notice.Kind)
		return
	}

	clients := h.roomSnapshot(rn.room)
	h.log.Debug("hub.deliver", "room", rn.room, "kind", rn.notice.Kind.String(), "targets", len(clients))

	var failed []*Client
	for _, client := range clients {
		if !h.safeSend(client, msg) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

// roomSnapshot returns a thread-safe snapshot of the clients in a room.
func (h *Hub) roomSnapshot(name string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	members := h.rooms[name]
	clients := make([]*Client, 0, len(members))
	for client := range members {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan outbound
	for _, client := range clientsToRemove {
		if h.detach(client) {
			channelsToClose = append(channelsToClose, client.send)
			client.log.Warn("hub.client.dropped", "reason", "send buffer full")
		}
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
		h.metrics.live.Dec()
	}
}

// shutdownClients tells every client the server is going away and closes its socket.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	var clients []*Client
	for _, members := range h.rooms {
		for client := range members {
			clients = append(clients, client)
		}
	}
	for _, client := range clients {
		h.detach(client)
	}
	h.mutex.Unlock()

	deadline := time.Now().Add(writeWait)
	frame := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, client := range clients {
		// The going-away frame must precede the pump's own close frame.
		if client.conn != nil {
			if err := client.conn.WriteControl(websocket.CloseMessage, frame, deadline); err != nil && !isExpectedCloseError(err) {
				client.log.Debug("ws.close.write_failed", "err", err)
			}
		}
		close(client.send)
		h.metrics.live.Dec()
		client.closeConnection()
	}

	h.log.Info("hub.clients.closed", "count", len(clients))
}

// Shutdown stops the hub and waits for all client goroutines to complete,
// or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("hub.shutdown.start")

	h.cancel()
	if !h.running.Load() {
		return nil
	}
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub.shutdown.complete")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub.shutdown.timeout", "timeout", timeout)
		return context.DeadlineExceeded
	}
}
