package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/room"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	routeTimeout = 5 * time.Second
	sendBuffer   = 256
)

// Client is one WebSocket connection in one room. The hub owns its send
// channel; the read pump routes inbound frames and the write pump drains
// the send channel to the socket.
type Client struct {
	id       string
	room     string
	secret   string
	identity auth.Identity
	addr     string

	conn   *websocket.Conn
	send   chan outbound
	hub    *Hub
	router *Router
	log    *slog.Logger

	state lifecycle
	// closed is guarded by the hub mutex.
	closed bool

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a client for a connect attempt. The socket is attached
// after the attempt is admitted.
func NewClient(id, name, secret string, identity auth.Identity, addr string, s *Server) *Client {
	return &Client{
		id:             id,
		room:           name,
		secret:         secret,
		identity:       identity,
		addr:           addr,
		send:           make(chan outbound, sendBuffer),
		hub:            s.hub,
		router:         s.router,
		log:            s.log.With("conn", id, "room", name),
		maxMessageSize: s.cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(s.cfg.RateLimit.Burst, s.cfg.RateLimit.RefillInterval),
		rateLimit:      s.cfg.RateLimit,
	}
}

// ID returns the connection id used as the registry subscriber id.
func (c *Client) ID() string { return c.id }

// Room returns the room the client joined.
func (c *Client) Room() string { return c.room }

func (c *Client) attach(conn *websocket.Conn) {
	conn.SetReadLimit(c.maxMessageSize)
	c.conn = conn
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug("ws.read.deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Debug("ws.read.deadline", "err", err)
		}
		return nil
	})
}

// handleReadError logs the reason the read loop ends.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("ws.read.too_large", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("ws.disconnect", "err", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("ws.closed", "err", err)
	default:
		c.log.Warn("ws.read.failed", "err", err)
	}
}

// checkRateLimit reports whether the next message may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("ws.rate_limited", "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

func (c *Client) processMessage(raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), routeTimeout)
	defer cancel()

	reply, err := c.router.HandleInbound(ctx, c, raw)
	if err != nil {
		if errors.Is(err, room.ErrMalformedMessage) {
			c.log.Debug("ws.message.malformed", "err", err)
		} else {
			c.log.Error("ws.message.failed", "err", err)
		}
	}
	if reply != nil {
		c.hub.sendTo(c, outbound{payload: reply})
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.closeConnection()

		ctx, cancel := context.WithTimeout(context.Background(), routeTimeout)
		defer cancel()
		c.router.Disconnect(ctx, c)
		c.log.Info("ws.left")
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case msg, ok := <-c.send:
		return c.handleMessage(msg, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("ws.close.failed", "err", err)
	}
}

// handleMessage writes one queued frame and returns false if the connection should be closed.
// Every notice is its own WebSocket message.
func (c *Client) handleMessage(msg outbound, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("ws.write.deadline", "err", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage(websocket.CloseNormalClosure, "")
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, msg.payload); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("ws.write.failed", "err", err)
		}
		return false
	}

	if msg.closeCode != 0 {
		return c.writeCloseMessage(msg.closeCode, "room closed")
	}
	return true
}

// writeCloseMessage sends a close frame; the pump stops afterwards.
func (c *Client) writeCloseMessage(code int, reason string) bool {
	frame := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteMessage(websocket.CloseMessage, frame); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("ws.close.write_failed", "err", err)
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("ws.write.deadline", "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("ws.ping.failed", "err", err)
		return false
	}
	return true
}
