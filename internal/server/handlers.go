package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/room"
)

const healthTimeout = 2 * time.Second

// handleWebSocket admits a connection to the room named in the path.
//
// The connect is decided before the upgrade. A refused connect is still
// upgraded so the client receives the 4003 or 4004 close code; an internal
// failure is answered with HTTP 500 and no upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("room")
	if err := room.ValidateName(name); err != nil {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	if !s.origins.check(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	identity := s.verifier.FromRequest(r)
	client := NewClient(uuid.NewString(), name, r.URL.Query().Get("secret"), identity, r.RemoteAddr, s)

	if err := s.router.Admit(r.Context(), client); err != nil {
		s.metrics.connection(rejectOutcome(err))
		s.reject(w, r, client, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		client.log.Warn("ws.upgrade.failed", "err", err)
		s.router.Disconnect(context.Background(), client)
		return
	}
	client.attach(conn)

	if !s.hub.Register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		s.router.Disconnect(context.Background(), client)
		return
	}
	s.metrics.connection(outcomeAccepted)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, client *Client, err error) {
	if !errors.Is(err, room.ErrAccessDenied) && !errors.Is(err, room.ErrRoomNotFound) {
		client.log.Error("ws.admit.failed", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	client.log.Info("ws.rejected", "identity", client.identity.Name, "reason", err)
	conn, uerr := s.upgrader.Upgrade(w, r, nil)
	if uerr != nil {
		client.log.Warn("ws.upgrade.failed", "err", uerr)
		return
	}
	defer func() { _ = conn.Close() }()

	frame := websocket.FormatCloseMessage(room.CloseCode(err), err.Error())
	if werr := conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait)); werr != nil {
		client.log.Debug("ws.close.write_failed", "err", werr)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Room chat server is running!")
}

type healthResponse struct {
	Status  string `json:"status"`
	Broker  string `json:"broker"`
	Clients int    `json:"clients"`
}

// handleHealthz reports readiness, including whether the broadcast medium answers.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Broker: "ok", Clients: s.hub.ClientCount()}
	status := http.StatusOK
	if err := s.broker.Ping(ctx); err != nil {
		s.log.Warn("health.broker.down", "err", err)
		resp.Status = "degraded"
		resp.Broker = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type roomsResponse struct {
	Rooms []string `json:"rooms"`
}

// handleRooms lists the rooms that have members and a live session.
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names, err := s.registry.ActiveRoomNames(r.Context())
	if err != nil {
		s.metrics.registryError("list")
		s.log.Error("rooms.list.failed", "err", err)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: names})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
