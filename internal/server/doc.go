// Package server implements the WebSocket relay of room-scoped chat.
//
// A Router authorizes each connection against its room's session and joins
// it to the room registry. A Hub fans notices received from the broadcast
// medium out to the clients of this process. The remaining files hold HTTP
// handlers, configuration, logging and metrics.
package server
