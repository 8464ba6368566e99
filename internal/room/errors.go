package room

import (
	"errors"

	"github.com/gorilla/websocket"
)

// Application close codes sent when a connection is refused after upgrade.
const (
	CloseAccessDenied = 4003
	CloseRoomNotFound = 4004
)

// Error taxonomy for the room lifecycle.
var (
	// ErrAccessDenied means a secret was presented that does not match the
	// room's session, or was presented by someone other than the creator.
	ErrAccessDenied = errors.New("access denied")
	// ErrRoomNotFound means the room has no session and the caller cannot
	// create one.
	ErrRoomNotFound = errors.New("room not found")
	// ErrMalformedMessage means a client frame could not be parsed.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrRegistryUnavailable means the broadcast medium could not be reached.
	ErrRegistryUnavailable = errors.New("registry unavailable")
)

// CloseCode maps a connect failure onto the close code sent to the client.
func CloseCode(err error) int {
	switch {
	case errors.Is(err, ErrAccessDenied):
		return CloseAccessDenied
	case errors.Is(err, ErrRoomNotFound):
		return CloseRoomNotFound
	default:
		return websocket.CloseInternalServerErr
	}
}
