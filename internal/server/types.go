package server

import (
	"strings"
	"sync/atomic"
)

// connState is the position of a connection in its lifecycle. It only moves
// forward: Connecting, Authorizing, Joined, Closed.
type connState int32

const (
	stateConnecting connState = iota
	stateAuthorizing
	stateJoined
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthorizing:
		return "authorizing"
	case stateJoined:
		return "joined"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// lifecycle holds a connState and enforces forward-only transitions.
type lifecycle struct {
	v atomic.Int32
}

func (l *lifecycle) load() connState {
	return connState(l.v.Load())
}

// advance moves from one state to the next. It fails if the current state is
// not from.
func (l *lifecycle) advance(from, to connState) bool {
	if to <= from {
		return false
	}
	return l.v.CompareAndSwap(int32(from), int32(to))
}

// close moves to Closed from any state and reports the state it left. It
// returns stateClosed if the connection was already closed.
func (l *lifecycle) close() connState {
	return connState(l.v.Swap(int32(stateClosed)))
}

// outbound is one frame queued for a client's write pump. closeCode, when
// non-zero, is sent as a close frame right after the payload.
type outbound struct {
	payload   []byte
	closeCode int
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
