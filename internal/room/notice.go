package room

import (
	"encoding/json"
	"fmt"
)

// Kind tags the variant carried by a Notice.
type Kind uint8

const (
	// KindMessage is an ordinary chat line.
	KindMessage Kind = iota + 1
	// KindShutdown tells every member that the room was closed by its creator.
	KindShutdown
)

// SystemAuthor is the display name attached to server generated notices.
const SystemAuthor = "System"

// ShutdownText is the body of the notice sent when a room is closed.
const ShutdownText = "This room has been closed by its creator."

// AnonymousAuthor is shown for unauthenticated senders that supply no name.
const AnonymousAuthor = "Anonymous"

// InvalidFormatText is returned to a sender whose frame could not be parsed.
const InvalidFormatText = "Invalid format"

// InternalErrorText is returned to a sender whose message could not be
// processed because a backend was unavailable.
const InternalErrorText = "Internal error"

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MarshalText encodes the kind by name so notices stay readable on the medium.
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindMessage, KindShutdown:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("room: unknown notice kind %d", uint8(k))
	}
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "message":
		*k = KindMessage
	case "shutdown":
		*k = KindShutdown
	default:
		return fmt.Errorf("room: unknown notice kind %q", text)
	}
	return nil
}

// Notice is published to a room topic and delivered to every member on
// every process.
type Notice struct {
	Kind   Kind   `json:"kind"`
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}

// ChatNotice builds a KindMessage notice.
func ChatNotice(author, text string) Notice {
	return Notice{Kind: KindMessage, Author: author, Text: text}
}

// ShutdownNotice builds the KindShutdown notice.
func ShutdownNotice() Notice {
	return Notice{Kind: KindShutdown, Author: SystemAuthor, Text: ShutdownText}
}

// Encode serializes the notice for the broadcast medium.
func (n Notice) Encode() ([]byte, error) {
	return json.Marshal(n)
}

// DecodeNotice parses a notice received from the broadcast medium.
func DecodeNotice(data []byte) (Notice, error) {
	var n Notice
	if err := json.Unmarshal(data, &n); err != nil {
		return Notice{}, fmt.Errorf("decode notice: %w", err)
	}
	if n.Kind == 0 {
		return Notice{}, fmt.Errorf("decode notice: missing kind")
	}
	return n, nil
}

// Frame is the JSON object written to clients for chat and shutdown notices.
type Frame struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// ErrorFrame is the JSON object written to a single client on a bad request.
type ErrorFrame struct {
	Error string `json:"error"`
}

// ClientFrame converts a notice into the frame clients receive.
func (n Notice) ClientFrame() ([]byte, error) {
	switch n.Kind {
	case KindMessage:
		return json.Marshal(Frame{Message: n.Text, Username: n.Author})
	case KindShutdown:
		return json.Marshal(Frame{Message: n.Text, Username: SystemAuthor})
	default:
		return nil, fmt.Errorf("room: cannot render notice of %s", n.Kind)
	}
}

// Inbound is a frame sent by a client.
type Inbound struct {
	Message  string
	Username string
}

// ParseInbound validates a client frame. The "message" field is required and
// must be a string; "username" is optional and ignored when it is not a
// string.
func ParseInbound(data []byte) (Inbound, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	field, ok := raw["message"]
	if !ok || string(field) == "null" {
		return Inbound{}, fmt.Errorf("%w: missing message field", ErrMalformedMessage)
	}
	var in Inbound
	if err := json.Unmarshal(field, &in.Message); err != nil {
		return Inbound{}, fmt.Errorf("%w: message is not a string", ErrMalformedMessage)
	}
	if name, ok := raw["username"]; ok {
		_ = json.Unmarshal(name, &in.Username)
	}
	return in, nil
}
