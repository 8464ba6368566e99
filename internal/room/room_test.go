package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "simple", input: "lobby"},
		{name: "mixed punctuation", input: "team-a_2.0"},
		{name: "unicode letters", input: "café"},
		{name: "empty", input: "", wantErr: ErrNameEmpty},
		{name: "too long", input: strings.Repeat("a", MaxNameLength+1), wantErr: ErrNameTooLong},
		{name: "slash", input: "a/b", wantErr: ErrNameInvalid},
		{name: "space", input: "a b", wantErr: ErrNameInvalid},
		{name: "glob", input: "room*", wantErr: ErrNameInvalid},
		{name: "dot", input: ".", wantErr: ErrNameInvalid},
		{name: "dot dot", input: "..", wantErr: ErrNameInvalid},
		{name: "invalid utf8", input: "\xff", wantErr: ErrNameInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateName(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestTopicRoundTrip(t *testing.T) {
	topic := Topic("lobby")
	if topic != "room:lobby" {
		t.Fatalf("Topic(lobby) = %q", topic)
	}
	name, ok := NameFromTopic(topic)
	if !ok || name != "lobby" {
		t.Errorf("NameFromTopic(%q) = %q, %v", topic, name, ok)
	}
	if _, ok := NameFromTopic("session:lobby"); ok {
		t.Error("NameFromTopic accepted a foreign key")
	}
	if _, ok := NameFromTopic(TopicPrefix); ok {
		t.Error("NameFromTopic accepted an empty room name")
	}
}

func TestNoticeEncoding(t *testing.T) {
	data, err := ChatNotice("Bob", "hi").Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(data), `"kind":"message"`) {
		t.Errorf("kind not encoded by name: %s", data)
	}

	n, err := DecodeNotice(data)
	if err != nil {
		t.Fatalf("DecodeNotice: %v", err)
	}
	if n.Kind != KindMessage || n.Author != "Bob" || n.Text != "hi" {
		t.Errorf("decoded %+v", n)
	}

	if _, err := DecodeNotice([]byte(`{"kind":"typing","text":"x"}`)); err == nil {
		t.Error("expected unknown kind to fail")
	}
	if _, err := DecodeNotice([]byte(`{"text":"x"}`)); err == nil {
		t.Error("expected missing kind to fail")
	}
	if _, err := Kind(9).MarshalText(); err == nil {
		t.Error("expected unknown kind to fail to marshal")
	}
}

func TestClientFrame(t *testing.T) {
	tests := []struct {
		name   string
		notice Notice
		want   Frame
	}{
		{name: "chat", notice: ChatNotice("Bob", "hi"), want: Frame{Message: "hi", Username: "Bob"}},
		{name: "shutdown", notice: ShutdownNotice(), want: Frame{Message: ShutdownText, Username: "System"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.notice.ClientFrame()
			if err != nil {
				t.Fatalf("ClientFrame: %v", err)
			}
			var got Frame
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	if _, err := (Notice{}).ClientFrame(); err == nil {
		t.Error("expected zero notice to be rejected")
	}
}

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Inbound
		malformed bool
	}{
		{name: "message only", input: `{"message":"hi"}`, want: Inbound{Message: "hi"}},
		{name: "with username", input: `{"message":"hi","username":"Bob"}`, want: Inbound{Message: "hi", Username: "Bob"}},
		{name: "empty message", input: `{"message":""}`, want: Inbound{}},
		{name: "non-string username ignored", input: `{"message":"hi","username":7}`, want: Inbound{Message: "hi"}},
		{name: "not json", input: `hello`, malformed: true},
		{name: "array", input: `["hi"]`, malformed: true},
		{name: "missing message", input: `{"username":"Bob"}`, malformed: true},
		{name: "null message", input: `{"message":null}`, malformed: true},
		{name: "numeric message", input: `{"message":42}`, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInbound([]byte(tt.input))
			if tt.malformed {
				if !errors.Is(err, ErrMalformedMessage) {
					t.Fatalf("expected ErrMalformedMessage, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInbound: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCloseCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: ErrAccessDenied, want: CloseAccessDenied},
		{err: fmt.Errorf("connect lobby: %w", ErrRoomNotFound), want: CloseRoomNotFound},
		{err: ErrRegistryUnavailable, want: websocket.CloseInternalServerErr},
		{err: errors.New("boom"), want: websocket.CloseInternalServerErr},
	}

	for _, tt := range tests {
		if got := CloseCode(tt.err); got != tt.want {
			t.Errorf("CloseCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
