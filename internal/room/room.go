// Package room defines the vocabulary shared by every layer of the relay:
// room names and their broadcast topics, the notices exchanged between
// processes, the frames written to clients, and the error taxonomy that
// maps failures onto WebSocket close codes.
package room

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TopicPrefix namespaces every room topic on the broadcast medium.
const TopicPrefix = "room:"

// MaxNameLength bounds room names in bytes.
const MaxNameLength = 100

// Room name validation errors.
var (
	ErrNameEmpty   = errors.New("room name cannot be empty")
	ErrNameTooLong = errors.New("room name exceeds maximum length")
	ErrNameInvalid = errors.New("room name contains invalid characters")
)

// ValidateName reports whether name can be used as a room name. Names are
// taken from a URL path segment and reused as medium keys, so only letters,
// digits, '_', '-' and '.' are accepted and the dot-only names are refused.
func ValidateName(name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	if !utf8.ValidString(name) || name == "." || name == ".." {
		return ErrNameInvalid
	}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case '_', '-', '.':
			continue
		}
		return ErrNameInvalid
	}
	return nil
}

// Topic returns the broadcast medium key for a room.
func Topic(name string) string {
	return TopicPrefix + name
}

// NameFromTopic is the inverse of Topic. The second result is false when
// topic does not belong to a room.
func NameFromTopic(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, TopicPrefix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
