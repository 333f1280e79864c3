// Package message defines a single chat turn.
package message

import (
	"strings"

	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/germanamz/promptlab/pkg/chats/role"
)

// Message is one turn in a conversation.
type Message struct {
	Role    role.Role `json:"role"`
	Content string    `json:"content"`
}

// New creates a Message.
func New(r role.Role, text string) Message {
	return Message{Role: r, Content: text}
}

// System creates a system message.
func System(text string) Message { return New(role.System, text) }

// User creates a user message.
func User(text string) Message { return New(role.User, text) }

// Assistant creates an assistant message.
func Assistant(text string) Message { return New(role.Assistant, text) }

// Validate checks that msgs is a usable conversation: at least one message,
// known roles and no blank content.
func Validate(msgs []Message) error {
	if len(msgs) == 0 {
		return apperr.Validation("messages", "must not be empty")
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return apperr.Validation("messages", "message %d has unknown role %q", i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return apperr.Validation("messages", "message %d has empty content", i)
		}
	}
	return nil
}

// HasSystem reports whether msgs already contains a system message.
func HasSystem(msgs []Message) bool {
	for _, m := range msgs {
		if m.Role == role.System {
			return true
		}
	}
	return false
}

// SplitSystem separates system messages from the rest, joining their content
// with blank lines. Backends with a dedicated system field use it.
func SplitSystem(msgs []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == role.System {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// TotalLength returns the combined rune count of every message.
func TotalLength(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += len([]rune(m.Content))
	}
	return n
}
