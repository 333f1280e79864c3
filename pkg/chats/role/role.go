// Package role defines the sender roles used in LLM conversations.
package role

import (
	"strings"

	"github.com/germanamz/promptlab/pkg/apperr"
)

// Role represents the sender of a message in a conversation.
type Role string

const (
	System    Role = "system"
	User      Role = "user"
	Assistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case System, User, Assistant:
		return true
	}
	return false
}

// Parse converts a case-insensitive name into a Role.
func Parse(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", apperr.Validation("role", "unknown role %q", s)
	}
	return r, nil
}

// String returns the underlying string value of the role.
func (r Role) String() string {
	return string(r)
}
