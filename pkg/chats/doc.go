// Package chats provides the provider-agnostic message model used by chat calls.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/promptlab/pkg/chats/role]: conversation roles (system, user, assistant)
//   - [github.com/germanamz/promptlab/pkg/chats/message]: a role plus its text content
//
// No provider or API code is included; adapters translate these values into
// their own wire shapes.
package chats
