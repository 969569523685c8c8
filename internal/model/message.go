// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "CodeHelper"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// ErrorReply is the content of the assistant message appended when a turn
// fails before or during streaming.
const ErrorReply = "Sorry, I encountered an error. Please try again."

// Message represents a single message in a conversation.
//
// Messages are values. The Store hands out copies, so changing a Message
// obtained from a Snapshot has no effect on the Store.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Model tags assistant messages with the conversation's model at the
	// time the reply started.
	Model string `json:"model,omitempty"`

	// Streaming is true while the message is the append target of an
	// in-flight response. Content may only be replaced while it is set.
	Streaming bool `json:"-"`

	// ErrorText holds a provider failure reported mid-stream.
	ErrorText string `json:"error_text,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an empty assistant message ready to receive
// streamed content.
func NewAssistantMessage(model string) Message {
	msg := NewMessage(RoleAssistant, "")
	msg.Model = model
	msg.Streaming = true
	return msg
}

// NewErrorMessage creates the finalized assistant message shown when a turn
// fails.
func NewErrorMessage(model string) Message {
	msg := NewMessage(RoleAssistant, ErrorReply)
	msg.Model = model
	return msg
}

// IsUser returns true if this is a user message.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// IsAssistant returns true if this is an assistant message.
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// HasError returns true if the provider reported a failure for this message.
func (m Message) HasError() bool {
	return m.ErrorText != ""
}

// Mutable reports whether the message content may still be replaced.
func (m Message) Mutable() bool {
	return m.Role == RoleAssistant && m.Streaming
}
