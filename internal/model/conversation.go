// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/codehelper/internal/util"
)

const (
	// DefaultTitle is shown until the first user message arrives.
	DefaultTitle = "New chat"

	// MaxTitleRunes bounds the title derived from the first user message.
	MaxTitleRunes = 40
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds one chat session.
//
// A Conversation taken from a Snapshot shares its Messages backing array
// with the Store; treat it as read-only.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages in chronological (insertion) order.
	Messages []Message `json:"messages"`

	// Model is the selected model identifier (see Models).
	Model string `json:"model"`

	// InFlight is true while an assistant response is being received.
	InFlight bool `json:"-"`
}

// NewConversation creates an empty conversation for model.
func NewConversation(model string) Conversation {
	now := time.Now()
	return Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Model:     model,
	}
}

// =============================================================================
// READ ACCESSORS
// =============================================================================

// MessageCount returns the number of messages.
func (c Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if the conversation has no messages.
func (c Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// LastMessage returns the most recent message.
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// LastAssistantMessage returns the most recent assistant message.
func (c Conversation) LastAssistantMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// MessageByID finds a message by its ID.
func (c Conversation) MessageByID(id string) (Message, bool) {
	if i := c.indexOf(id); i >= 0 {
		return c.Messages[i], true
	}
	return Message{}, false
}

func (c Conversation) indexOf(messageID string) int {
	return slices.IndexFunc(c.Messages, func(m Message) bool {
		return m.ID == messageID
	})
}

// =============================================================================
// COPY-ON-WRITE HELPERS
// =============================================================================

// withMessage returns a copy of c with msg appended. The receiver's slice is
// never written to.
func (c Conversation) withMessage(msg Message) Conversation {
	c.Messages = append(slices.Clip(c.Messages), msg)
	c.UpdatedAt = msg.Timestamp
	if c.Title == DefaultTitle && msg.Role == RoleUser {
		if title := util.TruncateRunes(util.FirstLine(msg.Content), MaxTitleRunes); title != "" {
			c.Title = title
		}
	}
	return c
}

// withReplaced returns a copy of c whose message at index i is msg.
func (c Conversation) withReplaced(i int, msg Message) Conversation {
	c.Messages = slices.Clone(c.Messages)
	c.Messages[i] = msg
	c.UpdatedAt = time.Now()
	return c
}
