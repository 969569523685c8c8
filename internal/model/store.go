// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrConversationNotFound is returned for an unknown conversation ID.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound is returned for an unknown message ID.
	ErrMessageNotFound = errors.New("message not found")

	// ErrImmutableMessage is returned when replacing the content of a user
	// message or of a finalized assistant message.
	ErrImmutableMessage = errors.New("message is immutable")

	// ErrTurnInFlight is returned when a conversation already has an
	// assistant response in flight.
	ErrTurnInFlight = errors.New("a response is already in progress for this conversation")

	// ErrInvalidRole is returned for messages whose role is not user or assistant.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrUnknownModel is returned for a model ID missing from the catalogue.
	ErrUnknownModel = errors.New("unknown model")
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is an immutable view of the store. Nothing reachable from a
// published Snapshot is modified afterwards.
type Snapshot struct {
	// Conversations, newest first.
	Conversations []Conversation

	// ActiveID is the ID of the selected conversation.
	ActiveID string

	// Version increases by one with every mutation.
	Version uint64
}

// Active returns the selected conversation.
func (s Snapshot) Active() Conversation {
	if c, ok := s.Conversation(s.ActiveID); ok {
		return c
	}
	return Conversation{}
}

// Conversation looks up a conversation by ID.
func (s Snapshot) Conversation(id string) (Conversation, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.Conversations[i], true
	}
	return Conversation{}, false
}

func (s Snapshot) indexOf(id string) int {
	return slices.IndexFunc(s.Conversations, func(c Conversation) bool {
		return c.ID == id
	})
}

// =============================================================================
// STORE
// =============================================================================

// Listener receives every snapshot the store publishes, in order.
type Listener func(Snapshot)

// Store is the conversation state container.
//
// Mutations are serialized and each one publishes a new Snapshot. Snapshot
// reads are lock-free. Listeners run synchronously on the mutating goroutine
// while the store is locked, so a listener must not call any mutating
// method; hand the snapshot off (for example to a UI event loop) instead.
type Store struct {
	mu        sync.Mutex
	current   atomic.Pointer[Snapshot]
	listeners []subscription
	nextSub   int
}

type subscription struct {
	id int
	fn Listener
}

// NewStore creates a store holding one empty conversation, selected as
// active.
func NewStore() *Store {
	conv := NewConversation(DefaultModel)
	s := &Store{}
	s.current.Store(&Snapshot{
		Conversations: []Conversation{conv},
		ActiveID:      conv.ID,
	})
	return s
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	return *s.current.Load()
}

// Active returns the selected conversation.
func (s *Store) Active() Conversation {
	return s.Snapshot().Active()
}

// Conversation looks up a conversation by ID.
func (s *Store) Conversation(id string) (Conversation, bool) {
	return s.Snapshot().Conversation(id)
}

// Subscribe registers fn for every future snapshot and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	id := s.nextSub
	s.listeners = append(slices.Clip(s.listeners), subscription{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners = slices.DeleteFunc(slices.Clone(s.listeners), func(sub subscription) bool {
			return sub.id == id
		})
	}
}

// =============================================================================
// CONVERSATION MUTATIONS
// =============================================================================

// NewConversation prepends an empty conversation and selects it.
func (s *Store) NewConversation() Conversation {
	conv := NewConversation(DefaultModel)
	_ = s.mutate(func(snap *Snapshot) error {
		snap.Conversations = append([]Conversation{conv}, snap.Conversations...)
		snap.ActiveID = conv.ID
		return nil
	})
	return conv
}

// Select makes the conversation with id active.
func (s *Store) Select(id string) error {
	return s.mutate(func(snap *Snapshot) error {
		if snap.indexOf(id) < 0 {
			return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
		}
		snap.ActiveID = id
		return nil
	})
}

// SetModel changes the model of a conversation. Messages already sent keep
// their original tag.
func (s *Store) SetModel(conversationID, model string) error {
	if err := ValidateModel(model); err != nil {
		return err
	}
	info, _ := GetModelInfo(model)
	return s.update(conversationID, func(c Conversation) (Conversation, error) {
		c.Model = info.ID
		return c, nil
	})
}

// BeginTurn marks a conversation as having a response in flight.
// It fails with ErrTurnInFlight if one is already running.
func (s *Store) BeginTurn(conversationID string) error {
	return s.update(conversationID, func(c Conversation) (Conversation, error) {
		if c.InFlight {
			return c, ErrTurnInFlight
		}
		c.InFlight = true
		return c, nil
	})
}

// EndTurn clears the in-flight flag. It is safe to call when no turn is
// running.
func (s *Store) EndTurn(conversationID string) {
	_ = s.update(conversationID, func(c Conversation) (Conversation, error) {
		c.InFlight = false
		return c, nil
	})
}

// =============================================================================
// MESSAGE MUTATIONS
// =============================================================================

// AppendMessage appends msg to a conversation and returns it as stored.
// A missing ID or timestamp is filled in.
func (s *Store) AppendMessage(conversationID string, msg Message) (Message, error) {
	if !msg.Role.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Role == RoleUser {
		msg.Streaming = false
	}

	err := s.update(conversationID, func(c Conversation) (Conversation, error) {
		return c.withMessage(msg), nil
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// UpdateContent replaces the content of a streaming assistant message.
func (s *Store) UpdateContent(conversationID, messageID, content string) error {
	return s.updateMessage(conversationID, messageID, func(m Message) (Message, error) {
		if !m.Mutable() {
			return m, fmt.Errorf("%w: %s", ErrImmutableMessage, messageID)
		}
		m.Content = content
		return m, nil
	})
}

// MarkStreamError records a provider failure on a streaming assistant
// message. The content is left as is.
func (s *Store) MarkStreamError(conversationID, messageID, text string) error {
	return s.updateMessage(conversationID, messageID, func(m Message) (Message, error) {
		if !m.Mutable() {
			return m, fmt.Errorf("%w: %s", ErrImmutableMessage, messageID)
		}
		m.ErrorText = text
		return m, nil
	})
}

// Finalize ends streaming for an assistant message, making its content
// immutable. Finalizing an already final message is a no-op.
func (s *Store) Finalize(conversationID, messageID string) error {
	return s.updateMessage(conversationID, messageID, func(m Message) (Message, error) {
		m.Streaming = false
		return m, nil
	})
}

// =============================================================================
// INTERNALS
// =============================================================================

// mutate applies fn to a shallow copy of the current snapshot, publishes the
// result and notifies listeners. If fn fails nothing is published.
func (s *Store) mutate(fn func(*Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.current.Load()
	next.Conversations = slices.Clone(next.Conversations)
	if err := fn(&next); err != nil {
		return err
	}
	next.Version++
	s.current.Store(&next)

	for _, sub := range s.listeners {
		sub.fn(next)
	}
	return nil
}

// update rewrites one conversation.
func (s *Store) update(id string, fn func(Conversation) (Conversation, error)) error {
	return s.mutate(func(snap *Snapshot) error {
		i := snap.indexOf(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
		}
		c, err := fn(snap.Conversations[i])
		if err != nil {
			return err
		}
		snap.Conversations[i] = c
		return nil
	})
}

// updateMessage rewrites one message of one conversation.
func (s *Store) updateMessage(conversationID, messageID string, fn func(Message) (Message, error)) error {
	return s.update(conversationID, func(c Conversation) (Conversation, error) {
		i := c.indexOf(messageID)
		if i < 0 {
			return c, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		}
		m, err := fn(c.Messages[i])
		if err != nil {
			return c, err
		}
		return c.withReplaced(i, m), nil
	})
}
