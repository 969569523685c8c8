// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// WIRE CONSTANTS
// =============================================================================

const (
	// DataPrefix is the literal prefix of every recognized frame line.
	DataPrefix = "data: "

	// DoneSentinel is the payload that terminates a response.
	DoneSentinel = "[DONE]"

	// ContentType is the media type of a relay stream response.
	ContentType = "text/event-stream"

	// ProtocolHeader advertises the framing version to clients.
	ProtocolHeader = "X-Vercel-AI-UI-Message-Stream"

	// ProtocolVersion is the value sent in ProtocolHeader.
	ProtocolVersion = "v1"
)

// EventType identifies the kind of a stream event.
type EventType string

const (
	TypeStart     EventType = "start"
	TypeTextStart EventType = "text-start"
	TypeTextDelta EventType = "text-delta"
	TypeTextEnd   EventType = "text-end"
	TypeFinish    EventType = "finish"
	TypeError     EventType = "error"
)

// =============================================================================
// EVENT
// =============================================================================

// Event is one decoded frame payload.
// Fields not meaningful for a given Type are left empty.
type Event struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Delta     string    `json:"delta,omitempty"`
	ErrorText string    `json:"errorText,omitempty"`
}

// IsTextDelta reports whether the event carries a fragment to append.
// A text-delta with an empty fragment is not considered one.
func (e Event) IsTextDelta() bool {
	return e.Type == TypeTextDelta && e.Delta != ""
}

// IsError reports whether the event carries a provider failure.
func (e Event) IsError() bool {
	return e.Type == TypeError
}

// TextDelta builds a text-delta event for part id.
func TextDelta(id, delta string) Event {
	return Event{Type: TypeTextDelta, ID: id, Delta: delta}
}

// ErrorEvent builds an error event.
func ErrorEvent(text string) Event {
	return Event{Type: TypeError, ErrorText: text}
}

// DecodeEvent parses a frame payload (without the "data: " prefix).
func DecodeEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, &DecodeError{Payload: payload, Err: err}
	}
	if ev.Type == "" {
		return Event{}, &DecodeError{Payload: payload, Err: fmt.Errorf("missing event type")}
	}
	return ev, nil
}

// =============================================================================
// ERRORS
// =============================================================================

// DecodeError reports a frame payload that could not be decoded.
// It is recovered locally: the offending line is skipped and parsing continues.
type DecodeError struct {
	Payload string
	Err     error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed stream event %q: %v", preview(e.Payload, 60), e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// preview truncates s to at most n runes for log output.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
