// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

type flusher interface {
	Flush()
}

// =============================================================================
// FRAME WRITER
// =============================================================================

// Writer encodes events as frames and flushes after each one so the client
// sees every fragment as soon as it is produced.
type Writer struct {
	w      io.Writer
	f      flusher
	partID string
	frames int
}

// NewWriter wraps w. If w also implements Flush (http.ResponseWriter does),
// each frame is flushed immediately.
func NewWriter(w io.Writer, partID string) *Writer {
	sw := &Writer{w: w, partID: partID}
	if f, ok := w.(flusher); ok {
		sw.f = f
	}
	return sw
}

// Frames returns the number of frames written.
func (w *Writer) Frames() int {
	return w.frames
}

// WriteEvent writes one JSON event frame.
func (w *Writer) WriteEvent(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode stream event: %w", err)
	}
	return w.frame(string(data))
}

// WriteDone writes the terminal sentinel frame.
func (w *Writer) WriteDone() error {
	return w.frame(DoneSentinel)
}

// Start opens a response with a start and a text-start frame.
func (w *Writer) Start(messageID string) error {
	if err := w.WriteEvent(Event{Type: TypeStart, MessageID: messageID}); err != nil {
		return err
	}
	return w.WriteEvent(Event{Type: TypeTextStart, ID: w.partID})
}

// Delta writes one text fragment. Empty fragments are skipped.
func (w *Writer) Delta(text string) error {
	if text == "" {
		return nil
	}
	return w.WriteEvent(TextDelta(w.partID, text))
}

// Finish closes a successful response.
func (w *Writer) Finish() error {
	if err := w.WriteEvent(Event{Type: TypeTextEnd, ID: w.partID}); err != nil {
		return err
	}
	if err := w.WriteEvent(Event{Type: TypeFinish}); err != nil {
		return err
	}
	return w.WriteDone()
}

// Fail reports a provider failure in-band and terminates the response.
func (w *Writer) Fail(text string) error {
	if err := w.WriteEvent(ErrorEvent(text)); err != nil {
		return err
	}
	return w.WriteDone()
}

func (w *Writer) frame(payload string) error {
	if _, err := fmt.Fprintf(w.w, "%s%s\n\n", DataPrefix, payload); err != nil {
		return err
	}
	w.frames++
	if w.f != nil {
		w.f.Flush()
	}
	return nil
}
