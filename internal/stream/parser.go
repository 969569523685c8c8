// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"fmt"
	"strings"
)

// MaxLineSize bounds a single frame line. A line growing past it without a
// newline is discarded and reported as a DecodeError.
const MaxLineSize = 1 << 20

// =============================================================================
// PARSER STATE MACHINE
// =============================================================================

type parserState int

const (
	// stateScanning looks for the next line carrying the data prefix.
	stateScanning parserState = iota
	// stateHavePayload holds a stripped payload awaiting classification.
	stateHavePayload
)

// Result is one outcome of feeding text to a Parser.
// Exactly one of Event, Done or Err is meaningful.
type Result struct {
	Event Event
	Done  bool
	Err   error
}

// Parser splits decoded text into frame lines and classifies them.
// Text may be fed in arbitrary pieces; a line cut by a piece boundary is
// carried until its newline arrives. Once the terminal sentinel has been seen
// all further input is ignored.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	state   parserState
	payload string
	partial strings.Builder
	done    bool
}

// NewParser creates a parser in the scanning state.
func NewParser() *Parser {
	return &Parser{}
}

// Done reports whether the terminal sentinel has been parsed.
func (p *Parser) Done() bool {
	return p.done
}

// Feed consumes text and returns the results for every line it completes.
func (p *Parser) Feed(text string) []Result {
	if p.done || text == "" {
		return nil
	}

	var results []Result
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			break
		}
		p.partial.WriteString(text[:i])
		text = text[i+1:]

		line := p.partial.String()
		p.partial.Reset()
		results = p.line(line, results)
		if p.done {
			return results
		}
	}

	if p.partial.Len()+len(text) > MaxLineSize {
		p.partial.Reset()
		return append(results, Result{Err: &DecodeError{
			Payload: text,
			Err:     fmt.Errorf("line exceeds %d bytes", MaxLineSize),
		}})
	}
	p.partial.WriteString(text)
	return results
}

// Close processes a trailing line that never received its newline.
func (p *Parser) Close() []Result {
	if p.done || p.partial.Len() == 0 {
		return nil
	}
	line := p.partial.String()
	p.partial.Reset()
	return p.line(line, nil)
}

// line runs one complete line through the state machine.
func (p *Parser) line(line string, results []Result) []Result {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" {
		return results
	}

	switch p.state {
	case stateScanning:
		payload, ok := strings.CutPrefix(line, DataPrefix)
		if !ok {
			// Comments and keep-alives.
			return results
		}
		p.payload = payload
		p.state = stateHavePayload
		fallthrough

	case stateHavePayload:
		payload := p.payload
		p.payload = ""
		p.state = stateScanning

		if payload == DoneSentinel {
			p.done = true
			return append(results, Result{Done: true})
		}
		ev, err := DecodeEvent(payload)
		if err != nil {
			return append(results, Result{Err: err})
		}
		return append(results, Result{Event: ev})
	}
	return results
}
