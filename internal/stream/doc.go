// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements the line-framed event stream spoken between the
// relay and its clients.
//
// Every frame is a single line of the form "data: <payload>" followed by a
// blank line. The payload is either the terminal sentinel "[DONE]" or a JSON
// event object carrying at least a "type" field. Clients only act on
// "text-delta" events (and surface "error" events); every other type is
// ignored.
//
// # Key Types
//
//   - Event: one decoded frame payload
//   - Decoder: incremental UTF-8 decoding across arbitrary byte chunks
//   - Parser: two-state line parser that reassembles frames split across chunks
//   - Writer: frame encoder with per-frame flushing, used by the relay
//
// # Usage
//
//	dec := stream.NewDecoder()
//	p := stream.NewParser()
//	for {
//	    n, err := body.Read(buf)
//	    for _, r := range p.Feed(dec.Decode(buf[:n])) {
//	        // handle r.Event or r.Err
//	    }
//	    if err != nil {
//	        break
//	    }
//	}
package stream
