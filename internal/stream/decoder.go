// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// INCREMENTAL DECODER
// =============================================================================

// Decoder turns a sequence of byte chunks into text.
// A multi-byte sequence cut by a chunk boundary is held back until the
// following chunk completes it. Invalid bytes decode to U+FFFD.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	t       transform.Transformer
	pending []byte
}

// NewDecoder creates a UTF-8 stream decoder.
func NewDecoder() *Decoder {
	return &Decoder{t: unicode.UTF8.NewDecoder()}
}

// Decode returns the text decodable so far from chunk plus any bytes carried
// over from the previous call.
func (d *Decoder) Decode(chunk []byte) string {
	src := make([]byte, 0, len(d.pending)+len(chunk))
	src = append(src, d.pending...)
	src = append(src, chunk...)

	out, rest := d.transform(src, false)
	d.pending = rest
	return out
}

// Flush decodes whatever is still carried over, treating it as final.
// An incomplete trailing sequence becomes U+FFFD. The decoder is reset.
func (d *Decoder) Flush() string {
	out, _ := d.transform(d.pending, true)
	d.pending = nil
	d.t.Reset()
	return out
}

// Pending reports how many bytes are held back awaiting completion.
func (d *Decoder) Pending() int {
	return len(d.pending)
}

func (d *Decoder) transform(src []byte, atEOF bool) (string, []byte) {
	if len(src) == 0 {
		return "", nil
	}

	// Every invalid byte may expand to the 3-byte replacement character.
	dst := make([]byte, len(src)*3+4)
	var out []byte
	for {
		nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]

		switch {
		case err == nil:
			return string(out), nil
		case errors.Is(err, transform.ErrShortDst):
			if nSrc == 0 && nDst == 0 {
				dst = make([]byte, len(dst)*2)
			}
		case errors.Is(err, transform.ErrShortSrc):
			rest := make([]byte, len(src))
			copy(rest, src)
			return string(out), rest
		default:
			// The UTF-8 decoder only reports buffer conditions; anything
			// else drops the remainder.
			return string(out), nil
		}
	}
}
