// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_WholeChunk(t *testing.T) {
	d := NewDecoder()
	assert.Equal(t, "héllo wörld", d.Decode([]byte("héllo wörld")))
	assert.Equal(t, 0, d.Pending())
	assert.Equal(t, "", d.Flush())
}

func TestDecoder_SplitMultiByte(t *testing.T) {
	input := []byte("a€b🙂c")

	// Every split point, including those inside a multi-byte sequence.
	for i := 0; i <= len(input); i++ {
		d := NewDecoder()
		got := d.Decode(input[:i]) + d.Decode(input[i:]) + d.Flush()
		require.Equal(t, "a€b🙂c", got, "split at %d", i)
	}
}

func TestDecoder_OneByteAtATime(t *testing.T) {
	input := []byte("日本語 テキスト")
	d := NewDecoder()

	var got string
	for _, b := range input {
		got += d.Decode([]byte{b})
	}
	got += d.Flush()
	assert.Equal(t, "日本語 テキスト", got)
}

func TestDecoder_HoldsPartialSequence(t *testing.T) {
	d := NewDecoder()
	euro := []byte("€")

	assert.Equal(t, "x", d.Decode(append([]byte("x"), euro[:2]...)))
	assert.Equal(t, 2, d.Pending())
	assert.Equal(t, "€", d.Decode(euro[2:]))
	assert.Equal(t, 0, d.Pending())
}

func TestDecoder_InvalidBytes(t *testing.T) {
	d := NewDecoder()
	got := d.Decode([]byte{'a', 0xff, 'b'}) + d.Flush()
	assert.Equal(t, "a�b", got)
}

func TestDecoder_FlushTruncatedSequence(t *testing.T) {
	d := NewDecoder()
	euro := []byte("€")

	assert.Equal(t, "", d.Decode(euro[:1]))
	assert.Equal(t, "�", d.Flush())
	assert.Equal(t, 0, d.Pending())
}
