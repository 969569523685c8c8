// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_SuccessfulResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec, "0")

	require.NoError(t, w.Start("msg-1"))
	require.NoError(t, w.Delta("Hel"))
	require.NoError(t, w.Delta(""))
	require.NoError(t, w.Delta("lo"))
	require.NoError(t, w.Finish())

	assert.True(t, rec.Flushed)
	assert.Equal(t, 7, w.Frames())

	body := rec.Body.String()
	for _, frame := range strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n") {
		assert.True(t, strings.HasPrefix(frame, DataPrefix), "frame %q", frame)
	}
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestWriter_RoundTripsThroughParser(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb, "0")
	require.NoError(t, w.Start("m"))
	require.NoError(t, w.Delta("a"))
	require.NoError(t, w.Delta("b"))
	require.NoError(t, w.Fail("upstream closed"))

	p := NewParser()
	results := p.Feed(sb.String())

	assert.Equal(t, []string{"a", "b"}, deltas(results))
	assert.True(t, p.Done())

	var errText string
	for _, r := range results {
		if r.Event.IsError() {
			errText = r.Event.ErrorText
		}
	}
	assert.Equal(t, "upstream closed", errText)
}
