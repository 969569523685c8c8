// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codehelper/internal/model"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func testConversation() model.Conversation {
	conv := model.NewConversation(model.DefaultModel)
	conv.Title = "Reverse a slice"
	user := model.NewUserMessage("How do I reverse a slice?")
	reply := model.NewAssistantMessage(model.DefaultModel)
	reply.Streaming = false
	reply.Content = "Use `slices.Reverse`."
	conv.Messages = []model.Message{user, reply}
	return conv
}

func testOptions(dir string) *Options {
	return &Options{OutputDir: dir, Now: func() time.Time { return fixedNow }}
}

func TestMarkdownExport(t *testing.T) {
	out, err := NewMarkdownExporter(testOptions("")).Export(testConversation())
	require.NoError(t, err)

	md := string(out)
	assert.True(t, strings.HasPrefix(md, "---\ntitle: Reverse a slice\n"))
	assert.Contains(t, md, "model: gemini\n")
	assert.Contains(t, md, "messages: 2\n")
	assert.Contains(t, md, "# Reverse a slice\n")
	assert.Contains(t, md, "### You\n\nHow do I reverse a slice?")
	assert.Contains(t, md, "### CodeHelper (Gemini Pro)\n\nUse `slices.Reverse`.")
	assert.Contains(t, md, "March 14, 2025 at 9:26 AM")
}

func TestMarkdownExport_ErrorAndEscaping(t *testing.T) {
	conv := testConversation()
	conv.Title = "Test\nInjection: *bold*"
	conv.Messages[1].ErrorText = "quota exceeded"

	out, err := NewMarkdownExporter(testOptions("")).Export(conv)
	require.NoError(t, err)

	md := string(out)
	assert.Contains(t, md, `title: "Test\nInjection: *bold*"`)
	assert.NotContains(t, md, "\nInjection:")
	assert.Contains(t, md, `# Test Injection: \*bold\*`)
	assert.Contains(t, md, "> **Error:** quota exceeded")
}

func TestMarkdownExport_Timestamps(t *testing.T) {
	conv := testConversation()
	conv.Messages[0].Timestamp = time.Date(2025, 1, 1, 13, 5, 7, 0, time.Local)

	opts := testOptions("")
	opts.IncludeTimestamps = true
	out, err := NewMarkdownExporter(opts).Export(conv)
	require.NoError(t, err)
	assert.Contains(t, string(out), "### You <sub>13:05:07</sub>")
}

func TestJSONExport(t *testing.T) {
	conv := testConversation()
	out, err := NewJSONExporter().Export(conv)
	require.NoError(t, err)

	var decoded model.Conversation
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, conv.ID, decoded.ID)
	assert.Equal(t, "Use `slices.Reverse`.", decoded.Messages[1].Content)
	assert.NotContains(t, string(out), "streaming")
}

func TestToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	opts := testOptions(dir)

	path, err := ToFile(testConversation(), NewMarkdownExporter(opts), opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "conversation_Reverse_a_slice_20250314_092653.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "slices.Reverse")
}

func TestToFile_Empty(t *testing.T) {
	_, err := ToFile(model.NewConversation(model.DefaultModel), NewJSONExporter(), testOptions(t.TempDir()))
	assert.ErrorIs(t, err, ErrEmptyConversation)
}

func TestForFormat(t *testing.T) {
	for _, tc := range []struct {
		format string
		ext    string
	}{
		{"", ".md"},
		{"md", ".md"},
		{"Markdown", ".md"},
		{"json", ".json"},
	} {
		e, err := ForFormat(tc.format, nil)
		require.NoError(t, err, tc.format)
		assert.Equal(t, tc.ext, e.FileExtension())
	}

	_, err := ForFormat("html", nil)
	assert.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"plain":                "plain",
		"a/b\\c:d":             "a-b-c-d",
		"two words\tand\nmore": "two_words_and_more",
		"   ":                  "conversation",
		"bell\x07":             "bell-",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFilename(in), in)
	}
	assert.Len(t, []rune(sanitizeFilename(strings.Repeat("é", 80))), 50)
}
