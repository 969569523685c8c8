// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// DefaultModel is the model new conversations start with. It is the only
// model with a backend.
const DefaultModel = "gemini"

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// ModelInfo describes one entry of the model selector.
type ModelInfo struct {
	// ID is the identifier stored on conversations and messages.
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// Provider is who hosts the model.
	Provider string `json:"provider"`

	// Icon is shown next to the name in selectors.
	Icon string `json:"icon"`

	// Wired is true when requests tagged with this model reach a real
	// backend. Selecting an unwired model only changes the tag.
	Wired bool `json:"wired"`
}

// DisplayName returns the icon and name for selectors.
func (m ModelInfo) DisplayName() string {
	if m.Icon == "" {
		return m.Name
	}
	return m.Icon + " " + m.Name
}

// =============================================================================
// MODEL CATALOGUE
// =============================================================================

// Models is the ordered model catalogue shown in selectors.
var Models = []ModelInfo{
	{ID: "grok", Name: "Grok AI", Provider: "xAI", Icon: "🧠"},
	{ID: "openai", Name: "GPT-4", Provider: "OpenAI", Icon: "✨"},
	{ID: DefaultModel, Name: "Gemini Pro", Provider: "Google", Icon: "🌟", Wired: true},
	{ID: "chatgpt", Name: "ChatGPT", Provider: "OpenAI", Icon: "💬"},
}

// GetModelInfo looks up a model by ID (case-insensitive).
func GetModelInfo(id string) (ModelInfo, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, m := range Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// IsKnownModel reports whether id is in the catalogue.
func IsKnownModel(id string) bool {
	_, ok := GetModelInfo(id)
	return ok
}

// NextModel returns the catalogue entry after id, wrapping around.
// Unknown IDs yield the first entry.
func NextModel(id string) string {
	for i, m := range Models {
		if m.ID == id {
			return Models[(i+1)%len(Models)].ID
		}
	}
	return Models[0].ID
}

// ModelIDs returns the catalogue IDs in display order.
func ModelIDs() []string {
	ids := make([]string, len(Models))
	for i, m := range Models {
		ids[i] = m.ID
	}
	return ids
}

// ValidateModel returns an error naming the valid choices if id is unknown.
func ValidateModel(id string) error {
	if IsKnownModel(id) {
		return nil
	}
	return fmt.Errorf("%w: %q (choose one of %s)", ErrUnknownModel, id, strings.Join(ModelIDs(), ", "))
}
