// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling for the CodeHelper terminal
front ends.

# Color System (colors.go)

All colors are Lip Gloss AdaptiveColor values so they follow the terminal's
light or dark background:

	Purple  - assistant messages, accents
	Cyan    - brand, user prompt
	Emerald - success, wired model marker
	Amber   - warnings, in-flight indicator
	Rose    - errors

# Theme System (theme.go)

Theme bundles the styles used by the chat view and the CLI. The background
is detected with termenv unless the configured theme forces one:

	theme := styles.NewThemeFor("auto")
	fmt.Println(theme.UserLabel.Render("You"))

GlamourStyle picks the matching glamour markdown style.
*/
package styles
