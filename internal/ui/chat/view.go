// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/codehelper/internal/model"
	"github.com/jeranaias/codehelper/internal/ui/styles"
	"github.com/jeranaias/codehelper/internal/util"
)

const (
	sidebarWidth = 28
	headerHeight = 1
	inputHeight  = 2
	statusHeight = 1
)

// =============================================================================
// LAYOUT
// =============================================================================

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.theme.SetSize(width, height)

	m.input.Width = max(10, width-6)
	m.viewport.Width = m.contentWidth()
	m.viewport.Height = max(3, height-headerHeight-inputHeight-statusHeight)
	m.ready = true
}

// contentWidth is the width of the message pane.
func (m *Model) contentWidth() int {
	w := m.width
	if m.theme.GetLayoutMode() == styles.LayoutWide {
		w -= sidebarWidth + 1
	}
	return max(20, w)
}

// refresh re-renders the message pane from the current snapshot, keeping
// the view pinned to the bottom when it already was.
func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom() || m.viewport.TotalLineCount() == 0
	m.viewport.SetContent(m.renderMessages())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// markdown returns a glamour renderer for the current width, or nil when
// markdown rendering is off or unavailable.
func (m *Model) markdown() *glamour.TermRenderer {
	if !m.opts.Markdown {
		return nil
	}
	width := m.opts.WordWrap
	if width <= 0 {
		width = m.contentWidth() - 4
	}
	if m.md != nil && m.mdWidth == width {
		return m.md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(styles.GlamourStyle(m.opts.Theme)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		m.opts.Markdown = false
		return nil
	}
	m.md, m.mdWidth = r, width
	return r
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the chat interface.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	body := m.viewport.View()
	if m.theme.GetLayoutMode() == styles.LayoutWide {
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), " ", body)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		m.theme.InputContainer.Width(m.width).Render(m.input.View()),
		m.renderStatus(),
	)
}

func (m Model) renderHeader() string {
	active := m.snap.Active()
	info, ok := model.GetModelInfo(active.Model)
	name := active.Model
	if ok {
		name = info.DisplayName()
	}

	parts := []string{
		m.theme.HeaderBrand.Render("CodeHelper"),
		m.theme.HeaderModel.Render(name),
		m.theme.HeaderMuted.Render(util.TruncateWidth(active.Title, max(10, m.width/3))),
	}
	if ok && !info.Wired {
		parts = append(parts, m.theme.HeaderMuted.Render("(replies from "+model.DefaultModel+")"))
	}
	return m.theme.Header.Width(m.width).Render(strings.Join(parts, "  "))
}

func (m Model) renderSidebar() string {
	height := m.viewport.Height
	lines := make([]string, 0, height)
	for _, c := range m.snap.Conversations {
		if len(lines) == height {
			break
		}
		title := util.TruncateWidth(c.Title, sidebarWidth-4)
		if c.ID == m.snap.ActiveID {
			lines = append(lines, m.theme.ConversationSelected.Width(sidebarWidth).Render(title))
		} else {
			lines = append(lines, m.theme.ConversationItem.Width(sidebarWidth).Render(title))
		}
	}
	return lipgloss.NewStyle().Width(sidebarWidth).Height(height).Render(strings.Join(lines, "\n"))
}

func (m *Model) renderMessages() string {
	active := m.snap.Active()
	if active.IsEmpty() {
		return m.theme.HeaderMuted.Render("Start a conversation by typing below.")
	}

	var b strings.Builder
	for i, msg := range active.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderMessage(msg model.Message) string {
	var label string
	if msg.IsUser() {
		label = m.theme.UserLabel.Render(msg.Role.DisplayName())
	} else {
		label = m.theme.AssistantLabel.Render(msg.Role.DisplayName())
	}
	header := label + " " + m.theme.Timestamp.Render(msg.Timestamp.Format("15:04"))

	if msg.IsUser() {
		return header + "\n" + m.theme.UserText.Render(msg.Content)
	}

	var body string
	switch {
	case msg.Streaming && msg.Content == "":
		body = "  " + m.spinner.View() + " thinking..."
	case msg.Streaming:
		body = m.theme.AssistantText.PaddingLeft(2).Render(msg.Content) + " " + m.spinner.View()
	default:
		body = m.renderReply(msg.Content)
	}

	if msg.HasError() {
		body += "\n" + m.theme.ErrorText.Render(fmt.Sprintf("Error: %s", msg.ErrorText))
	}
	return header + "\n" + body
}

// renderReply renders a finished assistant reply, as markdown if enabled.
func (m *Model) renderReply(content string) string {
	if r := m.markdown(); r != nil {
		if out, err := r.Render(content); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return m.theme.AssistantText.PaddingLeft(2).Render(content)
}

func (m Model) renderStatus() string {
	if m.notice != "" {
		return m.theme.StatusBar.Width(m.width).Render(m.theme.Notice.Render(m.notice))
	}

	var parts []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		parts = append(parts, m.theme.ShortcutKey.Render(h.Key)+" "+m.theme.ShortcutDesc.Render(h.Desc))
	}
	status := strings.Join(parts, "  ")
	if m.snap.Active().InFlight {
		status = m.spinner.View() + " " + status
	}
	return m.theme.StatusBar.Width(m.width).Render(status)
}
