// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the Bubble Tea chat interface.
//
// The view is a pure function of the conversation store's latest snapshot.
// Key handlers mutate the store; replies are streamed into it by a
// client.Consumer running in a tea.Cmd, and every store notification
// re-renders the view.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/codehelper/internal/model"
	"github.com/jeranaias/codehelper/internal/ui/styles"
)

// Sender runs one chat turn. *client.Consumer implements it.
type Sender interface {
	Send(ctx context.Context, conversationID, content string) (model.Message, error)
}

// =============================================================================
// MESSAGES
// =============================================================================

// SendDoneMsg reports the end of a turn started from the input box.
type SendDoneMsg struct {
	ConversationID string
	Err            error
}

// clearNoticeMsg clears the status notice if it is still the one set at id.
type clearNoticeMsg struct{ id int }

// =============================================================================
// OPTIONS
// =============================================================================

// Options configure rendering.
type Options struct {
	// Markdown renders finished assistant replies with glamour.
	Markdown bool
	// WordWrap is the glamour wrap width; 0 follows the window width.
	WordWrap int
	// Theme is "dark", "light" or "auto".
	Theme string
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the chat interface state.
type Model struct {
	store  *model.Store
	sender Sender
	ctx    context.Context

	theme   *styles.Theme
	keys    KeyMap
	opts    Options
	snap    model.Snapshot
	copyFn  func(string) error
	md      *glamour.TermRenderer
	mdWidth int

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	width    int
	height   int
	ready    bool
	notice   string
	noticeID int
}

// New creates the chat model. The store must hold at least one
// conversation; one is created if it is empty.
func New(ctx context.Context, store *model.Store, sender Sender, opts Options) Model {
	if len(store.Snapshot().Conversations) == 0 {
		store.NewConversation()
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask CodeHelper anything..."
	ti.CharLimit = 8192
	ti.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}

	theme := styles.NewThemeFor(opts.Theme)
	sp.Style = theme.Spinner

	return Model{
		store:    store,
		sender:   sender,
		ctx:      ctx,
		theme:    theme,
		keys:     DefaultKeyMap(),
		opts:     opts,
		snap:     store.Snapshot(),
		copyFn:   clipboard.WriteAll,
		input:    ti,
		viewport: vp,
		spinner:  sp,
	}
}

// WithClipboard replaces the clipboard writer.
func (m Model) WithClipboard(fn func(string) error) Model {
	m.copyFn = fn
	return m
}

// Init starts the cursor blink and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case SnapshotMsg:
		if msg.Snapshot.Version > m.snap.Version {
			m.snap = msg.Snapshot
			m.refresh()
		}
		return m, nil

	case SendDoneMsg:
		m.sync()
		if msg.Err != nil {
			return m.setNotice("Request failed: " + msg.Err.Error())
		}
		return m, nil

	case clearNoticeMsg:
		if msg.id == m.noticeID {
			m.notice = ""
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.snap.Active().InFlight {
			m.refresh()
		}
		return m, cmd

	case tea.KeyMsg:
		if next, cmd, handled := m.handleKey(msg); handled {
			return next, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleKey processes the chat shortcuts. handled is false for keys that
// belong to the input box.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit, true

	case key.Matches(msg, m.keys.Send):
		next, cmd := m.submit()
		return next, cmd, true

	case key.Matches(msg, m.keys.NewChat):
		m.store.NewConversation()
		m.sync()
		return m, nil, true

	case key.Matches(msg, m.keys.PrevChat):
		m.cycleConversation(-1)
		return m, nil, true

	case key.Matches(msg, m.keys.NextChat):
		m.cycleConversation(1)
		return m, nil, true

	case key.Matches(msg, m.keys.CycleModel):
		active := m.snap.Active()
		next := model.NextModel(active.Model)
		if err := m.store.SetModel(active.ID, next); err != nil {
			next, cmd := m.setNotice(err.Error())
			return next, cmd, true
		}
		m.sync()
		info, _ := model.GetModelInfo(next)
		next2, cmd := m.setNotice("Model: " + info.DisplayName())
		return next2, cmd, true

	case key.Matches(msg, m.keys.Copy):
		next, cmd := m.copyLastReply()
		return next, cmd, true

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil, true

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil, true
	}
	return m, nil, false
}

// submit starts a turn for the input text in the active conversation.
func (m Model) submit() (tea.Model, tea.Cmd) {
	content := m.input.Value()
	if strings.TrimSpace(content) == "" {
		return m, nil
	}

	active := m.snap.Active()
	if active.InFlight {
		return m.setNotice("Wait for the current reply to finish")
	}

	m.input.Reset()
	sender, ctx, convID := m.sender, m.ctx, active.ID
	return m, tea.Batch(
		func() tea.Msg {
			_, err := sender.Send(ctx, convID, content)
			return SendDoneMsg{ConversationID: convID, Err: err}
		},
		m.spinner.Tick,
	)
}

// cycleConversation selects the conversation delta positions away from the
// active one, wrapping around.
func (m *Model) cycleConversation(delta int) {
	convs := m.snap.Conversations
	if len(convs) < 2 {
		return
	}
	idx := 0
	for i, c := range convs {
		if c.ID == m.snap.ActiveID {
			idx = i
			break
		}
	}
	idx = (idx + delta + len(convs)) % len(convs)
	if err := m.store.Select(convs[idx].ID); err == nil {
		m.sync()
	}
}

func (m Model) copyLastReply() (tea.Model, tea.Cmd) {
	msg, ok := m.snap.Active().LastAssistantMessage()
	if !ok || msg.Content == "" {
		return m.setNotice("No reply to copy")
	}
	if err := m.copyFn(msg.Content); err != nil {
		return m.setNotice("Failed to copy: " + err.Error())
	}
	return m.setNotice(fmt.Sprintf("Copied reply (%d chars)", len([]rune(msg.Content))))
}

// setNotice shows text in the status bar for a few seconds.
func (m Model) setNotice(text string) (tea.Model, tea.Cmd) {
	m.noticeID++
	m.notice = text
	id := m.noticeID
	m.refresh()
	return m, tea.Tick(4*time.Second, func(time.Time) tea.Msg { return clearNoticeMsg{id: id} })
}

// sync reads the latest snapshot directly after a local mutation.
func (m *Model) sync() {
	m.snap = m.store.Snapshot()
	m.refresh()
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Snapshot returns the snapshot the view was last rendered from.
func (m Model) Snapshot() model.Snapshot {
	return m.snap
}

// Notice returns the current status notice.
func (m Model) Notice() string {
	return m.notice
}

// InputValue returns the text in the input box.
func (m Model) InputValue() string {
	return m.input.Value()
}
