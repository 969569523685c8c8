// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/codehelper/internal/model"
)

// SnapshotMsg carries a store snapshot into the Bubble Tea loop.
type SnapshotMsg struct {
	Snapshot model.Snapshot
}

// Forward delivers store notifications to send as SnapshotMsg values.
//
// Store listeners run under the store lock, and tea.Program.Send blocks
// until the event loop receives, so the listener only records the latest
// snapshot and a separate goroutine delivers it. Bursts coalesce to the
// newest version. The returned function stops forwarding.
func Forward(store *model.Store, send func(tea.Msg)) (stop func()) {
	var latest atomic.Pointer[model.Snapshot]
	wake := make(chan struct{}, 1)
	done := make(chan struct{})

	unsubscribe := store.Subscribe(func(s model.Snapshot) {
		latest.Store(&s)
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-wake:
				if s := latest.Load(); s != nil {
					send(SnapshotMsg{Snapshot: *s})
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(done)
		})
	}
}
