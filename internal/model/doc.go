// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// Conversations live in a Store, a copy-on-write container: every mutation
// publishes a new immutable Snapshot, and readers never observe a partially
// applied change. The streaming consumer and every front end share one Store.
//
// # Key Types
//
//   - Store: serialized mutations, lock-free snapshots, change subscribers
//   - Snapshot: an immutable view of all conversations and the active one
//   - Conversation: title, ordered messages, selected model, in-flight flag
//   - Message: user or assistant text, plus streaming state
//   - ModelInfo: one entry of the selectable model catalogue
//
// # Usage
//
//	store := model.NewStore()
//	unsubscribe := store.Subscribe(func(s model.Snapshot) { redraw(s) })
//	defer unsubscribe()
//
//	conv := store.Active()
//	msg, _ := store.AppendMessage(conv.ID, model.NewUserMessage("Hello"))
package model
