// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/jeranaias/codehelper/internal/model"
	"github.com/jeranaias/codehelper/internal/stream"
)

// ReadBufferSize is the chunk size used when reading the response body.
const ReadBufferSize = 4096

// Opener opens a streamed reply for a prompt. *RelayClient implements it.
type Opener interface {
	Open(ctx context.Context, prompt string) (io.ReadCloser, error)
}

// FragmentFunc is called for every text fragment appended to a reply.
type FragmentFunc func(conversationID, fragment string)

// =============================================================================
// CONSUMER
// =============================================================================

// Consumer runs one chat turn at a time per conversation: it appends the
// user message, streams the reply into a new assistant message and
// finalizes it.
type Consumer struct {
	store      *model.Store
	opener     Opener
	onFragment FragmentFunc
}

// NewConsumer creates a consumer writing into store.
func NewConsumer(store *model.Store, opener Opener) *Consumer {
	return &Consumer{store: store, opener: opener}
}

// WithFragmentHook registers fn to observe fragments as they arrive.
func (c *Consumer) WithFragmentHook(fn FragmentFunc) *Consumer {
	c.onFragment = fn
	return c
}

// Store returns the store the consumer writes into.
func (c *Consumer) Store() *model.Store {
	return c.store
}

// Send submits content to the conversation and streams the reply. It
// returns the assistant message as finally stored. Blank content is a no-op
// and returns a zero Message.
//
// A failure to open the stream appends model.ErrorReply and returns the
// error. A failure while reading keeps the partial reply, appends
// model.ErrorReply and returns a *TransportError. Cancelling ctx stops
// reading and returns ctx.Err() with the partial reply kept.
func (c *Consumer) Send(ctx context.Context, conversationID, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, nil
	}

	if err := c.store.BeginTurn(conversationID); err != nil {
		return model.Message{}, err
	}
	defer c.store.EndTurn(conversationID)

	conv, ok := c.store.Conversation(conversationID)
	if !ok {
		return model.Message{}, fmt.Errorf("%w: %s", model.ErrConversationNotFound, conversationID)
	}

	if _, err := c.store.AppendMessage(conversationID, model.NewUserMessage(content)); err != nil {
		return model.Message{}, err
	}

	body, err := c.opener.Open(ctx, content)
	if err != nil {
		log.Printf("CHAT_OPEN_FAILED | conversation=%s error=%v", conversationID, err)
		reply, appendErr := c.store.AppendMessage(conversationID, model.NewErrorMessage(conv.Model))
		if appendErr != nil {
			return model.Message{}, errors.Join(err, appendErr)
		}
		return reply, err
	}
	defer body.Close()

	reply, err := c.store.AppendMessage(conversationID, model.NewAssistantMessage(conv.Model))
	if err != nil {
		return model.Message{}, err
	}

	streamErr := c.consume(ctx, conversationID, reply.ID, body)

	if err := c.store.Finalize(conversationID, reply.ID); err != nil {
		log.Printf("CHAT_FINALIZE_FAILED | conversation=%s message=%s error=%v", conversationID, reply.ID, err)
	}

	if streamErr != nil && ctx.Err() == nil {
		log.Printf("CHAT_STREAM_FAILED | conversation=%s message=%s error=%v", conversationID, reply.ID, streamErr)
		if _, err := c.store.AppendMessage(conversationID, model.NewErrorMessage(conv.Model)); err != nil {
			streamErr = errors.Join(streamErr, err)
		}
	}

	final, _ := c.store.Conversation(conversationID)
	if msg, ok := final.MessageByID(reply.ID); ok {
		reply = msg
	}
	return reply, streamErr
}

// consume reads body until the terminal sentinel, end of body or a read
// failure, applying every decoded event to the reply.
func (c *Consumer) consume(ctx context.Context, conversationID, messageID string, body io.Reader) error {
	dec := stream.NewDecoder()
	parser := stream.NewParser()
	buf := make([]byte, ReadBufferSize)

	var full strings.Builder
	apply := func(results []stream.Result) error {
		for _, r := range results {
			switch {
			case r.Err != nil:
				log.Printf("STREAM_DECODE_ERROR | conversation=%s error=%v", conversationID, r.Err)
			case r.Done:
				return nil
			case r.Event.IsTextDelta():
				full.WriteString(r.Event.Delta)
				if err := c.store.UpdateContent(conversationID, messageID, full.String()); err != nil {
					return err
				}
				if c.onFragment != nil {
					c.onFragment(conversationID, r.Event.Delta)
				}
			case r.Event.IsError():
				if err := c.store.MarkStreamError(conversationID, messageID, r.Event.ErrorText); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for !parser.Done() {
		n, readErr := body.Read(buf)
		if n > 0 {
			if err := apply(parser.Feed(dec.Decode(buf[:n]))); err != nil {
				return err
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			if err := apply(parser.Feed(dec.Flush())); err != nil {
				return err
			}
			return apply(parser.Close())
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransportError{Op: "read stream", Err: readErr}
	}
	return nil
}
