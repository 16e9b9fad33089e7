/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package chat keeps the per-editor assistant transcript and drives the
// backend chat call. The transcript lives in memory for the lifetime of an
// editor session and is never persisted with the project.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"criadormental/internal/genai"
)

// Backend is the chat side of the generative-AI port.
type Backend interface {
	Chat(ctx context.Context, msgs []genai.Message) (string, error)
}

// Conversation is an ordered transcript plus the backend it talks to.
// Safe for concurrent use.
type Conversation struct {
	mu      sync.Mutex
	backend Backend
	msgs    []genai.Message
}

// New creates an empty conversation.
func New(backend Backend) *Conversation {
	return &Conversation{backend: backend}
}

// Messages returns a copy of the transcript in order.
func (c *Conversation) Messages() []genai.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]genai.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Send appends the user turn, asks the backend, and appends the model turn.
// On backend failure the transcript keeps the user turn only, so a retry
// re-sends the same question without duplicating it for the reader.
func (c *Conversation) Send(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty chat message")
	}

	c.mu.Lock()
	c.msgs = append(c.msgs, genai.Message{Role: genai.RoleUser, Text: text})
	transcript := make([]genai.Message, len(c.msgs))
	copy(transcript, c.msgs)
	c.mu.Unlock()

	reply, err := c.backend.Chat(ctx, transcript)
	if err != nil {
		return "", fmt.Errorf("chat turn: %w", err)
	}

	c.mu.Lock()
	c.msgs = append(c.msgs, genai.Message{Role: genai.RoleModel, Text: reply})
	c.mu.Unlock()
	return reply, nil
}

// Clear drops the transcript, e.g. when the editor closes.
func (c *Conversation) Clear() {
	c.mu.Lock()
	c.msgs = nil
	c.mu.Unlock()
}
