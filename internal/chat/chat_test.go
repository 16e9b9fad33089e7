/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package chat

import (
	"context"
	"errors"
	"testing"

	"criadormental/internal/genai"
)

type fakeChat struct {
	got   []genai.Message
	reply string
	err   error
}

func (f *fakeChat) Chat(_ context.Context, msgs []genai.Message) (string, error) {
	f.got = msgs
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestSendAppendsBothTurns(t *testing.T) {
	backend := &fakeChat{reply: "try fewer keywords"}
	c := New(backend)
	reply, err := c.Send(context.Background(), "why is my image so busy?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "try fewer keywords" {
		t.Fatalf("unexpected reply %q", reply)
	}
	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(msgs))
	}
	if msgs[0].Role != genai.RoleUser || msgs[1].Role != genai.RoleModel {
		t.Fatalf("role order wrong: %+v", msgs)
	}
	if len(backend.got) != 1 || backend.got[0].Text != "why is my image so busy?" {
		t.Fatalf("backend saw wrong transcript: %+v", backend.got)
	}
}

func TestSendFailureKeepsUserTurnOnly(t *testing.T) {
	backend := &fakeChat{err: errors.New("backend down")}
	c := New(backend)
	if _, err := c.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error")
	}
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Role != genai.RoleUser {
		t.Fatalf("transcript after failure: %+v", msgs)
	}

	// a later successful retry produces user, user, model
	backend.err = nil
	backend.reply = "hi"
	if _, err := c.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := len(c.Messages()); got != 3 {
		t.Fatalf("expected 3 turns after retry, got %d", got)
	}
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	c := New(&fakeChat{})
	if _, err := c.Send(context.Background(), "   "); err == nil {
		t.Fatalf("blank message accepted")
	}
	if len(c.Messages()) != 0 {
		t.Fatalf("blank message mutated transcript")
	}
}

func TestClear(t *testing.T) {
	c := New(&fakeChat{reply: "ok"})
	if _, err := c.Send(context.Background(), "x"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.Clear()
	if len(c.Messages()) != 0 {
		t.Fatalf("Clear left transcript behind")
	}
}
