/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package autosave debounces persistence of the editor's present snapshot.
// Every mutation restarts a fixed-delay timer; only when the timer fires
// uninterrupted is the then-current snapshot read and persisted, so edits
// made while a save is pending are never lost to a stale capture. At most
// one persist call is in flight at a time.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"criadormental/internal/domain"
	applog "criadormental/internal/log"
)

// DefaultDelay is the debounce window between the last mutation and the
// persistence call.
const DefaultDelay = 800 * time.Millisecond

// Snapshot reads the current present at fire time.
type Snapshot func() domain.Snapshot

// Persist writes a snapshot to the document store.
type Persist func(ctx context.Context, s domain.Snapshot) error

// Scheduler is the debounced saver for one open document.
type Scheduler struct {
	delay    time.Duration
	snapshot Snapshot
	persist  Persist
	log      *slog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	dirty    bool
	inflight bool
	closed   bool
}

// New creates an idle scheduler. Nothing is persisted until the first Note.
func New(delay time.Duration, snapshot Snapshot, persist Persist) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{
		delay:    delay,
		snapshot: snapshot,
		persist:  persist,
		log:      applog.WithComponent("autosave"),
	}
}

// Note records that a mutation happened and (re)starts the debounce timer.
// Safe to call from any goroutine; never blocks on I/O.
func (s *Scheduler) Note() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.dirty = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.fire)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.closed || !s.dirty {
		s.mu.Unlock()
		return
	}
	if s.inflight {
		// a persist is still running; try again after another window
		s.timer = time.AfterFunc(s.delay, s.fire)
		s.mu.Unlock()
		return
	}
	s.inflight = true
	s.dirty = false
	s.mu.Unlock()

	// snapshot is read here, after the debounce expired, not at Note time
	snap := s.snapshot()
	err := s.persist(context.Background(), snap)

	s.mu.Lock()
	s.inflight = false
	if err != nil {
		// non-fatal: the next mutation's debounce cycle is the retry path
		s.dirty = true
		s.mu.Unlock()
		s.log.Warn("autosave failed", slog.Any("err", err))
		return
	}
	s.mu.Unlock()
}

// Flush cancels any pending timer and persists immediately if there are
// unsaved changes. Used when the editor closes.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.dirty || s.closed {
		s.mu.Unlock()
		return nil
	}
	// wait out an in-flight save before writing the final state
	for s.inflight {
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		s.mu.Lock()
	}
	s.dirty = false
	s.inflight = true
	s.mu.Unlock()

	snap := s.snapshot()
	err := s.persist(ctx, snap)

	s.mu.Lock()
	s.inflight = false
	if err != nil {
		s.dirty = true
	}
	s.mu.Unlock()
	return err
}

// Dirty reports whether there are unsaved changes.
func (s *Scheduler) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Close stops the scheduler without saving. Use Flush first to keep data.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
