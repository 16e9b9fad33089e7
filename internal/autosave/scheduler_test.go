/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package autosave

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"criadormental/internal/domain"
)

type recorder struct {
	mu    sync.Mutex
	saves []domain.Snapshot
	err   error
}

func (r *recorder) persist(_ context.Context, s domain.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saves = append(r.saves, s)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestDebounceCoalescesBurstsIntoOneSave(t *testing.T) {
	rec := &recorder{}
	snap := domain.Snapshot{Pages: []domain.Page{domain.NewMasterPage()}}
	s := New(30*time.Millisecond, func() domain.Snapshot { return snap }, rec.persist)
	defer s.Close()

	for i := 0; i < 10; i++ {
		s.Note()
		time.Sleep(5 * time.Millisecond)
	}
	waitFor(t, func() bool { return rec.count() == 1 })
	time.Sleep(60 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("expected exactly 1 save, got %d", rec.count())
	}
}

func TestSnapshotReadAtFireTime(t *testing.T) {
	rec := &recorder{}
	var idx atomic.Int32
	s := New(20*time.Millisecond, func() domain.Snapshot {
		return domain.Snapshot{Pages: []domain.Page{domain.NewMasterPage()}, ActivePageIndex: int(idx.Load())}
	}, rec.persist)
	defer s.Close()

	s.Note()
	idx.Store(7) // edit arriving before the timer fires
	waitFor(t, func() bool { return rec.count() == 1 })
	rec.mu.Lock()
	got := rec.saves[0].ActivePageIndex
	rec.mu.Unlock()
	if got != 7 {
		t.Fatalf("stale snapshot persisted: got index %d, want 7", got)
	}
}

func TestNoSaveWithoutNote(t *testing.T) {
	rec := &recorder{}
	s := New(10*time.Millisecond, func() domain.Snapshot { return domain.Snapshot{} }, rec.persist)
	defer s.Close()
	time.Sleep(40 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("scheduler saved without any mutation")
	}
}

func TestFailureKeepsDirtyForNextCycle(t *testing.T) {
	rec := &recorder{err: errors.New("store down")}
	s := New(10*time.Millisecond, func() domain.Snapshot { return domain.Snapshot{} }, rec.persist)
	defer s.Close()

	s.Note()
	waitFor(t, func() bool { return s.Dirty() })

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()
	s.Note()
	waitFor(t, func() bool { return rec.count() == 1 })
	if s.Dirty() {
		t.Fatalf("successful save left scheduler dirty")
	}
}

func TestFlushPersistsPendingChanges(t *testing.T) {
	rec := &recorder{}
	s := New(time.Hour, func() domain.Snapshot { return domain.Snapshot{ActivePageIndex: 3} }, rec.persist)
	defer s.Close()

	s.Note()
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("flush did not persist")
	}
	// nothing pending now; flush is a no-op
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("idle Flush: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("idle flush persisted again")
	}
}
