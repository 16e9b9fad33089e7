/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package history implements the undo/redo engine over the in-memory
// document. It owns the canonical editor state: every document mutation goes
// through Commit, Undo, Redo or Reset, and other components only ever read
// deep-copied snapshots out of it.
package history

import (
	"fmt"
	"sync"

	"criadormental/internal/domain"
)

// Partial is a partial snapshot submitted to Commit. Nil fields mean
// "unchanged"; set fields replace the corresponding part of the present
// snapshot wholesale.
type Partial struct {
	Pages           []domain.Page
	ActivePageIndex *int
}

// Pages returns a Partial replacing only the page list.
func Pages(pages []domain.Page) Partial { return Partial{Pages: pages} }

// ActiveIndex returns a Partial replacing only the active page index.
func ActiveIndex(i int) Partial { return Partial{ActivePageIndex: &i} }

// Engine is the undo/redo state machine. past is ordered oldest to newest,
// future nearest to farthest. It is safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	past    []domain.Snapshot
	present domain.Snapshot
	future  []domain.Snapshot

	// generating holds per-page generation locks so two overlapping
	// generation requests against the same page are refused here rather
	// than by a disabled button in the UI.
	generating map[string]bool

	// observer, when set, is notified with a copy of present after every
	// state-changing Commit, Undo or Redo. Reset does not notify; loading a
	// project must not schedule a save of what was just loaded.
	observer func(domain.Snapshot)
}

// New creates an engine with the given initial present and empty stacks.
func New(initial domain.Snapshot) *Engine {
	return &Engine{present: initial.Clone(), generating: make(map[string]bool)}
}

// SetObserver registers the mutation observer. Pass nil to remove it.
func (e *Engine) SetObserver(fn func(domain.Snapshot)) {
	e.mu.Lock()
	e.observer = fn
	e.mu.Unlock()
}

// Present returns a deep copy of the current snapshot.
func (e *Engine) Present() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.present.Clone()
}

// Depths returns the lengths of the past and future stacks.
func (e *Engine) Depths() (past, future int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.past), len(e.future)
}

// CanUndo reports whether an Undo would change state.
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.past) > 0
}

// CanRedo reports whether a Redo would change state.
func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.future) > 0
}

// Commit merges p into the present snapshot. If the merge result is deeply
// equal to present the call is a no-op and returns false; this suppresses
// redundant history entries from rerender-triggered updates. A merge result
// that violates the structural invariants (domain.Validate) is rejected with
// an error and leaves the engine untouched, so present is always a valid
// snapshot no matter what callers submit. Otherwise the old present is pushed
// onto past, the merge result becomes present, the future stack is cleared,
// and Commit returns true.
func (e *Engine) Commit(p Partial) (bool, error) {
	e.mu.Lock()
	merged := e.present.Clone()
	if p.Pages != nil {
		pages := make([]domain.Page, len(p.Pages))
		for i, pg := range p.Pages {
			pages[i] = pg.Clone()
		}
		merged.Pages = pages
	}
	if p.ActivePageIndex != nil {
		merged.ActivePageIndex = *p.ActivePageIndex
	}
	if merged.Equal(e.present) {
		e.mu.Unlock()
		return false, nil
	}
	if err := domain.Validate(merged); err != nil {
		e.mu.Unlock()
		return false, fmt.Errorf("commit: %w", err)
	}
	e.past = append(e.past, e.present)
	e.present = merged
	e.future = nil
	obs, snap := e.observer, e.present.Clone()
	e.mu.Unlock()
	if obs != nil {
		obs(snap)
	}
	return true, nil
}

// Undo moves present onto the front of future and pops the newest past entry
// into present. No-op on empty past; returns whether state changed.
func (e *Engine) Undo() bool {
	e.mu.Lock()
	if len(e.past) == 0 {
		e.mu.Unlock()
		return false
	}
	prev := e.past[len(e.past)-1]
	e.past = e.past[:len(e.past)-1]
	e.future = append([]domain.Snapshot{e.present}, e.future...)
	e.present = prev
	obs, snap := e.observer, e.present.Clone()
	e.mu.Unlock()
	if obs != nil {
		obs(snap)
	}
	return true
}

// Redo pops the nearest future entry into present and pushes the old present
// onto past. No-op on empty future; returns whether state changed.
func (e *Engine) Redo() bool {
	e.mu.Lock()
	if len(e.future) == 0 {
		e.mu.Unlock()
		return false
	}
	next := e.future[0]
	e.future = e.future[1:]
	e.past = append(e.past, e.present)
	e.present = next
	obs, snap := e.observer, e.present.Clone()
	e.mu.Unlock()
	if obs != nil {
		obs(snap)
	}
	return true
}

// Reset replaces present with s and clears both stacks. Used when a project
// is opened or imported; it intentionally creates no undo step back to the
// prior document and does not notify the observer.
func (e *Engine) Reset(s domain.Snapshot) {
	e.mu.Lock()
	e.present = s.Clone()
	e.past = nil
	e.future = nil
	e.mu.Unlock()
}

// BeginGeneration takes the generation lock for a page. It returns false if
// a generation for that page is already in flight.
func (e *Engine) BeginGeneration(pageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generating[pageID] {
		return false
	}
	e.generating[pageID] = true
	return true
}

// EndGeneration releases the generation lock for a page.
func (e *Engine) EndGeneration(pageID string) {
	e.mu.Lock()
	delete(e.generating, pageID)
	e.mu.Unlock()
}
