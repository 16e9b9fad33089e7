/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"criadormental/internal/autosave"
	"criadormental/internal/blob"
	"criadormental/internal/canvas"
	"criadormental/internal/chat"
	"criadormental/internal/domain"
	"criadormental/internal/generate"
	"criadormental/internal/history"
	"criadormental/internal/storage"
)

// Editor holds everything attached to one open project: the undoable
// document, the debounced saver, the generation orchestrator, the assistant
// transcript and the decoded-image cache. Focus selections index into the
// active page's keyword/instruction lists and are invalidated whenever the
// indexed collection changes shape underneath them.
type Editor struct {
	store  storage.Store
	loader ImageLoader

	engine *history.Engine
	saver  *autosave.Scheduler
	gen    *generate.Orchestrator
	conv   *chat.Conversation
	images *canvas.Cache

	mu                sync.Mutex
	project           *domain.Project
	focusKeywords     map[int]struct{}
	focusInstructions map[int]struct{}
}

func newEditor(p *domain.Project, store storage.Store, blobs blob.Store, ai AIBackend, loader ImageLoader, delay time.Duration) *Editor {
	e := &Editor{
		store:             store,
		loader:            loader,
		project:           p,
		focusKeywords:     map[int]struct{}{},
		focusInstructions: map[int]struct{}{},
		images:            canvas.NewCache(),
	}
	e.engine = history.New(p.Snapshot())
	e.saver = autosave.New(delay, e.engine.Present, e.persist)
	e.engine.SetObserver(func(domain.Snapshot) { e.saver.Note() })
	e.gen = generate.New(e.engine, ai, blobs, p.Owner, p.ID)
	e.conv = chat.New(ai)
	return e
}

func (e *Editor) persist(ctx context.Context, s domain.Snapshot) error {
	e.mu.Lock()
	e.project.ApplySnapshot(s)
	p := e.project
	e.mu.Unlock()
	return e.store.Update(ctx, p)
}

// ProjectID returns the open project's id.
func (e *Editor) ProjectID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.project.ID
}

// ProjectName returns the open project's display name.
func (e *Editor) ProjectName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.project.Name
}

// Present returns a deep copy of the current document state.
func (e *Editor) Present() domain.Snapshot { return e.engine.Present() }

// CanUndo reports whether an undo step exists.
func (e *Editor) CanUndo() bool { return e.engine.CanUndo() }

// CanRedo reports whether a redo step exists.
func (e *Editor) CanRedo() bool { return e.engine.CanRedo() }

// Chat is the assistant conversation bound to this editor.
func (e *Editor) Chat() *chat.Conversation { return e.conv }

// Commit applies a partial update to the document. A no-op change is
// suppressed and reported as false; a structurally invalid merge is refused
// with an error and the document stays as it was. Focus selections are
// cleared when the collection they index changed.
func (e *Editor) Commit(p history.Partial) (bool, error) {
	before := e.engine.Present()
	ok, err := e.engine.Commit(p)
	if ok {
		e.invalidateFocus(before, e.engine.Present())
	}
	return ok, err
}

// Undo steps back one document state.
func (e *Editor) Undo() bool {
	before := e.engine.Present()
	ok := e.engine.Undo()
	if ok {
		e.invalidateFocus(before, e.engine.Present())
	}
	return ok
}

// Redo re-applies the last undone state.
func (e *Editor) Redo() bool {
	before := e.engine.Present()
	ok := e.engine.Redo()
	if ok {
		e.invalidateFocus(before, e.engine.Present())
	}
	return ok
}

// AddPage appends a fresh page and makes it active.
func (e *Editor) AddPage(name string) (domain.Page, bool) {
	snap := e.engine.Present()
	page := domain.NewPage(domain.NewPageID(), name)
	pages := append(snap.Pages, page)
	idx := len(pages) - 1
	ok, err := e.Commit(history.Partial{Pages: pages, ActivePageIndex: &idx})
	return page, err == nil && ok
}

// RemovePage deletes a non-master page. The active index is clamped.
func (e *Editor) RemovePage(id string) error {
	if id == domain.MasterPageID {
		return fmt.Errorf("the master page cannot be removed")
	}
	snap := e.engine.Present()
	pages := make([]domain.Page, 0, len(snap.Pages))
	found := false
	for _, p := range snap.Pages {
		if p.ID == id {
			found = true
			continue
		}
		// drop dangling context references to the removed page
		refs := p.ContextPageIDs[:0]
		for _, ref := range p.ContextPageIDs {
			if ref != id {
				refs = append(refs, ref)
			}
		}
		p.ContextPageIDs = refs
		pages = append(pages, p)
	}
	if !found {
		return fmt.Errorf("page %q: %w", id, storage.ErrNotFound)
	}
	idx := snap.ActivePageIndex
	if idx >= len(pages) {
		idx = len(pages) - 1
	}
	if _, err := e.Commit(history.Partial{Pages: pages, ActivePageIndex: &idx}); err != nil {
		return err
	}
	e.images.Drop(id)
	return nil
}

// SetActivePage switches the selected page and clears focus.
func (e *Editor) SetActivePage(i int) error {
	snap := e.engine.Present()
	if i < 0 || i >= len(snap.Pages) {
		return fmt.Errorf("page index %d out of range", i)
	}
	if _, err := e.Commit(history.ActiveIndex(i)); err != nil {
		return err
	}
	e.clearFocus()
	return nil
}

// ToggleFocusKeyword flips the focus mark on one keyword of the active page.
func (e *Editor) ToggleFocusKeyword(i int) error {
	snap := e.engine.Present()
	page := snap.Pages[snap.ActivePageIndex]
	if i < 0 || i >= len(page.Keywords) {
		return fmt.Errorf("keyword index %d out of range", i)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, on := e.focusKeywords[i]; on {
		delete(e.focusKeywords, i)
	} else {
		e.focusKeywords[i] = struct{}{}
	}
	return nil
}

// ToggleFocusInstruction flips the focus mark on one instruction of the
// active page.
func (e *Editor) ToggleFocusInstruction(i int) error {
	snap := e.engine.Present()
	page := snap.Pages[snap.ActivePageIndex]
	if i < 0 || i >= len(page.Instructions) {
		return fmt.Errorf("instruction index %d out of range", i)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, on := e.focusInstructions[i]; on {
		delete(e.focusInstructions, i)
	} else {
		e.focusInstructions[i] = struct{}{}
	}
	return nil
}

// Focus returns the current focus selections in ascending order.
func (e *Editor) Focus() (keywords, instructions []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.focusKeywords), sortedKeys(e.focusInstructions)
}

// Generate runs one generation for the given page. Focus applies only when
// the target is the active page, and is cleared after the attempt either
// way.
func (e *Editor) Generate(ctx context.Context, pageID string, mode domain.Mode) (generate.Result, error) {
	snap := e.engine.Present()
	req := generate.Request{PageID: pageID, Mode: mode}
	if pageID == snap.Pages[snap.ActivePageIndex].ID {
		req.FocusKeywords, req.FocusInstructions = e.Focus()
	}
	if mode == domain.ModeEvolve {
		if page, ok := snap.Page(pageID); ok && page.GeneratedImage != "" {
			if data, err := e.ImageBytes(ctx, pageID); err == nil {
				req.BaseImage = data
				req.BaseMime = canvas.MimePNG
			}
		}
	}
	res, err := e.gen.Generate(ctx, req)
	e.clearFocus()
	if err == nil {
		e.images.Drop(pageID)
	}
	return res, err
}

// ImageBytes returns the decoded current image of a page, loading it from
// blob storage on first use or after the reference changed.
func (e *Editor) ImageBytes(ctx context.Context, pageID string) ([]byte, error) {
	snap := e.engine.Present()
	page, ok := snap.Page(pageID)
	if !ok {
		return nil, fmt.Errorf("page %q: %w", pageID, storage.ErrNotFound)
	}
	if page.GeneratedImage == "" {
		return nil, fmt.Errorf("page %q has no generated image", pageID)
	}
	return e.images.Bytes(ctx, pageID, page.GeneratedImage, canvas.Loader(e.loader))
}

// CheckpointVersion appends the page's current image reference to its
// version list.
func (e *Editor) CheckpointVersion(pageID string) error {
	snap := e.engine.Present()
	page, ok := snap.Page(pageID)
	if !ok {
		return fmt.Errorf("page %q: %w", pageID, storage.ErrNotFound)
	}
	if page.GeneratedImage == "" {
		return fmt.Errorf("page %q has no generated image to checkpoint", pageID)
	}
	for i := range snap.Pages {
		if snap.Pages[i].ID == pageID {
			snap.Pages[i].Versions = append(snap.Pages[i].Versions, page.GeneratedImage)
		}
	}
	_, err := e.Commit(history.Pages(snap.Pages))
	return err
}

// RestoreVersion makes an earlier checkpointed image the page's current one.
// The version list itself is untouched.
func (e *Editor) RestoreVersion(pageID string, version int) error {
	snap := e.engine.Present()
	page, ok := snap.Page(pageID)
	if !ok {
		return fmt.Errorf("page %q: %w", pageID, storage.ErrNotFound)
	}
	if version < 0 || version >= len(page.Versions) {
		return fmt.Errorf("version %d out of range", version)
	}
	for i := range snap.Pages {
		if snap.Pages[i].ID == pageID {
			snap.Pages[i].GeneratedImage = page.Versions[version]
		}
	}
	ok, err := e.Commit(history.Pages(snap.Pages))
	if err != nil {
		return err
	}
	if ok {
		e.images.Drop(pageID)
	}
	return nil
}

// ResetDocument replaces the whole document and wipes the edit history,
// e.g. after a validated import.
func (e *Editor) ResetDocument(s domain.Snapshot) {
	e.engine.Reset(s)
	e.clearFocus()
	e.images.Clear()
	e.saver.Note()
}

// Flush persists any pending autosave immediately.
func (e *Editor) Flush(ctx context.Context) error { return e.saver.Flush(ctx) }

// Close flushes outstanding work and releases the editor's resources.
func (e *Editor) Close(ctx context.Context) error {
	err := e.saver.Flush(ctx)
	e.saver.Close()
	e.conv.Clear()
	e.images.Clear()
	return err
}

func (e *Editor) clearFocus() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.focusKeywords = map[int]struct{}{}
	e.focusInstructions = map[int]struct{}{}
}

// invalidateFocus clears selections whose indexed collection changed between
// two document states, including when the active page itself changed.
func (e *Editor) invalidateFocus(before, after domain.Snapshot) {
	e.mu.Lock()
	kw := len(e.focusKeywords) > 0
	instr := len(e.focusInstructions) > 0
	e.mu.Unlock()
	if !kw && !instr {
		return
	}
	if before.ActivePageIndex != after.ActivePageIndex ||
		before.ActivePageIndex >= len(after.Pages) {
		e.clearFocus()
		return
	}
	bp := before.Pages[before.ActivePageIndex]
	ap := after.Pages[after.ActivePageIndex]
	if bp.ID != ap.ID {
		e.clearFocus()
		return
	}
	if kw && !equalStrings(bp.Keywords, ap.Keywords) {
		e.mu.Lock()
		e.focusKeywords = map[int]struct{}{}
		e.mu.Unlock()
	}
	if instr && !equalStrings(bp.Instructions, ap.Instructions) {
		e.mu.Lock()
		e.focusInstructions = map[int]struct{}{}
		e.mu.Unlock()
	}
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
