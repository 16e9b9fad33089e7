/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package generate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"criadormental/internal/blob"
	"criadormental/internal/domain"
	"criadormental/internal/genai"
	"criadormental/internal/history"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	prompt  string
	baseLen int
	img     []byte
	mime    string // answered content type, "image/png" when empty
	err     error
	block   chan struct{} // when set, the call waits until closed
}

func (f *fakeBackend) GenerateImage(_ context.Context, base []byte, _ string, prompt string) ([]byte, string, error) {
	f.mu.Lock()
	f.calls++
	f.prompt = prompt
	f.baseLen = len(base)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, "", f.err
	}
	mime := f.mime
	if mime == "" {
		mime = "image/png"
	}
	return f.img, mime, nil
}

type fakeBlobs struct {
	mu     sync.Mutex
	keys   []string
	ctypes []string
	err    error
}

func (f *fakeBlobs) Put(_ context.Context, key string, _ []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	f.ctypes = append(f.ctypes, contentType)
	return "https://blobs.example/" + key, nil
}

func (f *fakeBlobs) Get(context.Context, string) ([]byte, error) { return nil, blob.ErrNotFound }

func newFixture(backend *fakeBackend, blobs *fakeBlobs) (*history.Engine, *Orchestrator) {
	e := history.New(domain.Snapshot{Pages: []domain.Page{
		domain.NewMasterPage(),
		{ID: "p1", Name: "Ideas", Keywords: []string{"Brain", "Light"}, Instructions: []string{}},
		{ID: "p2", Name: "Empty", Keywords: []string{}, Instructions: []string{}},
	}})
	return e, New(e, backend, blobs, "alice", "proj-1")
}

func TestGenerateHappyPath(t *testing.T) {
	backend := &fakeBackend{img: []byte("new-png")}
	blobs := &fakeBlobs{}
	e, o := newFixture(backend, blobs)

	res, err := o.Generate(context.Background(), Request{PageID: "p1", Mode: domain.ModeRethink})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(backend.prompt, "Brain, Light") {
		t.Fatalf("prompt missing joined keywords:\n%s", backend.prompt)
	}
	if strings.Contains(strings.ToLower(backend.prompt), "evolve") {
		t.Fatalf("rethink prompt contains evolve clause:\n%s", backend.prompt)
	}
	snap := e.Present()
	if snap.Pages[1].GeneratedImage != res.ImageURL {
		t.Fatalf("generatedImage not committed: %q vs %q", snap.Pages[1].GeneratedImage, res.ImageURL)
	}
	past, future := e.Depths()
	if past != 1 || future != 0 {
		t.Fatalf("expected past=1 future=0, got %d/%d", past, future)
	}
	if len(blobs.keys) != 1 || !strings.HasPrefix(blobs.keys[0], "alice/proj-1/p1/") {
		t.Fatalf("blob key not owner/project/page scoped: %v", blobs.keys)
	}
}

func TestGenerateEmptyKeywordsFailsBeforeIO(t *testing.T) {
	backend := &fakeBackend{img: []byte("x")}
	e, o := newFixture(backend, &fakeBlobs{})
	_, err := o.Generate(context.Background(), Request{PageID: "p2", Mode: domain.ModeRethink})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if backend.calls != 0 {
		t.Fatalf("validation failure still called backend %d times", backend.calls)
	}
	if past, _ := e.Depths(); past != 0 {
		t.Fatalf("validation failure changed history")
	}
}

func TestGenerateNoImageLeavesDocumentUnchanged(t *testing.T) {
	backend := &fakeBackend{err: genai.ErrNoImage}
	e, o := newFixture(backend, &fakeBlobs{})
	before := e.Present()
	_, err := o.Generate(context.Background(), Request{PageID: "p1", Mode: domain.ModeEvolve})
	if !errors.Is(err, genai.ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if !e.Present().Equal(before) {
		t.Fatalf("failed generation mutated the document")
	}
}

func TestGenerateBackendErrorSurfacesMessage(t *testing.T) {
	backend := &fakeBackend{err: &genai.APIError{StatusCode: 400, Message: "prompt was blocked"}}
	_, o := newFixture(backend, &fakeBlobs{})
	_, err := o.Generate(context.Background(), Request{PageID: "p1", Mode: domain.ModeRethink})
	if UserMessage(err) != "prompt was blocked" {
		t.Fatalf("user message not extracted: %q", UserMessage(err))
	}
}

func TestGenerateEvolveUsesProvidedBaseImage(t *testing.T) {
	backend := &fakeBackend{img: []byte("x")}
	_, o := newFixture(backend, &fakeBlobs{})
	base := []byte("current-canvas")
	_, err := o.Generate(context.Background(), Request{PageID: "p1", Mode: domain.ModeEvolve, BaseImage: base, BaseMime: "image/png"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if backend.baseLen != len(base) {
		t.Fatalf("evolve did not pass current rendering (len %d, want %d)", backend.baseLen, len(base))
	}
	// rethink synthesizes a blank canvas even when a rendering exists
	_, err = o.Generate(context.Background(), Request{PageID: "p1", Mode: domain.ModeRethink, BaseImage: base, BaseMime: "image/png"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if backend.baseLen == len(base) {
		t.Fatalf("rethink reused the existing rendering")
	}
}

func TestGenerateStoresAnsweredContentType(t *testing.T) {
	backend := &fakeBackend{img: []byte("jpeg-bytes"), mime: "image/jpeg"}
	blobs := &fakeBlobs{}
	_, o := newFixture(backend, blobs)
	_, err := o.Generate(context.Background(), Request{PageID: "p1", Mode: domain.ModeRethink})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(blobs.keys) != 1 || !strings.HasSuffix(blobs.keys[0], ".jpg") {
		t.Fatalf("jpeg answer not keyed .jpg: %v", blobs.keys)
	}
	if blobs.ctypes[0] != "image/jpeg" {
		t.Fatalf("jpeg answer stored as %q", blobs.ctypes[0])
	}
}

func TestGenerateRefusesUnknownContentType(t *testing.T) {
	backend := &fakeBackend{img: []byte("x"), mime: "image/tiff"}
	blobs := &fakeBlobs{}
	e, o := newFixture(backend, blobs)
	before := e.Present()
	_, err := o.Generate(context.Background(), Request{PageID: "p1", Mode: domain.ModeRethink})
	if err == nil {
		t.Fatalf("unsupported content type was accepted")
	}
	if len(blobs.keys) != 0 {
		t.Fatalf("unsupported content type still stored: %v", blobs.keys)
	}
	if !e.Present().Equal(before) {
		t.Fatalf("refused generation mutated the document")
	}
}

func TestGenerateMergesIntoFreshPresent(t *testing.T) {
	backend := &fakeBackend{img: []byte("x"), block: make(chan struct{})}
	blobs := &fakeBlobs{}
	e, o := newFixture(backend, blobs)

	done := make(chan error, 1)
	go func() {
		_, err := o.Generate(context.Background(), Request{PageID: "p1", Mode: domain.ModeRethink})
		done <- err
	}()
	// wait until the backend call is in flight, then edit the page
	for {
		backend.mu.Lock()
		started := backend.calls == 1
		backend.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}
	snap := e.Present()
	snap.Pages[1].Keywords = append(snap.Pages[1].Keywords, "Spark")
	e.Commit(history.Pages(snap.Pages))
	close(backend.block)
	if err := <-done; err != nil {
		t.Fatalf("Generate: %v", err)
	}
	final := e.Present()
	if len(final.Pages[1].Keywords) != 3 {
		t.Fatalf("mid-flight edit lost: %v", final.Pages[1].Keywords)
	}
	if final.Pages[1].GeneratedImage == "" {
		t.Fatalf("generated image missing after merge")
	}
}

func TestGenerateSamePageBusy(t *testing.T) {
	backend := &fakeBackend{img: []byte("x"), block: make(chan struct{})}
	_, o := newFixture(backend, &fakeBlobs{})
	done := make(chan error, 1)
	go func() {
		_, err := o.Generate(context.Background(), Request{PageID: "p1", Mode: domain.ModeRethink})
		done <- err
	}()
	for {
		backend.mu.Lock()
		started := backend.calls == 1
		backend.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}
	_, err := o.Generate(context.Background(), Request{PageID: "p1", Mode: domain.ModeRethink})
	if !errors.Is(err, ErrPageBusy) {
		t.Fatalf("overlapping generation not refused: %v", err)
	}
	close(backend.block)
	if err := <-done; err != nil {
		t.Fatalf("first generation failed: %v", err)
	}
}

func TestGenerateMasterPage(t *testing.T) {
	backend := &fakeBackend{img: []byte("x")}
	e, o := newFixture(backend, &fakeBlobs{})
	res, err := o.Generate(context.Background(), Request{PageID: domain.MasterPageID, Mode: domain.ModeRethink})
	if err != nil {
		t.Fatalf("master generate: %v", err)
	}
	if !strings.Contains(backend.prompt, `"Ideas"`) {
		t.Fatalf("master prompt missing topic page:\n%s", backend.prompt)
	}
	if strings.Contains(backend.prompt, `"Empty"`) {
		t.Fatalf("master prompt includes keyword-less page:\n%s", backend.prompt)
	}
	if e.Present().Pages[0].GeneratedImage != res.ImageURL {
		t.Fatalf("master image not committed")
	}
}
