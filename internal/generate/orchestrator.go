/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package generate drives one generation action end to end: validate,
// pick a base image, compose the prompt, call the AI backend, persist the
// result and commit it into history. One network call, no automatic
// retries; failure is terminal per attempt and surfaced to the user.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"criadormental/internal/blob"
	"criadormental/internal/canvas"
	"criadormental/internal/domain"
	"criadormental/internal/genai"
	"criadormental/internal/history"
	applog "criadormental/internal/log"
	"criadormental/internal/prompt"
)

// ValidationError is a precondition failure detected before any I/O.
type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return e.Reason }

// ErrPageBusy is returned when a generation for the same page is already in
// flight.
var ErrPageBusy = errors.New("a generation for this page is already running")

// ImageBackend is the slice of the AI client the orchestrator needs.
type ImageBackend interface {
	GenerateImage(ctx context.Context, baseImage []byte, mimeType, prompt string) ([]byte, string, error)
}

// Request describes one generation action.
type Request struct {
	PageID            string
	Mode              domain.Mode
	FocusKeywords     []int
	FocusInstructions []int
	// BaseImage is the current rendering of the page, when the caller has
	// one. Nil means no current visual state.
	BaseImage []byte
	BaseMime  string
}

// Result carries the durable reference of the freshly generated image.
type Result struct {
	ImageURL string
}

// Orchestrator wires the engine, the AI backend and blob storage for one
// open project.
type Orchestrator struct {
	engine *history.Engine
	ai     ImageBackend
	blobs  blob.Store

	owner     string
	projectID string

	canvasWidth  int
	canvasHeight int

	log *slog.Logger
}

// New creates an orchestrator for the given open project.
func New(engine *history.Engine, ai ImageBackend, blobs blob.Store, owner, projectID string) *Orchestrator {
	return &Orchestrator{
		engine:       engine,
		ai:           ai,
		blobs:        blobs,
		owner:        owner,
		projectID:    projectID,
		canvasWidth:  canvas.DefaultWidth,
		canvasHeight: canvas.DefaultHeight,
		log:          applog.WithComponent("generate"),
	}
}

// Generate runs the full flow for req. On success the engine's present has
// the target page's generatedImage replaced; on any failure the document is
// unchanged. The caller owns the focus sets and must clear them after the
// call, success or not.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (Result, error) {
	if !req.Mode.Valid() {
		return Result{}, &ValidationError{Reason: fmt.Sprintf("unknown mode %q", req.Mode)}
	}
	snap := o.engine.Present()
	page, ok := snap.Page(req.PageID)
	if !ok {
		return Result{}, &ValidationError{Reason: fmt.Sprintf("page %q does not exist", req.PageID)}
	}
	if !page.IsMaster() && len(page.Keywords) == 0 {
		return Result{}, &ValidationError{Reason: "add at least one keyword before generating"}
	}

	if !o.engine.BeginGeneration(req.PageID) {
		return Result{}, ErrPageBusy
	}
	defer o.engine.EndGeneration(req.PageID)

	base := req.BaseImage
	mime := req.BaseMime
	if req.Mode != domain.ModeEvolve || len(base) == 0 {
		blank, err := canvas.Blank(o.canvasWidth, o.canvasHeight, page.Name)
		if err != nil {
			return Result{}, fmt.Errorf("prepare base canvas: %w", err)
		}
		base = blank
		mime = canvas.MimePNG
	}
	if mime == "" {
		mime = canvas.MimePNG
	}

	text := prompt.Compose(snap.Pages, page, req.Mode, req.FocusKeywords, req.FocusInstructions)

	l := applog.WithOperation(o.log, "generate").With(
		slog.String("page", req.PageID), slog.String("mode", string(req.Mode)))
	l.Info("calling image backend", slog.Int("prompt_len", len(text)))

	img, imgMime, err := o.ai.GenerateImage(ctx, base, mime, text)
	if err != nil {
		l.Warn("generation failed", slog.Any("err", err))
		return Result{}, err
	}
	if imgMime == "" {
		imgMime = canvas.MimePNG
	}
	ext, supported := blob.Ext(imgMime)
	if !supported {
		l.Warn("backend answered unsupported image type", slog.String("mime", imgMime))
		return Result{}, fmt.Errorf("backend answered unsupported image type %q", imgMime)
	}

	key := blob.ImageKey(o.owner, o.projectID, req.PageID, ext)
	url, err := o.blobs.Put(ctx, key, img, imgMime)
	if err != nil {
		l.Error("storing generated image failed", slog.Any("err", err))
		return Result{}, fmt.Errorf("store generated image: %w", err)
	}

	// Re-read present: the user may have edited other fields while the
	// backend call was in flight. Only generatedImage of the target page is
	// touched here; Commit's merge keeps everything else as it is now.
	fresh := o.engine.Present()
	updated := false
	for i := range fresh.Pages {
		if fresh.Pages[i].ID == req.PageID {
			fresh.Pages[i].GeneratedImage = url
			updated = true
			break
		}
	}
	if !updated {
		// page was deleted mid-flight; keep the blob, drop the commit
		l.Warn("target page vanished during generation", slog.String("url", url))
		return Result{ImageURL: url}, nil
	}
	if _, err := o.engine.Commit(history.Pages(fresh.Pages)); err != nil {
		return Result{}, fmt.Errorf("commit generated image: %w", err)
	}
	l.Info("generation committed", slog.String("url", url))
	return Result{ImageURL: url}, nil
}

// UserMessage converts any error from Generate into one user-facing line.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	if errors.Is(err, ErrPageBusy) {
		return "This page is already being generated. Wait for it to finish."
	}
	return genai.UserMessage(err)
}
