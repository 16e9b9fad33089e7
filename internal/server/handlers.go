/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"criadormental/internal/domain"
	"criadormental/internal/export"
	"criadormental/internal/generate"
	"criadormental/internal/history"
	"criadormental/internal/session"
	"criadormental/internal/storage"
	"criadormental/internal/telemetry"
)

// request bodies are bounded; documents are small JSON structures.
const maxBody = 8 << 20

func decodeBody(r *http.Request, v any) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	_ = r.Body.Close()
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject    string `json:"subject"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("subject is required"))
		return
	}
	ttl := s.opts.TokenTTL
	if req.TTLSeconds > 0 && time.Duration(req.TTLSeconds)*time.Second < ttl {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	exp := time.Now().Add(ttl)
	tok, err := signToken(s.opts.Secret, req.Subject, exp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tok,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sub := subject(r)
	app := s.app(r.Context(), sub)
	if _, err := app.Dispatch(r.Context(), session.SignOut{}); err != nil && !errors.Is(err, session.ErrInvalidTransition) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.mu.Lock()
	delete(s.apps, sub)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// projectSummary is the dashboard listing shape.
type projectSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Pages        int       `json:"pages"`
	LastModified time.Time `json:"lastModified"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	app := s.app(r.Context(), subject(r))
	list, err := app.Projects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]projectSummary, 0, len(list))
	for _, p := range list {
		out = append(out, projectSummary{ID: p.ID, Name: p.Name, Pages: len(p.Pages), LastModified: p.LastModified})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("name is required"))
		return
	}
	app := s.app(r.Context(), subject(r))
	p, err := app.CreateProject(r.Context(), req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectSummary{ID: p.ID, Name: p.Name, Pages: len(p.Pages), LastModified: p.LastModified})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	app := s.app(r.Context(), subject(r))
	err := app.DeleteProject(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleOpenProject(w http.ResponseWriter, r *http.Request) {
	app := s.app(r.Context(), subject(r))
	// an already open editor is closed first; its pending saves flush
	if app.State() == session.StateEditor {
		if _, err := app.Dispatch(r.Context(), session.CloseProject{}); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	_, err := app.Dispatch(r.Context(), session.OpenProject{ProjectID: chi.URLParam(r, "id")})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, session.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeEditorState(w, r)
}

// editor fetches the subject's open editor or reports 409.
func (s *Server) editor(w http.ResponseWriter, r *http.Request) (*session.Editor, *session.App, bool) {
	app := s.app(r.Context(), subject(r))
	ed, ok := app.Editor()
	if !ok {
		writeError(w, http.StatusConflict, fmt.Errorf("no project is open"))
		return nil, nil, false
	}
	return ed, app, true
}

type editorState struct {
	ProjectID         string          `json:"projectId"`
	Name              string          `json:"name"`
	Document          domain.Snapshot `json:"document"`
	CanUndo           bool            `json:"canUndo"`
	CanRedo           bool            `json:"canRedo"`
	FocusKeywords     []int           `json:"focusKeywords"`
	FocusInstructions []int           `json:"focusInstructions"`
}

func (s *Server) writeEditorState(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	kw, instr := ed.Focus()
	writeJSON(w, http.StatusOK, editorState{
		ProjectID:         ed.ProjectID(),
		Name:              ed.ProjectName(),
		Document:          ed.Present(),
		CanUndo:           ed.CanUndo(),
		CanRedo:           ed.CanRedo(),
		FocusKeywords:     kw,
		FocusInstructions: instr,
	})
}

func (s *Server) handleEditorState(w http.ResponseWriter, r *http.Request) {
	s.writeEditorState(w, r)
}

func (s *Server) handleCloseProject(w http.ResponseWriter, r *http.Request) {
	_, app, ok := s.editor(w, r)
	if !ok {
		return
	}
	if _, err := app.Dispatch(r.Context(), session.CloseProject{}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	var req struct {
		Pages           []domain.Page `json:"pages"`
		ActivePageIndex *int          `json:"activePageIndex"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	committed, err := ed.Commit(history.Partial{Pages: req.Pages, ActivePageIndex: req.ActivePageIndex})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"committed": committed,
		"canUndo":   ed.CanUndo(),
		"canRedo":   ed.CanRedo(),
	})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	moved := ed.Undo()
	writeJSON(w, http.StatusOK, map[string]any{"moved": moved, "document": ed.Present(), "canUndo": ed.CanUndo(), "canRedo": ed.CanRedo()})
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	moved := ed.Redo()
	writeJSON(w, http.StatusOK, map[string]any{"moved": moved, "document": ed.Present(), "canUndo": ed.CanUndo(), "canRedo": ed.CanRedo()})
}

func (s *Server) handleAddPage(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page, _ := ed.AddPage(req.Name)
	writeJSON(w, http.StatusCreated, page)
}

func (s *Server) handleRemovePage(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	err := ed.RemovePage(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	var req struct {
		Index int `json:"index"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := ed.SetActivePage(req.Index); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	var req struct {
		Kind  string `json:"kind"` // keyword | instruction
		Index int    `json:"index"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var err error
	switch req.Kind {
	case "keyword":
		err = ed.ToggleFocusKeyword(req.Index)
	case "instruction":
		err = ed.ToggleFocusInstruction(req.Index)
	default:
		err = fmt.Errorf("unknown focus kind %q", req.Kind)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kw, instr := ed.Focus()
	writeJSON(w, http.StatusOK, map[string]any{"focusKeywords": kw, "focusInstructions": instr})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	var req struct {
		PageID string      `json:"pageId"`
		Mode   domain.Mode `json:"mode"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := ed.Generate(r.Context(), req.PageID, req.Mode)
	if err != nil {
		telemetry.Event("generate_failure", map[string]any{"mode": string(req.Mode)})
		var verr *generate.ValidationError
		status := http.StatusBadGateway
		switch {
		case errors.As(err, &verr):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, generate.ErrPageBusy):
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{"error": generate.UserMessage(err)})
		return
	}
	telemetry.Event("generate_success", map[string]any{"mode": string(req.Mode)})
	writeJSON(w, http.StatusOK, map[string]any{"imageUrl": res.ImageURL, "document": ed.Present()})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reply, err := ed.Chat().Send(r.Context(), req.Message)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reply": reply, "transcript": ed.Chat().Messages()})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	if err := ed.CheckpointVersion(chi.URLParam(r, "pageID")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	var req struct {
		Version int `json:"version"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := ed.RestoreVersion(chi.URLParam(r, "pageID"), req.Version); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeEditorState(w, r)
}

func (s *Server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	data, err := export.JSON(ed.ProjectName(), ed.Present())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	telemetry.Event("export", map[string]any{"format": "json"})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", attachment(ed.ProjectName(), "json"))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleExportZIP(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	telemetry.Event("export", map[string]any{"format": "zip"})
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment(ed.ProjectName(), "zip"))
	w.WriteHeader(http.StatusOK)
	if err := export.ZIP(r.Context(), w, ed.ProjectName(), ed.Present(), export.ImageFetch(s.opts.Loader)); err != nil {
		s.log.Warn("zip export", "error", err.Error())
	}
}

func (s *Server) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	telemetry.Event("export", map[string]any{"format": "pdf"})
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", attachment(ed.ProjectName(), "pdf"))
	w.WriteHeader(http.StatusOK)
	if err := export.PDF(r.Context(), w, ed.ProjectName(), ed.Present(), export.ImageFetch(s.opts.Loader)); err != nil {
		s.log.Warn("pdf export", "error", err.Error())
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	ed, _, ok := s.editor(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	_ = r.Body.Close()
	_, snap, err := export.ParseJSON(data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	ed.ResetDocument(snap)
	s.writeEditorState(w, r)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	data, err := s.opts.MediaStore.Get(r.Context(), key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	ctype := "image/png"
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		ctype = t
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func attachment(name, ext string) string {
	safe := name
	if safe == "" {
		safe = "project"
	}
	return fmt.Sprintf("attachment; filename=%q", safe+"."+ext)
}
