/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package server is the HTTP surface of the application. It authenticates
// requests with HMAC-signed bearer tokens, keeps one session.App per
// subject, and maps the editor, dashboard and export operations onto a
// go-chi router. The presentation layer is a plain HTTP client of this API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"criadormental/internal/blob"
	applog "criadormental/internal/log"
	"criadormental/internal/session"
	"criadormental/internal/storage"
	"criadormental/internal/version"
)

// Options wires the server's collaborators.
type Options struct {
	Secret        string
	Store         storage.Store
	Blobs         blob.Store
	AI            session.AIBackend
	Loader        session.ImageLoader
	AutosaveDelay time.Duration
	// MediaStore enables GET /media/* when image bytes are served by this
	// process (filesystem blob store). Nil when URLs are externally
	// resolvable.
	MediaStore *blob.FSStore
	// TokenTTL bounds issued token lifetimes. Zero means one hour.
	TokenTTL time.Duration
}

// Server owns the per-subject application instances.
type Server struct {
	opts Options
	log  *slog.Logger

	mu   sync.Mutex
	apps map[string]*session.App
}

// New creates a server. Options.Secret must be non-empty.
func New(opts Options) *Server {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	return &Server{
		opts: opts,
		log:  applog.WithComponent("server"),
		apps: map[string]*session.App{},
	}
}

// tokenIdentity satisfies session.Authenticator for a subject that the HTTP
// layer has already verified.
type tokenIdentity struct{ id session.Identity }

func (t tokenIdentity) Resolve(context.Context) (session.Identity, bool, error) {
	return t.id, true, nil
}

func (tokenIdentity) SignOut(context.Context) error { return nil }

// app returns the subject's application instance, creating it on first use.
func (s *Server) app(ctx context.Context, sub string) *session.App {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.apps[sub]; ok {
		return a
	}
	a := session.NewApp(
		tokenIdentity{session.Identity{Subject: sub, Name: sub}},
		s.opts.Store,
		s.opts.Blobs,
		s.opts.AI,
		s.opts.Loader,
		s.opts.AutosaveDelay,
	)
	if _, err := a.Dispatch(ctx, session.Start{}); err != nil {
		s.log.Warn("session start", slog.String("subject", sub), slog.String("error", err.Error()))
	}
	s.apps[sub] = a
	return a
}

// Shutdown closes every open editor, flushing pending autosaves.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	apps := make([]*session.App, 0, len(s.apps))
	for _, a := range s.apps {
		apps = append(apps, a)
	}
	s.mu.Unlock()
	for _, a := range apps {
		if a.State() == session.StateEditor {
			if _, err := a.Dispatch(ctx, session.CloseProject{}); err != nil {
				s.log.Warn("editor close on shutdown", slog.String("error", err.Error()))
			}
		}
	}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(version.String()))
	})
	r.Post("/api/auth/token", s.handleToken)

	if s.opts.MediaStore != nil {
		r.Get("/media/*", s.handleMedia)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(s.opts.Secret))

		r.Route("/api/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)
			r.Delete("/{id}", s.handleDeleteProject)
			r.Post("/{id}/open", s.handleOpenProject)
		})

		r.Route("/api/editor", func(r chi.Router) {
			r.Get("/", s.handleEditorState)
			r.Post("/close", s.handleCloseProject)
			r.Post("/commit", s.handleCommit)
			r.Post("/undo", s.handleUndo)
			r.Post("/redo", s.handleRedo)
			r.Post("/pages", s.handleAddPage)
			r.Delete("/pages/{id}", s.handleRemovePage)
			r.Post("/active", s.handleSetActive)
			r.Post("/focus", s.handleFocus)
			r.Post("/generate", s.handleGenerate)
			r.Post("/chat", s.handleChat)
			r.Post("/versions/{pageID}", s.handleCheckpoint)
			r.Post("/versions/{pageID}/restore", s.handleRestore)
			r.Get("/export/json", s.handleExportJSON)
			r.Get("/export/zip", s.handleExportZIP)
			r.Get("/export/pdf", s.handleExportPDF)
			r.Post("/import", s.handleImport)
		})

		r.Post("/api/auth/logout", s.handleLogout)
	})

	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	type pinger interface{ Ping(context.Context) error }
	if p, ok := s.opts.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
