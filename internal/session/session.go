/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package session owns the application state machine for one signed-in user:
// loading resolves a stored identity, dashboard lists projects, editor holds
// exactly one open project with its history, autosave, chat and generation
// wiring. Transitions are driven by a closed set of commands so every
// state/command pair has a defined outcome.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"criadormental/internal/blob"
	"criadormental/internal/chat"
	"criadormental/internal/domain"
	"criadormental/internal/generate"
	applog "criadormental/internal/log"
	"criadormental/internal/storage"
)

// State is the application-level mode.
type State int

const (
	StateLoading State = iota
	StateAuth
	StateDashboard
	StateEditor
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuth:
		return "auth"
	case StateDashboard:
		return "dashboard"
	case StateEditor:
		return "editor"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Identity is the authenticated user.
type Identity struct {
	Subject string
	Name    string
}

// Authenticator is the identity-provider port. Resolve restores a previously
// established identity, if any; SignOut invalidates it upstream.
type Authenticator interface {
	Resolve(ctx context.Context) (Identity, bool, error)
	SignOut(ctx context.Context) error
}

// AIBackend bundles the two generative calls the editor needs. *genai.Client
// satisfies it.
type AIBackend interface {
	generate.ImageBackend
	chat.Backend
}

// ImageLoader resolves a durable image URL to its bytes, for evolve-mode
// base images and exports.
type ImageLoader func(ctx context.Context, url string) ([]byte, error)

// Command is the closed set of state-machine inputs.
type Command interface{ isCommand() }

// Start resolves the stored identity and leaves the loading state.
type Start struct{}

// SignIn installs a fresh identity established by the caller.
type SignIn struct{ Identity Identity }

// SignOut clears all in-memory state and returns to auth.
type SignOut struct{}

// OpenProject loads a project and enters the editor.
type OpenProject struct{ ProjectID string }

// CloseProject flushes pending saves and returns to the dashboard.
type CloseProject struct{}

func (Start) isCommand()        {}
func (SignIn) isCommand()       {}
func (SignOut) isCommand()      {}
func (OpenProject) isCommand()  {}
func (CloseProject) isCommand() {}

// ErrInvalidTransition is returned when a command is not valid in the
// current state. The state is left unchanged.
var ErrInvalidTransition = errors.New("command not valid in current state")

// App is the per-user application instance.
type App struct {
	auth   Authenticator
	store  storage.Store
	blobs  blob.Store
	ai     AIBackend
	loader ImageLoader
	delay  time.Duration
	log    *slog.Logger

	mu       sync.Mutex
	state    State
	identity Identity
	editor   *Editor
}

// NewApp creates an application in the loading state. autosaveDelay <= 0
// uses the default debounce window.
func NewApp(auth Authenticator, store storage.Store, blobs blob.Store, ai AIBackend, loader ImageLoader, autosaveDelay time.Duration) *App {
	return &App{
		auth:   auth,
		store:  store,
		blobs:  blobs,
		ai:     ai,
		loader: loader,
		delay:  autosaveDelay,
		log:    applog.WithComponent("session"),
		state:  StateLoading,
	}
}

// State reports the current application state.
func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Identity returns the signed-in identity, if any.
func (a *App) Identity() (Identity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity, a.identity.Subject != ""
}

// Editor returns the open editor, if the app is in the editor state.
func (a *App) Editor() (*Editor, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.editor, a.editor != nil
}

// Dispatch applies one command and returns the resulting state. Commands
// that are not valid in the current state return ErrInvalidTransition and
// leave everything untouched; I/O failures likewise keep the prior state.
func (a *App) Dispatch(ctx context.Context, cmd Command) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch c := cmd.(type) {
	case Start:
		if a.state != StateLoading {
			return a.state, ErrInvalidTransition
		}
		id, ok, err := a.auth.Resolve(ctx)
		if err != nil {
			a.log.Warn("identity resolution failed", slog.String("error", err.Error()))
			a.state = StateAuth
			return a.state, nil
		}
		if ok {
			a.identity = id
			a.state = StateDashboard
		} else {
			a.state = StateAuth
		}
		return a.state, nil

	case SignIn:
		if a.state != StateAuth {
			return a.state, ErrInvalidTransition
		}
		if c.Identity.Subject == "" {
			return a.state, fmt.Errorf("sign in: empty subject")
		}
		a.identity = c.Identity
		a.state = StateDashboard
		return a.state, nil

	case SignOut:
		if a.state != StateDashboard && a.state != StateEditor {
			return a.state, ErrInvalidTransition
		}
		if a.editor != nil {
			if err := a.editor.Close(ctx); err != nil {
				a.log.Warn("editor close during sign-out", slog.String("error", err.Error()))
			}
			a.editor = nil
		}
		a.identity = Identity{}
		if err := a.auth.SignOut(ctx); err != nil {
			a.log.Warn("upstream sign-out failed", slog.String("error", err.Error()))
		}
		a.state = StateAuth
		return a.state, nil

	case OpenProject:
		if a.state != StateDashboard {
			return a.state, ErrInvalidTransition
		}
		p, err := a.store.Get(ctx, c.ProjectID)
		if err != nil {
			return a.state, fmt.Errorf("open project: %w", err)
		}
		// foreign projects look exactly like missing ones
		if p.Owner != a.identity.Subject {
			return a.state, fmt.Errorf("open project: %w", storage.ErrNotFound)
		}
		a.editor = newEditor(p, a.store, a.blobs, a.ai, a.loader, a.delay)
		a.state = StateEditor
		return a.state, nil

	case CloseProject:
		if a.state != StateEditor {
			return a.state, ErrInvalidTransition
		}
		if err := a.editor.Close(ctx); err != nil {
			a.log.Warn("editor close", slog.String("error", err.Error()))
		}
		a.editor = nil
		a.state = StateDashboard
		return a.state, nil

	default:
		return a.state, fmt.Errorf("%w: unknown command %T", ErrInvalidTransition, cmd)
	}
}

// Projects lists the signed-in user's projects, newest modified first.
func (a *App) Projects(ctx context.Context) ([]*domain.Project, error) {
	owner, err := a.requireSignedIn()
	if err != nil {
		return nil, err
	}
	return a.store.ListByOwner(ctx, owner)
}

// CreateProject inserts a fresh single-master-page project for the user.
func (a *App) CreateProject(ctx context.Context, name string) (*domain.Project, error) {
	owner, err := a.requireSignedIn()
	if err != nil {
		return nil, err
	}
	p := domain.NewProject(owner, name)
	if err := a.store.Insert(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// DeleteProject removes one of the user's projects. Blobs are kept; keys
// are unique so they can never collide with later projects.
func (a *App) DeleteProject(ctx context.Context, id string) error {
	owner, err := a.requireSignedIn()
	if err != nil {
		return err
	}
	p, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Owner != owner {
		return storage.ErrNotFound
	}
	return a.store.Delete(ctx, id)
}

func (a *App) requireSignedIn() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateDashboard && a.state != StateEditor {
		return "", ErrInvalidTransition
	}
	return a.identity.Subject, nil
}
