/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

// This file defines the core data model for Criador Mental: projects made of
// named pages of keywords and instructions, plus the snapshot type that the
// edit history operates on. Everything here serializes to JSON; decoded
// images and other runtime handles are deliberately kept out of the model.

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MasterPageID is the reserved id of the synthesizing master page. Exactly
// one page per project carries it, and it is always page 0.
const MasterPageID = "master"

// Mode selects how a generation request treats the existing drawing.
type Mode string

const (
	// ModeEvolve modifies and extends the current drawing.
	ModeEvolve Mode = "evolve"
	// ModeRethink regenerates from a blank canvas.
	ModeRethink Mode = "rethink"
)

// Valid reports whether m is one of the two known modes.
func (m Mode) Valid() bool { return m == ModeEvolve || m == ModeRethink }

// Page is a named unit of content within a project.
// Keywords and instructions are ordered; focus selections reference them by
// index, so order is meaningful.
type Page struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Keywords       []string `json:"keywords"`
	Instructions   []string `json:"instructions"`
	GeneratedImage string   `json:"generatedImage,omitempty"`
	// Versions is an append-only list of image references captured as
	// explicit user checkpoints. It is distinct from undo/redo history.
	Versions []string `json:"versions,omitempty"`
	// ContextPageIDs lists other non-master pages whose content is folded
	// into this page's generation prompt.
	ContextPageIDs []string `json:"contextPageIds,omitempty"`
}

// IsMaster reports whether the page is the master page.
func (p Page) IsMaster() bool { return p.ID == MasterPageID }

// Clone returns a deep copy of the page.
func (p Page) Clone() Page {
	c := p
	c.Keywords = append([]string(nil), p.Keywords...)
	c.Instructions = append([]string(nil), p.Instructions...)
	c.Versions = append([]string(nil), p.Versions...)
	c.ContextPageIDs = append([]string(nil), p.ContextPageIDs...)
	return c
}

// Equal reports deep structural equality with other.
func (p Page) Equal(other Page) bool {
	return p.ID == other.ID &&
		p.Name == other.Name &&
		p.GeneratedImage == other.GeneratedImage &&
		equalStrings(p.Keywords, other.Keywords) &&
		equalStrings(p.Instructions, other.Instructions) &&
		equalStrings(p.Versions, other.Versions) &&
		equalStrings(p.ContextPageIDs, other.ContextPageIDs)
}

// Snapshot is the unit of undo/redo: the page list plus the focused page.
// Snapshots are treated as immutable once handed to the history engine; new
// ones are produced by Clone.
type Snapshot struct {
	Pages           []Page `json:"pages"`
	ActivePageIndex int    `json:"activePageIndex"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	pages := make([]Page, len(s.Pages))
	for i, p := range s.Pages {
		pages[i] = p.Clone()
	}
	return Snapshot{Pages: pages, ActivePageIndex: s.ActivePageIndex}
}

// Equal reports deep structural equality with other.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.ActivePageIndex != other.ActivePageIndex || len(s.Pages) != len(other.Pages) {
		return false
	}
	for i := range s.Pages {
		if !s.Pages[i].Equal(other.Pages[i]) {
			return false
		}
	}
	return true
}

// Page returns the page with the given id, or false if absent.
func (s Snapshot) Page(id string) (Page, bool) {
	for _, p := range s.Pages {
		if p.ID == id {
			return p, true
		}
	}
	return Page{}, false
}

// Project is the full editable and persisted unit.
type Project struct {
	ID              string    `json:"id"`
	Owner           string    `json:"owner"`
	Name            string    `json:"name"`
	Pages           []Page    `json:"pages"`
	ActivePageIndex int       `json:"activePageIndex"`
	CreatedAt       time.Time `json:"createdAt"`
	LastModified    time.Time `json:"lastModified"`
}

// Snapshot extracts the editable state of the project as a deep copy.
func (pr Project) Snapshot() Snapshot {
	return Snapshot{Pages: pr.Pages, ActivePageIndex: pr.ActivePageIndex}.Clone()
}

// ApplySnapshot replaces the editable state of the project and bumps the
// modification timestamp.
func (pr *Project) ApplySnapshot(s Snapshot) {
	c := s.Clone()
	pr.Pages = c.Pages
	pr.ActivePageIndex = c.ActivePageIndex
	pr.LastModified = time.Now().UTC()
}

// NewPage constructs a page with empty collections. Pure construction; it
// never fails.
func NewPage(id, name string) Page {
	return Page{ID: id, Name: name, Keywords: []string{}, Instructions: []string{}}
}

// NewPageID returns a fresh unique page id.
func NewPageID() string { return uuid.NewString() }

// NewMasterPage constructs the reserved master page.
func NewMasterPage() Page { return NewPage(MasterPageID, "Master") }

// NewProject creates an empty project for owner containing only the master
// page.
func NewProject(owner, name string) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:              uuid.NewString(),
		Owner:           owner,
		Name:            name,
		Pages:           []Page{NewMasterPage()},
		ActivePageIndex: 0,
		CreatedAt:       now,
		LastModified:    now,
	}
}

// Validate checks the structural invariants of a snapshot:
// exactly one master page at index 0, empty master collections, no page
// referencing itself or the master page as context, unique page ids, and an
// active index within bounds.
func Validate(s Snapshot) error {
	if len(s.Pages) == 0 {
		return errors.New("snapshot has no pages")
	}
	if !s.Pages[0].IsMaster() {
		return errors.New("page 0 must be the master page")
	}
	seen := make(map[string]bool, len(s.Pages))
	for i, p := range s.Pages {
		if p.ID == "" {
			return fmt.Errorf("page %d has empty id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
		if p.IsMaster() {
			if i != 0 {
				return fmt.Errorf("master page at index %d, must be 0", i)
			}
			if len(p.Keywords) != 0 || len(p.Instructions) != 0 {
				return errors.New("master page keywords/instructions must be empty")
			}
			continue
		}
		for _, ref := range p.ContextPageIDs {
			if ref == p.ID {
				return fmt.Errorf("page %q references itself as context", p.ID)
			}
			if ref == MasterPageID {
				return fmt.Errorf("page %q references the master page as context", p.ID)
			}
		}
	}
	if s.ActivePageIndex < 0 || s.ActivePageIndex >= len(s.Pages) {
		return fmt.Errorf("active page index %d out of range [0,%d)", s.ActivePageIndex, len(s.Pages))
	}
	return nil
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
