/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import "testing"

func TestNewProjectHasOnlyMasterPage(t *testing.T) {
	pr := NewProject("alice", "Mind Map")
	if len(pr.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pr.Pages))
	}
	if !pr.Pages[0].IsMaster() {
		t.Fatalf("page 0 is not the master page")
	}
	if err := Validate(pr.Snapshot()); err != nil {
		t.Fatalf("fresh project invalid: %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := Snapshot{Pages: []Page{NewMasterPage(), {ID: "p1", Name: "Ideas", Keywords: []string{"Brain"}, Instructions: []string{"bold"}}}}
	c := s.Clone()
	c.Pages[1].Keywords[0] = "changed"
	c.Pages[1].Name = "renamed"
	if s.Pages[1].Keywords[0] != "Brain" || s.Pages[1].Name != "Ideas" {
		t.Fatalf("clone shares storage with original")
	}
}

func TestSnapshotEqual(t *testing.T) {
	a := Snapshot{Pages: []Page{NewMasterPage(), {ID: "p1", Name: "Ideas", Keywords: []string{"Brain", "Light"}}}}
	b := a.Clone()
	if !a.Equal(b) {
		t.Fatalf("clone not equal to original")
	}
	b.Pages[1].Keywords[1] = "Dark"
	if a.Equal(b) {
		t.Fatalf("equality missed keyword change")
	}
	b = a.Clone()
	b.ActivePageIndex = 1
	if a.Equal(b) {
		t.Fatalf("equality missed active index change")
	}
}

func TestValidateRejectsBrokenSnapshots(t *testing.T) {
	cases := []struct {
		name string
		s    Snapshot
	}{
		{"empty", Snapshot{}},
		{"no master", Snapshot{Pages: []Page{NewPage("p1", "Ideas")}}},
		{"master with keywords", Snapshot{Pages: []Page{{ID: MasterPageID, Name: "Master", Keywords: []string{"x"}}}}},
		{"self context", Snapshot{Pages: []Page{NewMasterPage(), {ID: "p1", Name: "A", ContextPageIDs: []string{"p1"}}}}},
		{"master context", Snapshot{Pages: []Page{NewMasterPage(), {ID: "p1", Name: "A", ContextPageIDs: []string{MasterPageID}}}}},
		{"duplicate id", Snapshot{Pages: []Page{NewMasterPage(), NewPage("p1", "A"), NewPage("p1", "B")}}},
		{"active out of range", Snapshot{Pages: []Page{NewMasterPage()}, ActivePageIndex: 3}},
	}
	for _, tc := range cases {
		if err := Validate(tc.s); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestModeValid(t *testing.T) {
	if !ModeEvolve.Valid() || !ModeRethink.Valid() {
		t.Fatalf("known modes reported invalid")
	}
	if Mode("paint").Valid() {
		t.Fatalf("unknown mode reported valid")
	}
}
