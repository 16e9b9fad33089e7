/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package prompt composes the text sent to the image backend. Compose is a
// pure function; clause order is part of the contract with the downstream
// model and must stay stable: coverage, mode, focus priority, cross-page
// context, instruction summary, keyword summary.
package prompt

import (
	"fmt"
	"strings"

	"criadormental/internal/domain"
)

const (
	coverageClause = "Every keyword and instruction below must be represented in the drawing; none may be dropped."
	evolveClause   = "Modify and extend the provided drawing; do not restart it from scratch."
	rethinkClause  = "Regenerate the drawing from a blank canvas."
	masterIntro    = "Create one cohesive mind map drawing that unifies all of the following topics into a single picture."
	masterEvolve   = "Evolve the provided combined drawing; do not restart it from scratch."
)

// Compose builds the generation prompt for target. pages is the full page
// list of the current snapshot in document order. focusKeywords and
// focusInstructions are indices into the target page's collections; entries
// out of range are skipped rather than misattributed.
func Compose(pages []domain.Page, target domain.Page, mode domain.Mode, focusKeywords, focusInstructions []int) string {
	if target.IsMaster() {
		return composeMaster(pages, mode)
	}

	var b strings.Builder
	b.WriteString(coverageClause)
	b.WriteString("\n")
	if mode == domain.ModeEvolve {
		b.WriteString(evolveClause)
	} else {
		b.WriteString(rethinkClause)
	}
	b.WriteString("\n")

	if focused := resolveFocus(target, focusKeywords, focusInstructions); len(focused) > 0 {
		fmt.Fprintf(&b, "Highest priority, emphasize above all else: %s.\n", strings.Join(focused, ", "))
	}

	for _, id := range target.ContextPageIDs {
		ctx, ok := pageByID(pages, id)
		if !ok {
			continue // referenced page no longer exists
		}
		fmt.Fprintf(&b, "Context from page %q: keywords: %s; instructions: %s.\n",
			ctx.Name, joinOr(ctx.Keywords, "none"), joinSemiOr(ctx.Instructions, "none"))
	}

	fmt.Fprintf(&b, "Instructions: %s.\n", joinSemiOr(target.Instructions, "none"))
	fmt.Fprintf(&b, "Keywords: %s.", joinOr(target.Keywords, "none"))
	return b.String()
}

// composeMaster synthesizes all non-master pages into one unified request.
// Pages without keywords contribute nothing and are skipped.
func composeMaster(pages []domain.Page, mode domain.Mode) string {
	var b strings.Builder
	b.WriteString(masterIntro)
	b.WriteString("\n")
	for _, p := range pages {
		if p.IsMaster() || len(p.Keywords) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Topic %q: keywords: %s; instructions: %s.\n",
			p.Name, strings.Join(p.Keywords, ", "), joinSemiOr(p.Instructions, "none"))
	}
	if mode == domain.ModeEvolve {
		b.WriteString(masterEvolve)
	}
	return strings.TrimRight(b.String(), "\n")
}

func resolveFocus(target domain.Page, keywordIdx, instructionIdx []int) []string {
	var out []string
	for _, i := range keywordIdx {
		if i >= 0 && i < len(target.Keywords) {
			out = append(out, target.Keywords[i])
		}
	}
	for _, i := range instructionIdx {
		if i >= 0 && i < len(target.Instructions) {
			out = append(out, target.Instructions[i])
		}
	}
	return out
}

func pageByID(pages []domain.Page, id string) (domain.Page, bool) {
	for _, p := range pages {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Page{}, false
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}

func joinSemiOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, "; ")
}
