/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export renders a project into its interchange formats: plain JSON
// for re-import, a ZIP of per-page folders, and a printable PDF. Import is
// all-or-nothing: the payload is checked against the document schema and the
// domain invariants before any state changes hands.
package export

import (
	"encoding/json"
	"fmt"

	gojsonschema "github.com/xeipuuv/gojsonschema"

	"criadormental/internal/domain"
)

// Document is the JSON interchange form. It carries editable content only;
// runtime handles and decoded images never appear here.
type Document struct {
	Name            string        `json:"name"`
	Pages           []domain.Page `json:"pages"`
	ActivePageIndex int           `json:"activePageIndex"`
}

// documentSchema is the structural contract for imports.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "pages", "activePageIndex"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "activePageIndex": {"type": "integer", "minimum": 0},
    "pages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "name", "keywords", "instructions"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "keywords": {"type": "array", "items": {"type": "string"}},
          "instructions": {"type": "array", "items": {"type": "string"}},
          "generatedImage": {"type": "string"},
          "versions": {"type": "array", "items": {"type": "string"}},
          "contextPageIds": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

// JSON serializes the document for download or re-import.
func JSON(name string, s domain.Snapshot) ([]byte, error) {
	doc := Document{Name: name, Pages: s.Clone().Pages, ActivePageIndex: s.ActivePageIndex}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return b, nil
}

// ParseJSON validates an import payload and returns the project name and
// document snapshot. Any violation rejects the whole payload.
func ParseJSON(data []byte) (string, domain.Snapshot, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return "", domain.Snapshot{}, fmt.Errorf("import is not valid JSON: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		return "", domain.Snapshot{}, fmt.Errorf("import rejected: %s", errs[0].String())
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", domain.Snapshot{}, fmt.Errorf("decode document: %w", err)
	}
	for i := range doc.Pages {
		if doc.Pages[i].Keywords == nil {
			doc.Pages[i].Keywords = []string{}
		}
		if doc.Pages[i].Instructions == nil {
			doc.Pages[i].Instructions = []string{}
		}
	}
	snap := domain.Snapshot{Pages: doc.Pages, ActivePageIndex: doc.ActivePageIndex}
	if err := domain.Validate(snap); err != nil {
		return "", domain.Snapshot{}, fmt.Errorf("import rejected: %w", err)
	}
	return doc.Name, snap, nil
}
