/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"criadormental/internal/canvas"
	"criadormental/internal/domain"
)

func sampleSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Pages: []domain.Page{
			domain.NewMasterPage(),
			{
				ID:             "p1",
				Name:           "Ideas",
				Keywords:       []string{"Brain", "Light"},
				Instructions:   []string{"warm colors"},
				GeneratedImage: "mem://alice/proj/p1/1.png",
			},
		},
		ActivePageIndex: 1,
	}
}

func TestJSONRoundTrip(t *testing.T) {
	snap := sampleSnapshot()
	data, err := JSON("My Map", snap)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	name, got, err := ParseJSON(data)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if name != "My Map" {
		t.Fatalf("name lost: %q", name)
	}
	if !got.Equal(snap) {
		t.Fatalf("round trip diverged:\n%+v\n%+v", got, snap)
	}
}

func TestParseJSONRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":           `{"name": `,
		"missing pages":      `{"name": "x", "activePageIndex": 0}`,
		"empty pages":        `{"name": "x", "pages": [], "activePageIndex": 0}`,
		"page missing id":    `{"name": "x", "pages": [{"name": "a", "keywords": [], "instructions": []}], "activePageIndex": 0}`,
		"negative index":     `{"name": "x", "pages": [{"id": "master", "name": "a", "keywords": [], "instructions": []}], "activePageIndex": -1}`,
		"index out of range": `{"name": "x", "pages": [{"id": "master", "name": "a", "keywords": [], "instructions": []}], "activePageIndex": 7}`,
		"no master first":    `{"name": "x", "pages": [{"id": "p1", "name": "a", "keywords": [], "instructions": []}], "activePageIndex": 0}`,
	}
	for label, payload := range cases {
		if _, _, err := ParseJSON([]byte(payload)); err == nil {
			t.Errorf("%s: accepted", label)
		}
	}
}

func TestZIPLayout(t *testing.T) {
	snap := sampleSnapshot()
	var buf bytes.Buffer
	fetch := func(context.Context, string) ([]byte, error) { return []byte("png-bytes"), nil }
	if err := ZIP(context.Background(), &buf, "My Map", snap, fetch); err != nil {
		t.Fatalf("ZIP: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"1-Master/notes.md", "2-Ideas/notes.md", "2-Ideas/image.png"} {
		if !names[want] {
			t.Fatalf("archive missing %q, has %v", want, names)
		}
	}
	// master page has no image
	if names["1-Master/image.png"] {
		t.Fatalf("master page got an image entry")
	}

	for _, f := range zr.File {
		if f.Name != "2-Ideas/notes.md" {
			continue
		}
		rc, _ := f.Open()
		data, _ := io.ReadAll(rc)
		_ = rc.Close()
		text := string(data)
		for _, want := range []string{"# Ideas", "- Brain", "- Light", "- warm colors"} {
			if !strings.Contains(text, want) {
				t.Fatalf("notes missing %q:\n%s", want, text)
			}
		}
	}
}

func TestZIPSkipsUnfetchableImages(t *testing.T) {
	snap := sampleSnapshot()
	var buf bytes.Buffer
	fetch := func(context.Context, string) ([]byte, error) { return nil, io.ErrUnexpectedEOF }
	if err := ZIP(context.Background(), &buf, "x", snap, fetch); err != nil {
		t.Fatalf("ZIP: %v", err)
	}
	zr, _ := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "image.png") {
			t.Fatalf("unfetchable image still exported: %s", f.Name)
		}
	}
}

func TestPDFSmoke(t *testing.T) {
	snap := sampleSnapshot()
	img, err := canvas.Blank(64, 64, "Ideas")
	if err != nil {
		t.Fatalf("blank canvas: %v", err)
	}
	var buf bytes.Buffer
	fetch := func(context.Context, string) ([]byte, error) { return img, nil }
	if err := PDF(context.Background(), &buf, "My Map", snap, fetch); err != nil {
		t.Fatalf("PDF: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Fatalf("output is not a PDF")
	}
}

func TestSafeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Ideas", "Ideas"},
		{"  spaced out  ", "spaced-out"},
		{"über/alles?", "beralles"},
		{"", "page"},
		{"///", "page"},
	}
	for _, c := range cases {
		if got := safeName(c.in); got != c.want {
			t.Errorf("safeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
