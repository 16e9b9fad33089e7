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
	"context"
	"fmt"
	"io"
	"strings"

	"criadormental/internal/domain"
)

// ImageFetch resolves a durable image URL to its bytes. Pages whose image
// cannot be fetched are exported without one.
type ImageFetch func(ctx context.Context, url string) ([]byte, error)

// ZIP writes one folder per page into w: the current image (when present)
// plus a Markdown notes file with the page's keywords and instructions.
func ZIP(ctx context.Context, w io.Writer, name string, s domain.Snapshot, fetch ImageFetch) error {
	zw := zip.NewWriter(w)

	pad := 1
	if n := len(s.Pages); n >= 100 {
		pad = 3
	} else if n >= 10 {
		pad = 2
	}

	for i, page := range s.Pages {
		folder := fmt.Sprintf("%0*d-%s", pad, i+1, safeName(page.Name))
		if err := addZipFile(zw, folder+"/notes.md", notesMarkdown(page)); err != nil {
			return fmt.Errorf("zip add notes: %w", err)
		}
		if page.GeneratedImage == "" || fetch == nil {
			continue
		}
		data, err := fetch(ctx, page.GeneratedImage)
		if err != nil {
			continue
		}
		if err := addZipFile(zw, folder+"/image.png", data); err != nil {
			return fmt.Errorf("zip add image: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

func addZipFile(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

func notesMarkdown(p domain.Page) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", p.Name)
	if len(p.Keywords) > 0 {
		b.WriteString("\n## Keywords\n\n")
		for _, kw := range p.Keywords {
			fmt.Fprintf(&b, "- %s\n", kw)
		}
	}
	if len(p.Instructions) > 0 {
		b.WriteString("\n## Instructions\n\n")
		for _, in := range p.Instructions {
			fmt.Fprintf(&b, "- %s\n", in)
		}
	}
	return []byte(b.String())
}

// safeName reduces a page name to a filesystem-friendly folder component.
func safeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "page"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "page"
	}
	return out
}
