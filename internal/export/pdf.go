/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"

	"criadormental/internal/domain"
)

// PDF writes one A4 page per document page: the page name, its keyword and
// instruction lists, and the current image when one can be fetched.
// Built-in Helvetica keeps the text vector without font embedding.
func PDF(ctx context.Context, w io.Writer, name string, s domain.Snapshot, fetch ImageFetch) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(name, true)
	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	usable := pageW - left - right

	for i, page := range s.Pages {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 16)
		pdf.CellFormat(usable, 10, page.Name, "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(usable, 6, fmt.Sprintf("%s — page %d of %d", name, i+1, len(s.Pages)), "", 1, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(4)

		if page.GeneratedImage != "" && fetch != nil {
			if data, err := fetch(ctx, page.GeneratedImage); err == nil {
				imgName := fmt.Sprintf("page-%d", i)
				pdf.RegisterImageOptionsReader(imgName, gofpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(data))
				pdf.ImageOptions(imgName, left, pdf.GetY(), usable, 0, true, gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")
				pdf.Ln(4)
			}
		}

		writeList(pdf, usable, "Keywords", page.Keywords)
		writeList(pdf, usable, "Instructions", page.Instructions)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func writeList(pdf *gofpdf.Fpdf, usable float64, title string, items []string) {
	if len(items) == 0 {
		return
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(usable, 8, title, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for _, item := range items {
		pdf.MultiCell(usable, 6, "- "+item, "", "L", false)
	}
	pdf.Ln(2)
}
