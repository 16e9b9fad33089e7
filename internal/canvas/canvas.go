/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package canvas renders the blank base canvas used when a generation starts
// from scratch, and hosts the in-memory decoded-image cache for the
// rendering layer. Nothing in here is ever serialized with the document.
package canvas

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Default base canvas size for rethink generations and for evolve
// generations without an existing image.
const (
	DefaultWidth  = 1024
	DefaultHeight = 1024
)

// MimePNG is the content type of everything this package produces.
const MimePNG = "image/png"

// Blank renders a solid white canvas of the given size with the label drawn
// faintly in the center, encoded as PNG. A zero or negative dimension falls
// back to the default size.
func Blank(width, height int, label string) ([]byte, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.DrawRectangle(0, 0, float64(width), float64(height))
	dc.Fill()

	if label != "" {
		face, err := labelFace(float64(height) / 18)
		if err != nil {
			return nil, err
		}
		dc.SetFontFace(face)
		dc.SetColor(color.RGBA{R: 0xd0, G: 0xd0, B: 0xd0, A: 0xff})
		tw, th := dc.MeasureString(label)
		dc.DrawString(label, float64(width)/2-tw/2, float64(height)/2+th/2)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode blank canvas: %w", err)
	}
	return buf.Bytes(), nil
}

func labelFace(points float64) (font.Face, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse embedded font: %w", err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: points}), nil
}
