/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package blob abstracts storage of generated image bytes. Keys must be
// unique per write (the orchestrator embeds a timestamp) so earlier versions
// are never overwritten.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("blob not found")

// Store writes bytes under a key and returns a durable retrieval URL.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// extensions for the image content types a generation backend may answer.
var mimeExt = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

// Ext returns the key extension for an image content type. Unknown types are
// reported false so callers can refuse them instead of mislabeling the blob.
func Ext(mime string) (string, bool) {
	ext, ok := mimeExt[mime]
	return ext, ok
}

// ImageKey builds the canonical storage key for a generated page image:
// owner/project/page/<unix-nanos>.<ext>. The timestamp suffix keeps every
// write unique.
func ImageKey(owner, projectID, pageID, ext string) string {
	return fmt.Sprintf("%s/%s/%s/%d.%s", owner, projectID, pageID, time.Now().UnixNano(), ext)
}
