/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"context"
	"sync"
)

// Loader fetches the raw bytes behind a durable image reference.
type Loader func(ctx context.Context, ref string) ([]byte, error)

// Cache is a page-id-keyed cache of fetched image bytes, rebuilt lazily from
// durable references. It lives beside the document, never inside it: the
// document model holds only the reference strings.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	ref  string
	data []byte
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Bytes returns the image bytes for pageID's reference ref, loading them via
// load on a miss or when the reference changed since the last load.
func (c *Cache) Bytes(ctx context.Context, pageID, ref string, load Loader) ([]byte, error) {
	if ref == "" {
		return nil, nil
	}
	c.mu.Lock()
	ent, ok := c.entries[pageID]
	c.mu.Unlock()
	if ok && ent.ref == ref {
		return ent.data, nil
	}
	data, err := load(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[pageID] = cacheEntry{ref: ref, data: data}
	c.mu.Unlock()
	return data, nil
}

// Drop removes the cached entry for a page.
func (c *Cache) Drop(pageID string) {
	c.mu.Lock()
	delete(c.entries, pageID)
	c.mu.Unlock()
}

// Clear removes all entries, e.g. on logout or project switch.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of cached pages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
