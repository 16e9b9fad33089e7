/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package storage persists project records. The Store interface is the only
// thing the rest of the application sees; SQLite backs local runs and
// Postgres backs server deployments.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"criadormental/internal/domain"
)

// ErrNotFound is returned when a project id does not exist.
var ErrNotFound = errors.New("project not found")

// Store is the persistence port for project documents.
type Store interface {
	Insert(ctx context.Context, p *domain.Project) error
	Update(ctx context.Context, p *domain.Project) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.Project, error)
	// ListByOwner returns the owner's projects sorted by last modified,
	// newest first.
	ListByOwner(ctx context.Context, owner string) ([]*domain.Project, error)
	Close() error
}

func marshalPages(pages []domain.Page) ([]byte, error) {
	b, err := json.Marshal(pages)
	if err != nil {
		return nil, fmt.Errorf("marshal pages: %w", err)
	}
	return b, nil
}

func unmarshalPages(b []byte) ([]domain.Page, error) {
	var pages []domain.Page
	if err := json.Unmarshal(b, &pages); err != nil {
		return nil, fmt.Errorf("unmarshal pages: %w", err)
	}
	return pages, nil
}
