/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"criadormental/internal/domain"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

// schemaVersion tracks the embedded SQLite schema. Bump on breaking changes
// and add a migration in ensureSchema.
const schemaVersion = 1

// language=SQL
// dialect=SQLite
const createProjectsSQL = `CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	name TEXT NOT NULL,
	pages TEXT NOT NULL,
	active_page_index INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	modified_at TEXT NOT NULL
)`

// language=SQL
// dialect=SQLite
const createOwnerIndexSQL = `CREATE INDEX IF NOT EXISTS idx_projects_owner_modified ON projects(owner, modified_at DESC)`

// language=SQL
// dialect=SQLite
const insertProjectSQL = `INSERT INTO projects(id, owner, name, pages, active_page_index, created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

// language=SQL
// dialect=SQLite
const updateProjectSQL = `UPDATE projects SET name = ?, pages = ?, active_page_index = ?, modified_at = ? WHERE id = ?`

// language=SQL
// dialect=SQLite
const selectProjectSQL = `SELECT id, owner, name, pages, active_page_index, created_at, modified_at FROM projects WHERE id = ?`

// language=SQL
// dialect=SQLite
const listByOwnerSQL = `SELECT id, owner, name, pages, active_page_index, created_at, modified_at FROM projects WHERE owner = ? ORDER BY modified_at DESC`

// language=SQL
// dialect=SQLite
const deleteProjectSQL = `DELETE FROM projects WHERE id = ?`

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path, enables WAL
// mode, and ensures the schema exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("ensure meta table: %w", err)
	}
	var current int
	err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES ('schema_version', ?)`, schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case current > schemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported %d", current, schemaVersion)
	}
	if _, err := db.ExecContext(ctx, createProjectsSQL); err != nil {
		return fmt.Errorf("ensure projects table: %w", err)
	}
	if _, err := db.ExecContext(ctx, createOwnerIndexSQL); err != nil {
		return fmt.Errorf("ensure owner index: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, p *domain.Project) error {
	pages, err := marshalPages(p.Pages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, insertProjectSQL,
		p.ID, p.Owner, p.Name, string(pages), p.ActivePageIndex,
		p.CreatedAt.UTC().Format(time.RFC3339Nano), p.LastModified.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) Update(ctx context.Context, p *domain.Project) error {
	pages, err := marshalPages(p.Pages)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, updateProjectSQL,
		p.Name, string(pages), p.ActivePageIndex,
		p.LastModified.UTC().Format(time.RFC3339Nano), p.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, deleteProjectSQL, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx, selectProjectSQL, id)
	p, err := scanProject(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) ListByOwner(ctx context.Context, owner string) ([]*domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, listByOwnerSQL, owner)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func scanProject(scan func(dest ...any) error) (*domain.Project, error) {
	var (
		p           domain.Project
		pagesJSON   string
		createdStr  string
		modifiedStr string
	)
	if err := scan(&p.ID, &p.Owner, &p.Name, &pagesJSON, &p.ActivePageIndex, &createdStr, &modifiedStr); err != nil {
		return nil, err
	}
	pages, err := unmarshalPages([]byte(pagesJSON))
	if err != nil {
		return nil, err
	}
	p.Pages = pages
	if ts, err := time.Parse(time.RFC3339Nano, createdStr); err == nil {
		p.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, modifiedStr); err == nil {
		p.LastModified = ts
	}
	return &p, nil
}
