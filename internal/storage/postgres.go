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
	"time"

	"criadormental/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// language=SQL
// dialect=PostgreSQL
const pgCreateProjectsSQL = `CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	name TEXT NOT NULL,
	pages JSONB NOT NULL,
	active_page_index INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	modified_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_owner_modified ON projects(owner, modified_at DESC)`

// language=SQL
// dialect=PostgreSQL
const pgInsertProjectSQL = `INSERT INTO projects(id, owner, name, pages, active_page_index, created_at, modified_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`

// language=SQL
// dialect=PostgreSQL
const pgUpdateProjectSQL = `UPDATE projects SET name = $1, pages = $2, active_page_index = $3, modified_at = $4 WHERE id = $5`

// language=SQL
// dialect=PostgreSQL
const pgSelectProjectSQL = `SELECT id, owner, name, pages, active_page_index, created_at, modified_at FROM projects WHERE id = $1`

// language=SQL
// dialect=PostgreSQL
const pgListByOwnerSQL = `SELECT id, owner, name, pages, active_page_index, created_at, modified_at FROM projects WHERE owner = $1 ORDER BY modified_at DESC`

// language=SQL
// dialect=PostgreSQL
const pgDeleteProjectSQL = `DELETE FROM projects WHERE id = $1`

// PostgresStore implements Store on PostgreSQL via the pgx stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn, pings and ensures the schema.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, pgCreateProjectsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, p *domain.Project) error {
	pages, err := marshalPages(p.Pages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, pgInsertProjectSQL,
		p.ID, p.Owner, p.Name, pages, p.ActivePageIndex, p.CreatedAt.UTC(), p.LastModified.UTC())
	return err
}

func (s *PostgresStore) Update(ctx context.Context, p *domain.Project) error {
	pages, err := marshalPages(p.Pages)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, pgUpdateProjectSQL,
		p.Name, pages, p.ActivePageIndex, p.LastModified.UTC(), p.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, pgDeleteProjectSQL, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx, pgSelectProjectSQL, id)
	p, err := scanPgProject(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner string) ([]*domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, pgListByOwnerSQL, owner)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*domain.Project
	for rows.Next() {
		p, err := scanPgProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func scanPgProject(scan func(dest ...any) error) (*domain.Project, error) {
	var (
		p         domain.Project
		pagesJSON []byte
	)
	if err := scan(&p.ID, &p.Owner, &p.Name, &pagesJSON, &p.ActivePageIndex, &p.CreatedAt, &p.LastModified); err != nil {
		return nil, err
	}
	pages, err := unmarshalPages(pagesJSON)
	if err != nil {
		return nil, err
	}
	p.Pages = pages
	return &p, nil
}
