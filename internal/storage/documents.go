/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// language=SQL
const upsertDocumentSQL = `INSERT INTO documents(name, body, width, height, objects, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET body=excluded.body, width=excluded.width, height=excluded.height,
	objects=excluded.objects, updated_at=excluded.updated_at`

// language=SQL
const insertRevisionSQL = `INSERT INTO revisions(name, body, saved_at) VALUES (?, ?, ?)`

// language=SQL
const pruneRevisionsSQL = `DELETE FROM revisions WHERE name = ? AND id NOT IN (
	SELECT id FROM revisions WHERE name = ? ORDER BY id DESC LIMIT ?
)`

// language=SQL
const selectDocumentSQL = `SELECT body FROM documents WHERE name = ?`

// language=SQL
const listDocumentsSQL = `SELECT name, width, height, objects, created_at, updated_at FROM documents ORDER BY updated_at DESC, name`

// language=SQL
const listRevisionsSQL = `SELECT id, body, saved_at FROM revisions WHERE name = ? ORDER BY id DESC LIMIT ?`

// DocumentInfo summarizes a stored document.
type DocumentInfo struct {
	Name      string    `json:"name"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Objects   int       `json:"objects"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Revision is one saved version of a document.
type Revision struct {
	ID      int64     `json:"id"`
	Body    string    `json:"-"`
	SavedAt time.Time `json:"savedAt"`
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("document name is required")
	}
	if len(name) > 200 {
		return errors.New("document name is too long")
	}
	return nil
}

func parseTS(s string) time.Time {
	t, _ := time.Parse(tsLayout, s)
	return t
}

// SaveDocument stores body under name, records a revision and prunes old ones.
func (s *Store) SaveDocument(ctx context.Context, name string, body []byte) (DocumentInfo, error) {
	if err := checkName(name); err != nil {
		return DocumentInfo{}, err
	}
	if !gjson.ValidBytes(body) {
		return DocumentInfo{}, errors.New("document body is not valid JSON")
	}
	info := DocumentInfo{
		Name:    name,
		Width:   int(gjson.GetBytes(body, "canvas.width").Int()),
		Height:  int(gjson.GetBytes(body, "canvas.height").Int()),
		Objects: int(gjson.GetBytes(body, "objects.#").Int()),
	}
	now := s.stamp()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DocumentInfo{}, fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, s.rebind(upsertDocumentSQL), name, string(body), info.Width, info.Height, info.Objects, now, now); err != nil {
		return DocumentInfo{}, fmt.Errorf("save %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(insertRevisionSQL), name, string(body), now); err != nil {
		return DocumentInfo{}, fmt.Errorf("record revision: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(pruneRevisionsSQL), name, name, s.keep); err != nil {
		return DocumentInfo{}, fmt.Errorf("prune revisions: %w", err)
	}
	var created string
	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT created_at FROM documents WHERE name = ?`), name).Scan(&created); err != nil {
		return DocumentInfo{}, fmt.Errorf("read back %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return DocumentInfo{}, fmt.Errorf("commit save: %w", err)
	}
	info.CreatedAt, info.UpdatedAt = parseTS(created), parseTS(now)
	s.log.Info("document saved", slog.String("name", name), slog.Int("objects", info.Objects))
	return info, nil
}

// LoadDocument returns the stored body of name.
func (s *Store) LoadDocument(ctx context.Context, name string) ([]byte, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(selectDocumentSQL), name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return []byte(body), nil
}

// ListDocuments returns every document, most recently updated first.
func (s *Store) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx, listDocumentsSQL)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []DocumentInfo{}
	for rows.Next() {
		var d DocumentInfo
		var created, updated string
		if err := rows.Scan(&d.Name, &d.Width, &d.Height, &d.Objects, &created, &updated); err != nil {
			return nil, err
		}
		d.CreatedAt, d.UpdatedAt = parseTS(created), parseTS(updated)
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDocument removes name and its revisions.
func (s *Store) DeleteDocument(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM documents WHERE name = ?`), name)
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM revisions WHERE name = ?`), name); err != nil {
		return fmt.Errorf("delete revisions: %w", err)
	}
	return tx.Commit()
}

// Revisions returns up to limit most recent revisions of name.
func (s *Store) Revisions(ctx context.Context, name string, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = s.keep
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(listRevisionsSQL), name, limit)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Revision
	for rows.Next() {
		var r Revision
		var ts string
		if err := rows.Scan(&r.ID, &r.Body, &ts); err != nil {
			return nil, err
		}
		r.SavedAt = parseTS(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}
