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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "db", "docs.sqlite"), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const sampleDoc = `{"version":"1.0","canvas":{"width":800,"height":600,"backgroundColor":"#fff"},"objects":[{"type":"rect","id":"a"},{"type":"circle","id":"b"}]}`

func TestSaveLoadList(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	info, err := s.SaveDocument(ctx, "flyer", []byte(sampleDoc))
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if info.Width != 800 || info.Height != 600 || info.Objects != 2 {
		t.Fatalf("info = %+v", info)
	}
	body, err := s.LoadDocument(ctx, "flyer")
	if err != nil || string(body) != sampleDoc {
		t.Fatalf("LoadDocument = %s, %v", body, err)
	}
	if _, err := s.SaveDocument(ctx, "banner", []byte(`{"canvas":{"width":10,"height":10},"objects":[]}`)); err != nil {
		t.Fatal(err)
	}
	docs, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].Name != "banner" {
		t.Fatalf("docs = %+v", docs)
	}
	if _, err := s.LoadDocument(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing load err = %v", err)
	}
	if _, err := s.SaveDocument(ctx, " ", []byte(sampleDoc)); err == nil {
		t.Fatal("empty name accepted")
	}
	if _, err := s.SaveDocument(ctx, "bad", []byte(`{`)); err == nil {
		t.Fatal("invalid JSON accepted")
	}
}

func TestRevisionsArePruned(t *testing.T) {
	s := openTemp(t, WithKeepRevisions(3))
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Second); return clock }
	ctx := context.Background()
	var first DocumentInfo
	for i := 0; i < 5; i++ {
		body := fmt.Sprintf(`{"canvas":{"width":%d,"height":1},"objects":[]}`, i+1)
		info, err := s.SaveDocument(ctx, "doc", []byte(body))
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = info
		}
		if !info.CreatedAt.Equal(first.CreatedAt) {
			t.Fatalf("created_at changed on update: %v vs %v", info.CreatedAt, first.CreatedAt)
		}
	}
	revs, err := s.Revisions(ctx, "doc", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(revs) != 3 {
		t.Fatalf("revisions = %d", len(revs))
	}
	if revs[0].Body != `{"canvas":{"width":5,"height":1},"objects":[]}` {
		t.Fatalf("newest revision = %s", revs[0].Body)
	}
	if !revs[0].SavedAt.After(revs[2].SavedAt) {
		t.Fatalf("revisions not newest first")
	}
}

func TestDelete(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	if _, err := s.SaveDocument(ctx, "x", []byte(sampleDoc)); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteDocument(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteDocument(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
	if revs, _ := s.Revisions(ctx, "x", 10); len(revs) != 0 {
		t.Fatalf("revisions survived delete: %d", len(revs))
	}
}

func TestMigrationsAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.sqlite")
	ctx := context.Background()
	s, err := Open(ctx, DriverSQLite, path)
	if err != nil {
		t.Fatal(err)
	}
	if v, err := s.SchemaVersion(ctx); err != nil || v != schemaVersion {
		t.Fatalf("schema = %d, %v", v, err)
	}
	if err := s.SetMeta(ctx, "owner", "me"); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = Open(ctx, DriverSQLite, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if v, ok, err := s.Meta(ctx, "owner"); err != nil || !ok || v != "me" {
		t.Fatalf("meta = %q %v %v", v, ok, err)
	}
	if _, ok, _ := s.Meta(ctx, "missing"); ok {
		t.Fatal("missing meta reported present")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x"); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(context.Background(), DriverSQLite, ""); err == nil {
		t.Fatal("empty dsn accepted")
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	if got := pg.rebind(`SELECT a FROM t WHERE x = ? AND y = ?`); got != `SELECT a FROM t WHERE x = $1 AND y = $2` {
		t.Fatalf("rebind = %s", got)
	}
	lite := &Store{driver: DriverSQLite}
	if got := lite.rebind(`x = ?`); got != `x = ?` {
		t.Fatalf("sqlite rebind = %s", got)
	}
}

// TestPostgresRoundTrip runs against a live server when GPE_PG_DSN is set.
func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("GPE_PG_DSN")
	if dsn == "" {
		t.Skip("GPE_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	name := fmt.Sprintf("pg-test-%d", time.Now().UnixNano())
	if _, err := s.SaveDocument(ctx, name, []byte(sampleDoc)); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.DeleteDocument(ctx, name) }()
	body, err := s.LoadDocument(ctx, name)
	if err != nil || string(body) != sampleDoc {
		t.Fatalf("load = %s, %v", body, err)
	}
}
