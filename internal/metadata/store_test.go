// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "metadata.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenCreatesFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "metadata.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("expected db file to be created")
	}
}

func TestIndexedFile_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	got, err := store.GetIndexedFile(ctx, "proj", "main.go")
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent row, got %+v", got)
	}

	want := IndexedFile{
		Project:     "proj",
		FilePath:    "main.go",
		ContentHash: "abc123",
		MTime:       time.Now().Truncate(time.Second).UTC(),
		Language:    "go",
		UnitCount:   3,
		IndexedAt:   time.Now().Truncate(time.Second).UTC(),
	}
	if err := store.UpsertIndexedFile(ctx, want); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err = store.GetIndexedFile(ctx, "proj", "main.go")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected row after upsert")
	}
	if got.ContentHash != want.ContentHash || got.UnitCount != want.UnitCount || got.Language != want.Language {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
	}

	want.ContentHash = "def456"
	want.UnitCount = 5
	if err := store.UpsertIndexedFile(ctx, want); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, _ = store.GetIndexedFile(ctx, "proj", "main.go")
	if got.ContentHash != "def456" || got.UnitCount != 5 {
		t.Fatalf("expected updated row, got %+v", got)
	}

	if err := store.DeleteIndexedFile(ctx, "proj", "main.go"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = store.GetIndexedFile(ctx, "proj", "main.go")
	if err != nil || got != nil {
		t.Fatalf("expected nil after delete, got %+v err=%v", got, err)
	}
}

func TestDeleteProjectFiles(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, path := range []string{"a.go", "b.go", "c.go"} {
		f := IndexedFile{Project: "proj", FilePath: path, ContentHash: "h", MTime: time.Now(), IndexedAt: time.Now()}
		if err := store.UpsertIndexedFile(ctx, f); err != nil {
			t.Fatalf("seed upsert %s: %v", path, err)
		}
	}
	other := IndexedFile{Project: "other", FilePath: "d.go", ContentHash: "h", MTime: time.Now(), IndexedAt: time.Now()}
	if err := store.UpsertIndexedFile(ctx, other); err != nil {
		t.Fatalf("seed other project: %v", err)
	}

	n, err := store.DeleteProjectFiles(ctx, "proj")
	if err != nil {
		t.Fatalf("delete project files: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows removed, got %d", n)
	}

	remaining, err := store.ListIndexedFiles(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Project != "other" {
		t.Fatalf("expected only the other project's row to remain, got %+v", remaining)
	}
}

func TestGitIndexState_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	got, err := store.GetGitIndexState(ctx, "/repo")
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent state, got %+v", got)
	}

	st := GitIndexState{
		RepoPath:       "/repo",
		LastIndexedSHA: "deadbeef",
		LastIndexedAt:  time.Now().Truncate(time.Second).UTC(),
		CommitCount:    42,
	}
	if err := store.UpsertGitIndexState(ctx, st); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err = store.GetGitIndexState(ctx, "/repo")
	if err != nil || got == nil {
		t.Fatalf("expected state after upsert: %+v err=%v", got, err)
	}
	if got.LastIndexedSHA != "deadbeef" || got.CommitCount != 42 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.GetSetting(ctx, "schema_version")
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if ok {
		t.Fatal("expected setting to be absent")
	}

	if err := store.SetSetting(ctx, "schema_version", "1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := store.GetSetting(ctx, "schema_version")
	if err != nil || !ok || value != "1" {
		t.Fatalf("expected value=1 ok=true, got value=%q ok=%v err=%v", value, ok, err)
	}

	if err := store.SetSetting(ctx, "schema_version", "2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, _, _ = store.GetSetting(ctx, "schema_version")
	if value != "2" {
		t.Fatalf("expected overwritten value=2, got %q", value)
	}
}
