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

package codeindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/lms/internal/embedding"
	"github.com/kraklabs/lms/internal/metadata"
	"github.com/kraklabs/lms/internal/store"
	"github.com/kraklabs/lms/pkg/codeparse"
)

func newTestIndexer(t *testing.T) (*Indexer, *metadata.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "meta.db")
	meta, err := metadata.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	vectors := store.NewMemStore()
	guard := store.NewGuard(vectors, nil)
	embedder := embedding.NewMockModel("mock", 16)
	parser := codeparse.NewTreeSitterParser(nil)

	idx, err := New(Config{
		Parser:       parser,
		Embedder:     embedder,
		Vectors:      vectors,
		Guard:        guard,
		Metadata:     meta,
		ExcludeGlobs: []string{"**/vendor/**", "**/*.min.js"},
	})
	require.NoError(t, err)
	return idx, meta
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const pySource = `def greet(name):
    """Says hello."""
    return "hello " + name
`

func TestIndexFile_IndexesUnitsAndRecordsMetadata(t *testing.T) {
	idx, meta := newTestIndexer(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeSource(t, dir, "greet.py", pySource)

	n, err := idx.IndexFile(ctx, path, "proj")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	row, err := meta.GetIndexedFile(ctx, "proj", path)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, 1, row.UnitCount)
	require.Equal(t, "python", row.Language)

	count, err := idx.vectors.Count(ctx, CollectionName, store.Filter{Equals: map[string]any{"project": "proj", "file_path": path}})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestIndexFile_SkipsWhenContentUnchanged(t *testing.T) {
	idx, meta := newTestIndexer(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeSource(t, dir, "greet.py", pySource)

	_, err := idx.IndexFile(ctx, path, "proj")
	require.NoError(t, err)

	row, err := meta.GetIndexedFile(ctx, "proj", path)
	require.NoError(t, err)
	firstIndexedAt := row.IndexedAt

	n, err := idx.IndexFile(ctx, path, "proj")
	require.NoError(t, err)
	require.Equal(t, 0, n, "unchanged mtime+hash should skip reindexing")

	row, err = meta.GetIndexedFile(ctx, "proj", path)
	require.NoError(t, err)
	require.Equal(t, firstIndexedAt, row.IndexedAt)
}

func TestIndexFile_ReindexesOnContentChange(t *testing.T) {
	idx, _ := newTestIndexer(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeSource(t, dir, "greet.py", pySource)

	_, err := idx.IndexFile(ctx, path, "proj")
	require.NoError(t, err)

	// bump mtime into the future so the fast path can't short-circuit, then
	// change content so the hash comparison must trigger a reindex.
	future := time.Now().Add(time.Hour)
	updated := pySource + "\ndef farewell(name):\n    return \"bye \" + name\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))

	n, err := idx.IndexFile(ctx, path, "proj")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	count, err := idx.vectors.Count(ctx, CollectionName, store.Filter{Equals: map[string]any{"project": "proj", "file_path": path}})
	require.NoError(t, err)
	require.Equal(t, 2, count, "stale vectors from the prior version must not survive reindex")
}

func TestIndexDirectory_WalksAndExcludes(t *testing.T) {
	idx, _ := newTestIndexer(t)
	ctx := context.Background()
	dir := t.TempDir()

	writeSource(t, dir, "greet.py", pySource)
	writeSource(t, dir, "vendor/ignored.py", pySource)
	writeSource(t, dir, "README.md", "# not a source file")

	stats := idx.IndexDirectory(ctx, dir, "proj", true)
	require.Empty(t, stats.Errors)
	require.Equal(t, 1, stats.FilesIndexed)
	require.Equal(t, 1, stats.UnitsIndexed)
	require.GreaterOrEqual(t, stats.FilesSkipped, 1)
}

func TestIndexDirectory_ReportsProgress(t *testing.T) {
	idx, _ := newTestIndexer(t)
	ctx := context.Background()
	dir := t.TempDir()

	writeSource(t, dir, "greet.py", pySource)

	var phases []string
	var lastCurrent, lastTotal int64
	idx.SetProgressCallback(func(current, total int64, phase string) {
		phases = append(phases, phase)
		lastCurrent, lastTotal = current, total
	})

	stats := idx.IndexDirectory(ctx, dir, "proj", true)
	require.Empty(t, stats.Errors)
	require.Contains(t, phases, "scan")
	require.Contains(t, phases, "index")
	require.Equal(t, int64(1), lastTotal)
	require.Equal(t, lastTotal, lastCurrent)
}

func TestRemoveFile_DeletesVectorsAndMetadata(t *testing.T) {
	idx, meta := newTestIndexer(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeSource(t, dir, "greet.py", pySource)

	_, err := idx.IndexFile(ctx, path, "proj")
	require.NoError(t, err)

	removed, err := idx.RemoveFile(ctx, path, "proj")
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	row, err := meta.GetIndexedFile(ctx, "proj", path)
	require.NoError(t, err)
	require.Nil(t, row)

	count, err := idx.vectors.Count(ctx, CollectionName, store.Filter{Equals: map[string]any{"project": "proj"}})
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestRemoveProject_DeletesEveryFile(t *testing.T) {
	idx, meta := newTestIndexer(t)
	ctx := context.Background()
	dir := t.TempDir()
	p1 := writeSource(t, dir, "a.py", pySource)
	p2 := writeSource(t, dir, "b.py", pySource)

	_, err := idx.IndexFile(ctx, p1, "proj")
	require.NoError(t, err)
	_, err = idx.IndexFile(ctx, p2, "proj")
	require.NoError(t, err)

	removed, err := idx.RemoveProject(ctx, "proj")
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	files, err := meta.ListIndexedFiles(ctx, "proj")
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestGetIndexingStats_RollsUpByLanguage(t *testing.T) {
	idx, _ := newTestIndexer(t)
	ctx := context.Background()
	dir := t.TempDir()
	p1 := writeSource(t, dir, "a.py", pySource)
	p2 := writeSource(t, dir, "b.py", pySource+"\ndef another(x):\n    return x\n")

	_, err := idx.IndexFile(ctx, p1, "proj")
	require.NoError(t, err)
	_, err = idx.IndexFile(ctx, p2, "proj")
	require.NoError(t, err)

	summary, err := idx.GetIndexingStats(ctx, "proj")
	require.NoError(t, err)
	require.Equal(t, 2, summary.TotalFiles)
	require.Equal(t, 3, summary.TotalUnits)
	require.Equal(t, 2, summary.ByLanguage["python"])
}
