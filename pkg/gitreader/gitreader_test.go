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

package gitreader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// fixtureRepo builds a two-commit repository at a temp path: an initial
// commit adding a.txt, then a second commit modifying a.txt and adding
// b.txt, so tests exercise history, blame and diff stats.
func fixtureRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	worktree, err := repo.Worktree()
	require.NoError(t, err)

	aPath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(aPath, []byte("line one\nline two\n"), 0o644))
	_, err = worktree.Add("a.txt")
	require.NoError(t, err)

	sig1 := &object.Signature{Name: "Alice", Email: "alice@example.com", When: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	_, err = worktree.Commit("initial commit", &git.CommitOptions{Author: sig1})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(aPath, []byte("line one\nline two CHANGED\nline three\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("new file\n"), 0o644))
	_, err = worktree.Add("a.txt")
	require.NoError(t, err)
	_, err = worktree.Add("b.txt")
	require.NoError(t, err)

	sig2 := &object.Signature{Name: "Bob", Email: "bob@example.com", When: time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)}
	_, err = worktree.Commit("second commit", &git.CommitOptions{Author: sig2})
	require.NoError(t, err)

	return dir
}

func TestOpen_NonRepoReturnsRepositoryNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, nil)
	require.ErrorIs(t, err, ErrRepositoryNotFound)
}

func TestGetRepoRootAndHeadSHA(t *testing.T) {
	dir := fixtureRepo(t)
	r, err := Open(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	root, err := r.GetRepoRoot(ctx)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(root))

	sha, err := r.GetHeadSHA(ctx)
	require.NoError(t, err)
	require.Len(t, sha, 40)
}

func TestGetCommits_NewestFirstWithStats(t *testing.T) {
	dir := fixtureRepo(t)
	r, err := Open(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	commits, err := r.GetCommits(ctx, nil, nil, "", 100)
	require.NoError(t, err)
	require.Len(t, commits, 2)

	require.Equal(t, "second commit", commits[0].Message)
	require.Equal(t, "Bob", commits[0].Author)
	require.ElementsMatch(t, []string{"a.txt", "b.txt"}, commits[0].FilesChanged)
	require.True(t, commits[0].Insertions > 0)

	require.Equal(t, "initial commit", commits[1].Message)
	require.Equal(t, "Alice", commits[1].Author)

	require.Equal(t, time.UTC, commits[0].Timestamp.Location())
}

func TestGetCommits_LimitCaps(t *testing.T) {
	dir := fixtureRepo(t)
	r, err := Open(dir, nil)
	require.NoError(t, err)

	commits, err := r.GetCommits(context.Background(), nil, nil, "", 1)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	require.Equal(t, "second commit", commits[0].Message)
}

func TestGetFileHistory_FiltersToPath(t *testing.T) {
	dir := fixtureRepo(t)
	r, err := Open(dir, nil)
	require.NoError(t, err)

	history, err := r.GetFileHistory(context.Background(), "b.txt", 100)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "second commit", history[0].Message)
}

func TestGetBlame_GroupsContiguousLinesAndRejectsUntracked(t *testing.T) {
	dir := fixtureRepo(t)
	r, err := Open(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	entries, err := r.GetBlame(ctx, "a.txt")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	require.Equal(t, 3, last.EndLine)

	_, err = r.GetBlame(ctx, "missing.txt")
	require.ErrorIs(t, err, ErrFileNotInRepo)
}

func TestGrep_FindsMatchingLines(t *testing.T) {
	dir := fixtureRepo(t)
	r, err := Open(dir, nil)
	require.NoError(t, err)

	results, err := r.Grep(context.Background(), "CHANGED", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "a.txt", results[0].FilePath)
}
