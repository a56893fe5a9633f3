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

// Package gitreader is the Git Reader (C7): a thin, async-safe wrapper
// around go-git's synchronous Repository API. Every exported method
// accepts a context and is safe to call from concurrent goroutines even
// though go-git itself is not internally concurrent — each call opens its
// own iterator/walk rather than sharing mutable state.
package gitreader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrRepositoryNotFound is returned by Open when path is not a git
// repository (or has no accessible .git directory).
var ErrRepositoryNotFound = errors.New("gitreader: repository not found")

// ErrFileNotInRepo is returned by GetBlame when file_path is not tracked
// at HEAD.
var ErrFileNotInRepo = errors.New("gitreader: file not tracked in repository")

// ErrBinaryFile is returned by GetBlame on a binary file.
var ErrBinaryFile = errors.New("gitreader: cannot blame a binary file")

// Commit is the reader's normalized commit record.
type Commit struct {
	SHA          string
	Message      string
	Author       string
	AuthorEmail  string
	Timestamp    time.Time // always UTC
	FilesChanged []string
	FileStats    []FileStat
	Insertions   int
	Deletions    int
}

// FileStat is one file's per-commit change, used by the Git Analyzer
// (C8) for churn hotspots (§4.7 — "taken from per-file stats, not commit
// totals").
type FileStat struct {
	Path       string
	Insertions int
	Deletions  int
}

// BlameEntry is one contiguous line range attributed to a single commit.
type BlameEntry struct {
	StartLine int
	EndLine   int
	SHA       string
	Author    string
	Timestamp time.Time
}

// Reader reads history from a single repository working copy.
type Reader struct {
	repo   *git.Repository
	root   string
	logger *slog.Logger
}

// Open opens the repository rooted at (or above) path.
func Open(path string, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRepositoryNotFound, path, err)
	}

	worktree, wtErr := repo.Worktree()
	root := path
	if wtErr == nil {
		root = worktree.Filesystem.Root()
	}

	if isShallow(repo) {
		logger.Warn("gitreader.shallow_clone", "path", root)
	}

	return &Reader{repo: repo, root: root, logger: logger}, nil
}

func isShallow(repo *git.Repository) bool {
	sr, err := repo.Storer.Shallow()
	return err == nil && len(sr) > 0
}

// GetRepoRoot returns the absolute path to the repository's working
// directory root.
func (r *Reader) GetRepoRoot(ctx context.Context) (string, error) {
	abs, err := filepath.Abs(r.root)
	if err != nil {
		return "", fmt.Errorf("gitreader: resolve repo root: %w", err)
	}
	return abs, nil
}

// GetHeadSHA returns the current HEAD commit SHA, handling detached HEAD
// transparently (go-git's Head() resolves either a branch ref or a
// detached commit hash).
func (r *Reader) GetHeadSHA(ctx context.Context) (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("gitreader: resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// GetCommits returns commits newest-first, optionally bounded by since/
// until/path, capped at limit (default 100 when limit <= 0).
func (r *Reader) GetCommits(ctx context.Context, since, until *time.Time, path string, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 100
	}

	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("gitreader: resolve HEAD: %w", err)
	}

	logOptions := &git.LogOptions{From: head.Hash(), Order: git.LogOrderCommitterTime}
	if path != "" {
		logOptions.FileName = &path
	}
	if since != nil {
		s := since.UTC()
		logOptions.Since = &s
	}
	if until != nil {
		u := until.UTC()
		logOptions.Until = &u
	}

	iter, err := r.repo.Log(logOptions)
	if err != nil {
		return nil, fmt.Errorf("gitreader: walk log: %w", err)
	}
	defer iter.Close()

	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(commits) >= limit {
			return storerStop
		}
		converted, convErr := r.convertCommit(c)
		if convErr != nil {
			r.logger.Warn("gitreader.convert_commit_failed", "sha", c.Hash.String(), "error", convErr)
			return nil
		}
		commits = append(commits, converted)
		return nil
	})
	if err != nil && !errors.Is(err, storerStop) {
		return nil, fmt.Errorf("gitreader: iterate log: %w", err)
	}
	return commits, nil
}

// storerStop is a sentinel ForEach uses to halt iteration once limit is
// reached, without treating it as a real error.
var storerStop = errors.New("gitreader: stop iteration")

// GetFileHistory returns the commits that touched filePath, newest first.
func (r *Reader) GetFileHistory(ctx context.Context, filePath string, limit int) ([]Commit, error) {
	return r.GetCommits(ctx, nil, nil, filePath, limit)
}

// convertCommit builds a Commit from a go-git object.Commit, diffing
// against the first parent (merge commits included, per §4.7 "merge
// commits are included; churn counts them once" — diffed against first
// parent is the standard convention §4.6 names).
func (r *Reader) convertCommit(c *object.Commit) (Commit, error) {
	stats, err := r.commitFileStats(c)
	if err != nil {
		return Commit{}, err
	}

	files := make([]string, len(stats))
	insertions, deletions := 0, 0
	for i, s := range stats {
		files[i] = s.Path
		insertions += s.Insertions
		deletions += s.Deletions
	}

	return Commit{
		SHA:          c.Hash.String(),
		Message:      strings.TrimRight(c.Message, "\n"),
		Author:       c.Author.Name,
		AuthorEmail:  c.Author.Email,
		Timestamp:    c.Author.When.UTC(),
		FilesChanged: files,
		FileStats:    stats,
		Insertions:   insertions,
		Deletions:    deletions,
	}, nil
}

func (r *Reader) commitFileStats(c *object.Commit) ([]FileStat, error) {
	var parentTree *object.Tree
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("resolve parent: %w", err)
		}
		parentTree, err = parent.Tree()
		if err != nil {
			return nil, fmt.Errorf("parent tree: %w", err)
		}
	}

	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("commit tree: %w", err)
	}

	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	stats := make([]FileStat, 0, len(changes))
	for _, change := range changes {
		patch, err := change.Patch()
		if err != nil {
			continue
		}
		ins, del := 0, 0
		for _, fp := range patch.Stats() {
			ins += fp.Addition
			del += fp.Deletion
		}
		name := change.To.Name
		if name == "" {
			name = change.From.Name
		}
		stats = append(stats, FileStat{Path: name, Insertions: ins, Deletions: del})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Path < stats[j].Path })
	return stats, nil
}

// GetBlame returns per-line-range attribution for filePath at HEAD.
func (r *Reader) GetBlame(ctx context.Context, filePath string) ([]BlameEntry, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("gitreader: resolve HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("gitreader: resolve HEAD commit: %w", err)
	}

	file, err := commit.File(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotInRepo, filePath)
	}
	isBinary, err := file.IsBinary()
	if err != nil {
		return nil, fmt.Errorf("gitreader: check binary: %w", err)
	}
	if isBinary {
		return nil, fmt.Errorf("%w: %s", ErrBinaryFile, filePath)
	}

	blameResult, err := git.Blame(commit, filePath)
	if err != nil {
		return nil, fmt.Errorf("gitreader: blame: %w", err)
	}

	return collapseBlameLines(blameResult.Lines), nil
}

// collapseBlameLines groups go-git's per-line blame output into
// contiguous ranges sharing the same commit, per §4.6's
// "line-range-grouped" contract.
func collapseBlameLines(lines []*git.Line) []BlameEntry {
	var entries []BlameEntry
	for i, line := range lines {
		lineNo := i + 1
		if len(entries) > 0 {
			last := &entries[len(entries)-1]
			if last.SHA == line.Hash.String() && last.EndLine == lineNo-1 {
				last.EndLine = lineNo
				continue
			}
		}
		entries = append(entries, BlameEntry{
			StartLine: lineNo,
			EndLine:   lineNo,
			SHA:       line.Hash.String(),
			Author:    line.Author,
			Timestamp: line.Date.UTC(),
		})
	}
	return entries
}

// GrepResult is one pattern match produced by Grep, consumed by
// pkg/gitanalyze's blame_search to map a hit line to its blame range.
type GrepResult struct {
	FilePath string
	Line     int
	Text     string
}

// Grep scans tracked files at HEAD for literal substring pattern,
// optionally restricted to files matching filePattern (a glob matched
// against each file's base name, not its directory), capped at limit.
func (r *Reader) Grep(ctx context.Context, pattern, filePattern string, limit int) ([]GrepResult, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("gitreader: resolve HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("gitreader: resolve HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("gitreader: commit tree: %w", err)
	}

	var results []GrepResult
	walker := object.NewTreeWalker(tree, true, make(map[plumbing.Hash]bool))
	defer walker.Close()

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if limit > 0 && len(results) >= limit {
			break
		}
		name, entry, walkErr := walker.Next()
		if walkErr != nil {
			break
		}
		if !entry.Mode.IsFile() {
			continue
		}
		if filePattern != "" {
			if matched, _ := filepath.Match(filePattern, filepath.Base(name)); !matched {
				continue
			}
		}
		blob, blobErr := r.repo.BlobObject(entry.Hash)
		if blobErr != nil {
			continue
		}
		reader, readErr := blob.Reader()
		if readErr != nil {
			continue
		}
		isBin, _ := isBinaryReader(reader)
		reader.Close()
		if isBin {
			continue
		}

		reader, readErr = blob.Reader()
		if readErr != nil {
			continue
		}
		scanner := bufio.NewScanner(reader)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if strings.Contains(scanner.Text(), pattern) {
				results = append(results, GrepResult{FilePath: name, Line: lineNo, Text: scanner.Text()})
				if limit > 0 && len(results) >= limit {
					break
				}
			}
		}
		reader.Close()
	}
	return results, nil
}

func isBinaryReader(r interface{ Read([]byte) (int, error) }) (bool, error) {
	buf := make([]byte, 8000)
	n, err := r.Read(buf)
	if err != nil && n == 0 {
		return false, nil
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}
