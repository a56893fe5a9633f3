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

// Package gitanalyze is the Git Analyzer (C8): it indexes commits into the
// Vector Store incrementally, using a last-indexed-SHA watermark the way
// the teacher's embedded backend tracks project metadata, and answers
// semantic/author/churn queries over what it has indexed.
package gitanalyze

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kraklabs/lms/internal/embedding"
	"github.com/kraklabs/lms/internal/metadata"
	"github.com/kraklabs/lms/internal/store"
	"github.com/kraklabs/lms/pkg/gitreader"
)

const collectionName = "commits"

// historyWindow is the "now - 5 years" fallback lower bound §4.7 names for
// a missing/forced full reindex.
const historyWindow = 5 * 365 * 24 * time.Hour

// walkCap bounds how many commits index_commits will walk looking for the
// last-indexed watermark before declaring history rewritten.
const walkCap = 10000

// commitEmbedBatchSize is the "~75" commits per batch §4.7 names.
const commitEmbedBatchSize = 75

const filesChangedTruncate = 500

// Analyzer implements C8 over a single repository.
type Analyzer struct {
	reader   *gitreader.Reader
	embedder embedding.Model
	vectors  store.Store
	guard    *store.Guard
	meta     *metadata.Store
	repoPath string
	logger   *slog.Logger
}

// Config configures an Analyzer.
type Config struct {
	Reader   *gitreader.Reader
	Embedder embedding.Model
	Vectors  store.Store
	Guard    *store.Guard
	Metadata *metadata.Store
	RepoPath string
	Logger   *slog.Logger
}

// New creates an Analyzer.
func New(cfg Config) *Analyzer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		reader:   cfg.Reader,
		embedder: cfg.Embedder,
		vectors:  cfg.Vectors,
		guard:    cfg.Guard,
		meta:     cfg.Metadata,
		repoPath: cfg.RepoPath,
		logger:   logger,
	}
}

// IndexingStats mirrors pkg/codeindex's shape so callers of both C6 and
// C8 report results uniformly.
type IndexingStats struct {
	FilesIndexed int // repurposed here as "commits indexed"
	UnitsIndexed int
	FilesSkipped int
	Errors       []IndexingError
	Duration     time.Duration
}

// IndexingError is one commit's embed/upsert failure; never fatal to the
// run (§4.7 step 7's per-commit batch fallback).
type IndexingError struct {
	SHA       string
	ErrorType string
	Message   string
}

// IndexCommits implements §4.7's index_commits contract.
func (a *Analyzer) IndexCommits(ctx context.Context, since *time.Time, limit int, force bool) (IndexingStats, error) {
	start := time.Now()
	stats := IndexingStats{}

	if err := a.guard.Ensure(ctx, collectionName, a.embedder); err != nil {
		return stats, fmt.Errorf("gitanalyze: ensure collection: %w", err)
	}

	state, err := a.meta.GetGitIndexState(ctx, a.repoPath)
	if err != nil {
		return stats, fmt.Errorf("gitanalyze: load index state: %w", err)
	}

	headSHA, err := a.reader.GetHeadSHA(ctx)
	if err != nil {
		return stats, fmt.Errorf("gitanalyze: head sha: %w", err)
	}

	needsFullReindex := force || state == nil || state.LastIndexedSHA == ""
	if !needsFullReindex && state.LastIndexedSHA == headSHA {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	var commits []gitreader.Commit
	if needsFullReindex {
		commits, err = a.fullWindowCommits(ctx, since, limit)
	} else {
		commits, err = a.incrementalCommits(ctx, state.LastIndexedSHA)
		if err == errHistoryRewritten {
			a.logger.Warn("gitanalyze.last_indexed_sha_not_found", "repo_path", a.repoPath, "last_indexed_sha", state.LastIndexedSHA)
			commits, err = a.fullWindowCommits(ctx, since, limit)
		}
	}
	if err != nil {
		return stats, fmt.Errorf("gitanalyze: collect commits: %w", err)
	}

	a.indexCommitBatches(ctx, commits, &stats)

	if err := a.meta.UpsertGitIndexState(ctx, metadata.GitIndexState{
		RepoPath:       a.repoPath,
		LastIndexedSHA: headSHA,
		LastIndexedAt:  time.Now().UTC(),
		CommitCount:    stats.FilesIndexed,
	}); err != nil {
		return stats, fmt.Errorf("gitanalyze: persist index state: %w", err)
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func (a *Analyzer) fullWindowCommits(ctx context.Context, since *time.Time, limit int) ([]gitreader.Commit, error) {
	lowerBound := time.Now().Add(-historyWindow)
	if since != nil && since.After(lowerBound) {
		lowerBound = *since
	}
	if limit <= 0 {
		limit = walkCap
	}
	return a.reader.GetCommits(ctx, &lowerBound, nil, "", limit)
}

var errHistoryRewritten = fmt.Errorf("gitanalyze: last_indexed_sha not found in walked history")

// incrementalCommits walks newest-first up to walkCap, collecting commits
// until lastIndexedSHA is seen. If the walk exhausts without finding it,
// it returns errHistoryRewritten so the caller falls back to a full
// reindex (§4.7 step 4).
func (a *Analyzer) incrementalCommits(ctx context.Context, lastIndexedSHA string) ([]gitreader.Commit, error) {
	all, err := a.reader.GetCommits(ctx, nil, nil, "", walkCap)
	if err != nil {
		return nil, err
	}
	var fresh []gitreader.Commit
	for _, c := range all {
		if c.SHA == lastIndexedSHA {
			return fresh, nil
		}
		fresh = append(fresh, c)
	}
	return nil, errHistoryRewritten
}

func (a *Analyzer) indexCommitBatches(ctx context.Context, commits []gitreader.Commit, stats *IndexingStats) {
	for start := 0; start < len(commits); start += commitEmbedBatchSize {
		end := start + commitEmbedBatchSize
		if end > len(commits) {
			end = len(commits)
		}
		batch := commits[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = commitEmbeddingText(c)
		}

		vectors, err := a.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			a.logger.Warn("gitanalyze.batch_embed_failed", "error", err, "batch_size", len(batch))
			a.indexCommitsIndividually(ctx, batch, stats)
			continue
		}

		for i, c := range batch {
			if err := a.upsertCommit(ctx, c, vectors[i]); err != nil {
				stats.Errors = append(stats.Errors, IndexingError{SHA: c.SHA, ErrorType: "embedding_error", Message: err.Error()})
				continue
			}
			stats.FilesIndexed++
			stats.UnitsIndexed++
		}
	}
}

// indexCommitsIndividually is the per-commit degrade path for a failed
// batch embed (§4.7 step 7).
func (a *Analyzer) indexCommitsIndividually(ctx context.Context, batch []gitreader.Commit, stats *IndexingStats) {
	for _, c := range batch {
		vector, err := a.embedder.Embed(ctx, commitEmbeddingText(c))
		if err != nil {
			stats.Errors = append(stats.Errors, IndexingError{SHA: c.SHA, ErrorType: "embedding_error", Message: err.Error()})
			continue
		}
		if err := a.upsertCommit(ctx, c, vector); err != nil {
			stats.Errors = append(stats.Errors, IndexingError{SHA: c.SHA, ErrorType: "embedding_error", Message: err.Error()})
			continue
		}
		stats.FilesIndexed++
		stats.UnitsIndexed++
	}
}

func commitEmbeddingText(c gitreader.Commit) string {
	files := strings.Join(c.FilesChanged, ", ")
	if len(files) > filesChangedTruncate {
		files = files[:filesChangedTruncate]
	}
	return c.Message + "\n\nFiles: " + files + "\n\nAuthor: " + c.Author
}

func (a *Analyzer) upsertCommit(ctx context.Context, c gitreader.Commit, vector []float32) error {
	payload := map[string]any{
		"sha":           c.SHA,
		"message":       c.Message,
		"author":        c.Author,
		"author_email":  c.AuthorEmail,
		"timestamp":     c.Timestamp.Format(time.RFC3339),
		"files_changed": c.FilesChanged,
		"file_count":    len(c.FilesChanged),
		"insertions":    c.Insertions,
		"deletions":     c.Deletions,
		"indexed_at":    time.Now().UTC().Format(time.RFC3339),
		"repo_path":     a.repoPath,
	}
	return a.vectors.Upsert(ctx, collectionName, c.SHA, vector, payload)
}

// CommitResult is a commit reconstructed from its stored payload,
// returned by SearchCommits.
type CommitResult struct {
	SHA          string
	Message      string
	Author       string
	AuthorEmail  string
	Timestamp    time.Time
	FilesChanged []string
	FileCount    int
	Insertions   int
	Deletions    int
	Score        float64
}

// SearchCommits implements §4.7's search_commits: semantic similarity on
// the commit's embedding text, optionally filtered by author and a
// since timestamp.
func (a *Analyzer) SearchCommits(ctx context.Context, query, author string, since *time.Time, limit int) ([]CommitResult, error) {
	if limit <= 0 {
		limit = 10
	}
	vector, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("gitanalyze: embed query: %w", err)
	}

	filter := store.Filter{}
	if author != "" {
		filter.Equals = map[string]any{"author": author}
	}
	if since != nil {
		filter.GTE = map[string]any{"timestamp": since.UTC().Format(time.RFC3339)}
	}

	results, err := a.vectors.Search(ctx, collectionName, vector, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("gitanalyze: search: %w", err)
	}

	out := make([]CommitResult, 0, len(results))
	for _, r := range results {
		out = append(out, commitResultFromPayload(r.Payload, r.Score))
	}
	return out, nil
}

func commitResultFromPayload(payload map[string]any, score float64) CommitResult {
	result := CommitResult{Score: score}
	if v, ok := payload["sha"].(string); ok {
		result.SHA = v
	}
	if v, ok := payload["message"].(string); ok {
		result.Message = v
	}
	if v, ok := payload["author"].(string); ok {
		result.Author = v
	}
	if v, ok := payload["author_email"].(string); ok {
		result.AuthorEmail = v
	}
	if v, ok := payload["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			result.Timestamp = ts
		}
	}
	if v, ok := payload["files_changed"].([]string); ok {
		result.FilesChanged = v
	}
	if v, ok := payload["file_count"].(int); ok {
		result.FileCount = v
	}
	if v, ok := payload["insertions"].(int); ok {
		result.Insertions = v
	}
	if v, ok := payload["deletions"].(int); ok {
		result.Deletions = v
	}
	return result
}

// ChurnHotspot is one file's aggregated change activity over a window.
type ChurnHotspot struct {
	Path         string
	ChangeCount  int
	Insertions   int
	Deletions    int
	Authors      []string
	AuthorEmails []string
	LastChanged  time.Time
}

// GetChurnHotspots implements §4.7's get_churn_hotspots: per-file stats
// (not commit totals) folded over commits within the last `days`.
func (a *Analyzer) GetChurnHotspots(ctx context.Context, days, limit, minChanges int) ([]ChurnHotspot, error) {
	if days <= 0 {
		days = 90
	}
	if limit <= 0 {
		limit = 10
	}
	if minChanges <= 0 {
		minChanges = 3
	}

	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	commits, err := a.reader.GetCommits(ctx, &since, nil, "", walkCap)
	if err != nil {
		return nil, fmt.Errorf("gitanalyze: walk commits: %w", err)
	}

	type accum struct {
		changeCount int
		insertions  int
		deletions   int
		authors     map[string]struct{}
		emails      map[string]struct{}
		lastChanged time.Time
	}
	byPath := make(map[string]*accum)

	for _, c := range commits {
		for _, fs := range c.FileStats {
			acc, ok := byPath[fs.Path]
			if !ok {
				acc = &accum{authors: make(map[string]struct{}), emails: make(map[string]struct{})}
				byPath[fs.Path] = acc
			}
			acc.changeCount++
			acc.insertions += fs.Insertions
			acc.deletions += fs.Deletions
			acc.authors[c.Author] = struct{}{}
			acc.emails[c.AuthorEmail] = struct{}{}
			if c.Timestamp.After(acc.lastChanged) {
				acc.lastChanged = c.Timestamp
			}
		}
	}

	hotspots := make([]ChurnHotspot, 0, len(byPath))
	for path, acc := range byPath {
		if acc.changeCount < minChanges {
			continue
		}
		hotspots = append(hotspots, ChurnHotspot{
			Path:         path,
			ChangeCount:  acc.changeCount,
			Insertions:   acc.insertions,
			Deletions:    acc.deletions,
			Authors:      sortedKeys(acc.authors),
			AuthorEmails: sortedKeys(acc.emails),
			LastChanged:  acc.lastChanged,
		})
	}

	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].ChangeCount != hotspots[j].ChangeCount {
			return hotspots[i].ChangeCount > hotspots[j].ChangeCount
		}
		return hotspots[i].Path < hotspots[j].Path
	})
	if len(hotspots) > limit {
		hotspots = hotspots[:limit]
	}
	return hotspots, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FileAuthor is one author's contribution count to a file's history.
type FileAuthor struct {
	Author      string
	AuthorEmail string
	CommitCount int
	LastChanged time.Time
}

// GetFileAuthors implements §4.7's get_file_authors: aggregated over the
// file's 100 most recent commits (GetFileHistory's default limit); older
// commits are not counted.
func (a *Analyzer) GetFileAuthors(ctx context.Context, filePath string) ([]FileAuthor, error) {
	history, err := a.reader.GetFileHistory(ctx, filePath, 0)
	if err != nil {
		return nil, fmt.Errorf("gitanalyze: file history: %w", err)
	}

	type key struct{ author, email string }
	byAuthor := make(map[key]*FileAuthor)
	for _, c := range history {
		k := key{c.Author, c.AuthorEmail}
		fa, ok := byAuthor[k]
		if !ok {
			fa = &FileAuthor{Author: c.Author, AuthorEmail: c.AuthorEmail}
			byAuthor[k] = fa
		}
		fa.CommitCount++
		if c.Timestamp.After(fa.LastChanged) {
			fa.LastChanged = c.Timestamp
		}
	}

	out := make([]FileAuthor, 0, len(byAuthor))
	for _, fa := range byAuthor {
		out = append(out, *fa)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommitCount > out[j].CommitCount })
	return out, nil
}

// BlameSearchResult is one grep hit mapped to its containing blame range.
type BlameSearchResult struct {
	FilePath  string
	Line      int
	Text      string
	SHA       string
	Author    string
	Timestamp time.Time
}

// BlameSearch implements §4.7's blame_search: grep for pattern, then map
// each hit's line to the blame range that contains it.
func (a *Analyzer) BlameSearch(ctx context.Context, pattern, filePattern string, limit int) ([]BlameSearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	hits, err := a.reader.Grep(ctx, pattern, filePattern, limit)
	if err != nil {
		return nil, fmt.Errorf("gitanalyze: grep: %w", err)
	}

	blameCache := make(map[string][]gitreader.BlameEntry)
	results := make([]BlameSearchResult, 0, len(hits))
	for _, hit := range hits {
		blame, ok := blameCache[hit.FilePath]
		if !ok {
			blame, err = a.reader.GetBlame(ctx, hit.FilePath)
			if err != nil {
				a.logger.Warn("gitanalyze.blame_search_blame_failed", "path", hit.FilePath, "error", err)
				blameCache[hit.FilePath] = nil
				continue
			}
			blameCache[hit.FilePath] = blame
		}

		entry := findBlameEntry(blame, hit.Line)
		result := BlameSearchResult{FilePath: hit.FilePath, Line: hit.Line, Text: hit.Text}
		if entry != nil {
			result.SHA = entry.SHA
			result.Author = entry.Author
			result.Timestamp = entry.Timestamp
		}
		results = append(results, result)
	}
	return results, nil
}

func findBlameEntry(entries []gitreader.BlameEntry, line int) *gitreader.BlameEntry {
	for i := range entries {
		if line >= entries[i].StartLine && line <= entries[i].EndLine {
			return &entries[i]
		}
	}
	return nil
}
