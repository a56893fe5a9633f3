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

// Package codeindex is the Code Indexer (C6): it orchestrates
// parse (C5) -> change-detect (C3) -> batch-embed (C1) -> upsert (C2),
// enforcing the orphan-prevention invariant (delete a file's vectors
// before reinserting them) on every reindex.
package codeindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"

	"github.com/kraklabs/lms/internal/embedding"
	"github.com/kraklabs/lms/internal/metadata"
	"github.com/kraklabs/lms/internal/store"
	"github.com/kraklabs/lms/pkg/codeparse"
)

const CollectionName = "code_units"

// defaultContentTruncate bounds the source excerpt folded into the embedding text
// (§4.5 step 6, "Ctrunc ... ≈2000 chars by default").
const defaultContentTruncate = 2000

// defaultEmbeddingBatchSize is EMBEDDING_BATCH_SIZE (§6.4).
const defaultEmbeddingBatchSize = 100

// ProgressCallback reports index_directory walk progress: current/total
// files seen so far and the phase ("scan" while counting eligible files,
// "index" while indexing them). Mirrors the ingestion pipeline's own
// progress-reporting shape so a CLI can drive a single progress bar across
// either kind of bulk operation.
type ProgressCallback func(current, total int64, phase string)

// Indexer implements C6 over a Parser, an embedding Model, a vector Store
// guarded by Guard, and a metadata Store for change detection.
type Indexer struct {
	parser          codeparse.Parser
	embedder        embedding.Model
	vectors         store.Store
	guard           *store.Guard
	meta            *metadata.Store
	logger          *slog.Logger
	contentTrunc    int
	batchSize       int
	excludePatterns []glob.Glob
	onProgress      ProgressCallback
}

// SetProgressCallback installs cb to be invoked during IndexDirectory.
// A nil cb (the default) disables progress reporting entirely.
func (idx *Indexer) SetProgressCallback(cb ProgressCallback) {
	idx.onProgress = cb
}

func (idx *Indexer) reportProgress(current, total int64, phase string) {
	if idx.onProgress != nil {
		idx.onProgress(current, total, phase)
	}
}

// Config configures an Indexer.
type Config struct {
	Parser          codeparse.Parser
	Embedder        embedding.Model
	Vectors         store.Store
	Guard           *store.Guard
	Metadata        *metadata.Store
	Logger          *slog.Logger
	ContentTruncate int // defaults to defaultContentTruncate
	BatchSize       int // defaults to defaultEmbeddingBatchSize
	ExcludeGlobs    []string
}

// New creates an Indexer.
func New(cfg Config) (*Indexer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	contentTrunc := cfg.ContentTruncate
	if contentTrunc <= 0 {
		contentTrunc = defaultContentTruncate
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultEmbeddingBatchSize
	}

	patterns := make([]glob.Glob, 0, len(cfg.ExcludeGlobs))
	for _, pattern := range cfg.ExcludeGlobs {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("codeindex: compile exclude glob %q: %w", pattern, err)
		}
		patterns = append(patterns, g)
	}

	return &Indexer{
		parser:          cfg.Parser,
		embedder:        cfg.Embedder,
		vectors:         cfg.Vectors,
		guard:           cfg.Guard,
		meta:            cfg.Metadata,
		logger:          logger,
		contentTrunc:    contentTrunc,
		batchSize:       batchSize,
		excludePatterns: patterns,
	}, nil
}

// IndexingStats accumulates the outcome of index_directory / index_commits
// style bulk operations (§4.5/§4.7).
type IndexingStats struct {
	FilesIndexed int
	UnitsIndexed int
	FilesSkipped int
	Errors       []IndexingError
	Duration     time.Duration
}

// IndexingError classifies a single file's failure without aborting the
// run (§4.5).
type IndexingError struct {
	Path string
	Kind string // parse_error | encoding_error | io_error | embedding_error | unknown_error
	Message string
}

// IndexFile implements §4.5's index_file contract. Returns the number of
// units (re)indexed; 0 is a valid, non-error outcome (no changes, no
// units, or a tolerated parse failure).
func (idx *Indexer) IndexFile(ctx context.Context, path, project string) (int, error) {
	if err := idx.guard.Ensure(ctx, CollectionName, idx.embedder); err != nil {
		return 0, fmt.Errorf("codeindex: ensure collection: %w", err)
	}

	needsReindex, err := idx.needsReindex(ctx, path, project)
	if err != nil {
		return 0, fmt.Errorf("codeindex: needs_reindex: %w", err)
	}
	if !needsReindex {
		return 0, nil
	}

	units, err := idx.parser.ParseFile(path, project)
	if err != nil {
		idx.logger.Warn("codeindex.parse_failed", "path", path, "project", project, "error", err)
		return 0, nil
	}

	// Orphan prevention: delete every vector tagged with this (project,
	// file_path) before inserting the freshly parsed set, regardless of
	// whether parsing produced any units.
	if err := idx.deleteFileVectors(ctx, project, path); err != nil {
		return 0, fmt.Errorf("codeindex: delete stale vectors: %w", err)
	}

	if len(units) == 0 {
		if err := idx.meta.DeleteIndexedFile(ctx, project, path); err != nil {
			return 0, fmt.Errorf("codeindex: delete indexed_files row: %w", err)
		}
		return 0, nil
	}

	if err := idx.embedAndUpsert(ctx, project, units); err != nil {
		return 0, err
	}

	hash, mtime, lang, err := idx.fileFingerprint(path)
	if err != nil {
		return 0, fmt.Errorf("codeindex: fingerprint: %w", err)
	}
	if err := idx.meta.UpsertIndexedFile(ctx, metadata.IndexedFile{
		Project:     project,
		FilePath:    path,
		ContentHash: hash,
		MTime:       mtime,
		Language:    lang,
		UnitCount:   len(units),
		IndexedAt:   time.Now().UTC(),
	}); err != nil {
		return 0, fmt.Errorf("codeindex: upsert indexed_files row: %w", err)
	}

	return len(units), nil
}

// needsReindex implements §4.5's fast-path/content-hash decision.
func (idx *Indexer) needsReindex(ctx context.Context, path, project string) (bool, error) {
	row, err := idx.meta.GetIndexedFile(ctx, project, path)
	if err != nil {
		return false, err
	}
	if row == nil {
		return true, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat: %w", err)
	}
	if !info.ModTime().UTC().After(row.MTime) {
		return false, nil
	}

	hash, err := computeFileHash(path)
	if err != nil {
		return false, err
	}
	return hash != row.ContentHash, nil
}

func (idx *Indexer) fileFingerprint(path string) (hash string, mtime time.Time, language string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", time.Time{}, "", err
	}
	hash, err = computeFileHash(path)
	if err != nil {
		return "", time.Time{}, "", err
	}
	lang, _ := codeparse.DetectLanguage(path)
	return hash, info.ModTime().UTC(), lang, nil
}

// computeFileHash returns a stable sha256 hex digest of path's content.
// Pure with respect to file content: identical bytes always hash
// identically (§8 determinism property).
func computeFileHash(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

func (idx *Indexer) deleteFileVectors(ctx context.Context, project, path string) error {
	results, err := idx.vectors.Scroll(ctx, CollectionName, 0, store.Filter{
		Equals: map[string]any{"project": project, "file_path": path},
	}, false)
	if err != nil {
		return err
	}
	for _, r := range results {
		if err := idx.vectors.Delete(ctx, CollectionName, r.ID); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Indexer) embedAndUpsert(ctx context.Context, project string, units []codeparse.SemanticUnit) error {
	for start := 0; start < len(units); start += idx.batchSize {
		end := start + idx.batchSize
		if end > len(units) {
			end = len(units)
		}
		batch := units[start:end]

		texts := make([]string, len(batch))
		for i, u := range batch {
			texts[i] = idx.embeddingText(u)
		}

		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("codeindex: embedding_error: %w", err)
		}

		now := time.Now().UTC()
		for i, u := range batch {
			payload := map[string]any{
				"project":        project,
				"file_path":      u.FilePath,
				"name":           u.Name,
				"qualified_name": u.QualifiedName,
				"unit_type":      string(u.UnitType),
				"signature":      u.Signature,
				"language":       u.Language,
				"start_line":     u.StartLine,
				"end_line":       u.EndLine,
				"line_count":     u.EndLine - u.StartLine + 1,
				"has_docstring":  u.Docstring != "",
				"indexed_at":     now.Format(time.RFC3339),
			}
			if u.Complexity > 0 {
				payload["complexity"] = u.Complexity
			}
			if err := idx.vectors.Upsert(ctx, CollectionName, u.ID, vectors[i], payload); err != nil {
				return fmt.Errorf("codeindex: upsert unit %s: %w", u.ID, err)
			}
		}
	}
	return nil
}

func (idx *Indexer) embeddingText(u codeparse.SemanticUnit) string {
	content := u.Content
	if len(content) > idx.contentTrunc {
		content = content[:idx.contentTrunc]
	}
	return u.Signature + "\n\n" + u.Docstring + "\n\n" + content
}

// IndexDirectory implements §4.5's index_directory walk. When a
// ProgressCallback is installed, it walks eligible-file discovery and
// indexing as two reported phases ("scan" then "index") so a caller can
// drive a determinate progress bar instead of a spinner.
func (idx *Indexer) IndexDirectory(ctx context.Context, root, project string, recursive bool) IndexingStats {
	start := time.Now()
	stats := IndexingStats{}

	eligible := idx.eligibleFiles(root, recursive, &stats)

	var total int64
	if idx.onProgress != nil {
		total = int64(len(eligible))
		idx.reportProgress(0, total, "index")
	}

	for i, path := range eligible {
		n, err := idx.IndexFile(ctx, path, project)
		if err != nil {
			stats.Errors = append(stats.Errors, IndexingError{Path: path, Kind: classifyError(err), Message: err.Error()})
		} else if n > 0 {
			stats.FilesIndexed++
			stats.UnitsIndexed += n
		}
		idx.reportProgress(int64(i+1), total, "index")
	}

	stats.Duration = time.Since(start)
	return stats
}

// eligibleFiles walks root collecting files that pass exclusion and
// language-detection, reporting a "scan" phase if a ProgressCallback is
// installed. Directory/IO errors during the walk are folded into stats
// rather than aborting the whole operation.
func (idx *Indexer) eligibleFiles(root string, recursive bool, stats *IndexingStats) []string {
	var eligible []string
	var seen int64

	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			stats.Errors = append(stats.Errors, IndexingError{Path: path, Kind: "io_error", Message: err.Error()})
			return nil
		}
		if d.IsDir() {
			if !recursive && path != root {
				return filepath.SkipDir
			}
			if idx.isExcluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		seen++
		idx.reportProgress(seen, 0, "scan")
		if idx.isExcluded(path) {
			stats.FilesSkipped++
			return nil
		}
		if _, ok := codeparse.DetectLanguage(path); !ok {
			stats.FilesSkipped++
			return nil
		}
		eligible = append(eligible, path)
		return nil
	}

	if err := filepath.WalkDir(root, walk); err != nil {
		stats.Errors = append(stats.Errors, IndexingError{Path: root, Kind: "io_error", Message: err.Error()})
	}
	return eligible
}

func classifyError(err error) string {
	var pe *codeparse.ParseError
	if errors.As(err, &pe) {
		return string(pe.Kind)
	}
	return "unknown_error"
}

func (idx *Indexer) isExcluded(path string) bool {
	normalized := filepath.ToSlash(path)
	for _, pattern := range idx.excludePatterns {
		if pattern.Match(normalized) {
			return true
		}
	}
	return false
}

// RemoveFile deletes all vectors and the metadata row for (project, path),
// returning the number of vectors removed.
func (idx *Indexer) RemoveFile(ctx context.Context, path, project string) (int, error) {
	results, err := idx.vectors.Scroll(ctx, CollectionName, 0, store.Filter{
		Equals: map[string]any{"project": project, "file_path": path},
	}, false)
	if err != nil {
		return 0, err
	}
	for _, r := range results {
		if err := idx.vectors.Delete(ctx, CollectionName, r.ID); err != nil {
			return 0, err
		}
	}
	if err := idx.meta.DeleteIndexedFile(ctx, project, path); err != nil {
		return 0, err
	}
	return len(results), nil
}

// RemoveProject deletes every file's vectors and metadata row for project.
func (idx *Indexer) RemoveProject(ctx context.Context, project string) (int, error) {
	files, err := idx.meta.ListIndexedFiles(ctx, project)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		n, err := idx.RemoveFile(ctx, f.FilePath, project)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// IndexingSummary is the roll-up §4.5's get_indexing_stats returns.
type IndexingSummary struct {
	TotalFiles    int
	TotalUnits    int
	ByLanguage    map[string]int
}

// GetIndexingStats rolls up indexed_files rows for project (or all
// projects if empty).
func (idx *Indexer) GetIndexingStats(ctx context.Context, project string) (IndexingSummary, error) {
	files, err := idx.meta.ListIndexedFiles(ctx, project)
	if err != nil {
		return IndexingSummary{}, err
	}
	summary := IndexingSummary{ByLanguage: make(map[string]int)}
	for _, f := range files {
		summary.TotalFiles++
		summary.TotalUnits += f.UnitCount
		if f.Language != "" {
			summary.ByLanguage[f.Language]++
		}
	}
	return summary, nil
}
