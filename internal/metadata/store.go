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

// Package metadata is the Metadata Store (C3): a small sqlite-backed
// relational store for change-detection rows (indexed_files), git indexing
// cursors (git_index_state), and arbitrary key/value settings.
package metadata

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the sqlite connection and exposes the operations C6 and C8
// need for change detection and indexing cursors.
type Store struct {
	db *sql.DB
}

// Open opens or creates a sqlite database at dbPath. If the existing
// database carries an incompatible schema, it is deleted and recreated —
// this service owns its metadata database outright, so there is nothing to
// migrate from.
func Open(dbPath string) (*Store, error) {
	store, err := openDB(dbPath)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "no such column") || strings.Contains(msg, "no such table") {
			if rmErr := os.Remove(dbPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, fmt.Errorf("remove incompatible metadata db: %w", rmErr)
			}
			_ = os.Remove(dbPath + "-wal")
			_ = os.Remove(dbPath + "-shm")
			return openDB(dbPath)
		}
		return nil, err
	}
	return store, nil
}

func openDB(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}

	escaped := strings.ReplaceAll(dbPath, " ", "%20")
	db, err := sql.Open("sqlite", "file:"+escaped+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// IndexedFile is the change-detection row per (project, file_path).
type IndexedFile struct {
	Project     string
	FilePath    string
	ContentHash string
	MTime       time.Time
	Language    string
	UnitCount   int
	IndexedAt   time.Time
}

// GetIndexedFile returns the row for (project, filePath), or nil if absent.
func (s *Store) GetIndexedFile(ctx context.Context, project, filePath string) (*IndexedFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project, file_path, content_hash, mtime, language, unit_count, indexed_at
		FROM indexed_files WHERE project = ? AND file_path = ?`, project, filePath)

	var f IndexedFile
	var mtimeUnix int64
	var language sql.NullString
	var indexedAt string
	if err := row.Scan(&f.Project, &f.FilePath, &f.ContentHash, &mtimeUnix, &language, &f.UnitCount, &indexedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get indexed file: %w", err)
	}
	f.MTime = time.Unix(mtimeUnix, 0).UTC()
	f.Language = language.String
	parsed, err := time.Parse(time.RFC3339, indexedAt)
	if err != nil {
		return nil, fmt.Errorf("parse indexed_at: %w", err)
	}
	f.IndexedAt = parsed
	return &f, nil
}

// UpsertIndexedFile writes (or overwrites) the row for (project, file_path).
func (s *Store) UpsertIndexedFile(ctx context.Context, f IndexedFile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexed_files (project, file_path, content_hash, mtime, language, unit_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project, file_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			mtime = excluded.mtime,
			language = excluded.language,
			unit_count = excluded.unit_count,
			indexed_at = excluded.indexed_at`,
		f.Project, f.FilePath, f.ContentHash, f.MTime.UTC().Unix(), nullableString(f.Language), f.UnitCount, f.IndexedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert indexed file: %w", err)
	}
	return nil
}

// DeleteIndexedFile removes the row for (project, filePath). Absence is not
// an error.
func (s *Store) DeleteIndexedFile(ctx context.Context, project, filePath string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM indexed_files WHERE project = ? AND file_path = ?`, project, filePath)
	if err != nil {
		return fmt.Errorf("delete indexed file: %w", err)
	}
	return nil
}

// ListIndexedFiles returns every row for project, or every row if project is
// empty.
func (s *Store) ListIndexedFiles(ctx context.Context, project string) ([]IndexedFile, error) {
	var rows *sql.Rows
	var err error
	if project == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT project, file_path, content_hash, mtime, language, unit_count, indexed_at FROM indexed_files`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT project, file_path, content_hash, mtime, language, unit_count, indexed_at FROM indexed_files WHERE project = ?`, project)
	}
	if err != nil {
		return nil, fmt.Errorf("list indexed files: %w", err)
	}
	defer rows.Close()

	var out []IndexedFile
	for rows.Next() {
		var f IndexedFile
		var mtimeUnix int64
		var language sql.NullString
		var indexedAt string
		if err := rows.Scan(&f.Project, &f.FilePath, &f.ContentHash, &mtimeUnix, &language, &f.UnitCount, &indexedAt); err != nil {
			return nil, fmt.Errorf("scan indexed file: %w", err)
		}
		f.MTime = time.Unix(mtimeUnix, 0).UTC()
		f.Language = language.String
		if parsed, err := time.Parse(time.RFC3339, indexedAt); err == nil {
			f.IndexedAt = parsed
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteProjectFiles removes every indexed_files row for project, returning
// the number of rows removed.
func (s *Store) DeleteProjectFiles(ctx context.Context, project string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM indexed_files WHERE project = ?`, project)
	if err != nil {
		return 0, fmt.Errorf("delete project files: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GitIndexState is the per-repo indexing cursor.
type GitIndexState struct {
	RepoPath       string
	LastIndexedSHA string
	LastIndexedAt  time.Time
	CommitCount    int
}

// GetGitIndexState returns the state row for repoPath, or nil if no indexing
// has ever run for it.
func (s *Store) GetGitIndexState(ctx context.Context, repoPath string) (*GitIndexState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT repo_path, last_indexed_sha, last_indexed_at, commit_count
		FROM git_index_state WHERE repo_path = ?`, repoPath)

	var st GitIndexState
	var sha, at sql.NullString
	if err := row.Scan(&st.RepoPath, &sha, &at, &st.CommitCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get git index state: %w", err)
	}
	st.LastIndexedSHA = sha.String
	if at.Valid {
		if parsed, err := time.Parse(time.RFC3339, at.String); err == nil {
			st.LastIndexedAt = parsed
		}
	}
	return &st, nil
}

// UpsertGitIndexState writes (or overwrites) the cursor row for
// st.RepoPath.
func (s *Store) UpsertGitIndexState(ctx context.Context, st GitIndexState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO git_index_state (repo_path, last_indexed_sha, last_indexed_at, commit_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repo_path) DO UPDATE SET
			last_indexed_sha = excluded.last_indexed_sha,
			last_indexed_at = excluded.last_indexed_at,
			commit_count = excluded.commit_count`,
		st.RepoPath, nullableString(st.LastIndexedSHA), st.LastIndexedAt.UTC().Format(time.RFC3339), st.CommitCount)
	if err != nil {
		return fmt.Errorf("upsert git index state: %w", err)
	}
	return nil
}

// GetSetting returns the stored value for key, and whether it was present.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting: %w", err)
	}
	return value, true, nil
}

// SetSetting writes key=value, overwriting any prior value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
