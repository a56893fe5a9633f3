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

package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/lms/internal/embedding"
	"github.com/kraklabs/lms/internal/store"
	"github.com/kraklabs/lms/pkg/codeindex"
	"github.com/kraklabs/lms/pkg/ghap"
	"github.com/kraklabs/lms/pkg/gitanalyze"
	"github.com/kraklabs/lms/pkg/memory"
	"github.com/kraklabs/lms/pkg/values"
)

func newTestSearcher(t *testing.T) (*Searcher, store.Store, embedding.Model) {
	t.Helper()
	vectors := store.NewMemStore()
	semantic := embedding.NewMockModel("semantic", 16)
	code := embedding.NewMockModel("code", 16)
	analyzer := gitanalyze.New(gitanalyze.Config{Embedder: semantic, Vectors: vectors})
	return New(Config{SemanticEmbedder: semantic, CodeEmbedder: code, Vectors: vectors, Analyzer: analyzer}), vectors, semantic
}

func TestSearchMemories_EmptyQueryReturnsEmptyNotError(t *testing.T) {
	s, _, _ := newTestSearcher(t)
	results, err := s.SearchMemories(context.Background(), "", 10, "", nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchMemories_MissingCollectionReturnsEmpty(t *testing.T) {
	s, _, _ := newTestSearcher(t)
	results, err := s.SearchMemories(context.Background(), "tabs vs spaces", 10, "", nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchMemories_FindsStoredMemory(t *testing.T) {
	s, vectors, semantic := newTestSearcher(t)
	ctx := context.Background()
	guard := store.NewGuard(vectors, nil)
	memStore := memory.New(memory.Config{Embedder: semantic, Vectors: vectors, Guard: guard})

	_, err := memStore.StoreMemory(ctx, "prefers tabs over spaces", "preference", 0.9, nil)
	require.NoError(t, err)

	results, err := s.SearchMemories(ctx, "prefers tabs over spaces", 10, "", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "prefers tabs over spaces", results[0].Content)
}

func TestSearchMemories_FiltersByMinImportance(t *testing.T) {
	s, vectors, semantic := newTestSearcher(t)
	ctx := context.Background()
	guard := store.NewGuard(vectors, nil)
	memStore := memory.New(memory.Config{Embedder: semantic, Vectors: vectors, Guard: guard})

	_, err := memStore.StoreMemory(ctx, "low importance note", "fact", 0.1, nil)
	require.NoError(t, err)

	min := 0.5
	results, err := s.SearchMemories(ctx, "low importance note", 10, "", &min)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchCode_UsesCodeEmbedderAndCollection(t *testing.T) {
	s, vectors, _ := newTestSearcher(t)
	ctx := context.Background()
	require.NoError(t, vectors.CreateCollection(ctx, codeindex.CollectionName, 16, store.Cosine))
	require.NoError(t, vectors.Upsert(ctx, codeindex.CollectionName, "u1", make([]float32, 16), map[string]any{
		"project": "proj", "file_path": "a.go", "name": "Foo", "qualified_name": "pkg.Foo",
		"unit_type": "function", "language": "go", "start_line": 1, "end_line": 10,
	}))

	results, err := s.SearchCode(ctx, "Foo", 10, "proj", "go")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "pkg.Foo", results[0].QualifiedName)
	require.Equal(t, 1, results[0].StartLine)
	require.Equal(t, 10, results[0].EndLine)
}

func TestSearchExperiences_DefaultsToFullAxis(t *testing.T) {
	s, vectors, semantic := newTestSearcher(t)
	ctx := context.Background()
	vec, err := semantic.Embed(ctx, "debugged a flaky test")
	require.NoError(t, err)
	require.NoError(t, vectors.CreateCollection(ctx, ghap.AxisCollectionName(ghap.AxisFull), 16, store.Cosine))
	require.NoError(t, vectors.Upsert(ctx, ghap.AxisCollectionName(ghap.AxisFull), "e1", vec, map[string]any{
		"domain": "debugging", "strategy": "systematic-elimination", "outcome_status": "confirmed",
	}))

	results, err := s.SearchExperiences(ctx, "debugged a flaky test", "", "debugging", "", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "debugging", results[0].Domain)
}

func TestSearchValues_FiltersByAxis(t *testing.T) {
	s, vectors, semantic := newTestSearcher(t)
	ctx := context.Background()
	vec, err := semantic.Embed(ctx, "prefer small functions")
	require.NoError(t, err)
	require.NoError(t, vectors.CreateCollection(ctx, values.CollectionName, 16, store.Cosine))
	require.NoError(t, vectors.Upsert(ctx, values.CollectionName, "v1", vec, map[string]any{
		"text": "prefer small functions", "axis": "full", "cluster_id": "full_0", "cluster_size": 12,
	}))

	results, err := s.SearchValues(ctx, "prefer small functions", 10, "full")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 12, results[0].ClusterSize)

	none, err := s.SearchValues(ctx, "prefer small functions", 10, "strategy")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestSearchCommits_EmptyQueryReturnsEmpty(t *testing.T) {
	s, _, _ := newTestSearcher(t)
	results, err := s.SearchCommits(context.Background(), "", "", nil, 10)
	require.NoError(t, err)
	require.Empty(t, results)
}
