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

package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	lmserrors "github.com/kraklabs/lms/internal/errors"
	"github.com/kraklabs/lms/internal/embedding"
	"github.com/kraklabs/lms/internal/store"
	"github.com/kraklabs/lms/pkg/ghap"
	"github.com/kraklabs/lms/pkg/gitanalyze"
	"github.com/kraklabs/lms/pkg/memory"
	"github.com/kraklabs/lms/pkg/search"
)

func newTestAssembler(t *testing.T) (*Assembler, store.Store, embedding.Model) {
	t.Helper()
	vectors := store.NewMemStore()
	semantic := embedding.NewMockModel("semantic", 16)
	code := embedding.NewMockModel("code", 16)
	analyzer := gitanalyze.New(gitanalyze.Config{Embedder: semantic, Vectors: vectors})
	searcher := search.New(search.Config{SemanticEmbedder: semantic, CodeEmbedder: code, Vectors: vectors, Analyzer: analyzer})
	return New(Config{Searcher: searcher}), vectors, semantic
}

func TestAssembleContext_RejectsUnknownContextType(t *testing.T) {
	a, _, _ := newTestAssembler(t)
	_, err := a.AssembleContext(context.Background(), "q", []string{"not-a-source"}, 20, 2000)
	require.Error(t, err)
	lerr, ok := lmserrors.As(err)
	require.True(t, ok)
	require.Equal(t, lmserrors.KindValidation, lerr.Kind)
}

func TestAssembleContext_EmptySourcesProduceEmptyContext(t *testing.T) {
	a, _, _ := newTestAssembler(t)
	fc, err := a.AssembleContext(context.Background(), "anything", []string{"memories", "code"}, 20, 2000)
	require.NoError(t, err)
	require.Empty(t, fc.Items)
	require.Empty(t, fc.SourcesUsed)
	require.False(t, fc.BudgetExceeded)
	require.Contains(t, fc.Markdown, "# Context")
	require.Contains(t, fc.Markdown, "*0 items from 0 sources*")
}

func TestAssembleContext_IncludesStoredMemory(t *testing.T) {
	a, vectors, semantic := newTestAssembler(t)
	ctx := context.Background()
	guard := store.NewGuard(vectors, nil)
	memStore := memory.New(memory.Config{Embedder: semantic, Vectors: vectors, Guard: guard})

	_, err := memStore.StoreMemory(ctx, "always write tests first", "workflow", 0.8, nil)
	require.NoError(t, err)

	fc, err := a.AssembleContext(ctx, "always write tests first", []string{"memories"}, 20, 2000)
	require.NoError(t, err)
	require.Len(t, fc.Items, 1)
	require.Equal(t, "memories", fc.Items[0].Source)
	require.Contains(t, fc.Items[0].Content, "**Memory**: always write tests first")
	require.Equal(t, 1, fc.SourcesUsed["memories"])
}

func TestAssembleContext_EmptySourcesDoNotBlockOthers(t *testing.T) {
	a, vectors, semantic := newTestAssembler(t)
	ctx := context.Background()
	guard := store.NewGuard(vectors, nil)
	memStore := memory.New(memory.Config{Embedder: semantic, Vectors: vectors, Guard: guard})
	_, err := memStore.StoreMemory(ctx, "prefers small diffs", "preference", 0.7, nil)
	require.NoError(t, err)

	fc, err := a.AssembleContext(ctx, "prefers small diffs", []string{"memories", "code", "experiences", "values", "commits"}, 20, 2000)
	require.NoError(t, err)
	require.Equal(t, 1, fc.SourcesUsed["memories"])
	require.Zero(t, fc.SourcesUsed["code"])
}

func TestAssembleContext_TinyBudgetNeverRaises(t *testing.T) {
	a, vectors, semantic := newTestAssembler(t)
	ctx := context.Background()
	guard := store.NewGuard(vectors, nil)
	memStore := memory.New(memory.Config{Embedder: semantic, Vectors: vectors, Guard: guard})
	_, err := memStore.StoreMemory(ctx, "a fairly long memory body to exceed any tiny per-item cap", "fact", 0.5, nil)
	require.NoError(t, err)

	fc, err := a.AssembleContext(ctx, "a fairly long memory body to exceed any tiny per-item cap", []string{"memories"}, 20, 1)
	require.NoError(t, err)
	require.NotNil(t, fc)
}

func TestLCSRatio_IdenticalStringsMatch(t *testing.T) {
	require.Equal(t, 1.0, lcsRatio("hello world", "hello world"))
}

func TestLCSRatio_DetectsNearDuplicate(t *testing.T) {
	ratio := lcsRatio("the quick brown fox jumps", "the quick brown fox jumped")
	require.GreaterOrEqual(t, ratio, 0.90)
}

func TestLCSRatio_DissimilarTextScoresLow(t *testing.T) {
	ratio := lcsRatio("completely unrelated content here", "something else entirely different")
	require.Less(t, ratio, 0.50)
}

func TestDedupe_KeepsHigherScoringDuplicate(t *testing.T) {
	bySource := map[string][]candidate{
		"memories": {
			{source: "memories", strongKey: "memory:1", content: "same text", rendered: "low", score: 0.2},
		},
		"values": {
			{source: "values", strongKey: "content:abc", content: "same text", rendered: "high", score: 0.9},
		},
	}
	// force the fuzzy path by sharing content across distinct strong keys
	out := dedupe(bySource, []string{"experiences", "code", "commits", "memories", "values"})
	total := 0
	var kept string
	for _, items := range out {
		for _, c := range items {
			total++
			kept = c.rendered
		}
	}
	require.Equal(t, 1, total)
	require.Equal(t, "high", kept)
}

func TestGetPremortemContext_RequiresDomain(t *testing.T) {
	a, _, _ := newTestAssembler(t)
	_, err := a.GetPremortemContext(context.Background(), "", "", 10, 1500)
	require.Error(t, err)
}

func TestGetPremortemContext_RendersTemplateWithFooter(t *testing.T) {
	a, vectors, semantic := newTestAssembler(t)
	ctx := context.Background()
	vec, err := semantic.Embed(ctx, "debugging")
	require.NoError(t, err)
	require.NoError(t, vectors.CreateCollection(ctx, ghap.AxisCollectionName(ghap.AxisFull), 16, store.Cosine))
	require.NoError(t, vectors.Upsert(ctx, ghap.AxisCollectionName(ghap.AxisFull), "e1", vec, map[string]any{
		"domain": "debugging", "strategy": "systematic-elimination", "outcome_status": "falsified",
		"hypothesis": "the cache was stale", "outcome_result": "it was actually a race condition",
	}))

	fc, err := a.GetPremortemContext(ctx, "debugging", "", 10, 1500)
	require.NoError(t, err)
	require.Contains(t, fc.Markdown, "# Premortem: debugging")
	require.Contains(t, fc.Markdown, "## Common Failures")
	require.Contains(t, fc.Markdown, "*Based on")
	require.NotContains(t, fc.Markdown, "with ")
}

func TestGetPremortemContext_IncludesStrategySectionWhenProvided(t *testing.T) {
	a, _, _ := newTestAssembler(t)
	fc, err := a.GetPremortemContext(context.Background(), "debugging", "trial-and-error", 10, 1500)
	require.NoError(t, err)
	require.Contains(t, fc.Markdown, "# Premortem: debugging with trial-and-error")
}
