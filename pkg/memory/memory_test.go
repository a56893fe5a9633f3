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

package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/lms/internal/embedding"
	"github.com/kraklabs/lms/internal/store"
)

func newTestStore(t *testing.T) (*Store, store.Store) {
	t.Helper()
	vectors := store.NewMemStore()
	guard := store.NewGuard(vectors, nil)
	embedder := embedding.NewMockModel("mock", 16)
	return New(Config{Embedder: embedder, Vectors: vectors, Guard: guard}), vectors
}

func TestStoreMemory_ValidatesCapsAndEnum(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.StoreMemory(ctx, "", "fact", 0.5, nil)
	require.Error(t, err)

	_, err = s.StoreMemory(ctx, strings.Repeat("x", maxContentLen+1), "fact", 0.5, nil)
	require.Error(t, err)

	_, err = s.StoreMemory(ctx, "ok", "not-a-category", 0.5, nil)
	require.Error(t, err)

	_, err = s.StoreMemory(ctx, "ok", "fact", 1.5, nil)
	require.Error(t, err)

	tooManyTags := make([]string, maxTags+1)
	for i := range tooManyTags {
		tooManyTags[i] = "t"
	}
	_, err = s.StoreMemory(ctx, "ok", "fact", 0.5, tooManyTags)
	require.Error(t, err)

	_, err = s.StoreMemory(ctx, "ok", "fact", 0.5, []string{strings.Repeat("t", maxTagLen+1)})
	require.Error(t, err)
}

func TestStoreMemory_SucceedsAndPersists(t *testing.T) {
	s, vectors := newTestStore(t)
	ctx := context.Background()

	m, err := s.StoreMemory(ctx, "prefers tabs over spaces", "preference", 0.8, []string{"style"})
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)

	point, err := vectors.Get(ctx, CollectionName, m.ID, false)
	require.NoError(t, err)
	require.NotNil(t, point)
	require.Equal(t, "prefers tabs over spaces", point.Payload["content"])
}

func TestListMemories_FiltersByCategoryNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.StoreMemory(ctx, "first fact", "fact", 0.5, nil)
	require.NoError(t, err)
	_, err = s.StoreMemory(ctx, "a preference", "preference", 0.5, nil)
	require.NoError(t, err)
	_, err = s.StoreMemory(ctx, "second fact", "fact", 0.5, nil)
	require.NoError(t, err)

	facts, err := s.ListMemories(ctx, "fact", 10)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	require.Equal(t, "second fact", facts[0].Content)

	all, err := s.ListMemories(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestDeleteMemory_RemovesPoint(t *testing.T) {
	s, vectors := newTestStore(t)
	ctx := context.Background()

	m, err := s.StoreMemory(ctx, "to be deleted", "fact", 0.5, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteMemory(ctx, m.ID))

	point, err := vectors.Get(ctx, CollectionName, m.ID, false)
	require.NoError(t, err)
	require.Nil(t, point)
}
