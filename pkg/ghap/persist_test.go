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

package ghap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/lms/internal/embedding"
	"github.com/kraklabs/lms/internal/store"
)

func TestPersist_WritesPresentAxesAndClearsActive(t *testing.T) {
	c := newTestCollector(t)
	ctx := context.Background()

	_, err := c.CreateGHAP(ctx, "debugging", "systematic-elimination", "g", "h", "a", "p")
	require.NoError(t, err)
	resolved, err := c.ResolveGHAP(ctx, "falsified", "no luck", "surprising", &RootCause{Category: "x", Description: "y"}, nil)
	require.NoError(t, err)

	vectors := store.NewMemStore()
	guard := store.NewGuard(vectors, nil)
	embedder := embedding.NewMockModel("mock", 16)
	persister := NewPersister(PersisterConfig{Collector: c, Embedder: embedder, Vectors: vectors, Guard: guard})

	require.NoError(t, persister.Persist(ctx, resolved))

	require.Nil(t, c.GetCurrent(ctx))

	full, err := vectors.Get(ctx, "ghap_full", resolved.ID, false)
	require.NoError(t, err)
	require.NotNil(t, full)

	strategy, err := vectors.Get(ctx, "ghap_strategy", resolved.ID, false)
	require.NoError(t, err)
	require.NotNil(t, strategy)

	surprise, err := vectors.Get(ctx, "ghap_surprise", resolved.ID, false)
	require.NoError(t, err)
	require.NotNil(t, surprise)

	rootCause, err := vectors.Get(ctx, "ghap_root_cause", resolved.ID, false)
	require.NoError(t, err)
	require.NotNil(t, rootCause)
}

func TestPersist_OmitsAbsentAxes(t *testing.T) {
	c := newTestCollector(t)
	ctx := context.Background()

	_, err := c.CreateGHAP(ctx, "feature", "research-first", "g", "h", "a", "p")
	require.NoError(t, err)
	resolved, err := c.ResolveGHAP(ctx, "confirmed", "worked", "", nil, nil)
	require.NoError(t, err)

	vectors := store.NewMemStore()
	guard := store.NewGuard(vectors, nil)
	embedder := embedding.NewMockModel("mock", 16)
	persister := NewPersister(PersisterConfig{Collector: c, Embedder: embedder, Vectors: vectors, Guard: guard})

	require.NoError(t, persister.Persist(ctx, resolved))

	full, err := vectors.Get(ctx, "ghap_full", resolved.ID, false)
	require.NoError(t, err)
	require.NotNil(t, full)

	// surprise/root_cause collections were never created since this entry
	// has no surprise or root cause text.
	info, err := vectors.GetCollectionInfo(ctx, "ghap_surprise")
	require.NoError(t, err)
	require.Nil(t, info)
}
