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

func resolveAndPersist(t *testing.T, c *Collector, persister *Persister, domain, strategy, status string) *GHAPEntry {
	t.Helper()
	ctx := context.Background()
	_, err := c.CreateGHAP(ctx, domain, strategy, "goal", "hyp", "action", "pred")
	require.NoError(t, err)
	var rootCause *RootCause
	surprise := ""
	if status == "falsified" {
		rootCause = &RootCause{Category: "x", Description: "because reasons"}
		surprise = "did not expect that"
	}
	resolved, err := c.ResolveGHAP(ctx, status, "result", surprise, rootCause, nil)
	require.NoError(t, err)
	require.NoError(t, persister.Persist(ctx, resolved))
	return resolved
}

func TestListEntries_FiltersByDomainAndOutcomeNewestFirst(t *testing.T) {
	c := newTestCollector(t)
	vectors := store.NewMemStore()
	guard := store.NewGuard(vectors, nil)
	embedder := embedding.NewMockModel("mock", 16)
	persister := NewPersister(PersisterConfig{Collector: c, Embedder: embedder, Vectors: vectors, Guard: guard})

	first := resolveAndPersist(t, c, persister, "debugging", "systematic-elimination", "confirmed")
	second := resolveAndPersist(t, c, persister, "debugging", "systematic-elimination", "falsified")
	resolveAndPersist(t, c, persister, "feature", "research-first", "confirmed")

	entries, err := ListEntries(context.Background(), vectors, "debugging", "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, second.ID, entries[0].ID)
	require.Equal(t, first.ID, entries[1].ID)

	falsified, err := ListEntries(context.Background(), vectors, "debugging", "falsified", 0)
	require.NoError(t, err)
	require.Len(t, falsified, 1)
	require.Equal(t, second.ID, falsified[0].ID)
}

func TestListEntries_LimitCaps(t *testing.T) {
	c := newTestCollector(t)
	vectors := store.NewMemStore()
	guard := store.NewGuard(vectors, nil)
	embedder := embedding.NewMockModel("mock", 16)
	persister := NewPersister(PersisterConfig{Collector: c, Embedder: embedder, Vectors: vectors, Guard: guard})

	resolveAndPersist(t, c, persister, "debugging", "systematic-elimination", "confirmed")
	resolveAndPersist(t, c, persister, "debugging", "systematic-elimination", "confirmed")

	entries, err := ListEntries(context.Background(), vectors, "", "", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
