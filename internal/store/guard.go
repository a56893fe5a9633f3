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

package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Embedder is the minimal contract Guard needs from an embedding role: its
// current output dimension. Defined here (rather than importing
// internal/embedding) to avoid a dependency cycle; internal/embedding.Model
// satisfies it.
type Embedder interface {
	Dimension() int
}

// Guard is the ensure-collection mixin every writer embeds before its first
// upsert (C4). It is safe for concurrent use: concurrent Ensure calls for
// different collection names proceed independently, and the "already
// exists" race on CreateCollection is absorbed.
type Guard struct {
	store   Store
	logger  *slog.Logger
	mu      sync.Mutex
	ensured map[string]struct{}
}

// NewGuard creates a Guard over store. A nil logger falls back to
// slog.Default().
func NewGuard(store Store, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, logger: logger, ensured: make(map[string]struct{})}
}

// Ensure implements the four-step contract of SPEC_FULL.md §4.3:
//  1. if already ensured this process, return.
//  2. if the collection exists with the wrong dimension, recreate it.
//  3. create the collection, absorbing "already exists".
//  4. remember it as ensured.
func (g *Guard) Ensure(ctx context.Context, name string, embedder Embedder) error {
	g.mu.Lock()
	if _, ok := g.ensured[name]; ok {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	dimension := embedder.Dimension()

	info, err := g.store.GetCollectionInfo(ctx, name)
	if err != nil {
		return err
	}
	if info != nil && info.Dimension != dimension {
		g.logger.Warn("collection.dimension_mismatch",
			"collection", name,
			"expected", dimension,
			"actual", info.Dimension,
			"action", "recreating",
		)
		if err := g.store.DeleteCollection(ctx, name); err != nil {
			return err
		}
	}

	if err := g.store.CreateCollection(ctx, name, dimension, Cosine); err != nil && !errors.Is(err, ErrCollectionExists) {
		return err
	}

	g.mu.Lock()
	g.ensured[name] = struct{}{}
	g.mu.Unlock()
	return nil
}

// Forget clears the ensured flag for name, forcing the next Ensure call to
// re-check dimension. Used by tests that swap embedders mid-run.
func (g *Guard) Forget(name string) {
	g.mu.Lock()
	delete(g.ensured, name)
	g.mu.Unlock()
}
