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

// Package store implements the vector collection lifecycle (C2) and the
// idempotent ensure-collection mixin every writer embeds (C4).
//
// Two backends satisfy Store: MemStore, a plain in-memory map used by tests
// and as the zero-dependency default, and DiskStore, a small embedded
// on-disk store that persists each collection as one segment file,
// rewritten whole on every mutation, in the same spirit as the teacher's CozoDB-backed EmbeddedBackend —
// a mutex-guarded Go type wrapping a persistence primitive with idempotent
// schema creation — but with per-collection dimension metadata instead of a
// single fixed schema, since collections here are created lazily with
// whatever dimension the live embedder reports.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrCollectionExists is the idempotent-create control-flow condition: it is
// never propagated past Guard.Ensure, which treats it as success (§9
// "Error-for-control-flow").
var ErrCollectionExists = errors.New("collection already exists")

// DimensionMismatchError reports that a vector's length does not match its
// collection's declared dimension.
type DimensionMismatchError struct {
	Collection string
	Expected   int
	Actual     int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("collection %q expects dimension %d, got %d", e.Collection, e.Expected, e.Actual)
}

// Distance names the similarity metric a collection is created with. The
// core only ever uses cosine, but the type exists so callers don't pass a
// bare string.
type Distance string

// Cosine is the only distance metric this core exercises: higher score
// means more similar.
const Cosine Distance = "cosine"

// CollectionInfo is the reflective metadata for a collection.
type CollectionInfo struct {
	Name        string
	Dimension   int
	VectorCount int
}

// Filter expresses AND-combined predicates over a point's payload. Equals is
// an exact-match map; GTE applies a $gte range predicate, meaningful only
// for timestamp-like fields (timestamp, created_at per §4.2).
type Filter struct {
	Equals map[string]any
	GTE    map[string]any
}

// IsZero reports whether the filter carries no predicates.
func (f Filter) IsZero() bool {
	return len(f.Equals) == 0 && len(f.GTE) == 0
}

// Point is a stored or returned vector plus its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchResult is one row of a Search/Scroll/Get response.
type SearchResult struct {
	ID      string
	Score   float64
	Payload map[string]any
	Vector  []float32
}

// Store is the vector collection lifecycle and CRUD contract (C2). Every
// mutating operation fails with *DimensionMismatchError if the vector's
// length does not equal the collection's declared dimension.
type Store interface {
	// CreateCollection is idempotent *failure*: if the collection already
	// exists, it returns ErrCollectionExists so callers (Guard) can swallow
	// it as a recognized non-error.
	CreateCollection(ctx context.Context, name string, dimension int, distance Distance) error

	// GetCollectionInfo returns nil, nil if the collection does not exist,
	// distinguishing absence from a transport failure (non-nil error).
	GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)

	DeleteCollection(ctx context.Context, name string) error

	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error

	// Search ranks by cosine similarity, highest first.
	Search(ctx context.Context, collection string, query []float32, limit int, filter Filter) ([]SearchResult, error)

	// Scroll is a non-semantic listing, ordered by insertion.
	Scroll(ctx context.Context, collection string, limit int, filter Filter, withVectors bool) ([]SearchResult, error)

	// Get returns nil, nil if id is absent from collection.
	Get(ctx context.Context, collection, id string, withVector bool) (*SearchResult, error)

	Delete(ctx context.Context, collection, id string) error

	Count(ctx context.Context, collection string, filter Filter) (int, error)
}
