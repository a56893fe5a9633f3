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
	"testing"
)

func TestCreateCollection_AlreadyExists(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	if err := s.CreateCollection(ctx, "memories", 4, Cosine); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := s.CreateCollection(ctx, "memories", 4, Cosine)
	if !errors.Is(err, ErrCollectionExists) {
		t.Fatalf("expected ErrCollectionExists, got %v", err)
	}
}

func TestGetCollectionInfo_AbsentReturnsNil(t *testing.T) {
	s := NewMemStore()
	info, err := s.GetCollectionInfo(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info != nil {
		t.Fatalf("expected nil info for absent collection, got %+v", info)
	}
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	if err := s.CreateCollection(ctx, "code_units", 3, Cosine); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.Upsert(ctx, "code_units", "id1", []float32{1, 2}, nil)
	var dimErr *DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected *DimensionMismatchError, got %v", err)
	}
	if dimErr.Expected != 3 || dimErr.Actual != 2 {
		t.Fatalf("unexpected mismatch detail: %+v", dimErr)
	}
}

func TestUpsert_ColdStartAutoCreates(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	if err := s.Upsert(ctx, "memories", "id1", []float32{1, 0, 0}, map[string]any{"k": "v"}); err != nil {
		t.Fatalf("upsert on cold start: %v", err)
	}
	info, err := s.GetCollectionInfo(ctx, "memories")
	if err != nil || info == nil {
		t.Fatalf("expected collection to be auto-created: info=%+v err=%v", info, err)
	}
	if info.VectorCount != 1 {
		t.Fatalf("expected 1 vector, got %d", info.VectorCount)
	}
}

func TestSearch_RanksByCosineSimilarity(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.CreateCollection(ctx, "c", 2, Cosine)
	_ = s.Upsert(ctx, "c", "close", []float32{1, 0}, nil)
	_ = s.Upsert(ctx, "c", "far", []float32{0, 1}, nil)
	_ = s.Upsert(ctx, "c", "opposite", []float32{-1, 0}, nil)

	results, err := s.Search(ctx, "c", []float32{1, 0}, 10, Filter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ID != "close" {
		t.Fatalf("expected 'close' to rank first, got %s", results[0].ID)
	}
	if results[len(results)-1].ID != "opposite" {
		t.Fatalf("expected 'opposite' to rank last, got %s", results[len(results)-1].ID)
	}
}

func TestSearch_FiltersByPayloadEqualityAndGTE(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.CreateCollection(ctx, "c", 1, Cosine)
	_ = s.Upsert(ctx, "c", "a", []float32{1}, map[string]any{"category": "fact", "created_at": "2026-01-01T00:00:00Z"})
	_ = s.Upsert(ctx, "c", "b", []float32{1}, map[string]any{"category": "event", "created_at": "2026-06-01T00:00:00Z"})

	results, err := s.Search(ctx, "c", []float32{1}, 10, Filter{Equals: map[string]any{"category": "fact"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected only 'a', got %+v", results)
	}

	results, err = s.Search(ctx, "c", []float32{1}, 10, Filter{GTE: map[string]any{"created_at": "2026-03-01T00:00:00Z"}})
	if err != nil {
		t.Fatalf("search gte: %v", err)
	}
	if len(results) != 1 || results[0].ID != "b" {
		t.Fatalf("expected only 'b', got %+v", results)
	}
}

func TestDelete_RemovesPoint(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.CreateCollection(ctx, "c", 1, Cosine)
	_ = s.Upsert(ctx, "c", "a", []float32{1}, nil)
	if err := s.Delete(ctx, "c", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := s.Get(ctx, "c", "a", false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected point to be gone, got %+v", got)
	}
}

func TestCount_WithFilter(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.CreateCollection(ctx, "c", 1, Cosine)
	_ = s.Upsert(ctx, "c", "a", []float32{1}, map[string]any{"domain": "debugging"})
	_ = s.Upsert(ctx, "c", "b", []float32{1}, map[string]any{"domain": "testing"})

	n, err := s.Count(ctx, "c", Filter{Equals: map[string]any{"domain": "debugging"}})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
}
