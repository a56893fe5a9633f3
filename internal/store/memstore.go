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
	"sort"
	"sync"
)

// MemStore is an in-memory Store. It is the zero-dependency default and the
// backend every package test runs against.
type MemStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dimension int
	distance  Distance
	order     []string // insertion order, for Scroll
	points    map[string]Point
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{collections: make(map[string]*memCollection)}
}

func (s *MemStore) CreateCollection(_ context.Context, name string, dimension int, distance Distance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return ErrCollectionExists
	}
	s.collections[name] = &memCollection{
		dimension: dimension,
		distance:  distance,
		points:    make(map[string]Point),
	}
	return nil
}

func (s *MemStore) GetCollectionInfo(_ context.Context, name string) (*CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[name]
	if !ok {
		return nil, nil
	}
	return &CollectionInfo{Name: name, Dimension: col.dimension, VectorCount: len(col.points)}, nil
}

func (s *MemStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *MemStore) Upsert(_ context.Context, collection, id string, vector []float32, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[collection]
	if !ok {
		col = &memCollection{dimension: len(vector), distance: Cosine, points: make(map[string]Point)}
		s.collections[collection] = col
	}
	if len(vector) != col.dimension {
		return &DimensionMismatchError{Collection: collection, Expected: col.dimension, Actual: len(vector)}
	}
	if _, exists := col.points[id]; !exists {
		col.order = append(col.order, id)
	}
	vecCopy := make([]float32, len(vector))
	copy(vecCopy, vector)
	payloadCopy := make(map[string]any, len(payload))
	for k, v := range payload {
		payloadCopy[k] = v
	}
	col.points[id] = Point{ID: id, Vector: vecCopy, Payload: payloadCopy}
	return nil
}

func (s *MemStore) Search(_ context.Context, collection string, query []float32, limit int, filter Filter) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	results := make([]SearchResult, 0, len(col.points))
	for _, p := range col.points {
		if !filter.IsZero() && !matches(p.Payload, filter) {
			continue
		}
		results = append(results, SearchResult{
			ID:      p.ID,
			Score:   cosineSimilarity(query, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *MemStore) Scroll(_ context.Context, collection string, limit int, filter Filter, withVectors bool) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	results := make([]SearchResult, 0, len(col.order))
	for _, id := range col.order {
		p, ok := col.points[id]
		if !ok {
			continue // deleted
		}
		if !filter.IsZero() && !matches(p.Payload, filter) {
			continue
		}
		res := SearchResult{ID: p.ID, Payload: p.Payload}
		if withVectors {
			res.Vector = p.Vector
		}
		results = append(results, res)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (s *MemStore) Get(_ context.Context, collection, id string, withVector bool) (*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	p, ok := col.points[id]
	if !ok {
		return nil, nil
	}
	res := &SearchResult{ID: p.ID, Payload: p.Payload}
	if withVector {
		res.Vector = p.Vector
	}
	return res, nil
}

func (s *MemStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[collection]
	if !ok {
		return nil
	}
	if _, exists := col.points[id]; !exists {
		return nil
	}
	delete(col.points, id)
	for i, oid := range col.order {
		if oid == id {
			col.order = append(col.order[:i], col.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemStore) Count(_ context.Context, collection string, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	if filter.IsZero() {
		return len(col.points), nil
	}
	n := 0
	for _, p := range col.points {
		if matches(p.Payload, filter) {
			n++
		}
	}
	return n, nil
}
