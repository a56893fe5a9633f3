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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DiskStore is a small embedded on-disk Store: each collection is one JSON
// segment file under DataDir, loaded into memory on open and rewritten
// atomically (write-temp-then-rename, same durability discipline as the
// teacher's journal writes) on every mutating call. It wraps MemStore for
// the in-memory half of its state so the CRUD and filter logic is not
// duplicated.
type DiskStore struct {
	mu      sync.Mutex
	dataDir string
	mem     *MemStore
}

type diskSegment struct {
	Dimension int                 `json:"dimension"`
	Distance  Distance            `json:"distance"`
	Order     []string            `json:"order"`
	Points    map[string]diskPoint `json:"points"`
}

type diskPoint struct {
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// NewDiskStore opens (or creates) a disk-backed store rooted at dataDir.
func NewDiskStore(dataDir string) (*DiskStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create vector data dir: %w", err)
	}
	ds := &DiskStore{dataDir: dataDir, mem: NewMemStore()}
	if err := ds.loadAll(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *DiskStore) segmentPath(collection string) string {
	return filepath.Join(s.dataDir, collection+".json")
}

func (s *DiskStore) loadAll() error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("list vector data dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		name := entry.Name()[:len(entry.Name())-len(".json")]
		if err := s.loadCollection(name); err != nil {
			return fmt.Errorf("load collection %s: %w", name, err)
		}
	}
	return nil
}

func (s *DiskStore) loadCollection(name string) error {
	data, err := os.ReadFile(s.segmentPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var seg diskSegment
	if err := json.Unmarshal(data, &seg); err != nil {
		return fmt.Errorf("parse segment: %w", err)
	}
	col := &memCollection{
		dimension: seg.Dimension,
		distance:  seg.Distance,
		order:     seg.Order,
		points:    make(map[string]Point, len(seg.Points)),
	}
	for id, p := range seg.Points {
		col.points[id] = Point{ID: id, Vector: p.Vector, Payload: p.Payload}
	}
	s.mem.mu.Lock()
	s.mem.collections[name] = col
	s.mem.mu.Unlock()
	return nil
}

// flush persists one collection's current in-memory state to disk using
// write-temp-then-rename so a crash mid-write never leaves a corrupt
// segment.
func (s *DiskStore) flush(collection string) error {
	s.mem.mu.RLock()
	col, ok := s.mem.collections[collection]
	var seg diskSegment
	if ok {
		seg = diskSegment{
			Dimension: col.dimension,
			Distance:  col.distance,
			Order:     append([]string(nil), col.order...),
			Points:    make(map[string]diskPoint, len(col.points)),
		}
		for id, p := range col.points {
			seg.Points[id] = diskPoint{Vector: p.Vector, Payload: p.Payload}
		}
	}
	s.mem.mu.RUnlock()

	if !ok {
		return os.Remove(s.segmentPath(collection))
	}

	data, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("marshal segment: %w", err)
	}
	tmp := s.segmentPath(collection) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write temp segment: %w", err)
	}
	if err := os.Rename(tmp, s.segmentPath(collection)); err != nil {
		return fmt.Errorf("rename segment: %w", err)
	}
	return nil
}

func (s *DiskStore) CreateCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.CreateCollection(ctx, name, dimension, distance); err != nil {
		return err
	}
	return s.flush(name)
}

func (s *DiskStore) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	return s.mem.GetCollectionInfo(ctx, name)
}

func (s *DiskStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.DeleteCollection(ctx, name); err != nil {
		return err
	}
	if err := os.Remove(s.segmentPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove segment: %w", err)
	}
	return nil
}

func (s *DiskStore) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Upsert(ctx, collection, id, vector, payload); err != nil {
		return err
	}
	return s.flush(collection)
}

func (s *DiskStore) Search(ctx context.Context, collection string, query []float32, limit int, filter Filter) ([]SearchResult, error) {
	return s.mem.Search(ctx, collection, query, limit, filter)
}

func (s *DiskStore) Scroll(ctx context.Context, collection string, limit int, filter Filter, withVectors bool) ([]SearchResult, error) {
	return s.mem.Scroll(ctx, collection, limit, filter, withVectors)
}

func (s *DiskStore) Get(ctx context.Context, collection, id string, withVector bool) (*SearchResult, error) {
	return s.mem.Get(ctx, collection, id, withVector)
}

func (s *DiskStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Delete(ctx, collection, id); err != nil {
		return err
	}
	return s.flush(collection)
}

func (s *DiskStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	return s.mem.Count(ctx, collection, filter)
}
