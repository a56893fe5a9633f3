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

// Package memory implements freeform Memory entity CRUD
// (store_memory/list_memories/delete_memory) backing the Searcher's
// memory domain (§3.1, §4.12).
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kraklabs/lms/internal/embedding"
	lmserrors "github.com/kraklabs/lms/internal/errors"
	"github.com/kraklabs/lms/internal/store"
)

// CollectionName is the vector collection Memories are stored in.
const CollectionName = "memories"

const (
	maxContentLen = 10000
	maxTags       = 20
	maxTagLen     = 50
)

// Categories is the closed set of valid Memory categories (§3.1).
var Categories = []string{
	"preference", "fact", "event", "workflow", "context", "error", "decision",
}

// Memory is a freeform note (§3.1).
type Memory struct {
	ID         string
	Content    string
	Category   string
	Importance float64
	Tags       []string
	CreatedAt  time.Time
}

// Store is the Memory CRUD surface.
type Store struct {
	embedder embedding.Model
	vectors  store.Store
	guard    *store.Guard
	logger   *slog.Logger
}

// Config configures a Store.
type Config struct {
	Embedder embedding.Model
	Vectors  store.Store
	Guard    *store.Guard
	Logger   *slog.Logger
}

// New creates a Store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{embedder: cfg.Embedder, vectors: cfg.Vectors, guard: cfg.Guard, logger: logger}
}

func validCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// StoreMemory implements store_memory (§3.1, §8 caps): validates content,
// category, importance and tags, then embeds and upserts. Memories are
// mutable only via delete+store — there is no update_memory (§3.1
// lifecycle note).
func (s *Store) StoreMemory(ctx context.Context, content, category string, importance float64, tags []string) (*Memory, error) {
	if content == "" || len(content) > maxContentLen {
		return nil, lmserrors.Validation("content", "must be 1-10000 characters")
	}
	if !validCategory(category) {
		return nil, lmserrors.ValidationEnum("category", category, Categories)
	}
	if importance < 0 || importance > 1 {
		return nil, lmserrors.Validation("importance", "must be within [0, 1]")
	}
	if len(tags) > maxTags {
		return nil, lmserrors.Validation("tags", "must not exceed 20 entries")
	}
	for _, tag := range tags {
		if len(tag) > maxTagLen {
			return nil, lmserrors.Validation("tags", fmt.Sprintf("tag %q exceeds 50 characters", tag))
		}
	}

	if err := s.guard.Ensure(ctx, CollectionName, s.embedder); err != nil {
		return nil, fmt.Errorf("ensure %s collection: %w", CollectionName, err)
	}

	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed memory content: %w", err)
	}

	m := &Memory{
		ID:         uuid.NewString(),
		Content:    content,
		Category:   category,
		Importance: importance,
		Tags:       tags,
		CreatedAt:  time.Now().UTC(),
	}

	payload := map[string]any{
		"content":    m.Content,
		"category":   m.Category,
		"importance": m.Importance,
		"tags":       m.Tags,
		"created_at": m.CreatedAt.Format(time.RFC3339Nano),
	}
	if err := s.vectors.Upsert(ctx, CollectionName, m.ID, vector, payload); err != nil {
		return nil, fmt.Errorf("upsert memory: %w", err)
	}

	s.logger.Info("memory.store_memory", "id", m.ID, "category", m.Category)
	return m, nil
}

// ListMemories implements list_memories: scroll with an optional category
// filter, newest first.
func (s *Store) ListMemories(ctx context.Context, category string, limit int) ([]Memory, error) {
	filter := store.Filter{}
	if category != "" {
		filter.Equals = map[string]any{"category": category}
	}
	points, err := s.vectors.Scroll(ctx, CollectionName, 0, filter, false)
	if err != nil {
		return nil, fmt.Errorf("scroll %s: %w", CollectionName, err)
	}

	memories := make([]Memory, 0, len(points))
	for _, p := range points {
		memories = append(memories, FromPayload(p.ID, p.Payload))
	}
	sort.Slice(memories, func(i, j int) bool { return memories[i].CreatedAt.After(memories[j].CreatedAt) })

	if limit > 0 && len(memories) > limit {
		memories = memories[:limit]
	}
	return memories, nil
}

// DeleteMemory implements delete_memory.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	if err := s.vectors.Delete(ctx, CollectionName, id); err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	s.logger.Info("memory.delete_memory", "id", id)
	return nil
}

// FromPayload reconstructs a Memory from a stored point's payload. Exported
// so pkg/search can build MemoryResult values from the same collection
// without redefining the payload shape (§9's one-canonical-location rule
// applies to result types, not payload decoding).
func FromPayload(id string, payload map[string]any) Memory {
	m := Memory{ID: id}
	if content, ok := payload["content"].(string); ok {
		m.Content = content
	}
	if category, ok := payload["category"].(string); ok {
		m.Category = category
	}
	if importance, ok := payload["importance"].(float64); ok {
		m.Importance = importance
	}
	if tags, ok := payload["tags"].([]string); ok {
		m.Tags = tags
	} else if rawTags, ok := payload["tags"].([]any); ok {
		for _, t := range rawTags {
			if ts, ok := t.(string); ok {
				m.Tags = append(m.Tags, ts)
			}
		}
	}
	if created, ok := payload["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			m.CreatedAt = t
		}
	}
	return m
}
