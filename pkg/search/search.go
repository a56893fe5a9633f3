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

package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kraklabs/lms/internal/embedding"
	"github.com/kraklabs/lms/internal/store"
	"github.com/kraklabs/lms/pkg/codeindex"
	"github.com/kraklabs/lms/pkg/ghap"
	"github.com/kraklabs/lms/pkg/gitanalyze"
	"github.com/kraklabs/lms/pkg/memory"
	"github.com/kraklabs/lms/pkg/values"
)

const (
	codeLimitCap       = 50
	memoryLimitCap     = 100
	experienceLimitCap = 50
)

// Searcher is the unified read surface (C13). It holds no state of its own
// beyond the embedders and store it needs to turn a query into ranked,
// typed results; every collection it reads is owned and written by another
// component (codeindex, memory, ghap, values, gitanalyze).
type Searcher struct {
	semantic embedding.Model
	code     embedding.Model
	vectors  store.Store
	analyzer *gitanalyze.Analyzer
	logger   *slog.Logger
}

// Config configures a Searcher.
type Config struct {
	SemanticEmbedder embedding.Model
	CodeEmbedder     embedding.Model
	Vectors          store.Store
	Analyzer         *gitanalyze.Analyzer
	Logger           *slog.Logger
}

// New creates a Searcher.
func New(cfg Config) *Searcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		semantic: cfg.SemanticEmbedder,
		code:     cfg.CodeEmbedder,
		vectors:  cfg.Vectors,
		analyzer: cfg.Analyzer,
		logger:   logger,
	}
}

// collectionMissing logs and returns true if collection does not yet
// exist, per §4.12's "return empty, don't raise" cold-start contract.
func (s *Searcher) collectionMissing(ctx context.Context, collection string) (bool, error) {
	info, err := s.vectors.GetCollectionInfo(ctx, collection)
	if err != nil {
		return false, err
	}
	if info == nil {
		s.logger.Info("search.collection_missing", "collection", collection)
		return true, nil
	}
	return false, nil
}

// SearchMemories implements search_memories.
func (s *Searcher) SearchMemories(ctx context.Context, query string, limit int, category string, minImportance *float64) ([]MemoryResult, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 || limit > memoryLimitCap {
		limit = memoryLimitCap
	}
	missing, err := s.collectionMissing(ctx, memory.CollectionName)
	if err != nil {
		return nil, err
	}
	if missing {
		return nil, nil
	}

	vector, err := s.semantic.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	filter := store.Filter{}
	if category != "" {
		filter.Equals = map[string]any{"category": category}
	}

	results, err := s.vectors.Search(ctx, memory.CollectionName, vector, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}

	out := make([]MemoryResult, 0, len(results))
	for _, r := range results {
		m := memory.FromPayload(r.ID, r.Payload)
		if minImportance != nil && m.Importance < *minImportance {
			continue
		}
		out = append(out, MemoryResult{
			ID: m.ID, Content: m.Content, Category: m.Category,
			Importance: m.Importance, Tags: m.Tags, CreatedAt: m.CreatedAt,
			Score: r.Score,
		})
	}
	return out, nil
}

// SearchCode implements search_code: embeds with the code embedder, not
// the semantic one (§4.12 step 1).
func (s *Searcher) SearchCode(ctx context.Context, query string, limit int, project, language string) ([]CodeResult, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 || limit > codeLimitCap {
		limit = codeLimitCap
	}
	missing, err := s.collectionMissing(ctx, codeindex.CollectionName)
	if err != nil {
		return nil, err
	}
	if missing {
		return nil, nil
	}

	vector, err := s.code.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	filter := store.Filter{}
	equals := map[string]any{}
	if project != "" {
		equals["project"] = project
	}
	if language != "" {
		equals["language"] = language
	}
	if len(equals) > 0 {
		filter.Equals = equals
	}

	results, err := s.vectors.Search(ctx, codeindex.CollectionName, vector, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("search code: %w", err)
	}

	out := make([]CodeResult, 0, len(results))
	for _, r := range results {
		out = append(out, codeResultFromPayload(r.ID, r.Payload, r.Score))
	}
	return out, nil
}

func toInt(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case float64:
		return int(x)
	default:
		return 0
	}
}

func codeResultFromPayload(id string, payload map[string]any, score float64) CodeResult {
	cr := CodeResult{ID: id, Score: score}
	if v, ok := payload["project"].(string); ok {
		cr.Project = v
	}
	if v, ok := payload["file_path"].(string); ok {
		cr.FilePath = v
	}
	if v, ok := payload["name"].(string); ok {
		cr.Name = v
	}
	if v, ok := payload["qualified_name"].(string); ok {
		cr.QualifiedName = v
	}
	if v, ok := payload["unit_type"].(string); ok {
		cr.UnitType = v
	}
	if v, ok := payload["signature"].(string); ok {
		cr.Signature = v
	}
	if v, ok := payload["language"].(string); ok {
		cr.Language = v
	}
	cr.StartLine = toInt(payload["start_line"])
	cr.EndLine = toInt(payload["end_line"])
	if v, ok := payload["has_docstring"].(bool); ok {
		cr.HasDocstring = v
	}
	return cr
}

// SearchExperiences implements search_experiences: embeds with the
// semantic embedder against the named axis' collection, filtered by
// domain/strategy/outcome.
func (s *Searcher) SearchExperiences(ctx context.Context, query, axis, domain, strategy, outcome string, limit int) ([]ExperienceResult, error) {
	if query == "" {
		return nil, nil
	}
	if axis == "" {
		axis = string(ghap.AxisFull)
	}
	if limit <= 0 || limit > experienceLimitCap {
		limit = experienceLimitCap
	}
	collection := ghap.AxisCollectionName(ghap.Axis(axis))
	missing, err := s.collectionMissing(ctx, collection)
	if err != nil {
		return nil, err
	}
	if missing {
		return nil, nil
	}

	vector, err := s.semantic.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	equals := map[string]any{}
	if domain != "" {
		equals["domain"] = domain
	}
	if strategy != "" {
		equals["strategy"] = strategy
	}
	if outcome != "" {
		equals["outcome_status"] = outcome
	}
	filter := store.Filter{}
	if len(equals) > 0 {
		filter.Equals = equals
	}

	results, err := s.vectors.Search(ctx, collection, vector, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("search experiences: %w", err)
	}

	out := make([]ExperienceResult, 0, len(results))
	for _, r := range results {
		out = append(out, experienceResultFromPayload(r.ID, r.Payload, r.Score))
	}
	return out, nil
}

func experienceResultFromPayload(id string, payload map[string]any, score float64) ExperienceResult {
	er := ExperienceResult{ID: id, Score: score}
	strField := func(key string) string {
		if v, ok := payload[key].(string); ok {
			return v
		}
		return ""
	}
	er.Axis = strField("axis")
	er.Domain = strField("domain")
	er.Strategy = strField("strategy")
	er.Goal = strField("goal")
	er.Hypothesis = strField("hypothesis")
	er.Action = strField("action")
	er.Prediction = strField("prediction")
	er.OutcomeStatus = strField("outcome_status")
	er.OutcomeResult = strField("outcome_result")
	er.Surprise = strField("surprise")
	er.RootCause = strField("root_cause")
	er.LessonWorked = strField("lesson")
	er.ConfidenceTier = strField("confidence_tier")
	if v, ok := payload["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			er.CreatedAt = t
		}
	}
	return er
}

// SearchValues implements search_values.
func (s *Searcher) SearchValues(ctx context.Context, query string, limit int, axis string) ([]ValueResult, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	missing, err := s.collectionMissing(ctx, values.CollectionName)
	if err != nil {
		return nil, err
	}
	if missing {
		return nil, nil
	}

	vector, err := s.semantic.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	filter := store.Filter{}
	if axis != "" {
		filter.Equals = map[string]any{"axis": axis}
	}

	results, err := s.vectors.Search(ctx, values.CollectionName, vector, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("search values: %w", err)
	}

	out := make([]ValueResult, 0, len(results))
	for _, r := range results {
		out = append(out, valueResultFromPayload(r.ID, r.Payload, r.Score))
	}
	return out, nil
}

func valueResultFromPayload(id string, payload map[string]any, score float64) ValueResult {
	vr := ValueResult{ID: id, Score: score}
	if v, ok := payload["text"].(string); ok {
		vr.Text = v
	}
	if v, ok := payload["axis"].(string); ok {
		vr.Axis = v
	}
	if v, ok := payload["cluster_id"].(string); ok {
		vr.ClusterID = v
	}
	switch cs := payload["cluster_size"].(type) {
	case int:
		vr.ClusterSize = cs
	case float64:
		vr.ClusterSize = int(cs)
	}
	if v, ok := payload["similarity_to_centroid"].(float64); ok {
		vr.SimilarityToCentroid = v
	}
	if v, ok := payload["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			vr.CreatedAt = t
		}
	}
	return vr
}

// SearchCommits implements search_commits by delegating to the Git
// Analyzer, which already owns the commits collection end to end (§4.7).
func (s *Searcher) SearchCommits(ctx context.Context, query, author string, since *time.Time, limit int) ([]CommitResult, error) {
	if query == "" {
		return nil, nil
	}
	if s.analyzer == nil {
		return nil, nil
	}
	return s.analyzer.SearchCommits(ctx, query, author, since, limit)
}
