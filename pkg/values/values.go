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

// Package values implements the Value Store (C12): admission of candidate
// "value" statements against a cluster's centroid (the μ+1σ cosine-distance
// rule) and durable storage of admitted values in the `values` collection.
package values

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kraklabs/lms/internal/embedding"
	lmserrors "github.com/kraklabs/lms/internal/errors"
	"github.com/kraklabs/lms/internal/store"
	"github.com/kraklabs/lms/pkg/cluster"
	"github.com/kraklabs/lms/pkg/ghap"
)

const (
	CollectionName = "values"
	maxTextLen     = 500
)

// Value is a short principle statement admitted against a cluster (§3.1).
type Value struct {
	ID                   string
	Text                 string
	Axis                 string
	ClusterID            string
	ClusterSize          int
	SimilarityToCentroid float64
	CreatedAt            time.Time
}

// Validation is the result of validate_value_candidate (§4.11).
type Validation struct {
	Valid             bool
	Similarity        float64
	CentroidDistance  float64
	ThresholdDistance float64
	Reason            string
}

// Store implements candidate validation and admitted-value persistence.
type Store struct {
	clusterer *cluster.Clusterer
	embedder  embedding.Model
	vectors   store.Store
	guard     *store.Guard
	logger    *slog.Logger
}

// Config configures a Store.
type Config struct {
	Clusterer *cluster.Clusterer
	Embedder  embedding.Model
	Vectors   store.Store
	Guard     *store.Guard
	Logger    *slog.Logger
}

// New creates a Store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		clusterer: cfg.Clusterer,
		embedder:  cfg.Embedder,
		vectors:   cfg.Vectors,
		guard:     cfg.Guard,
		logger:    logger,
	}
}

// parseClusterID splits a "{axis}_{label}" cluster id and validates the
// axis against the known GHAP axes (§4.11 step 1).
func parseClusterID(clusterID string) (axis string, label int, err error) {
	idx := strings.LastIndex(clusterID, "_")
	if idx <= 0 || idx == len(clusterID)-1 {
		return "", 0, lmserrors.Validation("cluster_id", "must be formatted \"{axis}_{label}\"")
	}
	axis = clusterID[:idx]
	labelStr := clusterID[idx+1:]
	label, convErr := strconv.Atoi(labelStr)
	if convErr != nil {
		return "", 0, lmserrors.Validation("cluster_id", "label component must be an integer")
	}
	if !ghap.ValidAxis(axis) {
		return "", 0, lmserrors.ValidationEnum("cluster_id", axis, axisStrings())
	}
	return axis, label, nil
}

func axisStrings() []string {
	out := make([]string, len(ghap.Axes))
	for i, a := range ghap.Axes {
		out[i] = string(a)
	}
	return out
}

// ValidateCandidate implements §4.11's validate_value_candidate.
func (s *Store) ValidateCandidate(ctx context.Context, text, clusterID string) (*Validation, error) {
	axis, _, err := parseClusterID(clusterID)
	if err != nil {
		return nil, err
	}
	if text == "" || len(text) > maxTextLen {
		return nil, lmserrors.Validation("text", "must be 1-500 characters")
	}

	cl, err := s.clusterer.GetCluster(ctx, axis, clusterID)
	if err != nil {
		return nil, err
	}

	candidate, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed candidate: %w", err)
	}

	memberDistances := make([]float64, 0, len(cl.MemberIDs))
	axisCollection := ghap.AxisCollectionName(ghap.Axis(axis))
	for _, memberID := range cl.MemberIDs {
		point, err := s.vectors.Get(ctx, axisCollection, memberID, true)
		if err != nil {
			return nil, fmt.Errorf("get member %s: %w", memberID, err)
		}
		if point == nil {
			continue
		}
		memberDistances = append(memberDistances, cluster.CosineDistance(point.Vector, cl.Centroid))
	}
	if len(memberDistances) == 0 {
		return nil, lmserrors.InsufficientData("cluster has no resolvable member vectors")
	}

	mean, sigma := populationMeanStdDev(memberDistances)
	threshold := mean + sigma
	candidateDistance := cluster.CosineDistance(candidate, cl.Centroid)

	result := &Validation{
		Similarity:        1 - candidateDistance,
		CentroidDistance:  candidateDistance,
		ThresholdDistance: threshold,
		Valid:             candidateDistance <= threshold,
	}
	if !result.Valid {
		result.Reason = fmt.Sprintf("centroid distance %.4f exceeds threshold %.4f (mean %.4f + 1σ %.4f)", candidateDistance, threshold, mean, sigma)
	}
	return result, nil
}

// populationMeanStdDev computes the population mean and standard deviation
// (dividing by n, not n-1) of x, matching §4.11's μ/σ definition exactly.
func populationMeanStdDev(x []float64) (mean, sigma float64) {
	var sum float64
	for _, v := range x {
		sum += v
	}
	mean = sum / float64(len(x))

	var sumSq float64
	for _, v := range x {
		d := v - mean
		sumSq += d * d
	}
	sigma = math.Sqrt(sumSq / float64(len(x)))
	return mean, sigma
}

// StoreValue implements §4.11's store_value: validate, run admission, and
// upsert only on success. Rejected candidates return a validation_error and
// write nothing.
func (s *Store) StoreValue(ctx context.Context, text, clusterID, axis string) (*Value, error) {
	parsedAxis, _, err := parseClusterID(clusterID)
	if err != nil {
		return nil, err
	}
	if axis != "" && axis != parsedAxis {
		return nil, lmserrors.Validation("axis", "does not match cluster_id's axis component")
	}
	if !ghap.ValidAxis(parsedAxis) {
		return nil, lmserrors.ValidationEnum("axis", parsedAxis, axisStrings())
	}

	validation, err := s.ValidateCandidate(ctx, text, clusterID)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, lmserrors.Validation("text", "candidate rejected: "+validation.Reason)
	}

	cl, err := s.clusterer.GetCluster(ctx, parsedAxis, clusterID)
	if err != nil {
		return nil, err
	}

	if err := s.guard.Ensure(ctx, CollectionName, s.embedder); err != nil {
		return nil, fmt.Errorf("ensure %s collection: %w", CollectionName, err)
	}

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed value text: %w", err)
	}

	value := &Value{
		ID:                   uuid.NewString(),
		Text:                 text,
		Axis:                 parsedAxis,
		ClusterID:            clusterID,
		ClusterSize:          cl.Size,
		SimilarityToCentroid: validation.Similarity,
		CreatedAt:            time.Now().UTC(),
	}

	payload := map[string]any{
		"text":                   value.Text,
		"axis":                   value.Axis,
		"cluster_id":             value.ClusterID,
		"cluster_size":           value.ClusterSize,
		"similarity_to_centroid": value.SimilarityToCentroid,
		"created_at":             value.CreatedAt.Format(time.RFC3339Nano),
	}
	if err := s.vectors.Upsert(ctx, CollectionName, value.ID, vector, payload); err != nil {
		return nil, fmt.Errorf("upsert value: %w", err)
	}

	s.logger.Info("values.store_value", "id", value.ID, "axis", value.Axis, "cluster_id", value.ClusterID)
	return value, nil
}

// ListValues implements §4.11's list_values: scroll with an optional axis
// filter, sorted by cluster_size desc then created_at desc.
func (s *Store) ListValues(ctx context.Context, axis string, limit int) ([]Value, error) {
	filter := store.Filter{}
	if axis != "" {
		filter.Equals = map[string]any{"axis": axis}
	}
	points, err := s.vectors.Scroll(ctx, CollectionName, 0, filter, false)
	if err != nil {
		return nil, fmt.Errorf("scroll %s: %w", CollectionName, err)
	}

	values := make([]Value, 0, len(points))
	for _, p := range points {
		values = append(values, valueFromPayload(p.ID, p.Payload))
	}

	sort.Slice(values, func(i, j int) bool {
		if values[i].ClusterSize != values[j].ClusterSize {
			return values[i].ClusterSize > values[j].ClusterSize
		}
		return values[i].CreatedAt.After(values[j].CreatedAt)
	})

	if limit > 0 && len(values) > limit {
		values = values[:limit]
	}
	return values, nil
}

func valueFromPayload(id string, payload map[string]any) Value {
	v := Value{ID: id}
	if text, ok := payload["text"].(string); ok {
		v.Text = text
	}
	if axis, ok := payload["axis"].(string); ok {
		v.Axis = axis
	}
	if clusterID, ok := payload["cluster_id"].(string); ok {
		v.ClusterID = clusterID
	}
	switch cs := payload["cluster_size"].(type) {
	case int:
		v.ClusterSize = cs
	case float64:
		v.ClusterSize = int(cs)
	}
	if sim, ok := payload["similarity_to_centroid"].(float64); ok {
		v.SimilarityToCentroid = sim
	}
	if created, ok := payload["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			v.CreatedAt = t
		}
	}
	return v
}
