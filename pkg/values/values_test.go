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

package values

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	lmserrors "github.com/kraklabs/lms/internal/errors"
	"github.com/kraklabs/lms/internal/store"
	"github.com/kraklabs/lms/pkg/cluster"
)

// fixedModel is a test double returning caller-registered vectors for known
// strings, since the mock hash-based embedder can't be steered to land a
// candidate near or far from a specific centroid.
type fixedModel struct {
	dim     int
	vectors map[string][]float32
}

func (m *fixedModel) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, m.dim), nil
}

func (m *fixedModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *fixedModel) Dimension() int { return m.dim }
func (m *fixedModel) Name() string   { return "fixed-test-model" }

const dim = 4

func seedTightCluster(t *testing.T, vectors store.Store, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, vectors.CreateCollection(ctx, "ghap_full", dim, store.Cosine))
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < n; i++ {
		v := []float32{1, float32(0.02 * (rng.Float64() - 0.5)), float32(0.02 * (rng.Float64() - 0.5)), 0}
		require.NoError(t, vectors.Upsert(ctx, "ghap_full", fmt.Sprintf("exp%d", i), v, map[string]any{}))
	}
}

func newTestSetup(t *testing.T, embedder *fixedModel) (*Store, store.Store) {
	t.Helper()
	vectors := store.NewMemStore()
	seedTightCluster(t, vectors, 25)
	guard := store.NewGuard(vectors, nil)
	clusterer := cluster.New(vectors, cluster.Config{MinClusterSize: 5, MinSamples: 5}, nil)
	return New(Config{Clusterer: clusterer, Embedder: embedder, Vectors: vectors, Guard: guard}), vectors
}

func firstClusterID(t *testing.T, s *Store) string {
	t.Helper()
	clusters, _, err := s.clusterer.ClusterAxis(context.Background(), "full")
	require.NoError(t, err)
	require.NotEmpty(t, clusters)
	return clusters[0].ClusterID
}

func TestValidateCandidate_AdmitsNearCentroid(t *testing.T) {
	embedder := &fixedModel{dim: dim, vectors: map[string][]float32{
		"near": {1, 0.01, -0.01, 0},
	}}
	s, _ := newTestSetup(t, embedder)
	clusterID := firstClusterID(t, s)

	v, err := s.ValidateCandidate(context.Background(), "near", clusterID)
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.Empty(t, v.Reason)
}

func TestValidateCandidate_RejectsFarFromCentroid(t *testing.T) {
	embedder := &fixedModel{dim: dim, vectors: map[string][]float32{
		"far": {0, 1, 0, 0},
	}}
	s, _ := newTestSetup(t, embedder)
	clusterID := firstClusterID(t, s)

	v, err := s.ValidateCandidate(context.Background(), "far", clusterID)
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.NotEmpty(t, v.Reason)
}

func TestValidateCandidate_RejectsMalformedClusterID(t *testing.T) {
	s, _ := newTestSetup(t, &fixedModel{dim: dim, vectors: map[string][]float32{}})
	_, err := s.ValidateCandidate(context.Background(), "text", "not-a-cluster-id")
	require.Error(t, err)
	lerr, ok := lmserrors.As(err)
	require.True(t, ok)
	require.Equal(t, lmserrors.KindValidation, lerr.Kind)
}

func TestStoreValue_AdmitsAndPersists(t *testing.T) {
	embedder := &fixedModel{dim: dim, vectors: map[string][]float32{
		"Prefer systematic elimination": {1, 0.01, -0.01, 0},
	}}
	s, vectors := newTestSetup(t, embedder)
	clusterID := firstClusterID(t, s)

	value, err := s.StoreValue(context.Background(), "Prefer systematic elimination", clusterID, "full")
	require.NoError(t, err)
	require.NotEmpty(t, value.ID)
	require.Equal(t, "full", value.Axis)

	point, err := vectors.Get(context.Background(), CollectionName, value.ID, false)
	require.NoError(t, err)
	require.NotNil(t, point)
	require.Equal(t, "Prefer systematic elimination", point.Payload["text"])
}

func TestStoreValue_RejectsAndWritesNothing(t *testing.T) {
	embedder := &fixedModel{dim: dim, vectors: map[string][]float32{
		"Totally unrelated principle": {0, 1, 0, 0},
	}}
	s, vectors := newTestSetup(t, embedder)
	clusterID := firstClusterID(t, s)

	_, err := s.StoreValue(context.Background(), "Totally unrelated principle", clusterID, "full")
	require.Error(t, err)

	info, err := vectors.GetCollectionInfo(context.Background(), CollectionName)
	require.NoError(t, err)
	require.Nil(t, info)
}

func TestListValues_SortsByClusterSizeThenCreatedAt(t *testing.T) {
	embedder := &fixedModel{dim: dim, vectors: map[string][]float32{
		"v1": {1, 0.01, -0.01, 0},
		"v2": {1, -0.01, 0.01, 0},
	}}
	s, _ := newTestSetup(t, embedder)
	clusterID := firstClusterID(t, s)

	_, err := s.StoreValue(context.Background(), "v1", clusterID, "full")
	require.NoError(t, err)
	_, err = s.StoreValue(context.Background(), "v2", clusterID, "full")
	require.NoError(t, err)

	values, err := s.ListValues(context.Background(), "full", 10)
	require.NoError(t, err)
	require.Len(t, values, 2)
	require.Equal(t, "v2", values[0].Text)
}
