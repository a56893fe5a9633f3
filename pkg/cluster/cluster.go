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

// Package cluster implements the Clusterer (C11): on-demand, unpersisted
// density-based clustering over one axis collection's vectors. Clusters are
// never written back to the store — callers recompute them each time they
// are needed (by C12's validate_value_candidate, or a direct get_clusters
// call).
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"

	lmserrors "github.com/kraklabs/lms/internal/errors"
	"github.com/kraklabs/lms/internal/store"
	"github.com/kraklabs/lms/pkg/ghap"
)

// ErrInsufficientData is returned by ClusterAxis when an axis collection
// holds fewer than minMembership points (§4.10 step 2). Callers at the
// cmd/lms boundary map this to the insufficient_data RPC kind.
var ErrInsufficientData = errors.New("fewer than 20 members available for clustering")

const minMembership = 20

// Noise is the cluster label assigned to points that do not fall in any
// dense region.
const Noise = -1

// Cluster is the transient result of clustering one axis' vectors (§3.1).
type Cluster struct {
	ClusterID string
	Axis      string
	Label     int
	Size      int
	Centroid  []float32
	MemberIDs []string
	AvgWeight *float64
}

// Config tunes the density-reachability algorithm (§4.10, §6.4).
type Config struct {
	MinClusterSize int
	MinSamples     int
}

// DefaultConfig mirrors the values named in §6.4's configuration surface.
func DefaultConfig() Config {
	return Config{MinClusterSize: 5, MinSamples: 5}
}

// Clusterer runs HDBSCAN-style clustering over an axis collection's
// vectors, entirely in memory and without persisting labels.
type Clusterer struct {
	vectors store.Store
	cfg     Config
	logger  *slog.Logger
}

// New creates a Clusterer. A zero Config falls back to DefaultConfig.
func New(vectors store.Store, cfg Config, logger *slog.Logger) *Clusterer {
	if cfg.MinClusterSize == 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Clusterer{vectors: vectors, cfg: cfg, logger: logger}
}

// axisCollectionName maps an axis to its ghap_* vector collection, reusing
// pkg/ghap's own mapping rather than re-deriving it.
func axisCollectionName(axis string) string {
	return ghap.AxisCollectionName(ghap.Axis(axis))
}

// ClusterAxis implements §4.10's cluster_axis: scroll every vector in the
// axis collection, run density clustering, and return non-noise clusters
// sorted by size descending, along with the noise count.
func (c *Clusterer) ClusterAxis(ctx context.Context, axis string) ([]Cluster, int, error) {
	collection := axisCollectionName(axis)
	points, err := c.vectors.Scroll(ctx, collection, 0, store.Filter{}, true)
	if err != nil {
		return nil, 0, fmt.Errorf("scroll %s: %w", collection, err)
	}
	if len(points) < minMembership {
		return nil, 0, ErrInsufficientData
	}

	ids := make([]string, len(points))
	vectors := make([][]float64, len(points))
	weights := make([]float64, len(points))
	hasWeight := make([]bool, len(points))
	for i, p := range points {
		ids[i] = p.ID
		vectors[i] = normalize(p.Vector)
		if w, ok := p.Payload["weight"]; ok {
			if f, ok := toFloat(w); ok {
				weights[i] = f
				hasWeight[i] = true
			}
		}
	}

	labels := runHDBSCAN(vectors, c.cfg.MinClusterSize, c.cfg.MinSamples)

	byLabel := map[int][]int{}
	noiseCount := 0
	for i, lbl := range labels {
		if lbl == Noise {
			noiseCount++
			continue
		}
		byLabel[lbl] = append(byLabel[lbl], i)
	}

	clusters := make([]Cluster, 0, len(byLabel))
	for lbl, members := range byLabel {
		centroid := meanUnitVector(vectors, members)
		memberIDs := make([]string, len(members))
		var weightSum float64
		weightCount := 0
		for i, idx := range members {
			memberIDs[i] = ids[idx]
			if hasWeight[idx] {
				weightSum += weights[idx]
				weightCount++
			}
		}
		cl := Cluster{
			ClusterID: fmt.Sprintf("%s_%d", axis, lbl),
			Axis:      axis,
			Label:     lbl,
			Size:      len(members),
			Centroid:  centroid,
			MemberIDs: memberIDs,
		}
		if weightCount > 0 {
			avg := weightSum / float64(weightCount)
			cl.AvgWeight = &avg
		}
		clusters = append(clusters, cl)
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Size != clusters[j].Size {
			return clusters[i].Size > clusters[j].Size
		}
		return clusters[i].ClusterID < clusters[j].ClusterID
	})

	c.logger.Info("cluster.cluster_axis",
		"axis", axis,
		"clusters", len(clusters),
		"noise", noiseCount,
		"members", len(points),
	)
	return clusters, noiseCount, nil
}

// GetCluster recomputes ClusterAxis(axis) and returns the single cluster
// matching clusterID, or a not_found error if no such cluster currently
// exists.
func (c *Clusterer) GetCluster(ctx context.Context, axis, clusterID string) (*Cluster, error) {
	clusters, _, err := c.ClusterAxis(ctx, axis)
	if err != nil {
		return nil, err
	}
	for i := range clusters {
		if clusters[i].ClusterID == clusterID {
			return &clusters[i], nil
		}
	}
	return nil, lmserrors.NotFound("cluster", clusterID)
}

// CosineDistance returns 1 - cos(a, b) over two (not necessarily
// normalized) vectors, used by C12 for member/candidate distance (§4.11
// step 4).
func CosineDistance(a, b []float32) float64 {
	na := normalize(a)
	nb := normalize(b)
	return 1 - floats.Dot(na, nb)
}

func normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	var sumSq float64
	for i, x := range v {
		out[i] = float64(x)
		sumSq += out[i] * out[i]
	}
	norm := floats.Norm(out, 2)
	if norm == 0 || sumSq == 0 {
		return out
	}
	floats.Scale(1/norm, out)
	return out
}

func meanUnitVector(vectors [][]float64, members []int) []float32 {
	if len(members) == 0 {
		return nil
	}
	dim := len(vectors[members[0]])
	sum := make([]float64, dim)
	for _, idx := range members {
		floats.Add(sum, vectors[idx])
	}
	floats.Scale(1/float64(len(members)), sum)
	norm := floats.Norm(sum, 2)
	if norm > 0 {
		floats.Scale(1/norm, sum)
	}
	out := make([]float32, dim)
	for i, x := range sum {
		out[i] = float32(x)
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
