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

package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// runHDBSCAN implements the density-reachability algorithm named in §4.10:
// core distances over minSamples neighbors, mutual reachability distance,
// a minimum spanning tree (Prim's), single-linkage agglomeration into a
// dendrogram, condensed-tree extraction bounded by minClusterSize, and
// excess-of-mass stability selection of the final flat clusters. Returns
// one label per input vector; Noise (-1) for points outside any selected
// cluster.
//
// No pack dependency ships a faithful HDBSCAN (see DESIGN.md), so this is
// written from the published algorithm directly rather than ported from
// any single reference implementation.
func runHDBSCAN(vectors [][]float64, minClusterSize, minSamples int) []int {
	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n < 2 {
		return labels
	}
	if minSamples < 1 {
		minSamples = 1
	}
	if minSamples > n-1 {
		minSamples = n - 1
	}

	dist := pairwiseCosineDistance(vectors)
	core := coreDistances(dist, minSamples)
	mrd := mutualReachability(dist, core)
	edges := primMST(mrd)
	linkage := buildLinkage(edges, n)

	return extractClusters(linkage, n, minClusterSize)
}

func pairwiseCosineDistance(vectors [][]float64) [][]float64 {
	n := len(vectors)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := 1 - floats.Dot(vectors[i], vectors[j])
			if d < 0 {
				d = 0
			}
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// coreDistances returns, for each point, its distance to its k-th nearest
// neighbor (k = minSamples), the "core distance" HDBSCAN uses to penalize
// sparse regions.
func coreDistances(dist [][]float64, k int) []float64 {
	n := len(dist)
	core := make([]float64, n)
	row := make([]float64, n-1)
	for i := 0; i < n; i++ {
		row = row[:0]
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			row = append(row, dist[i][j])
		}
		sort.Float64s(row)
		idx := k - 1
		if idx >= len(row) {
			idx = len(row) - 1
		}
		core[i] = row[idx]
	}
	return core
}

func mutualReachability(dist [][]float64, core []float64) [][]float64 {
	n := len(dist)
	mrd := make([][]float64, n)
	for i := range mrd {
		mrd[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			d := dist[i][j]
			if core[i] > d {
				d = core[i]
			}
			if core[j] > d {
				d = core[j]
			}
			mrd[i][j] = d
		}
	}
	return mrd
}

type mstEdge struct {
	u, v   int
	weight float64
}

// primMST builds a minimum spanning tree over the complete mutual
// reachability graph using Prim's algorithm, returning its n-1 edges.
func primMST(mrd [][]float64) []mstEdge {
	n := len(mrd)
	inTree := make([]bool, n)
	minWeight := make([]float64, n)
	minFrom := make([]int, n)
	for i := range minWeight {
		minWeight[i] = math.Inf(1)
		minFrom[i] = -1
	}
	inTree[0] = true
	for j := 1; j < n; j++ {
		minWeight[j] = mrd[0][j]
		minFrom[j] = 0
	}

	edges := make([]mstEdge, 0, n-1)
	for range n - 1 {
		next := -1
		best := math.Inf(1)
		for v := 0; v < n; v++ {
			if !inTree[v] && minWeight[v] < best {
				best = minWeight[v]
				next = v
			}
		}
		if next == -1 {
			break
		}
		inTree[next] = true
		edges = append(edges, mstEdge{u: minFrom[next], v: next, weight: best})
		for v := 0; v < n; v++ {
			if !inTree[v] && mrd[next][v] < minWeight[v] {
				minWeight[v] = mrd[next][v]
				minFrom[v] = next
			}
		}
	}
	return edges
}

// linkageNode is one internal (non-leaf) node of the single-linkage
// dendrogram, in the usual scipy-style representation: leaves are point
// indices 0..n-1, merge i produces node id n+i.
type linkageNode struct {
	left, right int
	distance    float64
	size        int
}

// buildLinkage runs union-find over the MST edges sorted ascending by
// weight, producing the dendrogram merges in birth order.
func buildLinkage(edges []mstEdge, n int) []linkageNode {
	sort.Slice(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })

	parent := make([]int, n)
	size := make([]int, n)
	repr := make([]int, n) // current top node id representing each root's component
	for i := range parent {
		parent[i] = i
		size[i] = 1
		repr[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	linkage := make([]linkageNode, 0, n-1)
	for _, e := range edges {
		ru, rv := find(e.u), find(e.v)
		if ru == rv {
			continue
		}
		newSize := size[ru] + size[rv]
		linkage = append(linkage, linkageNode{left: repr[ru], right: repr[rv], distance: e.weight, size: newSize})
		newNodeID := n + len(linkage) - 1

		parent[rv] = ru
		size[ru] = newSize
		repr[ru] = newNodeID
	}
	return linkage
}

type fallEvent struct {
	point  int
	lambda float64
}

// extractClusters condenses the dendrogram per minClusterSize and selects
// the flat clustering maximizing total stability (excess-of-mass), the same
// two-stage approach HDBSCAN papers describe.
func extractClusters(linkage []linkageNode, n, minClusterSize int) []int {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if len(linkage) == 0 {
		return labels
	}

	sizeOf := func(nodeID int) int {
		if nodeID < n {
			return 1
		}
		return linkage[nodeID-n].size
	}
	lambdaOf := func(d float64) float64 {
		if d <= 0 {
			return math.Inf(1)
		}
		return 1 / d
	}

	falls := map[int][]fallEvent{}
	children := map[int][]int{}
	birth := map[int]float64{}

	var fallAll func(nodeID int, lambda float64, clusterRoot int)
	fallAll = func(nodeID int, lambda float64, clusterRoot int) {
		if nodeID < n {
			falls[clusterRoot] = append(falls[clusterRoot], fallEvent{point: nodeID, lambda: lambda})
			return
		}
		m := linkage[nodeID-n]
		fallAll(m.left, lambda, clusterRoot)
		fallAll(m.right, lambda, clusterRoot)
	}

	var condense func(nodeID, clusterRoot int)
	condense = func(nodeID, clusterRoot int) {
		if nodeID < n {
			falls[clusterRoot] = append(falls[clusterRoot], fallEvent{point: nodeID, lambda: math.Inf(1)})
			return
		}
		m := linkage[nodeID-n]
		lambda := lambdaOf(m.distance)
		leftBig := sizeOf(m.left) >= minClusterSize
		rightBig := sizeOf(m.right) >= minClusterSize

		switch {
		case leftBig && rightBig:
			children[clusterRoot] = append(children[clusterRoot], m.left, m.right)
			birth[m.left] = lambda
			birth[m.right] = lambda
			condense(m.left, m.left)
			condense(m.right, m.right)
		case leftBig && !rightBig:
			fallAll(m.right, lambda, clusterRoot)
			condense(m.left, clusterRoot)
		case !leftBig && rightBig:
			fallAll(m.left, lambda, clusterRoot)
			condense(m.right, clusterRoot)
		default:
			fallAll(m.left, lambda, clusterRoot)
			fallAll(m.right, lambda, clusterRoot)
		}
	}

	root := n + len(linkage) - 1
	birth[root] = 0
	condense(root, root)

	stability := map[int]float64{}
	for clusterRoot, events := range falls {
		b := birth[clusterRoot]
		var s float64
		for _, ev := range events {
			if math.IsInf(ev.lambda, 1) {
				continue
			}
			s += ev.lambda - b
		}
		stability[clusterRoot] = s
	}

	roots := make([]int, 0, len(falls))
	for r := range falls {
		roots = append(roots, r)
	}
	sort.Ints(roots)

	rollup := map[int]float64{}
	selected := map[int]bool{}
	var unselectSubtree func(int)
	unselectSubtree = func(nodeID int) {
		for _, c := range children[nodeID] {
			selected[c] = false
			unselectSubtree(c)
		}
	}

	for _, r := range roots {
		kids := children[r]
		if len(kids) == 0 {
			rollup[r] = stability[r]
			selected[r] = true
			continue
		}
		var childSum float64
		for _, c := range kids {
			childSum += rollup[c]
		}
		if stability[r] >= childSum {
			rollup[r] = stability[r]
			selected[r] = true
			unselectSubtree(r)
		} else {
			rollup[r] = childSum
			selected[r] = false
		}
	}

	var collectPoints func(nodeID int, out *[]int)
	collectPoints = func(nodeID int, out *[]int) {
		for _, ev := range falls[nodeID] {
			*out = append(*out, ev.point)
		}
		for _, c := range children[nodeID] {
			collectPoints(c, out)
		}
	}

	label := 0
	for _, r := range roots {
		if !selected[r] {
			continue
		}
		var points []int
		collectPoints(r, &points)
		for _, p := range points {
			labels[p] = label
		}
		label++
	}
	return labels
}
