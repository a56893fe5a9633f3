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
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// matches reports whether payload satisfies filter's AND-combined equality
// and $gte predicates.
func matches(payload map[string]any, filter Filter) bool {
	for key, want := range filter.Equals {
		got, ok := payload[key]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	for key, threshold := range filter.GTE {
		got, ok := payload[key]
		if !ok {
			return false
		}
		if !gteValue(got, threshold) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// gteValue compares comparable scalars (string timestamps compare
// lexicographically, which is correct for RFC3339/ISO-UTC strings; numeric
// types compare as float64).
func gteValue(got, threshold any) bool {
	switch t := threshold.(type) {
	case string:
		gs, ok := got.(string)
		return ok && gs >= t
	case float64:
		gf, ok := toFloat(got)
		return ok && gf >= t
	case int:
		gf, ok := toFloat(got)
		return ok && gf >= float64(t)
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// cosineSimilarity returns the cosine similarity of a and b in [-1, 1]. Both
// slices must have equal, non-zero length; a zero vector yields 0.
func cosineSimilarity(a, b []float32) float64 {
	af := make([]float64, len(a))
	bf := make([]float64, len(b))
	for i := range a {
		af[i] = float64(a[i])
		bf[i] = float64(b[i])
	}
	na := floats.Norm(af, 2)
	nb := floats.Norm(bf, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(af, bf) / (na * nb)
}
