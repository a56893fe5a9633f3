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

package embedding

import (
	"context"
	"encoding/binary"
	"hash/fnv"
)

// MockModel is a deterministic, zero-config embedder: the same text always
// hashes to the same vector. It is the registry's default when no external
// embedding server is configured, so a fresh checkout works without network
// access or a model download, at the cost of embeddings carrying no real
// semantic signal.
type MockModel struct {
	name      string
	dimension int
}

// NewMockModel creates a MockModel with the given name (purely for labeling
// payloads) and dimension.
func NewMockModel(name string, dimension int) *MockModel {
	return &MockModel{name: name, dimension: dimension}
}

func (m *MockModel) Name() string   { return m.name }
func (m *MockModel) Dimension() int { return m.dimension }

func (m *MockModel) Embed(_ context.Context, text string) ([]float32, error) {
	return hashVector(text, m.dimension), nil
}

func (m *MockModel) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, m.dimension)
	}
	return out, nil
}

// hashVector expands a FNV-1a hash of text into a deterministic pseudo-random
// unit-ish vector of the requested dimension by re-hashing an incrementing
// counter alongside the seed, so dimension doesn't bound hash entropy.
func hashVector(text string, dimension int) []float32 {
	vec := make([]float32, dimension)
	seed := fnv.New64a()
	_, _ = seed.Write([]byte(text))
	base := seed.Sum64()

	buf := make([]byte, 8)
	for i := 0; i < dimension; i++ {
		h := fnv.New64a()
		binary.LittleEndian.PutUint64(buf, base)
		_, _ = h.Write(buf)
		_, _ = h.Write([]byte{byte(i), byte(i >> 8)})
		v := h.Sum64()
		// Map to [-1, 1].
		vec[i] = float32(int64(v%2000001)-1000000) / 1000000.0
		base = v
	}
	return vec
}
