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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// RetryConfig controls retry behavior for the embedding HTTP client, mirroring
// the shape the indexing pipeline already uses for its own backoff.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryConfig is the embedding-provider retry policy: up to three
// retries after the first attempt (four attempts in all), backing off one
// second and doubling, the same 1s/2s/4s schedule as SPEC_FULL.md §4.9's
// GHAP write path.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     4 * time.Second,
		Multiplier:     2.0,
	}
}

// HTTPModel calls a local Ollama-compatible embedding server's /api/embed
// endpoint. It is the production embedder: point LMS_EMBED_URL (or
// embedding.base_url, internal/config) at a running Ollama instance, name
// its models with LMS_*_EMBED_MODEL, and this satisfies Model without any
// further wiring.
type HTTPModel struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	retry      RetryConfig
	logger     *slog.Logger
}

// HTTPModelConfig configures an HTTPModel.
type HTTPModelConfig struct {
	BaseURL    string // e.g. "http://localhost:11434"
	Model      string // e.g. "nomic-embed-text"
	Dimension  int    // known output size; not discovered from the server
	HTTPClient *http.Client
	Retry      RetryConfig
	Logger     *slog.Logger
}

// NewHTTPModel creates an HTTPModel. Dimension must be supplied by the
// caller (config.EmbeddingConfig), since the server's embed endpoint does
// not advertise it.
func NewHTTPModel(cfg HTTPModelConfig) *HTTPModel {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}
	return &HTTPModel{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		httpClient: client,
		retry:      retry,
		logger:     logger,
	}
}

func (m *HTTPModel) Name() string   { return m.model }
func (m *HTTPModel) Dimension() int { return m.dimension }

func (m *HTTPModel) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (m *HTTPModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Model: m.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	var lastErr error
	backoff := m.retry.InitialBackoff
	for attempt := 0; attempt <= m.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			m.logger.Warn("embedding.retry",
				"model", m.model,
				"attempt", attempt,
				"max_retries", m.retry.MaxRetries,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter(backoff)):
			}
			backoff = time.Duration(float64(backoff) * m.retry.Multiplier)
			if backoff > m.retry.MaxBackoff {
				backoff = m.retry.MaxBackoff
			}
		}

		vecs, err := m.doEmbed(ctx, body)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("embedding: %s after %d attempts: %w", m.model, m.retry.MaxRetries+1, lastErr)
}

func (m *HTTPModel) doEmbed(ctx context.Context, body []byte) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding server returned %d: %s", resp.StatusCode, string(b))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed.Embeddings, nil
}

// jitter adds up to 20% random jitter to d to avoid synchronized retry storms
// across concurrent callers.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.2
	return d + time.Duration(rand.Float64()*spread)
}
