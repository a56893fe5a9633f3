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

package ghap

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/kraklabs/lms/internal/embedding"
	lmserrors "github.com/kraklabs/lms/internal/errors"
	"github.com/kraklabs/lms/internal/store"
)

// axisCollection maps an Axis to its vector collection name (§3.1/§6.2).
// Exported as AxisCollectionName for callers outside this package (pkg/search
// reads the same four collections read-only) that need the mapping without
// redeclaring it.
func axisCollection(axis Axis) string { return AxisCollectionName(axis) }

// AxisCollectionName maps an Axis to its vector collection name.
func AxisCollectionName(axis Axis) string {
	switch axis {
	case AxisFull:
		return "ghap_full"
	case AxisStrategy:
		return "ghap_strategy"
	case AxisSurprise:
		return "ghap_surprise"
	case AxisRootCause:
		return "ghap_root_cause"
	default:
		return ""
	}
}

// Persister embeds a resolved GHAPEntry's present axis-texts and upserts
// them into the four axis collections (C10), retrying the whole
// embed-and-upsert sequence with exponential backoff before giving up.
type Persister struct {
	collector *Collector
	embedder  embedding.Model
	vectors   store.Store
	guard     *store.Guard
	retry     embedding.RetryConfig
	logger    *slog.Logger
}

// PersisterConfig configures a Persister.
type PersisterConfig struct {
	Collector *Collector
	Embedder  embedding.Model
	Vectors   store.Store
	Guard     *store.Guard
	Retry     embedding.RetryConfig
	Logger    *slog.Logger
}

// NewPersister creates a Persister. A zero Retry falls back to
// embedding.DefaultRetryConfig() (up to three retries after the first
// attempt, four attempts in all, 1s/2s/4s, §4.9).
func NewPersister(cfg PersisterConfig) *Persister {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = embedding.DefaultRetryConfig()
	}
	return &Persister{
		collector: cfg.Collector,
		embedder:  cfg.Embedder,
		vectors:   cfg.Vectors,
		guard:     cfg.Guard,
		retry:     retry,
		logger:    logger,
	}
}

// axisText builds the present text for axis from a resolved entry, or ""
// if that axis does not apply (§4.9).
func axisText(e *GHAPEntry, axis Axis) string {
	switch axis {
	case AxisFull:
		var b strings.Builder
		fmt.Fprintf(&b, "%s / %s\n\n", e.Domain, e.Strategy)
		fmt.Fprintf(&b, "Goal: %s\nHypothesis: %s\nAction: %s\nPrediction: %s\n\n", e.Goal, e.Hypothesis, e.Action, e.Prediction)
		fmt.Fprintf(&b, "Outcome: %s %s", e.Status, e.Result)
		if e.Surprise != "" {
			fmt.Fprintf(&b, "\n\nSurprise: %s", e.Surprise)
		}
		if e.Lesson != nil {
			fmt.Fprintf(&b, "\n\nLesson: %s %s", e.Lesson.WhatWorked, e.Lesson.Takeaway)
		}
		return b.String()
	case AxisStrategy:
		return fmt.Sprintf("Strategy: %s\n\nAction: %s\n\nOutcome: %s %s", e.Strategy, e.Action, e.Status, e.Result)
	case AxisSurprise:
		return e.Surprise
	case AxisRootCause:
		if e.RootCause == nil {
			return ""
		}
		return e.RootCause.Description
	default:
		return ""
	}
}

// Persist implements §4.9: build every present axis text, embed them in
// one batch with the semantic embedder, and upsert into each axis'
// collection. On durable success it clears the collector's active
// marker. Retries the whole sequence up to retry.MaxRetries times with
// exponential backoff before surfacing an error.
func (p *Persister) Persist(ctx context.Context, entry *GHAPEntry) error {
	if !entry.IsResolved() {
		return lmserrors.Validation("entry", "cannot persist an unresolved GHAP entry")
	}

	var lastErr error
	backoff := p.retry.InitialBackoff
	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("ghap.persist_retry",
				"ghap_id", entry.ID,
				"attempt", attempt,
				"max_retries", p.retry.MaxRetries,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitter(backoff)):
			}
			backoff = time.Duration(float64(backoff) * p.retry.Multiplier)
			if backoff > p.retry.MaxBackoff {
				backoff = p.retry.MaxBackoff
			}
		}

		if err := p.persistOnce(ctx, entry); err == nil {
			return p.collector.ClearActive(ctx, entry.ID)
		} else {
			lastErr = err
		}
	}
	return lmserrors.Internal("persist_ghap", fmt.Errorf("after %d attempts: %w", p.retry.MaxRetries+1, lastErr))
}

func (p *Persister) persistOnce(ctx context.Context, entry *GHAPEntry) error {
	var axes []Axis
	var texts []string
	for _, axis := range Axes {
		text := axisText(entry, axis)
		if text == "" {
			continue
		}
		axes = append(axes, axis)
		texts = append(texts, text)
	}
	if len(axes) == 0 {
		return nil
	}

	for _, axis := range axes {
		if err := p.guard.Ensure(ctx, axisCollection(axis), p.embedder); err != nil {
			return fmt.Errorf("ensure collection for axis %s: %w", axis, err)
		}
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed axis texts: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for i, axis := range axes {
		payload := map[string]any{
			"ghap_id":         entry.ID,
			"domain":          string(entry.Domain),
			"strategy":        string(entry.Strategy),
			"goal":            entry.Goal,
			"hypothesis":      entry.Hypothesis,
			"action":          entry.Action,
			"prediction":      entry.Prediction,
			"outcome_status":  string(entry.Status),
			"outcome_result":  entry.Result,
			"confidence_tier": string(entry.ConfidenceTier),
			"created_at":      entry.CreatedAt.UTC().Format(time.RFC3339Nano),
			"axis":            string(axis),
		}
		if entry.Surprise != "" {
			payload["surprise"] = entry.Surprise
		}
		if entry.RootCause != nil {
			payload["root_cause"] = entry.RootCause.Description
		}
		if entry.Lesson != nil {
			payload["lesson"] = entry.Lesson.WhatWorked
		}
		payload["persisted_at"] = now

		if err := p.vectors.Upsert(ctx, axisCollection(axis), entry.ID, vectors[i], payload); err != nil {
			return fmt.Errorf("upsert axis %s: %w", axis, err)
		}
	}
	return nil
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.2
	return d + time.Duration(rand.Float64()*spread)
}
