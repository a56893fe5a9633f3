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
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	lmserrors "github.com/kraklabs/lms/internal/errors"
)

const maxBodyLen = 1000
const maxResolutionBodyLen = 2000

// Collector implements the single-active GHAP lifecycle (C9). Every
// mutation holds mu only long enough to update the in-memory entry and
// rename the journal file — it never calls a blocking embed/upsert while
// holding the lock (that happens in Persister, after resolve releases it).
type Collector struct {
	mu      sync.Mutex
	active  *GHAPEntry
	journal *journal
	logger  *slog.Logger
}

// NewCollector opens (or initializes) a collector persisting to dir.
func NewCollector(dir string, logger *slog.Logger) (*Collector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := newJournal(dir)
	active, err := j.load()
	if err != nil {
		return nil, err
	}
	return &Collector{active: active, journal: j, logger: logger}, nil
}

// CreateGHAP implements §4.8's create_ghap (named start_ghap in SPEC_FULL's
// operation table; same contract).
func (c *Collector) CreateGHAP(ctx context.Context, domain, strategy, goal, hypothesis, action, prediction string) (*GHAPEntry, error) {
	if err := validateEnum("domain", domain, Domains); err != nil {
		return nil, err
	}
	if err := validateEnum("strategy", strategy, Strategies); err != nil {
		return nil, err
	}
	if err := validateBody("goal", goal, maxBodyLen); err != nil {
		return nil, err
	}
	if err := validateBody("hypothesis", hypothesis, maxBodyLen); err != nil {
		return nil, err
	}
	if err := validateBody("action", action, maxBodyLen); err != nil {
		return nil, err
	}
	if err := validateBody("prediction", prediction, maxBodyLen); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.logger.Warn("ghap.orphaned_active_entry", "orphaned_id", c.active.ID, "domain", c.active.Domain)
	}

	entry := &GHAPEntry{
		ID:             uuid.NewString(),
		Domain:         Domain(domain),
		Strategy:       Strategy(strategy),
		Goal:           goal,
		Hypothesis:     hypothesis,
		Action:         action,
		Prediction:     prediction,
		IterationCount: 1,
		CreatedAt:      time.Now().UTC(),
	}

	if err := c.journal.save(entry); err != nil {
		return nil, lmserrors.Internal("create_ghap", err)
	}
	_ = c.journal.appendEvent("created", entry.ID, "")

	c.active = entry
	copied := *entry
	return &copied, nil
}

// UpdateGHAP implements §4.8's update_ghap: requires an active entry,
// merges any provided fields, increments iteration_count, appends a
// history entry.
func (c *Collector) UpdateGHAP(ctx context.Context, hypothesis, action, prediction, strategy, note string) (*GHAPEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return nil, lmserrors.Validation("active_entry", "no active GHAP entry to update")
	}

	if strategy != "" {
		if err := validateEnum("strategy", strategy, Strategies); err != nil {
			return nil, err
		}
	}
	for field, value := range map[string]string{"hypothesis": hypothesis, "action": action, "prediction": prediction} {
		if value != "" {
			if err := validateBody(field, value, maxBodyLen); err != nil {
				return nil, err
			}
		}
	}

	hist := HistoryEntry{At: time.Now().UTC(), Note: note}
	if hypothesis != "" {
		c.active.Hypothesis = hypothesis
		hist.Hypothesis = hypothesis
	}
	if action != "" {
		c.active.Action = action
		hist.Action = action
	}
	if prediction != "" {
		c.active.Prediction = prediction
		hist.Prediction = prediction
	}
	if strategy != "" {
		c.active.Strategy = Strategy(strategy)
		hist.Strategy = strategy
	}
	c.active.History = append(c.active.History, hist)
	c.active.IterationCount++

	if err := c.journal.save(c.active); err != nil {
		return nil, lmserrors.Internal("update_ghap", err)
	}
	_ = c.journal.appendEvent("updated", c.active.ID, note)

	copied := *c.active
	return &copied, nil
}

// ResolveGHAP implements §4.8's resolve_ghap: validates the outcome,
// computes confidence_tier, and writes the resolution into the journal;
// the entry stays active. Returns the fully resolved entry; the caller
// (typically Persister) is responsible for embedding and removing the
// journal's active marker via ClearActive once persistence succeeds.
func (c *Collector) ResolveGHAP(ctx context.Context, status, result, surprise string, rootCause *RootCause, lesson *Lesson) (*GHAPEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return nil, lmserrors.Validation("active_entry", "no active GHAP entry to resolve")
	}
	if err := validateEnum("status", status, OutcomeStatuses); err != nil {
		return nil, err
	}
	if err := validateBody("result", result, maxResolutionBodyLen); err != nil {
		return nil, err
	}
	if surprise != "" {
		if err := validateBody("surprise", surprise, maxResolutionBodyLen); err != nil {
			return nil, err
		}
	}
	if rootCause != nil && rootCause.Description != "" {
		if err := validateBody("root_cause.description", rootCause.Description, maxResolutionBodyLen); err != nil {
			return nil, err
		}
	}

	outcome := OutcomeStatus(status)
	if outcome == StatusFalsified {
		if surprise == "" {
			return nil, lmserrors.Validation("surprise", "required when status=falsified")
		}
		if rootCause == nil || rootCause.Description == "" {
			return nil, lmserrors.Validation("root_cause", "required when status=falsified")
		}
	}

	c.active.Status = outcome
	c.active.Result = result
	c.active.Surprise = surprise
	c.active.RootCause = rootCause
	c.active.Lesson = lesson
	c.active.ResolvedAt = time.Now().UTC()
	c.active.ConfidenceTier = computeConfidenceTier(outcome, c.active.IterationCount, lesson)

	if err := c.journal.save(c.active); err != nil {
		return nil, lmserrors.Internal("resolve_ghap", err)
	}
	_ = c.journal.appendEvent("resolved", c.active.ID, string(outcome))

	resolved := *c.active
	return &resolved, nil
}

// ClearActive removes the active marker after a resolved entry has been
// durably persisted as an Experience (C10). Safe to call even if the
// entry being cleared no longer matches the current active one (a
// concurrent create already orphaned it); it only clears when ids match.
func (c *Collector) ClearActive(ctx context.Context, resolvedID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil || c.active.ID != resolvedID {
		return nil
	}
	if err := c.journal.save(nil); err != nil {
		return lmserrors.Internal("clear_active", err)
	}
	c.active = nil
	return nil
}

// GetCurrent implements §4.8's get_current.
func (c *Collector) GetCurrent(ctx context.Context) *GHAPEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	copied := *c.active
	return &copied
}

func validateEnum[T ~string](field, value string, options []T) error {
	if !contains(options, T(value)) {
		strs := make([]string, len(options))
		for i, o := range options {
			strs[i] = string(o)
		}
		return lmserrors.ValidationEnum(field, value, strs)
	}
	return nil
}

func validateBody(field, value string, maxLen int) error {
	if value == "" {
		return lmserrors.Validation(field, "must not be empty")
	}
	if len(value) > maxLen {
		return lmserrors.Validation(field, "exceeds maximum length")
	}
	return nil
}
