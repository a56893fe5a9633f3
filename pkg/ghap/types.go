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

// Package ghap is the GHAP Collector (C9) and Persister (C10): a
// single-active goal/hypothesis/action/prediction reflection journal,
// resolved entries of which are embedded and fanned out into four
// axis-specific vector collections.
package ghap

import "time"

// Domain is one of the fixed problem domains a reflection belongs to.
type Domain string

// Domains is the closed set DOMAINS names.
var Domains = []Domain{
	"debugging", "refactoring", "feature", "testing", "configuration",
	"documentation", "performance", "security", "integration",
}

// Strategy is one of the fixed approaches a reflection records.
type Strategy string

// Strategies is the closed set STRATEGIES names.
var Strategies = []Strategy{
	"systematic-elimination", "trial-and-error", "research-first",
	"divide-and-conquer", "root-cause-analysis", "copy-from-similar",
	"check-assumptions", "read-the-error", "ask-user",
}

// OutcomeStatus is the resolved disposition of a GHAPEntry.
type OutcomeStatus string

const (
	StatusConfirmed OutcomeStatus = "confirmed"
	StatusFalsified OutcomeStatus = "falsified"
	StatusAbandoned OutcomeStatus = "abandoned"
)

// OutcomeStatuses is the closed set OUTCOME_STATUS_VALUES names.
var OutcomeStatuses = []OutcomeStatus{StatusConfirmed, StatusFalsified, StatusAbandoned}

// ConfidenceTier is the compressed quality label derived from outcome and
// iteration count (gold > silver > bronze > abandoned).
type ConfidenceTier string

const (
	TierGold      ConfidenceTier = "gold"
	TierSilver    ConfidenceTier = "silver"
	TierBronze    ConfidenceTier = "bronze"
	TierAbandoned ConfidenceTier = "abandoned"
)

// Axis is one of the four projections of a resolved GHAP used for
// retrieval/clustering.
type Axis string

const (
	AxisFull      Axis = "full"
	AxisStrategy  Axis = "strategy"
	AxisSurprise  Axis = "surprise"
	AxisRootCause Axis = "root_cause"
)

// Axes is the closed set VALID_AXES names.
var Axes = []Axis{AxisFull, AxisStrategy, AxisSurprise, AxisRootCause}

// ValidAxis reports whether s names one of the four known axes; exported
// for callers outside this package (pkg/values' cluster_id parsing) that
// need to validate an axis string without redeclaring the enum.
func ValidAxis(s string) bool {
	return contains(Axes, Axis(s))
}

// RootCause qualifies why a hypothesis was falsified.
type RootCause struct {
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Lesson records what the reflection taught, independent of outcome.
type Lesson struct {
	WhatWorked string `json:"what_worked,omitempty"`
	Takeaway   string `json:"takeaway,omitempty"`
}

// HistoryEntry records one update_ghap call against an active entry.
type HistoryEntry struct {
	At         time.Time `json:"at"`
	Hypothesis string    `json:"hypothesis,omitempty"`
	Action     string    `json:"action,omitempty"`
	Prediction string    `json:"prediction,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// GHAPEntry is a reflection record, active or resolved.
type GHAPEntry struct {
	ID             string         `json:"id"`
	Domain         Domain         `json:"domain"`
	Strategy       Strategy       `json:"strategy"`
	Goal           string         `json:"goal"`
	Hypothesis     string         `json:"hypothesis"`
	Action         string         `json:"action"`
	Prediction     string         `json:"prediction"`
	IterationCount int            `json:"iteration_count"`
	CreatedAt      time.Time      `json:"created_at"`
	History        []HistoryEntry `json:"history,omitempty"`

	// Resolved-only fields.
	Status         OutcomeStatus  `json:"status,omitempty"`
	Result         string         `json:"result,omitempty"`
	Surprise       string         `json:"surprise,omitempty"`
	RootCause      *RootCause     `json:"root_cause,omitempty"`
	Lesson         *Lesson        `json:"lesson,omitempty"`
	ResolvedAt     time.Time      `json:"resolved_at,omitempty"`
	ConfidenceTier ConfidenceTier `json:"confidence_tier,omitempty"`
}

// IsResolved reports whether this entry has gone through resolve_ghap.
func (e *GHAPEntry) IsResolved() bool {
	return e.Status != ""
}

// computeConfidenceTier implements §3.1's confidence tier rule.
func computeConfidenceTier(status OutcomeStatus, iterationCount int, lesson *Lesson) ConfidenceTier {
	switch status {
	case StatusAbandoned:
		return TierAbandoned
	case StatusConfirmed:
		switch {
		case iterationCount <= 1:
			return TierGold
		case iterationCount <= 3:
			return TierSilver
		default:
			return TierBronze
		}
	case StatusFalsified:
		if lesson != nil && lesson.WhatWorked != "" {
			return TierSilver
		}
		return TierBronze
	default:
		return TierAbandoned
	}
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
