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
	"sort"
	"time"

	"github.com/kraklabs/lms/internal/store"
)

// EntrySummary is the list_ghap_entries projection of a persisted, resolved
// GHAPEntry: enough to let a caller pick one out for get_cluster_members or
// search_experiences without re-fetching the full axis text.
type EntrySummary struct {
	ID             string
	Domain         Domain
	Strategy       Strategy
	Goal           string
	OutcomeStatus  OutcomeStatus
	ConfidenceTier ConfidenceTier
	CreatedAt      time.Time
}

// ListEntries implements list_ghap_entries: scroll the full-axis collection
// (the one axis every resolved entry always has a point in) with an
// optional domain/outcome_status equals-filter, newest first. Mirrors
// pkg/memory's ListMemories scroll-then-sort-then-slice shape; there is no
// separate "index" of resolved entries to query, since the journal only
// durably tracks the single active entry (§6.2).
func ListEntries(ctx context.Context, vectors store.Store, domain, outcomeStatus string, limit int) ([]EntrySummary, error) {
	filter := store.Filter{Equals: map[string]any{}}
	if domain != "" {
		filter.Equals["domain"] = domain
	}
	if outcomeStatus != "" {
		filter.Equals["outcome_status"] = outcomeStatus
	}

	points, err := vectors.Scroll(ctx, AxisCollectionName(AxisFull), 0, filter, false)
	if err != nil {
		return nil, fmt.Errorf("scroll %s: %w", AxisCollectionName(AxisFull), err)
	}

	entries := make([]EntrySummary, 0, len(points))
	for _, p := range points {
		entries = append(entries, summaryFromPayload(p.ID, p.Payload))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func summaryFromPayload(id string, payload map[string]any) EntrySummary {
	e := EntrySummary{ID: id}
	if v, ok := payload["domain"].(string); ok {
		e.Domain = Domain(v)
	}
	if v, ok := payload["strategy"].(string); ok {
		e.Strategy = Strategy(v)
	}
	if v, ok := payload["goal"].(string); ok {
		e.Goal = v
	}
	if v, ok := payload["outcome_status"].(string); ok {
		e.OutcomeStatus = OutcomeStatus(v)
	}
	if v, ok := payload["confidence_tier"].(string); ok {
		e.ConfidenceTier = ConfidenceTier(v)
	}
	if v, ok := payload["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			e.CreatedAt = t
		}
	}
	return e
}
