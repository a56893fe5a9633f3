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

package context

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	lmserrors "github.com/kraklabs/lms/internal/errors"
	"github.com/kraklabs/lms/pkg/ghap"
	"github.com/kraklabs/lms/pkg/search"
)

type premortemQuery struct {
	section  string
	axis     ghap.Axis
	domain   string
	strategy string
	outcome  string
}

// GetPremortemContext implements §4.13's get_premortem_context: three
// parallel experience queries (four when strategy is set) plus a values
// lookup, rendered under the
// premortem template rather than assemble_context's.
func (a *Assembler) GetPremortemContext(ctx context.Context, domain, strategy string, limit, maxTokens int) (*FormattedContext, error) {
	if domain == "" {
		return nil, lmserrors.Validation("domain", "is required")
	}
	if limit <= 0 {
		limit = 10
	}
	if maxTokens <= 0 {
		maxTokens = 1500
	}

	queries := []premortemQuery{
		{section: "Common Failures", axis: ghap.AxisFull, domain: domain, outcome: string(ghap.StatusFalsified)},
		{section: "Unexpected Outcomes", axis: ghap.AxisSurprise, domain: domain},
		{section: "Root Causes to Watch", axis: ghap.AxisRootCause, domain: domain},
	}
	if strategy != "" {
		queries = append(queries, premortemQuery{section: "Strategy Performance", axis: ghap.AxisStrategy, strategy: strategy})
	}

	results := make([][]search.ExperienceResult, len(queries))
	var valueResults []search.ValueResult
	var wg sync.WaitGroup

	for i, q := range queries {
		wg.Add(1)
		go func(i int, q premortemQuery) {
			defer wg.Done()
			rs, err := a.searcher.SearchExperiences(ctx, domain, string(q.axis), q.domain, q.strategy, q.outcome, limit)
			if err != nil {
				a.logger.Warn("context.premortem_source_failed", "section", q.section, "error", err)
				return
			}
			results[i] = rs
		}(i, q)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		vs, err := a.searcher.SearchValues(ctx, domain, 5, "")
		if err != nil {
			a.logger.Warn("context.premortem_source_failed", "section", "Relevant Principles", "error", err)
			return
		}
		valueResults = vs
	}()
	wg.Wait()

	var b strings.Builder
	fmt.Fprintf(&b, "# Premortem: %s", domain)
	if strategy != "" {
		fmt.Fprintf(&b, " with %s", strategy)
	}
	b.WriteString("\n\n")

	experienceCount := 0
	for i, q := range queries {
		experienceCount += len(results[i])
		if len(results[i]) == 0 {
			continue
		}
		b.WriteString("## ")
		b.WriteString(q.section)
		b.WriteString("\n\n")
		for _, r := range results[i] {
			b.WriteString(premortemExperienceBullet(q.section, r))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(valueResults) > 0 {
		b.WriteString("## Relevant Principles\n\n")
		for _, v := range valueResults {
			fmt.Fprintf(&b, "- %s (%s)\n", v.Text, v.Axis)
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n")
	b.WriteString("*Based on " + strconv.Itoa(experienceCount) + " past experiences*")

	markdown := b.String()
	return &FormattedContext{
		Markdown:       markdown,
		TokenCount:     estimateTokens(markdown),
		BudgetExceeded: estimateTokens(markdown) > maxTokens,
	}, nil
}

func premortemExperienceBullet(section string, r search.ExperienceResult) string {
	switch section {
	case "Common Failures":
		if r.OutcomeResult != "" {
			return fmt.Sprintf("- %s: %s → %s", r.Strategy, r.Hypothesis, r.OutcomeResult)
		}
		return fmt.Sprintf("- %s: %s", r.Strategy, r.Hypothesis)
	case "Strategy Performance":
		return fmt.Sprintf("- %s (%s)", r.Goal, r.OutcomeStatus)
	case "Unexpected Outcomes":
		if r.Surprise != "" {
			return "- " + r.Surprise
		}
		return "- " + r.Goal
	case "Root Causes to Watch":
		if r.RootCause != "" {
			return "- " + r.RootCause
		}
		return "- " + r.Hypothesis
	default:
		return "- " + r.Goal
	}
}
