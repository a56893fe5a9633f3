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

// Package context implements the Context Assembler (C14): parallel
// multi-source fanout over the Searcher, cross-source deduplication,
// weighted token budgeting, and markdown rendering, plus a specialized
// premortem query.
//
// The package name shadows the standard library's "context" only by
// name, not by reference: callers importing both give this one an alias
// (cmd/lms uses lmscontext).
package context

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	lmserrors "github.com/kraklabs/lms/internal/errors"
	"github.com/kraklabs/lms/pkg/ghap"
	"github.com/kraklabs/lms/pkg/search"
)

// sourceWeights are the relative budget shares from §4.13 step 3.
var sourceWeights = map[string]int{
	"experiences": 3,
	"code":        2,
	"commits":     2,
	"memories":    1,
	"values":      1,
}

// sourceOrder is the fixed processing order used for fanout, dedup
// precedence, and section rendering — highest-weight sources first so a
// strong/fuzzy duplicate from a lower-weight source always loses to one
// already kept from a higher-weight source, all else equal.
var sourceOrder = []string{"experiences", "code", "commits", "memories", "values"}

func validContextTypeNames() []string {
	out := make([]string, len(sourceOrder))
	copy(out, sourceOrder)
	return out
}

// Item is one rendered, budgeted entry in a FormattedContext.
type Item struct {
	Source    string
	Content   string
	Tokens    int
	Truncated bool
	Relevance float64
}

// FormattedContext is the output of both assemble_context and
// get_premortem_context (§4.13 step 8).
type FormattedContext struct {
	Markdown       string
	Items          []Item
	TokenCount     int
	SourcesUsed    map[string]int
	BudgetExceeded bool
	TruncatedItems []string
}

// Assembler implements the Context Assembler over a Searcher.
type Assembler struct {
	searcher *search.Searcher
	logger   *slog.Logger
}

// Config configures an Assembler.
type Config struct {
	Searcher *search.Searcher
	Logger   *slog.Logger
}

// New creates an Assembler.
func New(cfg Config) *Assembler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{searcher: cfg.Searcher, logger: logger}
}

// AssembleContext implements §4.13's assemble_context.
func (a *Assembler) AssembleContext(ctx context.Context, query string, contextTypes []string, limit, maxTokens int) (*FormattedContext, error) {
	for _, ct := range contextTypes {
		if _, ok := sourceWeights[ct]; !ok {
			return nil, lmserrors.ValidationEnum("context_types", ct, validContextTypeNames())
		}
	}
	if limit <= 0 {
		limit = 20
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	bySource := a.fanout(ctx, query, contextTypes, limit)
	deduped := dedupe(bySource, sourceOrder)
	budgets := computeBudgets(contextTypes, maxTokens)

	var allItems []Item
	sourcesUsed := map[string]int{}
	var truncatedItems []string
	var sections []string
	totalTokens := 0

	for _, source := range sourceOrder {
		if !contains(contextTypes, source) {
			continue
		}
		candidates := deduped[source]
		budget := budgets[source]
		perItemCap := int(0.25 * float64(budget))
		used := 0
		var itemTexts []string
		count := 0

		for _, c := range candidates {
			rendered := c.rendered
			tokens := estimateTokens(rendered)
			truncated := false
			if perItemCap > 0 && tokens > perItemCap {
				rendered = truncateToTokens(rendered, perItemCap, c.truncSuffix)
				tokens = estimateTokens(rendered)
				truncated = true
			}
			if used+tokens > budget {
				break
			}
			used += tokens
			totalTokens += tokens
			count++
			itemTexts = append(itemTexts, rendered)
			allItems = append(allItems, Item{Source: source, Content: rendered, Tokens: tokens, Truncated: truncated, Relevance: c.score})
			if truncated {
				truncatedItems = append(truncatedItems, c.strongKey)
			}
		}

		if count > 0 {
			sourcesUsed[source] = count
			sections = append(sections, renderSection(sourceTitle(source), itemTexts))
		}
	}

	markdown := renderMarkdown(sections, len(allItems), len(sourcesUsed))

	return &FormattedContext{
		Markdown:       markdown,
		Items:          allItems,
		TokenCount:     totalTokens,
		SourcesUsed:    sourcesUsed,
		BudgetExceeded: totalTokens > maxTokens,
		TruncatedItems: truncatedItems,
	}, nil
}

// fanout runs one Searcher call per requested source concurrently via bare
// goroutines and a WaitGroup, not errgroup: a single source's failure must
// not cancel its siblings (§4.13 step 1, §5's fanout note), which is
// exactly what errgroup's cancel-on-first-error would do.
func (a *Assembler) fanout(ctx context.Context, query string, sources []string, limit int) map[string][]candidate {
	results := make([][]candidate, len(sources))
	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func(i int, source string) {
			defer wg.Done()
			results[i] = a.searchSource(ctx, source, query, limit)
		}(i, source)
	}
	wg.Wait()

	out := make(map[string][]candidate, len(sources))
	for i, source := range sources {
		out[source] = results[i]
	}
	return out
}

func (a *Assembler) searchSource(ctx context.Context, source, query string, limit int) []candidate {
	switch source {
	case "memories":
		rs, err := a.searcher.SearchMemories(ctx, query, limit, "", nil)
		if err != nil {
			a.logger.Warn("context.source_failed", "source", source, "error", err)
			return nil
		}
		out := make([]candidate, 0, len(rs))
		for _, r := range rs {
			out = append(out, memoryCandidate(r))
		}
		return out
	case "code":
		rs, err := a.searcher.SearchCode(ctx, query, limit, "", "")
		if err != nil {
			a.logger.Warn("context.source_failed", "source", source, "error", err)
			return nil
		}
		out := make([]candidate, 0, len(rs))
		for _, r := range rs {
			out = append(out, codeCandidate(r))
		}
		return out
	case "experiences":
		rs, err := a.searcher.SearchExperiences(ctx, query, string(ghap.AxisFull), "", "", "", limit)
		if err != nil {
			a.logger.Warn("context.source_failed", "source", source, "error", err)
			return nil
		}
		out := make([]candidate, 0, len(rs))
		for _, r := range rs {
			out = append(out, experienceCandidate(r))
		}
		return out
	case "values":
		rs, err := a.searcher.SearchValues(ctx, query, limit, "")
		if err != nil {
			a.logger.Warn("context.source_failed", "source", source, "error", err)
			return nil
		}
		out := make([]candidate, 0, len(rs))
		for _, r := range rs {
			out = append(out, valueCandidate(r))
		}
		return out
	case "commits":
		rs, err := a.searcher.SearchCommits(ctx, query, "", nil, limit)
		if err != nil {
			a.logger.Warn("context.source_failed", "source", source, "error", err)
			return nil
		}
		out := make([]candidate, 0, len(rs))
		for _, r := range rs {
			out = append(out, commitCandidate(r))
		}
		return out
	default:
		return nil
	}
}

// computeBudgets allocates max_tokens across the requested sources by
// weight (§4.13 step 3): budget[s] = floor((weight[s]/Σweights)·max_tokens).
func computeBudgets(contextTypes []string, maxTokens int) map[string]int {
	var totalWeight int
	for _, s := range contextTypes {
		totalWeight += sourceWeights[s]
	}
	budgets := map[string]int{}
	if totalWeight == 0 {
		return budgets
	}
	for _, s := range contextTypes {
		budgets[s] = (sourceWeights[s] * maxTokens) / totalWeight
	}
	return budgets
}

func sourceTitle(source string) string {
	switch source {
	case "memories":
		return "Memories"
	case "code":
		return "Code"
	case "experiences":
		return "Experiences"
	case "values":
		return "Values"
	case "commits":
		return "Commits"
	default:
		return source
	}
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func renderMarkdown(sections []string, itemCount, sourceCount int) string {
	var b strings.Builder
	b.WriteString("# Context\n\n")
	for _, s := range sections {
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString("---\n")
	b.WriteString(renderFooter(itemCount, sourceCount))
	return b.String()
}

func renderSection(title string, items []string) string {
	var b strings.Builder
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	for i, item := range items {
		b.WriteString(item)
		if i < len(items)-1 {
			b.WriteString("\n\n")
		} else {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderFooter(itemCount, sourceCount int) string {
	return "*" + strconv.Itoa(itemCount) + " items from " + strconv.Itoa(sourceCount) + " sources*"
}
