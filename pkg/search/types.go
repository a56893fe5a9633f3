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

// Package search is the Searcher (C13): a unified, strongly typed read
// surface over the five vector domains. The canonical result types live
// here and nowhere else — pkg/context imports and renders them, it never
// redeclares a parallel shape (§9).
package search

import (
	"time"

	"github.com/kraklabs/lms/pkg/gitanalyze"
)

// MemoryResult is one scored hit from search_memories.
type MemoryResult struct {
	ID         string
	Content    string
	Category   string
	Importance float64
	Tags       []string
	CreatedAt  time.Time
	Score      float64
}

// CodeResult is one scored hit from search_code.
type CodeResult struct {
	ID            string
	Project       string
	FilePath      string
	Name          string
	QualifiedName string
	UnitType      string
	Signature     string
	Language      string
	StartLine     int
	EndLine       int
	HasDocstring  bool
	Score         float64
}

// ExperienceResult is one scored hit from search_experiences.
type ExperienceResult struct {
	ID             string
	Axis           string
	Domain         string
	Strategy       string
	Goal           string
	Hypothesis     string
	Action         string
	Prediction     string
	OutcomeStatus  string
	OutcomeResult  string
	Surprise       string
	RootCause      string
	LessonWorked   string
	LessonTakeaway string
	ConfidenceTier string
	CreatedAt      time.Time
	Score          float64
}

// ValueResult is one scored hit from search_values.
type ValueResult struct {
	ID                   string
	Text                 string
	Axis                 string
	ClusterID            string
	ClusterSize          int
	SimilarityToCentroid float64
	CreatedAt            time.Time
	Score                float64
}

// CommitResult aliases pkg/gitanalyze's CommitResult rather than
// redeclaring it: the Git Analyzer already owns the commits collection
// and its embedding/search path (§4.7), so it is the type's one true
// source — this package just re-exports the name search callers expect
// (§9's "one canonical location" rule applies to the type identity, not
// to which package happens to define it first).
type CommitResult = gitanalyze.CommitResult
