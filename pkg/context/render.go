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
	"fmt"
	"strings"

	"github.com/kraklabs/lms/pkg/search"
)

// estimateTokens implements §4.13 step 6's ceil(len(text)/4) estimate.
func estimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// truncateToTokens cuts rendered down to roughly capTokens (≈4 chars each)
// and appends suffix, per §4.13 step 4's per-item cap.
func truncateToTokens(rendered string, capTokens int, suffix string) string {
	if capTokens <= 0 {
		return suffix
	}
	maxChars := capTokens * 4
	reserve := len(suffix) + 1
	if maxChars <= reserve {
		return suffix
	}
	cut := maxChars - reserve
	runes := []rune(rendered)
	if cut > len(runes) {
		cut = len(runes)
	}
	return strings.TrimSpace(string(runes[:cut])) + " " + suffix
}

func memoryCandidate(r search.MemoryResult) candidate {
	content := r.Content
	rendered := fmt.Sprintf("**Memory**: %s\n*Category: %s, Importance: %.2f*", r.Content, r.Category, r.Importance)
	return candidate{
		source:      "memories",
		strongKey:   "memory:" + r.ID,
		content:     content,
		rendered:    rendered,
		truncSuffix: "(truncated)",
		score:       r.Score,
	}
}

func codeCandidate(r search.CodeResult) candidate {
	content := r.Signature
	if content == "" {
		content = r.QualifiedName
	}
	rendered := fmt.Sprintf("**%s** `%s` in `%s:%d`\n```%s\n%s\n```",
		r.UnitType, r.QualifiedName, r.FilePath, r.StartLine, r.Language, r.Signature)
	return candidate{
		source:      "code",
		strongKey:   "file:" + r.FilePath,
		content:     content,
		rendered:    rendered,
		truncSuffix: fmt.Sprintf("(truncated, see full at %s:%d)", r.FilePath, r.StartLine),
		score:       r.Score,
	}
}

func experienceCandidate(r search.ExperienceResult) candidate {
	var b strings.Builder
	fmt.Fprintf(&b, "**Experience**: %s | %s\n", r.Domain, r.Strategy)
	fmt.Fprintf(&b, "- Goal: %s\n", r.Goal)
	fmt.Fprintf(&b, "- Hypothesis: %s\n", r.Hypothesis)
	fmt.Fprintf(&b, "- Action: %s\n", r.Action)
	fmt.Fprintf(&b, "- Prediction: %s\n", r.Prediction)
	fmt.Fprintf(&b, "- Outcome: %s %s", r.OutcomeStatus, r.OutcomeResult)
	if r.Surprise != "" {
		fmt.Fprintf(&b, "\n- Surprise: %s", r.Surprise)
	}
	if r.LessonWorked != "" {
		fmt.Fprintf(&b, "\n- Lesson: %s", r.LessonWorked)
	}
	content := r.Goal + " " + r.Hypothesis + " " + r.Action

	key := "ghap:" + r.ID
	if r.ID == "" {
		key = contentKey(content)
	}
	return candidate{
		source:      "experiences",
		strongKey:   key,
		content:     content,
		rendered:    b.String(),
		truncSuffix: fmt.Sprintf("(truncated, id: %s)", r.ID),
		score:       r.Score,
	}
}

func valueCandidate(r search.ValueResult) candidate {
	rendered := fmt.Sprintf("**Value** (%s, cluster size: %d):\n%s", r.Axis, r.ClusterSize, r.Text)
	return candidate{
		source:      "values",
		strongKey:   contentKey(r.Text),
		content:     r.Text,
		rendered:    rendered,
		truncSuffix: "(truncated)",
		score:       r.Score,
	}
}

func commitCandidate(r search.CommitResult) candidate {
	sha := r.SHA
	short := sha
	if len(short) > 7 {
		short = short[:7]
	}
	files := r.FilesChanged
	var filesNote string
	switch {
	case len(files) == 0:
		filesNote = ""
	case len(files) <= 3:
		filesNote = fmt.Sprintf("\n*Files: %s*", strings.Join(files, ", "))
	default:
		filesNote = fmt.Sprintf("\n*Files: %s (%d more)*", strings.Join(files[:3], ", "), len(files)-3)
	}
	rendered := fmt.Sprintf("**Commit** `%s` by %s on %s\n%s%s",
		short, r.Author, r.Timestamp.Format("2006-01-02"), r.Message, filesNote)
	return candidate{
		source:      "commits",
		strongKey:   "commit:" + sha,
		content:     r.Message,
		rendered:    rendered,
		truncSuffix: "(truncated)",
		score:       r.Score,
	}
}
