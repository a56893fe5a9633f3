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

package main

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	lmserrors "github.com/kraklabs/lms/internal/errors"
	"github.com/kraklabs/lms/pkg/ghap"
)

// decode unmarshals raw into v, wrapping the error as a validation_error
// since a malformed params object is always a caller mistake, never
// internal_error.
func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return lmserrors.Validation("params", err.Error())
	}
	return nil
}

// --- Memory ---

type storeMemoryParams struct {
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags"`
}

func opStoreMemory(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p storeMemoryParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return c.memories.StoreMemory(ctx, p.Content, p.Category, p.Importance, p.Tags)
}

type retrieveMemoriesParams struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit"`
	Category      string   `json:"category"`
	MinImportance *float64 `json:"min_importance"`
}

func opRetrieveMemories(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p retrieveMemoriesParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return c.searcher.SearchMemories(ctx, p.Query, p.Limit, p.Category, p.MinImportance)
}

type listMemoriesParams struct {
	Category string `json:"category"`
	Limit    int    `json:"limit"`
}

func opListMemories(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p listMemoriesParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return c.memories.ListMemories(ctx, p.Category, p.Limit)
}

type deleteMemoryParams struct {
	ID string `json:"id"`
}

func opDeleteMemory(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p deleteMemoryParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if err := c.memories.DeleteMemory(ctx, p.ID); err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": true}, nil
}

// --- Code ---

type indexCodebaseParams struct {
	Path      string `json:"path"`
	Project   string `json:"project"`
	Recursive *bool  `json:"recursive"`
}

func opIndexCodebase(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p indexCodebaseParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, lmserrors.Validation("path", "required")
	}
	recursive := true
	if p.Recursive != nil {
		recursive = *p.Recursive
	}
	stats := c.indexer.IndexDirectory(ctx, p.Path, p.Project, recursive)
	return stats, nil
}

type searchCodeParams struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
	Project  string `json:"project"`
	Language string `json:"language"`
}

func opSearchCode(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p searchCodeParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return c.searcher.SearchCode(ctx, p.Query, p.Limit, p.Project, p.Language)
}

type findSimilarCodeParams struct {
	Snippet  string `json:"snippet"`
	Limit    int    `json:"limit"`
	Language string `json:"language"`
}

// opFindSimilarCode treats the snippet as the Searcher's query text — the
// same semantic-embed-and-compare path search_code uses, scoped unfiltered
// by project so a snippet from anywhere in the index can surface a match.
func opFindSimilarCode(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p findSimilarCodeParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.Snippet == "" {
		return nil, lmserrors.Validation("snippet", "required")
	}
	return c.searcher.SearchCode(ctx, p.Snippet, p.Limit, "", p.Language)
}

// --- Git ---

type indexCommitsParams struct {
	Since *time.Time `json:"since"`
	Limit int        `json:"limit"`
	Force bool       `json:"force"`
}

func opIndexCommits(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p indexCommitsParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if c.gitAnalyzer == nil {
		return nil, lmserrors.NotFound("git_repository", "")
	}
	return c.gitAnalyzer.IndexCommits(ctx, p.Since, p.Limit, p.Force)
}

type searchCommitsParams struct {
	Query  string     `json:"query"`
	Author string     `json:"author"`
	Since  *time.Time `json:"since"`
	Limit  int        `json:"limit"`
}

func opSearchCommits(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p searchCommitsParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if c.gitAnalyzer == nil {
		return nil, lmserrors.NotFound("git_repository", "")
	}
	return c.gitAnalyzer.SearchCommits(ctx, p.Query, p.Author, p.Since, p.Limit)
}

type getFileHistoryParams struct {
	FilePath string `json:"file_path"`
	Limit    int    `json:"limit"`
}

func opGetFileHistory(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p getFileHistoryParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if c.gitReader == nil {
		return nil, lmserrors.NotFound("git_repository", "")
	}
	return c.gitReader.GetFileHistory(ctx, p.FilePath, p.Limit)
}

type getChurnHotspotsParams struct {
	Days       int `json:"days"`
	Limit      int `json:"limit"`
	MinChanges int `json:"min_changes"`
}

func opGetChurnHotspots(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p getChurnHotspotsParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if c.gitAnalyzer == nil {
		return nil, lmserrors.NotFound("git_repository", "")
	}
	return c.gitAnalyzer.GetChurnHotspots(ctx, p.Days, p.Limit, p.MinChanges)
}

type getCodeAuthorsParams struct {
	FilePath string `json:"file_path"`
}

func opGetCodeAuthors(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p getCodeAuthorsParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if c.gitAnalyzer == nil {
		return nil, lmserrors.NotFound("git_repository", "")
	}
	return c.gitAnalyzer.GetFileAuthors(ctx, p.FilePath)
}

// --- GHAP ---

type startGHAPParams struct {
	Domain     string `json:"domain"`
	Strategy   string `json:"strategy"`
	Goal       string `json:"goal"`
	Hypothesis string `json:"hypothesis"`
	Action     string `json:"action"`
	Prediction string `json:"prediction"`
}

func opStartGHAP(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p startGHAPParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return c.collector.CreateGHAP(ctx, p.Domain, p.Strategy, p.Goal, p.Hypothesis, p.Action, p.Prediction)
}

type updateGHAPParams struct {
	Hypothesis string `json:"hypothesis"`
	Action     string `json:"action"`
	Prediction string `json:"prediction"`
	Strategy   string `json:"strategy"`
	Note       string `json:"note"`
}

func opUpdateGHAP(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p updateGHAPParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return c.collector.UpdateGHAP(ctx, p.Hypothesis, p.Action, p.Prediction, p.Strategy, p.Note)
}

type resolveGHAPParams struct {
	Status    string          `json:"status"`
	Result    string          `json:"result"`
	Surprise  string          `json:"surprise"`
	RootCause *ghap.RootCause `json:"root_cause"`
	Lesson    *ghap.Lesson    `json:"lesson"`
}

// opResolveGHAP chains C9's ResolveGHAP (validates, computes the
// confidence tier, writes the journal) with C10's Persist
// (fans the resolved entry out into its axis collections); Persist itself
// calls collector.ClearActive once every non-empty axis has been written.
func opResolveGHAP(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p resolveGHAPParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	entry, err := c.collector.ResolveGHAP(ctx, p.Status, p.Result, p.Surprise, p.RootCause, p.Lesson)
	if err != nil {
		return nil, err
	}
	if err := c.persister.Persist(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func opGetActiveGHAP(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	entry := c.collector.GetCurrent(ctx)
	if entry == nil {
		return nil, lmserrors.NotFound("active_ghap", "")
	}
	return entry, nil
}

type listGHAPEntriesParams struct {
	Domain        string `json:"domain"`
	OutcomeStatus string `json:"outcome_status"`
	Limit         int    `json:"limit"`
}

func opListGHAPEntries(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p listGHAPEntriesParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return ghap.ListEntries(ctx, c.vectors, p.Domain, p.OutcomeStatus, p.Limit)
}

// --- Learning ---

type getClustersParams struct {
	Axis string `json:"axis"`
}

func opGetClusters(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p getClustersParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if !ghap.ValidAxis(p.Axis) {
		return nil, lmserrors.ValidationEnum("axis", p.Axis, axisNames())
	}
	clusters, noise, err := c.clusterer.ClusterAxis(ctx, p.Axis)
	if err != nil {
		return nil, err
	}
	return map[string]any{"clusters": clusters, "noise_count": noise}, nil
}

type getClusterMembersParams struct {
	ClusterID string `json:"cluster_id"`
}

// clusterAxisFromID recovers the axis half of a "{axis}_{label}" cluster_id
// (pkg/cluster.Cluster.ClusterID's own format), mirroring pkg/values'
// unexported parseClusterID since that helper isn't part of this module's
// exported surface.
func clusterAxisFromID(clusterID string) (string, error) {
	idx := strings.LastIndex(clusterID, "_")
	if idx <= 0 || idx == len(clusterID)-1 {
		return "", lmserrors.Validation("cluster_id", "must be formatted {axis}_{label}")
	}
	axis := clusterID[:idx]
	if !ghap.ValidAxis(axis) {
		return "", lmserrors.ValidationEnum("cluster_id", clusterID, axisNames())
	}
	return axis, nil
}

func opGetClusterMembers(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p getClusterMembersParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	axis, err := clusterAxisFromID(p.ClusterID)
	if err != nil {
		return nil, err
	}
	cluster, err := c.clusterer.GetCluster(ctx, axis, p.ClusterID)
	if err != nil {
		return nil, err
	}
	return cluster, nil
}

func axisNames() []string {
	out := make([]string, len(ghap.Axes))
	for i, a := range ghap.Axes {
		out[i] = string(a)
	}
	return out
}

type validateValueParams struct {
	Text      string `json:"text"`
	ClusterID string `json:"cluster_id"`
}

func opValidateValue(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p validateValueParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return c.values.ValidateCandidate(ctx, p.Text, p.ClusterID)
}

type storeValueParams struct {
	Text      string `json:"text"`
	ClusterID string `json:"cluster_id"`
	Axis      string `json:"axis"`
}

func opStoreValue(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p storeValueParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return c.values.StoreValue(ctx, p.Text, p.ClusterID, p.Axis)
}

type listValuesParams struct {
	Axis  string `json:"axis"`
	Limit int    `json:"limit"`
}

func opListValues(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p listValuesParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return c.values.ListValues(ctx, p.Axis, p.Limit)
}

// --- Search ---

type searchExperiencesParams struct {
	Query    string `json:"query"`
	Axis     string `json:"axis"`
	Domain   string `json:"domain"`
	Strategy string `json:"strategy"`
	Outcome  string `json:"outcome"`
	Limit    int    `json:"limit"`
}

func opSearchExperiences(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p searchExperiencesParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.Axis == "" {
		p.Axis = string(ghap.AxisFull)
	}
	return c.searcher.SearchExperiences(ctx, p.Query, p.Axis, p.Domain, p.Strategy, p.Outcome, p.Limit)
}

// --- Context ---

type assembleContextParams struct {
	Query        string   `json:"query"`
	ContextTypes []string `json:"context_types"`
	Limit        int      `json:"limit"`
	MaxTokens    int      `json:"max_tokens"`
}

func opAssembleContext(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p assembleContextParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return c.assembler.AssembleContext(ctx, p.Query, p.ContextTypes, p.Limit, p.MaxTokens)
}

type getPremortemContextParams struct {
	Domain    string `json:"domain"`
	Strategy  string `json:"strategy"`
	Limit     int    `json:"limit"`
	MaxTokens int    `json:"max_tokens"`
}

func opGetPremortemContext(ctx context.Context, c *core, raw json.RawMessage) (any, error) {
	var p getPremortemContextParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.Domain == "" {
		return nil, lmserrors.Validation("domain", "required")
	}
	return c.assembler.GetPremortemContext(ctx, p.Domain, p.Strategy, p.Limit, p.MaxTokens)
}
