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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kraklabs/lms/internal/metrics"
)

// jsonRPCRequest is one line of stdin: JSON-RPC 2.0 with the method name
// set directly to one of the 25 operation names (store_memory,
// search_code, resolve_ghap, ...) rather than wrapped in a tools/call
// envelope — there is no tool-schema layer to unwrap it from.
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonRPCResponse is one line of stdout: Result and Error are mutually
// exclusive, Error reserved for transport-level failures (bad JSON,
// unknown method). An operation's own failure travels inside Result as
// the {"error": {"type", "message"}} envelope (internal/errors.Envelope),
// since that shape needs to reach callers who are decoding Result, not
// JSON-RPC's protocol-level error field.
type jsonRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// operationFunc is the shape every handler in operations.go satisfies:
// decode its own params from raw, call into core, and return either a
// result value or an error. mapError(err) turns the error into the
// {"error": ...} envelope that becomes the Result on failure.
type operationFunc func(ctx context.Context, c *core, raw json.RawMessage) (any, error)

var operations = map[string]operationFunc{
	"store_memory":        opStoreMemory,
	"retrieve_memories":    opRetrieveMemories,
	"list_memories":        opListMemories,
	"delete_memory":        opDeleteMemory,
	"index_codebase":       opIndexCodebase,
	"search_code":          opSearchCode,
	"find_similar_code":    opFindSimilarCode,
	"index_commits":        opIndexCommits,
	"search_commits":       opSearchCommits,
	"get_file_history":     opGetFileHistory,
	"get_churn_hotspots":   opGetChurnHotspots,
	"get_code_authors":     opGetCodeAuthors,
	"start_ghap":           opStartGHAP,
	"update_ghap":          opUpdateGHAP,
	"resolve_ghap":         opResolveGHAP,
	"get_active_ghap":      opGetActiveGHAP,
	"list_ghap_entries":    opListGHAPEntries,
	"get_clusters":         opGetClusters,
	"get_cluster_members":  opGetClusterMembers,
	"validate_value":       opValidateValue,
	"store_value":          opStoreValue,
	"list_values":          opListValues,
	"search_experiences":   opSearchExperiences,
	"assemble_context":     opAssembleContext,
	"get_premortem_context": opGetPremortemContext,
}

// server runs the stdio JSON-RPC loop over core, optionally recording
// per-operation call counts and latency if metrics is non-nil.
type server struct {
	core    *core
	metrics *metrics.Registry
	logger  *slog.Logger
}

// serve reads one JSON object per line from r and writes one response per
// line to w, syncing after every write so a piped reader never blocks on a
// partially flushed line. Mirrors the scan-dispatch-respond shape of a
// line-delimited JSON-RPC stdio transport: enlarge the scanner's buffer
// up front since a single request line can exceed bufio.Scanner's 64KB
// default token size.
func (s *server) serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, jsonRPCResponse{
				JSONRPC: "2.0",
				Error:   &rpcError{Code: -32700, Message: "Parse error", Data: err.Error()},
			})
			continue
		}

		s.writeResponse(w, s.handleRequest(ctx, req))
	}
	return scanner.Err()
}

func (s *server) handleRequest(ctx context.Context, req jsonRPCRequest) jsonRPCResponse {
	op, ok := operations[req.Method]
	if !ok {
		return jsonRPCResponse{
			JSONRPC: "2.0", ID: req.ID,
			Error: &rpcError{Code: -32601, Message: "Method not found", Data: req.Method},
		}
	}

	start := time.Now()
	result, err := op(ctx, s.core, req.Params)
	elapsed := time.Since(start)

	if err != nil {
		envelope := mapError(err)
		s.metrics.Observe(req.Method, string(envelope.Error.Type), elapsed)
		return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: envelope}
	}
	s.metrics.Observe(req.Method, "ok", elapsed)
	return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *server) writeResponse(w io.Writer, resp jsonRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("rpc.marshal_response_failed", "error", err)
		return
	}
	fmt.Fprintln(w, string(data))
	if f, ok := w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
}
