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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServe_UnknownMethodReturnsProtocolError(t *testing.T) {
	srv := &server{core: newTestCore(t), logger: slog.Default()}

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"not_a_real_method"}` + "\n")
	var out bytes.Buffer
	require.NoError(t, srv.serve(context.Background(), in, &out))

	var resp jsonRPCResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, -32601, resp.Error.Code)
}

func TestServe_StoreMemoryRoundTrip(t *testing.T) {
	srv := &server{core: newTestCore(t), logger: slog.Default()}

	req := `{"jsonrpc":"2.0","id":7,"method":"store_memory","params":{"content":"note","category":"fact","importance":0.5}}` + "\n"
	var out bytes.Buffer
	require.NoError(t, srv.serve(context.Background(), strings.NewReader(req), &out))

	var resp jsonRPCResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)

	resultBytes, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var mem struct {
		ID string `json:"ID"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &mem))
}

func TestServe_BadJSONReturnsParseError(t *testing.T) {
	srv := &server{core: newTestCore(t), logger: slog.Default()}

	var out bytes.Buffer
	require.NoError(t, srv.serve(context.Background(), strings.NewReader("{not json\n"), &out))

	var resp jsonRPCResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, -32700, resp.Error.Code)
}
