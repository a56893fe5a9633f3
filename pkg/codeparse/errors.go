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

package codeparse

import "fmt"

// ErrorKind classifies why ParseFile could not produce units, per
// SPEC_FULL §4.4/§7. The indexer (C6) uses this to bucket a file's failure
// into its IndexingStats without aborting the walk.
type ErrorKind string

const (
	ErrorKindParse    ErrorKind = "parse_error"
	ErrorKindEncoding ErrorKind = "encoding_error"
	ErrorKindIO       ErrorKind = "io_error"
)

// ParseError wraps a parse/encoding/io failure for a single file. It is
// never fatal to the caller's directory walk.
type ParseError struct {
	Path string
	Kind ErrorKind
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(path string, kind ErrorKind, err error) *ParseError {
	return &ParseError{Path: path, Kind: kind, Err: err}
}
