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

// Package codeparse is the Code Parser (C5): it turns a source file into a
// sequence of SemanticUnits (functions, classes, methods, module keys),
// each carrying a signature, optional docstring and cyclomatic complexity.
package codeparse

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// UnitType classifies a SemanticUnit.
type UnitType string

const (
	UnitFunction UnitType = "function"
	UnitClass    UnitType = "class"
	UnitMethod   UnitType = "method"
	UnitModule   UnitType = "module"
	UnitKey      UnitType = "key"
)

// SemanticUnit is a parsed code fragment, identified by a deterministic hash
// of (project, file_path, qualified_name).
type SemanticUnit struct {
	ID            string
	Name          string
	QualifiedName string
	UnitType      UnitType
	Signature     string
	Content       string
	FilePath      string
	StartLine     int
	EndLine       int
	Language      string
	Docstring     string
	Complexity    int // 0 means "not computed for this language"
}

// GenerateUnitID returns the 32-hex-char identity of a SemanticUnit, a
// truncated sha256 over (project, file_path, qualified_name). Pure and
// deterministic: identical inputs always produce the identical id.
func GenerateUnitID(project, filePath, qualifiedName string) string {
	h := sha256.New()
	h.Write([]byte(project))
	h.Write([]byte{0})
	h.Write([]byte(filePath))
	h.Write([]byte{0})
	h.Write([]byte(qualifiedName))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// DetectLanguage maps a file extension to a parser language, per SPEC_FULL
// §4.4. An unrecognized extension returns ("", false) and the caller skips
// the file.
func DetectLanguage(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python", true
	case ".ts", ".tsx":
		return "typescript", true
	case ".js", ".jsx":
		return "javascript", true
	case ".lua":
		return "lua", true
	case ".yaml", ".yml":
		return "yaml", true
	case ".json":
		return "json", true
	default:
		return "", false
	}
}

// QualifiedName builds the dotted qualified name used as both identity input
// and display signature prefix: "stem.name" for top-level units, or
// "stem.Class.name" for a method.
func QualifiedName(filePath, classPrefix, name string) string {
	stem := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	if classPrefix == "" {
		return stem + "." + name
	}
	return stem + "." + classPrefix + "." + name
}
