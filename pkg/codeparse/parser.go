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

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/lua"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// binaryProbeSize is how much of the file head is checked for a NUL byte
// before a file is treated as binary and silently skipped.
const binaryProbeSize = 8 * 1024

// Parser parses a single file into SemanticUnits. ParseFile must be safe to
// call from a worker-pool goroutine (§5): it touches no shared mutable
// state beyond the per-language parser pools, which are themselves
// synchronized.
type Parser interface {
	ParseFile(path, project string) ([]SemanticUnit, error)
}

// TreeSitterParser is the production Parser: Tree-sitter grammars for
// Python/JavaScript/TypeScript/Lua, plus a structural (non-AST) extractor
// for YAML/JSON root keys. Each grammar's *sitter.Parser is pooled because
// go-tree-sitter parsers are not safe for concurrent reuse.
type TreeSitterParser struct {
	logger *slog.Logger

	pyPool   sync.Pool
	jsPool   sync.Pool
	tsPool   sync.Pool
	luaPool  sync.Pool
	initOnce sync.Once
}

// NewTreeSitterParser creates a parser. A nil logger falls back to
// slog.Default().
func NewTreeSitterParser(logger *slog.Logger) *TreeSitterParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeSitterParser{logger: logger}
}

func (p *TreeSitterParser) initPools() {
	p.initOnce.Do(func() {
		p.pyPool.New = func() any {
			parser := sitter.NewParser()
			parser.SetLanguage(python.GetLanguage())
			return parser
		}
		p.jsPool.New = func() any {
			parser := sitter.NewParser()
			parser.SetLanguage(javascript.GetLanguage())
			return parser
		}
		p.tsPool.New = func() any {
			parser := sitter.NewParser()
			parser.SetLanguage(typescript.GetLanguage())
			return parser
		}
		p.luaPool.New = func() any {
			parser := sitter.NewParser()
			parser.SetLanguage(lua.GetLanguage())
			return parser
		}
	})
}

// ParseFile reads path, detects its language, and extracts SemanticUnits.
// An unrecognized extension, a binary file, or an empty result are all
// silent no-ops (nil, nil); a genuinely broken file surfaces as
// *ParseError so the caller can log and continue (§4.4 tolerance).
func (p *TreeSitterParser) ParseFile(path, project string) ([]SemanticUnit, error) {
	language, ok := DetectLanguage(path)
	if !ok {
		return nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, newParseError(path, ErrorKindIO, err)
	}

	if looksBinary(content) {
		p.logger.Debug("codeparse.binary_skip", "path", path)
		return nil, nil
	}
	if !utf8.Valid(content) {
		return nil, newParseError(path, ErrorKindEncoding, fmt.Errorf("non-UTF-8 content"))
	}

	switch language {
	case "yaml":
		units, err := parseYAML(content, path, project)
		if err != nil {
			return nil, newParseError(path, ErrorKindParse, err)
		}
		return units, nil
	case "json":
		units, err := parseJSON(content, path, project)
		if err != nil {
			return nil, newParseError(path, ErrorKindParse, err)
		}
		return units, nil
	}

	p.initPools()

	var pool *sync.Pool
	switch language {
	case "python":
		pool = &p.pyPool
	case "javascript":
		pool = &p.jsPool
	case "typescript":
		pool = &p.tsPool
	case "lua":
		pool = &p.luaPool
	default:
		return nil, nil
	}

	parserObj := pool.Get()
	parser, ok := parserObj.(*sitter.Parser)
	if !ok {
		return nil, fmt.Errorf("codeparse: invalid parser type from %s pool", language)
	}
	defer pool.Put(parser)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, newParseError(path, ErrorKindParse, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		if n := countErrorNodes(root); n > 0 {
			p.logger.Warn("codeparse.syntax_errors", "path", path, "language", language, "error_count", n)
		}
	}

	var units []SemanticUnit
	switch language {
	case "python":
		units = extractPython(root, content, path, project)
	case "javascript":
		units = extractJSOrTS(root, content, path, project, "javascript")
	case "typescript":
		units = extractJSOrTS(root, content, path, project, "typescript")
	case "lua":
		units = extractLua(root, content, path, project)
	}
	return units, nil
}

func looksBinary(content []byte) bool {
	probe := content
	if len(probe) > binaryProbeSize {
		probe = probe[:binaryProbeSize]
	}
	return bytes.IndexByte(probe, 0) != -1
}

func countErrorNodes(node *sitter.Node) int {
	count := 0
	if node.Type() == "ERROR" {
		count++
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		count += countErrorNodes(node.Child(i))
	}
	return count
}

func nodeText(content []byte, n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(content[n.StartByte():n.EndByte()])
}
