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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// luaBranchNodes are the node types §4.4 counts for Lua cyclomatic
// complexity: if, elseif, for, while, repeat, and, or.
var luaBranchNodes = map[string]bool{
	"if_statement":     true,
	"elseif":           true,
	"for_statement":    true,
	"for_in_statement": true,
	"while_statement":  true,
	"repeat_statement": true,
	"and":              true,
	"or":               true,
}

func extractLua(root *sitter.Node, content []byte, filePath, project string) []SemanticUnit {
	var units []SemanticUnit
	walkLua(root, content, filePath, project, &units)
	return units
}

func walkLua(node *sitter.Node, content []byte, filePath, project string, units *[]SemanticUnit) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "function_declaration":
		if unit, ok := buildLuaFunctionUnit(node, content, filePath, project); ok {
			*units = append(*units, unit)
		}
	case "local_function":
		if unit, ok := buildLuaLocalFunctionUnit(node, content, filePath, project); ok {
			*units = append(*units, unit)
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		walkLua(node.Child(i), content, filePath, project, units)
	}
}

// luaFunctionName reassembles a `function` declaration's name field, which
// tree-sitter-lua models as a dot/method index expression for
// `function Foo.bar()` / `function Foo:bar()`.
func luaFunctionName(node *sitter.Node, content []byte) (name, classPrefix string, isMethod bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return "", "", false
	}
	switch nameNode.Type() {
	case "dot_index_expression":
		table := nodeText(content, nameNode.ChildByFieldName("table"))
		field := nodeText(content, nameNode.ChildByFieldName("field"))
		return field, table, false
	case "method_index_expression":
		table := nodeText(content, nameNode.ChildByFieldName("table"))
		method := nodeText(content, nameNode.ChildByFieldName("method"))
		return method, table, true
	default:
		return nodeText(content, nameNode), "", false
	}
}

func buildLuaFunctionUnit(node *sitter.Node, content []byte, filePath, project string) (SemanticUnit, bool) {
	name, classPrefix, isMethod := luaFunctionName(node, content)
	if name == "" {
		return SemanticUnit{}, false
	}

	params := nodeText(content, node.ChildByFieldName("parameters"))
	signature := "function " + name + params
	if classPrefix != "" {
		sep := "."
		if isMethod {
			sep = ":"
		}
		signature = "function " + classPrefix + sep + name + params
	}

	unitType := UnitFunction
	if classPrefix != "" {
		unitType = UnitMethod
	}
	qualified := QualifiedName(filePath, classPrefix, name)

	return SemanticUnit{
		ID:            GenerateUnitID(project, filePath, qualified),
		Name:          name,
		QualifiedName: qualified,
		UnitType:      unitType,
		Signature:     signature,
		Content:       nodeText(content, node),
		FilePath:      filePath,
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		Language:      "lua",
		Docstring:     precedingLuaDoc(node, content),
		Complexity:    1 + countBranchNodes(node, luaBranchNodes),
	}, true
}

func buildLuaLocalFunctionUnit(node *sitter.Node, content []byte, filePath, project string) (SemanticUnit, bool) {
	name := nodeText(content, node.ChildByFieldName("name"))
	if name == "" {
		return SemanticUnit{}, false
	}
	params := nodeText(content, node.ChildByFieldName("parameters"))
	signature := "local function " + name + params

	qualified := QualifiedName(filePath, "", name)
	return SemanticUnit{
		ID:            GenerateUnitID(project, filePath, qualified),
		Name:          name,
		QualifiedName: qualified,
		UnitType:      UnitFunction,
		Signature:     signature,
		Content:       nodeText(content, node),
		FilePath:      filePath,
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		Language:      "lua",
		Docstring:     precedingLuaDoc(node, content),
		Complexity:    1 + countBranchNodes(node, luaBranchNodes),
	}, true
}

// precedingLuaDoc collects a contiguous run of `---` line comments directly
// above node, per §4.4.
func precedingLuaDoc(node *sitter.Node, content []byte) string {
	var lines []string
	cur := node.PrevSibling()
	for cur != nil && cur.Type() == "comment" {
		text := strings.TrimSpace(nodeText(content, cur))
		if !strings.HasPrefix(text, "--") {
			break
		}
		text = strings.TrimSpace(strings.TrimPrefix(text, "---"))
		text = strings.TrimSpace(strings.TrimPrefix(text, "--"))
		lines = append([]string{text}, lines...)
		cur = cur.PrevSibling()
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
