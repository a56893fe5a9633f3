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
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// pythonBranchNodes are the node types §4.4 counts for cyclomatic
// complexity: if/elif, for, while, try, except, with, boolean-op, match,
// case.
var pythonBranchNodes = map[string]bool{
	"if_statement":        true,
	"elif_clause":         true,
	"for_statement":       true,
	"while_statement":     true,
	"try_statement":       true,
	"except_clause":       true,
	"with_statement":      true,
	"boolean_operator":    true,
	"match_statement":     true,
	"case_clause":         true,
}

func extractPython(root *sitter.Node, content []byte, filePath, project string) []SemanticUnit {
	var units []SemanticUnit
	walkPython(root, content, filePath, project, "", &units)
	return units
}

func walkPython(node *sitter.Node, content []byte, filePath, project, classPrefix string, units *[]SemanticUnit) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "class_definition":
		className := nodeText(content, node.ChildByFieldName("name"))
		*units = append(*units, buildPythonClassUnit(node, content, filePath, project, className))
		body := node.ChildByFieldName("body")
		if body != nil {
			for i := 0; i < int(body.ChildCount()); i++ {
				walkPython(body.Child(i), content, filePath, project, className, units)
			}
		}
		return
	case "function_definition":
		*units = append(*units, buildPythonFunctionUnit(node, content, filePath, project, classPrefix))
		return
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		walkPython(node.Child(i), content, filePath, project, classPrefix, units)
	}
}

func buildPythonFunctionUnit(node *sitter.Node, content []byte, filePath, project, classPrefix string) SemanticUnit {
	name := nodeText(content, node.ChildByFieldName("name"))
	params := nodeText(content, node.ChildByFieldName("parameters"))
	returnType := nodeText(content, node.ChildByFieldName("return_type"))

	signature := fmt.Sprintf("def %s%s", name, params)
	if returnType != "" {
		signature += " -> " + returnType
	}

	qualified := QualifiedName(filePath, classPrefix, name)
	unitType := UnitFunction
	if classPrefix != "" {
		unitType = UnitMethod
	}

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
		Language:      "python",
		Docstring:     pythonDocstring(node, content),
		Complexity:    1 + countBranchNodes(node, pythonBranchNodes),
	}
}

func buildPythonClassUnit(node *sitter.Node, content []byte, filePath, project, className string) SemanticUnit {
	qualified := QualifiedName(filePath, "", className)
	superclasses := nodeText(content, node.ChildByFieldName("superclasses"))
	signature := "class " + className + superclasses

	return SemanticUnit{
		ID:            GenerateUnitID(project, filePath, qualified),
		Name:          className,
		QualifiedName: qualified,
		UnitType:      UnitClass,
		Signature:     signature,
		Content:       nodeText(content, node),
		FilePath:      filePath,
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		Language:      "python",
		Docstring:     pythonDocstring(node, content),
	}
}

// pythonDocstring returns the first string literal in the definition's
// body, per §4.4.
func pythonDocstring(defNode *sitter.Node, content []byte) string {
	body := defNode.ChildByFieldName("body")
	if body == nil || body.ChildCount() == 0 {
		return ""
	}
	first := body.Child(0)
	if first.Type() != "expression_statement" || first.ChildCount() == 0 {
		return ""
	}
	strNode := first.Child(0)
	if strNode.Type() != "string" {
		return ""
	}
	return cleanPythonDocstring(nodeText(content, strNode))
}

func cleanPythonDocstring(raw string) string {
	s := strings.TrimSpace(raw)
	for _, quote := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, quote) && strings.HasSuffix(s, quote) && len(s) >= 2*len(quote) {
			s = s[len(quote) : len(s)-len(quote)]
			break
		}
	}
	return strings.TrimSpace(s)
}

func countBranchNodes(node *sitter.Node, branchSet map[string]bool) int {
	count := 0
	if branchSet[node.Type()] {
		count++
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		count += countBranchNodes(node.Child(i), branchSet)
	}
	return count
}
