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

// jsBranchNodes are the node types §4.4 counts for JS/TS cyclomatic
// complexity: if, for, while, do, try, catch, switch, case, &&/||, ternary.
var jsBranchNodes = map[string]bool{
	"if_statement":          true,
	"for_statement":         true,
	"for_in_statement":      true,
	"while_statement":       true,
	"do_statement":          true,
	"try_statement":         true,
	"catch_clause":          true,
	"switch_statement":      true,
	"switch_case":           true,
	"ternary_expression":    true,
	"&&":                    true,
	"||":                    true,
}

func extractJSOrTS(root *sitter.Node, content []byte, filePath, project, language string) []SemanticUnit {
	var units []SemanticUnit
	walkJSOrTS(root, content, filePath, project, language, "", &units)
	return units
}

func walkJSOrTS(node *sitter.Node, content []byte, filePath, project, language, classPrefix string, units *[]SemanticUnit) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "class_declaration":
		className := nodeText(content, node.ChildByFieldName("name"))
		*units = append(*units, buildJSClassUnit(node, content, filePath, project, language, className, "class"))
		body := node.ChildByFieldName("body")
		if body != nil {
			for i := 0; i < int(body.ChildCount()); i++ {
				walkJSOrTS(body.Child(i), content, filePath, project, language, className, units)
			}
		}
		return
	case "interface_declaration":
		if language == "typescript" {
			name := nodeText(content, node.ChildByFieldName("name"))
			*units = append(*units, buildJSClassUnit(node, content, filePath, project, language, name, "interface"))
		}
		return
	case "function_declaration":
		*units = append(*units, buildJSFunctionUnit(node, content, filePath, project, language, classPrefix))
		return
	case "method_definition":
		*units = append(*units, buildJSMethodUnit(node, content, filePath, project, language, classPrefix))
		return
	case "variable_declarator":
		if unit, ok := buildJSArrowUnit(node, content, filePath, project, language, classPrefix); ok {
			*units = append(*units, unit)
			return
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		walkJSOrTS(node.Child(i), content, filePath, project, language, classPrefix, units)
	}
}

func buildJSFunctionUnit(node *sitter.Node, content []byte, filePath, project, language, classPrefix string) SemanticUnit {
	name := nodeText(content, node.ChildByFieldName("name"))
	params := nodeText(content, node.ChildByFieldName("parameters"))
	signature := fmt.Sprintf("function %s%s", name, params)

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
		Language:      language,
		Docstring:     precedingJSDoc(node, content),
		Complexity:    1 + countBranchNodes(node, jsBranchNodes),
	}
}

func buildJSMethodUnit(node *sitter.Node, content []byte, filePath, project, language, classPrefix string) SemanticUnit {
	name := nodeText(content, node.ChildByFieldName("name"))
	params := nodeText(content, node.ChildByFieldName("parameters"))
	signature := name + params

	qualified := QualifiedName(filePath, classPrefix, name)
	return SemanticUnit{
		ID:            GenerateUnitID(project, filePath, qualified),
		Name:          name,
		QualifiedName: qualified,
		UnitType:      UnitMethod,
		Signature:     signature,
		Content:       nodeText(content, node),
		FilePath:      filePath,
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		Language:      language,
		Docstring:     precedingJSDoc(node, content),
		Complexity:    1 + countBranchNodes(node, jsBranchNodes),
	}
}

// buildJSArrowUnit handles `const foo = () => {}` / `const foo = function() {}`.
func buildJSArrowUnit(node *sitter.Node, content []byte, filePath, project, language, classPrefix string) (SemanticUnit, bool) {
	nameNode := node.ChildByFieldName("name")
	valueNode := node.ChildByFieldName("value")
	if nameNode == nil || valueNode == nil {
		return SemanticUnit{}, false
	}
	if valueNode.Type() != "arrow_function" && valueNode.Type() != "function_expression" && valueNode.Type() != "function" {
		return SemanticUnit{}, false
	}

	name := nodeText(content, nameNode)
	params := valueNode.ChildByFieldName("parameters")
	paramsText := nodeText(content, params)
	if paramsText == "" {
		paramsText = "()"
	}

	var signature string
	if valueNode.Type() == "arrow_function" {
		signature = fmt.Sprintf("const %s = %s =>", name, paramsText)
	} else {
		signature = fmt.Sprintf("const %s = function%s", name, paramsText)
	}

	qualified := QualifiedName(filePath, classPrefix, name)
	unitType := UnitFunction
	if classPrefix != "" {
		unitType = UnitMethod
	}

	// The JSDoc block precedes the enclosing const/let/var declaration, not
	// the declarator itself.
	docNode := node
	if parent := node.Parent(); parent != nil && (parent.Type() == "lexical_declaration" || parent.Type() == "variable_declaration") {
		docNode = parent
	}

	return SemanticUnit{
		ID:            GenerateUnitID(project, filePath, qualified),
		Name:          name,
		QualifiedName: qualified,
		UnitType:      unitType,
		Signature:     signature,
		Content:       nodeText(content, node),
		FilePath:      filePath,
		StartLine:     int(nameNode.StartPoint().Row) + 1,
		EndLine:       int(valueNode.EndPoint().Row) + 1,
		Language:      language,
		Docstring:     precedingJSDoc(docNode, content),
		Complexity:    1 + countBranchNodes(valueNode, jsBranchNodes),
	}, true
}

func buildJSClassUnit(node *sitter.Node, content []byte, filePath, project, language, name, keyword string) SemanticUnit {
	qualified := QualifiedName(filePath, "", name)
	heritage := nodeText(content, node.ChildByFieldName("heritage"))
	signature := keyword + " " + name
	if heritage != "" {
		signature += " " + heritage
	}

	unitType := UnitClass
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
		Language:      language,
		Docstring:     precedingJSDoc(node, content),
	}
}

// precedingJSDoc returns the immediately preceding /** ... */ block comment,
// if one directly abuts node (per §4.4).
func precedingJSDoc(node *sitter.Node, content []byte) string {
	prev := node.PrevSibling()
	if prev == nil || prev.Type() != "comment" {
		return ""
	}
	text := nodeText(content, prev)
	if !strings.HasPrefix(text, "/**") {
		return ""
	}
	text = strings.TrimPrefix(text, "/**")
	text = strings.TrimSuffix(text, "*/")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
