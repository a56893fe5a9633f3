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
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// parseYAML extracts one SemanticUnit per root-level mapping key, per §4.4:
// no docstring, no complexity, content is the re-serialized subtree.
func parseYAML(content []byte, filePath, project string) ([]SemanticUnit, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil
	}

	var units []SemanticUnit
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode := root.Content[i]
		valNode := root.Content[i+1]

		subtree, err := yaml.Marshal(valNode)
		if err != nil {
			return nil, fmt.Errorf("serialize yaml key %q: %w", keyNode.Value, err)
		}

		qualified := QualifiedName(filePath, "", keyNode.Value)
		units = append(units, SemanticUnit{
			ID:            GenerateUnitID(project, filePath, qualified),
			Name:          keyNode.Value,
			QualifiedName: qualified,
			UnitType:      UnitKey,
			Signature:     keyNode.Value + ":",
			Content:       string(subtree),
			FilePath:      filePath,
			StartLine:     keyNode.Line,
			EndLine:       yamlNodeEndLine(valNode),
			Language:      "yaml",
		})
	}
	return units, nil
}

func yamlNodeEndLine(n *yaml.Node) int {
	end := n.Line
	for _, child := range n.Content {
		if e := yamlNodeEndLine(child); e > end {
			end = e
		}
	}
	return end
}

// parseJSON extracts one SemanticUnit per root-level object key. JSON has
// no native line-tracking in encoding/json, so start/end line are both 1:
// per §4.4 content is the serialized subtree, not a source-range excerpt.
func parseJSON(content []byte, filePath, project string) ([]SemanticUnit, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(content, &root); err != nil {
		var other any
		if err2 := json.Unmarshal(content, &other); err2 != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return nil, nil // valid JSON, but not an object: no root keys to extract
	}

	var units []SemanticUnit
	for key, raw := range root {
		qualified := QualifiedName(filePath, "", key)
		units = append(units, SemanticUnit{
			ID:            GenerateUnitID(project, filePath, qualified),
			Name:          key,
			QualifiedName: qualified,
			UnitType:      UnitKey,
			Signature:     fmt.Sprintf("%q", key),
			Content:       string(raw),
			FilePath:      filePath,
			StartLine:     1,
			EndLine:       1,
			Language:      "json",
		})
	}
	return units, nil
}
