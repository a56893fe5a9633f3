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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetectLanguage(t *testing.T) {
	cases := map[string]string{
		"a.py":   "python",
		"a.ts":   "typescript",
		"a.tsx":  "typescript",
		"a.js":   "javascript",
		"a.jsx":  "javascript",
		"a.lua":  "lua",
		"a.yaml": "yaml",
		"a.yml":  "yaml",
		"a.json": "json",
	}
	for path, want := range cases {
		got, ok := DetectLanguage(path)
		assert.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}
	_, ok := DetectLanguage("a.rb")
	assert.False(t, ok, "unsupported extension should not detect")
}

func TestGenerateUnitID_Deterministic(t *testing.T) {
	a := GenerateUnitID("proj", "main.py", "main.foo")
	b := GenerateUnitID("proj", "main.py", "main.foo")
	require.Equal(t, a, b)
	require.Len(t, a, 32)

	c := GenerateUnitID("proj", "main.py", "main.bar")
	require.NotEqual(t, a, c)
}

func TestParseFile_PythonFunctionsAndClasses(t *testing.T) {
	src := `class Greeter:
    """Greets people."""

    def greet(self, name):
        """Return a greeting."""
        if name:
            return "hello " + name
        return "hello"


def standalone(x):
    return x + 1
`
	path := writeTempFile(t, "greet.py", src)
	p := NewTreeSitterParser(nil)
	units, err := p.ParseFile(path, "proj")
	require.NoError(t, err)
	require.NotEmpty(t, units)

	var class, method, fn *SemanticUnit
	for i := range units {
		switch units[i].QualifiedName {
		case "greet.Greeter":
			class = &units[i]
		case "greet.Greeter.greet":
			method = &units[i]
		case "greet.standalone":
			fn = &units[i]
		}
	}
	require.NotNil(t, class)
	require.NotNil(t, method)
	require.NotNil(t, fn)

	assert.Equal(t, UnitClass, class.UnitType)
	assert.Equal(t, "Greets people.", class.Docstring)

	assert.Equal(t, UnitMethod, method.UnitType)
	assert.Equal(t, "Return a greeting.", method.Docstring)
	assert.GreaterOrEqual(t, method.Complexity, 2) // 1 base + if

	assert.Equal(t, UnitFunction, fn.UnitType)
	assert.Equal(t, 1, fn.Complexity)
}

func TestParseFile_BinaryFileSkipped(t *testing.T) {
	path := writeTempFile(t, "blob.py", "print(\x00\x01\x02)")
	p := NewTreeSitterParser(nil)
	units, err := p.ParseFile(path, "proj")
	require.NoError(t, err)
	require.Empty(t, units)
}

func TestParseFile_UnsupportedExtensionSkipped(t *testing.T) {
	path := writeTempFile(t, "readme.rb", "puts 'hi'")
	p := NewTreeSitterParser(nil)
	units, err := p.ParseFile(path, "proj")
	require.NoError(t, err)
	require.Nil(t, units)
}

func TestParseFile_JavaScriptArrowAndClass(t *testing.T) {
	src := `/**
 * Adds two numbers.
 */
const add = (a, b) => {
  if (a > 0) {
    return a + b;
  }
  return b;
};

class Widget {
  render() {
    return true;
  }
}
`
	path := writeTempFile(t, "widget.js", src)
	p := NewTreeSitterParser(nil)
	units, err := p.ParseFile(path, "proj")
	require.NoError(t, err)

	var add, class, render *SemanticUnit
	for i := range units {
		switch units[i].QualifiedName {
		case "widget.add":
			add = &units[i]
		case "widget.Widget":
			class = &units[i]
		case "widget.Widget.render":
			render = &units[i]
		}
	}
	require.NotNil(t, add)
	require.NotNil(t, class)
	require.NotNil(t, render)

	assert.Equal(t, "Adds two numbers.", add.Docstring)
	assert.Equal(t, UnitClass, class.UnitType)
	assert.Equal(t, UnitMethod, render.UnitType)
}

func TestParseFile_YAMLRootKeys(t *testing.T) {
	src := "name: lms\nversion: 1\nsettings:\n  debug: true\n"
	path := writeTempFile(t, "config.yaml", src)
	p := NewTreeSitterParser(nil)
	units, err := p.ParseFile(path, "proj")
	require.NoError(t, err)
	require.Len(t, units, 3)
	for _, u := range units {
		assert.Equal(t, UnitKey, u.UnitType)
		assert.Equal(t, "yaml", u.Language)
	}
}

func TestParseFile_JSONRootKeys(t *testing.T) {
	path := writeTempFile(t, "config.json", `{"name": "lms", "version": 1}`)
	p := NewTreeSitterParser(nil)
	units, err := p.ParseFile(path, "proj")
	require.NoError(t, err)
	require.Len(t, units, 2)
}

func TestParseFile_LuaFunctions(t *testing.T) {
	src := `--- Adds two numbers.
function add(a, b)
  return a + b
end

local function helper(x)
  if x > 0 then
    return x
  end
  return 0
end
`
	path := writeTempFile(t, "math.lua", src)
	p := NewTreeSitterParser(nil)
	units, err := p.ParseFile(path, "proj")
	require.NoError(t, err)

	var add, helper *SemanticUnit
	for i := range units {
		switch units[i].Name {
		case "add":
			add = &units[i]
		case "helper":
			helper = &units[i]
		}
	}
	require.NotNil(t, add)
	require.NotNil(t, helper)
	assert.Equal(t, "Adds two numbers.", add.Docstring)
	assert.GreaterOrEqual(t, helper.Complexity, 2)
}
