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
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/lms/internal/config"
)

func runInit(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing configuration")
	_ = fs.Parse(args)

	if configPath == "" {
		configPath = filepath.Join(".lms", "project.yaml")
	}

	if _, err := os.Stat(configPath); err == nil && !*force {
		logError(globals, "%s already exists (use --force to overwrite)", configPath)
		os.Exit(1)
	}

	cfg := config.Default()
	if err := config.Save(configPath, cfg); err != nil {
		logError(globals, "write config: %v", err)
		os.Exit(1)
	}

	if globals.JSON {
		fmt.Printf(`{"config_path":%q}`+"\n", configPath)
		return
	}
	color.New(color.FgGreen).Printf("Wrote %s\n", configPath)
}
