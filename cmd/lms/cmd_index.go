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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/lms/internal/config"
)

func runIndex(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	project := fs.String("project", "", "Project id to tag indexed units with (default: directory name)")
	recursive := fs.Bool("recursive", true, "Recurse into subdirectories")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	targets := fs.Args()
	if len(targets) != 1 {
		logError(globals, "usage: lms index [--project NAME] <path>")
		os.Exit(1)
	}
	path := targets[0]
	if *project == "" {
		*project = defaultProjectID(path)
	}

	logger := newLogger(globals)
	cfg, err := config.Load(configPath)
	if err != nil {
		logError(globals, "load config: %v", err)
		os.Exit(1)
	}

	c, err := buildCore(cfg, "", logger)
	if err != nil {
		logError(globals, "build core: %v", err)
		os.Exit(1)
	}

	var bar *progressbar.ProgressBar
	var phase string
	if !globals.Quiet {
		c.indexer.SetProgressCallback(func(current, total int64, p string) {
			if p != phase {
				if bar != nil {
					_ = bar.Finish()
				}
				phase = p
				bar = progressbar.NewOptions64(total,
					progressbar.OptionSetDescription(indexPhaseLabel(p)),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}
			if bar != nil {
				_ = bar.Set64(current)
			}
		})
	}

	stats := c.indexer.IndexDirectory(context.Background(), path, *project, *recursive)
	if bar != nil {
		_ = bar.Finish()
	}

	if globals.JSON {
		data, _ := json.Marshal(stats)
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Indexed %d files, %d units (%d skipped, %d errors) in %s\n",
		stats.FilesIndexed, stats.UnitsIndexed, stats.FilesSkipped, len(stats.Errors), stats.Duration)
	for _, e := range stats.Errors {
		logError(globals, "%s: %s (%s)", e.Path, e.Message, e.Kind)
	}
}

func indexPhaseLabel(phase string) string {
	switch phase {
	case "scan":
		return "Scanning files"
	case "index":
		return "Indexing files"
	default:
		return phase
	}
}

func defaultProjectID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return filepath.Base(abs)
}
