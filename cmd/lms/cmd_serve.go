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
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/lms/internal/config"
	"github.com/kraklabs/lms/internal/metrics"
)

func runServe(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	repoPath := fs.String("repo", "", "Git repository path backing index_commits/search_commits/etc. (optional)")
	metricsAddr := fs.String("metrics-addr", "", "Address to serve Prometheus metrics on (e.g. :9090); empty disables metrics")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	logger := newLogger(globals)
	cfg, err := config.Load(configPath)
	if err != nil {
		logError(globals, "load config: %v", err)
		os.Exit(1)
	}

	c, err := buildCore(cfg, *repoPath, logger)
	if err != nil {
		logError(globals, "build core: %v", err)
		os.Exit(1)
	}

	var reg *metrics.Registry
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *metricsAddr != "" {
		reg = metrics.New()
		go func() {
			if err := reg.Serve(ctx, *metricsAddr); err != nil {
				logger.Error("metrics.serve_failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	srv := &server{core: c, metrics: reg, logger: logger}
	logInfo(globals, "serving JSON-RPC over stdio")
	if err := srv.serve(ctx, os.Stdin, os.Stdout); err != nil {
		logError(globals, "serve: %v", err)
		os.Exit(1)
	}
}
