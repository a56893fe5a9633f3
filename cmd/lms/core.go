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
	"log/slog"
	"path/filepath"

	"github.com/kraklabs/lms/internal/config"
	"github.com/kraklabs/lms/internal/embedding"
	"github.com/kraklabs/lms/internal/metadata"
	"github.com/kraklabs/lms/internal/store"
	"github.com/kraklabs/lms/pkg/cluster"
	lmscontext "github.com/kraklabs/lms/pkg/context"
	"github.com/kraklabs/lms/pkg/codeindex"
	"github.com/kraklabs/lms/pkg/codeparse"
	"github.com/kraklabs/lms/pkg/ghap"
	"github.com/kraklabs/lms/pkg/gitanalyze"
	"github.com/kraklabs/lms/pkg/gitreader"
	"github.com/kraklabs/lms/pkg/memory"
	"github.com/kraklabs/lms/pkg/search"
	"github.com/kraklabs/lms/pkg/values"
)

// core holds every component the RPC host dispatches into. It is built
// once at startup and never replaced; the pieces that carry mutable state
// (ghap.Collector, the store.Guard "ensured" sets) do their own internal
// locking.
type core struct {
	cfg    config.Config
	logger *slog.Logger

	vectors store.Store
	meta    *metadata.Store
	embed   *embedding.Registry

	memories  *memory.Store
	indexer   *codeindex.Indexer
	gitReader *gitreader.Reader // nil when buildCore was given no repoPath
	gitAnalyzer *gitanalyze.Analyzer
	collector *ghap.Collector
	persister *ghap.Persister
	clusterer *cluster.Clusterer
	values    *values.Store
	searcher  *search.Searcher
	assembler *lmscontext.Assembler
}

// buildCore constructs every component from cfg. Git-backed components
// (gitReader/gitAnalyzer) are wired against repoPath if non-empty;
// otherwise they stay nil for the life of the core and
// index_commits/search_commits/etc. report not_found, since there is no git
// repository to read.
func buildCore(cfg config.Config, repoPath string, logger *slog.Logger) (*core, error) {
	if logger == nil {
		logger = slog.Default()
	}

	home, err := cfg.HomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home dir: %w", err)
	}

	vectors, err := buildVectorStore(cfg, home)
	if err != nil {
		return nil, fmt.Errorf("build vector store: %w", err)
	}

	meta, err := metadata.Open(filepath.Join(home, "metadata.db"))
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	registry := embedding.NewRegistry(
		codeEmbedderFactory(cfg, logger),
		semanticEmbedderFactory(cfg, logger),
	)

	codeEmbedder, err := registry.Code()
	if err != nil {
		return nil, fmt.Errorf("resolve code embedder: %w", err)
	}
	semanticEmbedder, err := registry.Semantic()
	if err != nil {
		return nil, fmt.Errorf("resolve semantic embedder: %w", err)
	}

	guard := store.NewGuard(vectors, logger)

	parser := codeparse.NewTreeSitterParser(logger)
	indexer, err := codeindex.New(codeindex.Config{
		Parser:       parser,
		Embedder:     codeEmbedder,
		Vectors:      vectors,
		Guard:        guard,
		Metadata:     meta,
		BatchSize:    cfg.Indexing.EmbeddingBatchSize,
		ExcludeGlobs: cfg.Indexing.ExcludeGlobs,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build code indexer: %w", err)
	}

	var gitReader *gitreader.Reader
	var gitAnalyzer *gitanalyze.Analyzer
	if repoPath != "" {
		gitReader, err = gitreader.Open(repoPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open git repo %s: %w", repoPath, err)
		}
		gitAnalyzer = gitanalyze.New(gitanalyze.Config{
			Reader:   gitReader,
			Embedder: semanticEmbedder,
			Vectors:  vectors,
			Guard:    guard,
			Metadata: meta,
			RepoPath: repoPath,
			Logger:   logger,
		})
	}

	collector, err := ghap.NewCollector(filepath.Join(home, "journal"), logger)
	if err != nil {
		return nil, fmt.Errorf("build ghap collector: %w", err)
	}
	persister := ghap.NewPersister(ghap.PersisterConfig{
		Collector: collector,
		Embedder:  semanticEmbedder,
		Vectors:   vectors,
		Guard:     guard,
		Logger:    logger,
	})

	clusterer := cluster.New(vectors, cluster.Config{
		MinClusterSize: cfg.Cluster.MinClusterSize,
		MinSamples:     cfg.Cluster.MinSamples,
	}, logger)

	valueStore := values.New(values.Config{
		Clusterer: clusterer,
		Embedder:  semanticEmbedder,
		Vectors:   vectors,
		Guard:     guard,
		Logger:    logger,
	})

	memStore := memory.New(memory.Config{
		Embedder: semanticEmbedder,
		Vectors:  vectors,
		Guard:    guard,
		Logger:   logger,
	})

	searcher := search.New(search.Config{
		SemanticEmbedder: semanticEmbedder,
		CodeEmbedder:     codeEmbedder,
		Vectors:          vectors,
		Analyzer:         gitAnalyzer,
		Logger:           logger,
	})

	assembler := lmscontext.New(lmscontext.Config{Searcher: searcher, Logger: logger})

	return &core{
		cfg:         cfg,
		logger:      logger,
		vectors:     vectors,
		meta:        meta,
		embed:       registry,
		memories:    memStore,
		indexer:     indexer,
		gitReader:   gitReader,
		gitAnalyzer: gitAnalyzer,
		collector:   collector,
		persister:   persister,
		clusterer:   clusterer,
		values:      valueStore,
		searcher:    searcher,
		assembler:   assembler,
	}, nil
}

func buildVectorStore(cfg config.Config, home string) (store.Store, error) {
	switch cfg.Vector.Backend {
	case "", "mem":
		return store.NewMemStore(), nil
	case "disk":
		return store.NewDiskStore(filepath.Join(home, "vectors"))
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
}

// codeEmbedderFactory and semanticEmbedderFactory resolve to an HTTPModel
// hitting EmbeddingConfig.BaseURL when configured, falling back to a mock
// embedder otherwise — sufficient for `lms init`/local experimentation, but
// never for two processes that must agree on the same vectors.
func codeEmbedderFactory(cfg config.Config, logger *slog.Logger) embedding.Factory {
	return func() (embedding.Model, error) {
		if cfg.Embedding.BaseURL == "" {
			return embedding.NewMockModel(cfg.Embedding.CodeModel, cfg.Embedding.CodeDimension), nil
		}
		return embedding.NewHTTPModel(embedding.HTTPModelConfig{
			BaseURL:   cfg.Embedding.BaseURL,
			Model:     cfg.Embedding.CodeModel,
			Dimension: cfg.Embedding.CodeDimension,
			Logger:    logger,
		}), nil
	}
}

func semanticEmbedderFactory(cfg config.Config, logger *slog.Logger) embedding.Factory {
	return func() (embedding.Model, error) {
		if cfg.Embedding.BaseURL == "" {
			return embedding.NewMockModel(cfg.Embedding.SemanticModel, cfg.Embedding.SemanticDimension), nil
		}
		return embedding.NewHTTPModel(embedding.HTTPModelConfig{
			BaseURL:   cfg.Embedding.BaseURL,
			Model:     cfg.Embedding.SemanticModel,
			Dimension: cfg.Embedding.SemanticDimension,
			Logger:    logger,
		}), nil
	}
}
