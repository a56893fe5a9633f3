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

// Package config loads the Learning Memory Server's settings from
// .lms/project.yaml with environment variable overrides. A collection's
// dimension always comes from the live embedder; the only dimensions read
// from here are CodeDimension/SemanticDimension, which size the embedders
// themselves (see EmbeddingConfig).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".lms"
	defaultConfigFile = "project.yaml"
	configVersion     = "1"
)

// Config is the top-level .lms/project.yaml document.
type Config struct {
	Version   string          `yaml:"version"`
	Home      string          `yaml:"home,omitempty"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Context   ContextConfig   `yaml:"context"`
	Cluster   ClusterConfig   `yaml:"cluster"`
}

// EmbeddingConfig names the two embedder roles. Model identifiers are the
// only thing configured here; the resulting dimension is read from the
// loaded model at runtime (internal/embedding.Registry), never hardcoded —
// except CodeDimension/SemanticDimension, which exist only because the
// Ollama-style /api/embed endpoint itself never advertises a model's output
// size (internal/embedding.HTTPModel requires it up front).
type EmbeddingConfig struct {
	CodeModel     string `yaml:"code_model"`
	SemanticModel string `yaml:"semantic_model"`
	// BaseURL points at an Ollama-compatible /api/embed server. Empty means
	// "no live embedder configured" — cmd/lms falls back to an in-process
	// mock embedder, which is fine for init/local experimentation but never
	// for two processes sharing one vector store.
	BaseURL string `yaml:"base_url,omitempty"`
	// CodeDimension/SemanticDimension are the known output sizes of
	// CodeModel/SemanticModel, handed to HTTPModel when BaseURL is set and
	// to the mock embedder otherwise.
	CodeDimension     int    `yaml:"code_dimension,omitempty"`
	SemanticDimension int    `yaml:"semantic_dimension,omitempty"`
	CacheDir          string `yaml:"cache_dir,omitempty"`
	// ForceCPU moves models to the CPU device at load time. Some backends
	// leak memory on GPU devices under long-running processes; when the
	// process detects it's on such hardware it sets this true regardless
	// of the configured value.
	ForceCPU bool `yaml:"force_cpu,omitempty"`
}

// VectorConfig configures the vector backend.
type VectorConfig struct {
	Backend string        `yaml:"backend"` // "mem" or "disk"
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// IndexingConfig controls parsing/embedding/batching caps.
type IndexingConfig struct {
	MemoryContentCap   int      `yaml:"memory_content_cap"`
	CodeSnippetCap     int      `yaml:"code_snippet_cap"`
	ProjectIDCap       int      `yaml:"project_id_cap"`
	EmbeddingBatchSize int      `yaml:"embedding_batch_size"`
	ExcludeGlobs       []string `yaml:"exclude_globs"`
}

// ContextConfig controls the assembler's budgeting behavior.
type ContextConfig struct {
	MaxItemFraction     float64 `yaml:"max_item_fraction"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// ClusterConfig controls the density clusterer.
type ClusterConfig struct {
	MinClusterSize int `yaml:"min_cluster_size"`
	MinSamples     int `yaml:"min_samples"`
}

// Default returns a config with the defaults named in SPEC_FULL.md §6.4.
func Default() Config {
	return Config{
		Version: configVersion,
		Embedding: EmbeddingConfig{
			CodeModel:         "nomic-embed-code",
			SemanticModel:     "nomic-embed-text",
			BaseURL:           "http://localhost:11434",
			CodeDimension:     3584,
			SemanticDimension: 768,
		},
		Vector: VectorConfig{
			Backend: "mem",
			Timeout: 30 * time.Second,
		},
		Indexing: IndexingConfig{
			MemoryContentCap:   10000,
			CodeSnippetCap:     5000,
			ProjectIDCap:       100,
			EmbeddingBatchSize: 100,
			ExcludeGlobs: []string{
				".git/**", "node_modules/**", "vendor/**",
				"dist/**", "build/**", "bin/**", "**/bin/**", "out/**",
				".idea/**", ".vscode/**", "*.swp", "*.swo",
				".lms/**", ".cache/**", "tmp/**", ".tmp/**",
			},
		},
		Context: ContextConfig{
			MaxItemFraction:     0.25,
			SimilarityThreshold: 0.90,
		},
		Cluster: ClusterConfig{
			MinClusterSize: 5,
			MinSamples:     5,
		},
	}
}

// HomeDir resolves the service home directory: explicit Home, else
// $LMS_HOME, else ~/.lms.
func (c Config) HomeDir() (string, error) {
	if c.Home != "" {
		return c.Home, nil
	}
	if v := os.Getenv("LMS_HOME"); v != "" {
		return v, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(homeDir, ".lms"), nil
}

// Load reads .lms/project.yaml at path (or the default location if path is
// empty), applies environment overrides, and fills in defaults for any
// field left unset.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(defaultConfigDir, defaultConfigFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override model choice,
// vector backend URL, and home dir without editing the checked-in yaml.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LMS_HOME"); v != "" {
		cfg.Home = v
	}
	if v := os.Getenv("LMS_CODE_EMBED_MODEL"); v != "" {
		cfg.Embedding.CodeModel = v
	}
	if v := os.Getenv("LMS_SEMANTIC_EMBED_MODEL"); v != "" {
		cfg.Embedding.SemanticModel = v
	}
	if v := os.Getenv("LMS_EMBED_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("LMS_VECTOR_URL"); v != "" {
		cfg.Vector.URL = v
	}
	if v := os.Getenv("LMS_VECTOR_BACKEND"); v != "" {
		cfg.Vector.Backend = v
	}
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
