// Package config loads and validates ContextFS's configuration: recognized
// options are listed in spec.md §6. Values are loaded from a YAML file with
// environment-variable overrides, and a dotenv-style sibling file may seed
// process env vars that are not already set.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"contextfs/internal/logging"
)

// Config holds every recognized ContextFS option (spec.md §6).
type Config struct {
	Enabled      bool   `yaml:"enabled"`
	AutoInject   bool   `yaml:"auto_inject"`
	AutoCompact  bool   `yaml:"auto_compact"`
	ContextfsDir string `yaml:"contextfs_dir"`

	RecentTurns       int `yaml:"recent_turns"`
	TokenThreshold    int `yaml:"token_threshold"`
	PinsMaxItems      int `yaml:"pins_max_items"`
	SummaryMaxChars   int `yaml:"summary_max_chars"`
	ManifestMaxLines  int `yaml:"manifest_max_lines"`
	PinScanMaxChars   int `yaml:"pin_scan_max_chars"`
	LockStaleMs       int `yaml:"lock_stale_ms"`

	SearchDefaultK        int `yaml:"search_default_k"`
	SearchSummaryMaxChars int `yaml:"search_summary_max_chars"`
	TimelineBeforeDefault int `yaml:"timeline_before_default"`
	TimelineAfterDefault  int `yaml:"timeline_after_default"`
	RetrievalIndexMaxItems int `yaml:"retrieval_index_max_items"`
	PackSummaryMinChars   int `yaml:"pack_summary_min_chars"`
	GetDefaultHead        int `yaml:"get_default_head"`

	TracesEnabled       bool   `yaml:"traces_enabled"`
	TracesMaxBytes      int64  `yaml:"traces_max_bytes"`
	TracesMaxFiles      int    `yaml:"traces_max_files"`
	TracesTailDefault   int    `yaml:"traces_tail_default"`
	TraceRankingMaxItems int   `yaml:"trace_ranking_max_items"`
	TraceQueryMaxChars  int    `yaml:"trace_query_max_chars"`

	PackDelimiterStart string `yaml:"pack_delimiter_start"`
	PackDelimiterEnd   string `yaml:"pack_delimiter_end"`

	RetrievalMode string `yaml:"retrieval_mode"` // lexical|hybrid
	VectorEnabled bool   `yaml:"vector_enabled"`
	VectorProvider string `yaml:"vector_provider"` // none|fake|custom|siliconflow
	VectorDim     int    `yaml:"vector_dim"`

	EmbeddingTextMaxChars int    `yaml:"embedding_text_max_chars"`
	EmbeddingBatchSize    int    `yaml:"embedding_batch_size"`
	EmbeddingModel        string `yaml:"embedding_model"`
	EmbeddingBaseURL      string `yaml:"embedding_base_url"`
	EmbeddingAPIKey       string `yaml:"embedding_api_key"`
	EmbeddingTimeoutMs    int    `yaml:"embedding_timeout_ms"`
	EmbeddingMaxRetries   int    `yaml:"embedding_max_retries"`

	CompactModel      string `yaml:"compact_model"`
	CompactTimeoutMs  int    `yaml:"compact_timeout_ms"`
	CompactMaxRetries int    `yaml:"compact_max_retries"`

	FusionRrfK           int     `yaml:"fusion_rrf_k"`
	FusionCandidateMax   int     `yaml:"fusion_candidate_max"`
	VectorTopN           int     `yaml:"vector_top_n"`
	VectorMinSimilarity  float64 `yaml:"vector_min_similarity"`
	AnnTopN              int     `yaml:"ann_top_n"`
	AnnProbeTopN         int     `yaml:"ann_probe_top_n"`

	IndexEnabled bool   `yaml:"index_enabled"`
	IndexPath    string `yaml:"index_path"`

	EmbeddingHotMaxBytes       int64   `yaml:"embedding_hot_max_bytes"`
	EmbeddingArchiveMaxBytes   int64   `yaml:"embedding_archive_max_bytes"`
	EmbeddingDupRatioThreshold float64 `yaml:"embedding_dup_ratio_threshold"`
	EmbeddingAutoCompact       bool    `yaml:"embedding_auto_compact"`

	Debug bool `yaml:"debug"`

	Logging logging.Config `yaml:"logging"`
}

// DefaultConfig returns the default configuration, matching the bounds in
// spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		AutoInject:   true,
		AutoCompact:  true,
		ContextfsDir: ".contextfs",

		RecentTurns:      12,
		TokenThreshold:   6000,
		PinsMaxItems:     40,
		SummaryMaxChars:  4000,
		ManifestMaxLines: 40,
		PinScanMaxChars:  4000,
		LockStaleMs:      30000,

		SearchDefaultK:         10,
		SearchSummaryMaxChars:  160,
		TimelineBeforeDefault:  3,
		TimelineAfterDefault:   3,
		RetrievalIndexMaxItems: 20,
		PackSummaryMinChars:    256,
		GetDefaultHead:         4000,

		TracesEnabled:        true,
		TracesMaxBytes:       2 * 1024 * 1024,
		TracesMaxFiles:       5,
		TracesTailDefault:    20,
		TraceRankingMaxItems: 20,
		TraceQueryMaxChars:   200,

		PackDelimiterStart: "<<<BEGIN>>>",
		PackDelimiterEnd:   "<<<END>>>",

		RetrievalMode:  "hybrid",
		VectorEnabled:  true,
		VectorProvider: "fake",
		VectorDim:      256,

		EmbeddingTextMaxChars: 4000,
		EmbeddingBatchSize:    16,
		EmbeddingModel:        "fake-embed-v1",
		EmbeddingTimeoutMs:    20000,
		EmbeddingMaxRetries:   2,

		CompactModel:      "external-summarizer",
		CompactTimeoutMs:  20000,
		CompactMaxRetries: 3,

		FusionRrfK:          60,
		FusionCandidateMax:  50,
		VectorTopN:          20,
		VectorMinSimilarity: 0.35,
		AnnTopN:             50,
		AnnProbeTopN:        200,

		IndexEnabled: true,
		IndexPath:    "index.sqlite",

		EmbeddingHotMaxBytes:       8 * 1024 * 1024,
		EmbeddingArchiveMaxBytes:   64 * 1024 * 1024,
		EmbeddingDupRatioThreshold: 0.3,
		EmbeddingAutoCompact:       true,

		Logging: logging.Config{Level: "info"},
	}
}

// Load reads config from path, falling back to defaults when the file
// doesn't exist. Environment overrides (and any .env sibling file) are
// applied afterward so they always win over the file's values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	loadDotenv(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides lets CONTEXTFS_* environment variables override file
// values, following the teacher's "check in priority order, first wins"
// pattern for provider-style settings.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONTEXTFS_DIR"); v != "" {
		c.ContextfsDir = v
	}
	if v := os.Getenv("CONTEXTFS_TOKEN_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TokenThreshold = n
		}
	}
	if v := os.Getenv("CONTEXTFS_RETRIEVAL_MODE"); v != "" {
		c.RetrievalMode = v
	}
	if v := os.Getenv("CONTEXTFS_VECTOR_PROVIDER"); v != "" {
		c.VectorProvider = v
	}
	if v := os.Getenv("CONTEXTFS_EMBEDDING_API_KEY"); v != "" {
		c.EmbeddingAPIKey = v
	}
	if v := os.Getenv("CONTEXTFS_EMBEDDING_BASE_URL"); v != "" {
		c.EmbeddingBaseURL = v
	}
	if v := os.Getenv("CONTEXTFS_DEBUG"); v != "" {
		c.Debug = v == "1" || strings.EqualFold(v, "true")
		c.Logging.DebugMode = c.Debug
	}
}

// loadDotenv seeds process env vars from a KEY=VALUE sibling file without
// overriding anything already set, the way a shell's `.env` loader would.
// Hand-rolled rather than a dependency: the format is three lines of
// parsing and pulling in a library for it would be the outlier, not the
// teacher's idiom (see DESIGN.md).
func loadDotenv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, val)
		}
	}
}

// Validate enforces the numeric bounds spec.md §6 lists for each option.
func (c *Config) Validate() error {
	type bound struct {
		name     string
		val      int
		min, max int
	}
	bounds := []bound{
		{"recent_turns", c.RecentTurns, 1, 64},
		{"token_threshold", c.TokenThreshold, 256, 200000},
		{"pins_max_items", c.PinsMaxItems, 1, 200},
		{"summary_max_chars", c.SummaryMaxChars, 256, 20000},
		{"manifest_max_lines", c.ManifestMaxLines, 8, 200},
		{"lock_stale_ms", c.LockStaleMs, 1000, 600000},
		{"search_default_k", c.SearchDefaultK, 1, 50},
		{"search_summary_max_chars", c.SearchSummaryMaxChars, 40, 400},
		{"retrieval_index_max_items", c.RetrievalIndexMaxItems, 0, 50},
		{"get_default_head", c.GetDefaultHead, 0, 200000},
		{"vector_dim", c.VectorDim, 8, 4096},
	}
	for _, b := range bounds {
		if b.val < b.min || b.val > b.max {
			return fmt.Errorf("config: %s=%d out of range [%d,%d]", b.name, b.val, b.min, b.max)
		}
	}
	if c.TracesMaxBytes < 1024 || c.TracesMaxBytes > 5e7 {
		return fmt.Errorf("config: traces_max_bytes=%d out of range [1024,5e7]", c.TracesMaxBytes)
	}
	if c.TracesMaxFiles < 1 || c.TracesMaxFiles > 10 {
		return fmt.Errorf("config: traces_max_files=%d out of range [1,10]", c.TracesMaxFiles)
	}
	if len(c.PackDelimiterStart) > 128 || len(c.PackDelimiterEnd) > 128 {
		return fmt.Errorf("config: pack delimiters must be <= 128 chars")
	}
	if c.PackDelimiterStart == c.PackDelimiterEnd {
		return fmt.Errorf("config: pack_delimiter_start must differ from pack_delimiter_end")
	}
	if c.RetrievalMode != "lexical" && c.RetrievalMode != "hybrid" {
		return fmt.Errorf("config: retrieval_mode must be lexical or hybrid, got %q", c.RetrievalMode)
	}
	switch c.VectorProvider {
	case "none", "fake", "custom", "siliconflow":
	default:
		return fmt.Errorf("config: unknown vector_provider %q", c.VectorProvider)
	}
	return nil
}
