// Package config loads and validates LLMC configuration.
//
// Resolution order, later wins:
//  1. built-in defaults
//  2. ~/.config/llmc/config.yaml (user defaults)
//  3. <repo>/.llmc.yaml (per-repo tuning)
//  4. LLMC_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// Config is the complete LLMC configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Enrichment EnrichmentConfig `yaml:"enrichment" json:"enrichment"`
	Daemon     DaemonConfig     `yaml:"daemon" json:"daemon"`
	Routing    RoutingConfig    `yaml:"routing" json:"routing"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// StorageConfig locates the index store.
type StorageConfig struct {
	// IndexPath is relative to the repo root unless absolute.
	IndexPath string `yaml:"index_path" json:"index_path"`
}

// Profile is a named embedding configuration. Switching Model or Dim
// invalidates that profile's stored embeddings.
type Profile struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	Dim      int    `yaml:"dim" json:"dim"`
}

// EmbeddingsConfig configures embedding generation.
type EmbeddingsConfig struct {
	Profiles       map[string]Profile `yaml:"profiles" json:"profiles"`
	DefaultProfile string             `yaml:"default_profile" json:"default_profile"`
	BatchSize      int                `yaml:"batch_size" json:"batch_size"`
	OllamaHost     string             `yaml:"ollama_host" json:"ollama_host"`
	EmbedTTLHours  int                `yaml:"embed_ttl_hours" json:"embed_ttl_hours"`
}

// BackendConfig parameterizes one cascade member.
type BackendConfig struct {
	Kind          string  `yaml:"kind" json:"kind"` // ollama, openai, mock
	Endpoint      string  `yaml:"endpoint" json:"endpoint"`
	Model         string  `yaml:"model" json:"model"`
	APIKeyEnv     string  `yaml:"api_key_env" json:"api_key_env"`
	RPM           int     `yaml:"rpm" json:"rpm"`
	TPM           int     `yaml:"tpm" json:"tpm"`
	DailyUSDCap   float64 `yaml:"daily_usd_cap" json:"daily_usd_cap"`
	MonthlyUSDCap float64 `yaml:"monthly_usd_cap" json:"monthly_usd_cap"`
	RetryAttempts int     `yaml:"retry_attempts" json:"retry_attempts"`
	TimeoutS      int     `yaml:"timeout_s" json:"timeout_s"`
	// USD per 1k tokens, input/output. Zero for local backends.
	InputCostPer1K  float64 `yaml:"input_cost_per_1k" json:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k" json:"output_cost_per_1k"`
}

// EnrichmentConfig configures the enrichment pipeline.
type EnrichmentConfig struct {
	Enabled          bool                     `yaml:"enabled" json:"enabled"`
	BatchSize        int                      `yaml:"batch_size" json:"batch_size"`
	MaxSpansPerCycle int                      `yaml:"max_spans_per_cycle" json:"max_spans_per_cycle"`
	CooldownSeconds  int                      `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	StartTier        string                   `yaml:"start_tier" json:"start_tier"`
	MaxLineGap       int                      `yaml:"max_line_gap" json:"max_line_gap"`
	OrphanTTLDays    int                      `yaml:"orphan_ttl_days" json:"orphan_ttl_days"`
	Cascade          []string                 `yaml:"cascade" json:"cascade"`
	Backends         map[string]BackendConfig `yaml:"backends" json:"backends"`
}

// DaemonConfig paces the background loop.
type DaemonConfig struct {
	TickSeconds     int `yaml:"tick_seconds" json:"tick_seconds"`
	NiceLevel       int `yaml:"nice_level" json:"nice_level"`
	IdleBackoffBase int `yaml:"idle_backoff_base" json:"idle_backoff_base"`
	IdleBackoffMax  int `yaml:"idle_backoff_max" json:"idle_backoff_max"`
	PhaseTimeoutMin int `yaml:"phase_timeout_min" json:"phase_timeout_min"`
}

// RoutingConfig tunes the query classifier.
type RoutingConfig struct {
	PreferCodeOnConflict bool     `yaml:"prefer_code_on_conflict" json:"prefer_code_on_conflict"`
	ConflictMargin       float64  `yaml:"conflict_margin" json:"conflict_margin"`
	ERPKeywords          []string `yaml:"erp_keywords" json:"erp_keywords"`
	CodeStructRegex      string   `yaml:"code_struct_regex" json:"code_struct_regex"`
}

// SearchConfig tunes hybrid retrieval.
type SearchConfig struct {
	TopK           int     `yaml:"top_k" json:"top_k"`
	VectorWeight   float64 `yaml:"vector_weight" json:"vector_weight"`
	LexicalWeight  float64 `yaml:"lexical_weight" json:"lexical_weight"`
	GraphWeight    float64 `yaml:"graph_weight" json:"graph_weight"`
	LexicalBackend string  `yaml:"lexical_backend" json:"lexical_backend"` // sqlite (default) or bleve
	RerankEnabled  bool    `yaml:"rerank_enabled" json:"rerank_enabled"`
	// Queries at or above this complexity expand graph hits to 2 hops.
	GraphHopThreshold int `yaml:"graph_hop_threshold" json:"graph_hop_threshold"`
	StaleRefuse       bool `yaml:"stale_refuse" json:"stale_refuse"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{IndexPath: filepath.Join(".llmc", "index.db")},
		Embeddings: EmbeddingsConfig{
			Profiles: map[string]Profile{
				"code": {Provider: "ollama", Model: "nomic-embed-text", Dim: 768},
				"docs": {Provider: "ollama", Model: "nomic-embed-text", Dim: 768},
			},
			DefaultProfile: "code",
			BatchSize:      32,
			OllamaHost:     "http://localhost:11434",
			EmbedTTLHours:  0,
		},
		Enrichment: EnrichmentConfig{
			Enabled:          true,
			BatchSize:        2,
			MaxSpansPerCycle: 50,
			CooldownSeconds:  0,
			StartTier:        "local_small",
			MaxLineGap:       20,
			OrphanTTLDays:    7,
			Cascade:          []string{"local_small", "local_large"},
			Backends: map[string]BackendConfig{
				"local_small": {
					Kind:          "ollama",
					Endpoint:      "http://localhost:11434",
					Model:         "qwen2.5-coder:1.5b",
					RPM:           120,
					TPM:           200000,
					RetryAttempts: 5,
					TimeoutS:      30,
				},
				"local_large": {
					Kind:          "ollama",
					Endpoint:      "http://localhost:11434",
					Model:         "qwen2.5-coder:7b",
					RPM:           60,
					TPM:           120000,
					RetryAttempts: 5,
					TimeoutS:      60,
				},
			},
		},
		Daemon: DaemonConfig{
			TickSeconds:     180,
			NiceLevel:       10,
			IdleBackoffBase: 180,
			IdleBackoffMax:  1800,
			PhaseTimeoutMin: 10,
		},
		Routing: RoutingConfig{
			PreferCodeOnConflict: true,
			ConflictMargin:       0.15,
			ERPKeywords:          []string{"invoice", "ledger", "posting", "voucher", "accrual"},
			CodeStructRegex:      `(\w+\.\w+\()|(\bfunc\b)|(\bdef\b)|(\bclass\b)|(::)|(->)|(=>)`,
		},
		Search: SearchConfig{
			TopK:              20,
			VectorWeight:      0.6,
			LexicalWeight:     0.3,
			GraphWeight:       0.1,
			LexicalBackend:    "sqlite",
			RerankEnabled:     false,
			GraphHopThreshold: 6,
			StaleRefuse:       false,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load resolves configuration for a repository root.
func Load(repoRoot string) (*Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ".config", "llmc", "config.yaml")
		if err := mergeFile(cfg, userPath); err != nil {
			return nil, err
		}
	}
	if err := mergeFile(cfg, filepath.Join(repoRoot, ".llmc.yaml")); err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays a YAML file onto cfg if it exists.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return llmcerr.Wrap(llmcerr.KindConfigInvalid, fmt.Sprintf("read %s", path), err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return llmcerr.Wrap(llmcerr.KindConfigInvalid, fmt.Sprintf("parse %s", path), err)
	}
	return nil
}

// applyEnv overlays LLMC_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LLMC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LLMC_INDEX_PATH"); v != "" {
		cfg.Storage.IndexPath = v
	}
	if v := os.Getenv("LLMC_OLLAMA_HOST"); v != "" {
		cfg.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("LLMC_ENRICHMENT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enrichment.Enabled = b
		}
	}
	if v := os.Getenv("LLMC_DAEMON_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Daemon.TickSeconds = n
		}
	}
}

// Validate checks cross-field constraints. All violations are
// KindConfigInvalid structured errors.
func (c *Config) Validate() error {
	if c.Storage.IndexPath == "" {
		return llmcerr.New(llmcerr.KindConfigInvalid, "storage.index_path must not be empty")
	}
	if c.Embeddings.DefaultProfile != "" {
		if _, ok := c.Embeddings.Profiles[c.Embeddings.DefaultProfile]; !ok {
			return llmcerr.Newf(llmcerr.KindConfigInvalid,
				"embeddings.default_profile %q is not a defined profile", c.Embeddings.DefaultProfile)
		}
	}
	for name, p := range c.Embeddings.Profiles {
		if p.Dim <= 0 {
			return llmcerr.Newf(llmcerr.KindConfigInvalid, "embeddings.profiles.%s.dim must be positive", name)
		}
		if p.Provider == "" {
			return llmcerr.Newf(llmcerr.KindConfigInvalid, "embeddings.profiles.%s.provider must be set", name)
		}
	}
	for _, tier := range c.Enrichment.Cascade {
		if _, ok := c.Enrichment.Backends[tier]; !ok {
			return llmcerr.Newf(llmcerr.KindConfigInvalid,
				"enrichment.cascade names unknown backend %q", tier)
		}
	}
	if c.Enrichment.StartTier != "" && len(c.Enrichment.Cascade) > 0 {
		found := false
		for _, tier := range c.Enrichment.Cascade {
			if tier == c.Enrichment.StartTier {
				found = true
				break
			}
		}
		if !found {
			return llmcerr.Newf(llmcerr.KindConfigInvalid,
				"enrichment.start_tier %q is not in the cascade", c.Enrichment.StartTier)
		}
	}
	for name, b := range c.Enrichment.Backends {
		if b.Kind == "" {
			return llmcerr.Newf(llmcerr.KindConfigInvalid, "enrichment.backends.%s.kind must be set", name)
		}
		if b.DailyUSDCap < 0 || b.MonthlyUSDCap < 0 {
			return llmcerr.Newf(llmcerr.KindConfigInvalid, "enrichment.backends.%s cost caps must be non-negative", name)
		}
	}
	if c.Routing.CodeStructRegex != "" {
		if _, err := regexp.Compile(c.Routing.CodeStructRegex); err != nil {
			return llmcerr.Wrap(llmcerr.KindConfigInvalid, "routing.code_struct_regex", err)
		}
	}
	sum := c.Search.VectorWeight + c.Search.LexicalWeight + c.Search.GraphWeight
	if sum <= 0 {
		return llmcerr.New(llmcerr.KindConfigInvalid, "search weights must sum to a positive value")
	}
	if c.Daemon.TickSeconds <= 0 {
		return llmcerr.New(llmcerr.KindConfigInvalid, "daemon.tick_seconds must be positive")
	}
	return nil
}

// IndexPath resolves the store location under the repo root.
func (c *Config) IndexPath(repoRoot string) string {
	if filepath.IsAbs(c.Storage.IndexPath) {
		return c.Storage.IndexPath
	}
	return filepath.Join(repoRoot, c.Storage.IndexPath)
}

// StatusPath is the IndexStatus snapshot for external readers.
func StatusPath(repoRoot string) string {
	return filepath.Join(repoRoot, ".llmc", "rag_index_status.json")
}

// MetricsPath is the enrichment metrics JSONL stream.
func MetricsPath(repoRoot string) string {
	return filepath.Join(repoRoot, "logs", "enrichment_metrics.jsonl")
}

// LockPath is the per-repo advisory daemon lock.
func LockPath(repoRoot string) string {
	return filepath.Join(repoRoot, ".llmc", "daemon.lock")
}

// BackendTimeout returns the configured per-request timeout.
func (b BackendConfig) BackendTimeout() time.Duration {
	if b.TimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.TimeoutS) * time.Second
}
