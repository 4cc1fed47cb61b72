// Package config holds all tunable daemon parameters. Scoring weights and
// thresholds are policy constants, not correctness laws — the ordering and
// short-circuit behavior they drive lives in the relevance and gate packages.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ScoringConfig holds relevance signal weights, qualification thresholds,
// and selection caps.
type ScoringConfig struct {
	KeyPathWeight    int `yaml:"key_path_weight"`
	SensitiveWeight  int `yaml:"sensitive_weight"`
	CorrectionWeight int `yaml:"correction_weight"`
	GuidanceWeight   int `yaml:"guidance_weight"`
	ExtensionWeight  int `yaml:"extension_weight"`
	KeywordWeight    int `yaml:"keyword_weight"`
	DependencyWeight int `yaml:"dependency_weight"`

	// StrongMin applies when any strong signal fired; WeakMin is the
	// higher bar extension-only relevance must clear.
	StrongMin int `yaml:"strong_min"`
	WeakMin   int `yaml:"weak_min"`

	CorrectionWindow time.Duration `yaml:"correction_window"`

	MaxPacks          int `yaml:"max_packs"`
	MaxLessonsPerPack int `yaml:"max_lessons_per_pack"`
	MaxLessonsTotal   int `yaml:"max_lessons_total"`
}

// EvaluatorConfig holds remote evaluator client parameters.
type EvaluatorConfig struct {
	APIURL          string        `yaml:"api_url"`
	APIKeyEnv       string        `yaml:"api_key_env"`
	Model           string        `yaml:"model"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxCostUSD      float64       `yaml:"max_cost_usd"`
	CostPer1KTokens float64       `yaml:"cost_per_1k_tokens"`
	FlatCallCost    float64       `yaml:"flat_call_cost"`
	IdleReset       time.Duration `yaml:"idle_reset"`
	MinConfidence   float64       `yaml:"min_confidence"`
}

// Config is the full daemon configuration.
type Config struct {
	PacksDir      string `yaml:"packs_dir"`
	AllowlistPath string `yaml:"allowlist_path"`
	DenylistPath  string `yaml:"denylist_path"`
	LearnedPath   string `yaml:"learned_path"`
	StateDir      string `yaml:"state_dir"`

	InjectTimeout  time.Duration `yaml:"inject_timeout"`
	ApproveTimeout time.Duration `yaml:"approve_timeout"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`

	InjectionDedupSize int `yaml:"injection_dedup_size"`

	Scoring   ScoringConfig   `yaml:"scoring"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
}

// DefaultConfig returns the built-in configuration with documented defaults.
func DefaultConfig() *Config {
	base := baseDir()
	return &Config{
		PacksDir:      filepath.Join(base, "packs"),
		AllowlistPath: filepath.Join(base, "allowlist.yaml"),
		DenylistPath:  filepath.Join(base, "denylist.yaml"),
		LearnedPath:   filepath.Join(base, "learned.jsonl"),
		StateDir:      filepath.Join(base, "state"),

		InjectTimeout:  5 * time.Second,
		ApproveTimeout: 30 * time.Second,
		ShutdownGrace:  2 * time.Second,

		InjectionDedupSize: 64,

		Scoring: ScoringConfig{
			KeyPathWeight:     10,
			SensitiveWeight:   8,
			CorrectionWeight:  8,
			GuidanceWeight:    4,
			ExtensionWeight:   3,
			KeywordWeight:     2,
			DependencyWeight:  1,
			StrongMin:         5,
			WeakMin:           6,
			CorrectionWindow:  15 * time.Minute,
			MaxPacks:          4,
			MaxLessonsPerPack: 3,
			MaxLessonsTotal:   10,
		},

		Evaluator: EvaluatorConfig{
			APIURL:          "http://localhost:11434/v1/chat/completions",
			APIKeyEnv:       "PACKWATCH_API_KEY",
			Model:           "llama3.2",
			Timeout:         20 * time.Second,
			MaxCostUSD:      0.50,
			CostPer1KTokens: 0.003,
			FlatCallCost:    0.002,
			IdleReset:       10 * time.Minute,
			MinConfidence:   0.6,
		},
	}
}

// Load reads a config file and merges it over the defaults.
// A missing file is not an error — defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(home, ".packwatch", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// APIKey resolves the evaluator API key from the configured environment
// variable. Empty means the endpoint is unauthenticated (local models).
func (c *Config) APIKey() string {
	if c.Evaluator.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Evaluator.APIKeyEnv)
}

func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "packwatch")
	}
	return filepath.Join(home, ".packwatch")
}
