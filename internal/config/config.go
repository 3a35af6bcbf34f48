// Package config loads the pipeline configuration: dataset location,
// per-source column alias tables, scoring and explanation thresholds,
// cache and mirror settings. Alias tables are data, not code, so header
// drift across dataset releases is handled by editing the YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	DatasetRoot string                  `yaml:"dataset_root"`
	Sources     map[string]SourceConfig `yaml:"sources"`
	Scoring     ScoringConfig           `yaml:"scoring"`
	Explain     ExplainConfig           `yaml:"explain"`
	Cache       CacheConfig             `yaml:"cache"`
	Mirror      MirrorConfig            `yaml:"mirror"`
}

// SourceConfig describes how to locate and map one source kind.
type SourceConfig struct {
	// DirName is the per-kind subdirectory under the dataset root. Files
	// outside a known subdirectory fall back to filename/header inference.
	DirName string `yaml:"dir_name"`
	// FilePatterns are filename substrings that identify this kind when
	// files sit in a flat directory.
	FilePatterns []string `yaml:"file_patterns"`
	// Aliases maps each canonical field to its accepted header spellings.
	// Matching is case- and underscore-insensitive and exact.
	Aliases map[string][]string `yaml:"aliases"`
}

// ScoringConfig holds the isolation-ensemble parameters.
type ScoringConfig struct {
	Trees          int     `yaml:"trees"`
	Subsample      int     `yaml:"subsample"`
	Seed           int64   `yaml:"seed"`
	FlagPercentile float64 `yaml:"flag_percentile"`
	MinSiblings    int     `yaml:"min_siblings"`
}

// ExplainConfig holds the severity-tier cut points. Z thresholds apply
// when the peer baseline has usable spread; percent thresholds are the
// degenerate-variance fallback.
type ExplainConfig struct {
	ZModerate   float64 `yaml:"z_moderate"`
	ZHigh       float64 `yaml:"z_high"`
	ZCritical   float64 `yaml:"z_critical"`
	PctModerate float64 `yaml:"pct_moderate"`
	PctHigh     float64 `yaml:"pct_high"`
	PctCritical float64 `yaml:"pct_critical"`
}

// CacheConfig selects the aggregate/score cache backend.
type CacheConfig struct {
	Backend   string `yaml:"backend"` // "memory" or "redis"
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// MirrorConfig controls the optional Postgres mirror of the golden
// record table and alert feed.
type MirrorConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Load reads configuration from a YAML file, layered over defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", errs[0])
	}
	return cfg, nil
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() []string {
	var errs []string

	if c.DatasetRoot == "" {
		errs = append(errs, "dataset_root must be set")
	}
	if c.Scoring.Trees <= 0 {
		errs = append(errs, fmt.Sprintf("scoring.trees must be positive, got %d", c.Scoring.Trees))
	}
	if c.Scoring.Subsample < 2 {
		errs = append(errs, fmt.Sprintf("scoring.subsample must be at least 2, got %d", c.Scoring.Subsample))
	}
	if c.Scoring.FlagPercentile <= 0 || c.Scoring.FlagPercentile >= 1 {
		errs = append(errs, fmt.Sprintf("scoring.flag_percentile must be in (0,1), got %g", c.Scoring.FlagPercentile))
	}
	if c.Scoring.MinSiblings < 2 {
		errs = append(errs, fmt.Sprintf("scoring.min_siblings must be at least 2, got %d", c.Scoring.MinSiblings))
	}
	if !(c.Explain.ZModerate < c.Explain.ZHigh && c.Explain.ZHigh < c.Explain.ZCritical) {
		errs = append(errs, "explain z thresholds must be strictly increasing")
	}
	if !(c.Explain.PctModerate < c.Explain.PctHigh && c.Explain.PctHigh < c.Explain.PctCritical) {
		errs = append(errs, "explain percent thresholds must be strictly increasing")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		errs = append(errs, fmt.Sprintf("cache.backend must be memory or redis, got %q", c.Cache.Backend))
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		errs = append(errs, "cache.redis_addr must be set for the redis backend")
	}
	if c.Mirror.Enabled && c.Mirror.DSN == "" {
		errs = append(errs, "mirror.dsn must be set when the mirror is enabled")
	}

	for kind, src := range c.Sources {
		for _, field := range []string{"state", "district", "pincode", "date"} {
			if len(src.Aliases[field]) == 0 {
				errs = append(errs, fmt.Sprintf("source %s: no aliases for required field %s", kind, field))
			}
		}
	}

	return errs
}

// Default returns the built-in configuration, including the alias tables
// observed across known dataset releases.
func Default() *Config {
	return &Config{
		DatasetRoot: "dataset",
		Sources: map[string]SourceConfig{
			"enrolment": {
				DirName:      "api_data_aadhar_enrolment",
				FilePatterns: []string{"enrolment", "enrollment", "enrol"},
				Aliases: map[string][]string{
					"state":       {"state", "state_name"},
					"district":    {"district", "district_name"},
					"pincode":     {"pincode", "pin_code", "pin"},
					"date":        {"date", "report_date"},
					"age_0_5":     {"age_0_5", "enrol_age_0_5", "age_0_to_5"},
					"age_5_17":    {"age_5_17", "enrol_age_5_17", "age_5_to_17"},
					"age_18_plus": {"age_18_greater", "age_18_plus", "enrol_age_18_greater", "age_18_and_above"},
				},
			},
			"demographic": {
				DirName:      "api_data_aadhar_demographic",
				FilePatterns: []string{"demographic", "demo"},
				Aliases: map[string][]string{
					"state":       {"state", "state_name"},
					"district":    {"district", "district_name"},
					"pincode":     {"pincode", "pin_code", "pin"},
					"date":        {"date", "report_date"},
					"age_0_5":     {"demo_age_0_5", "age_0_5"},
					"age_5_17":    {"demo_age_5_17", "age_5_17"},
					"age_18_plus": {"demo_age_17_", "demo_age_18_greater", "age_18_greater", "age_18_plus"},
				},
			},
			"biometric": {
				DirName:      "api_data_aadhar_biometric",
				FilePatterns: []string{"biometric", "bio"},
				Aliases: map[string][]string{
					"state":       {"state", "state_name"},
					"district":    {"district", "district_name"},
					"pincode":     {"pincode", "pin_code", "pin"},
					"date":        {"date", "report_date"},
					"age_0_5":     {"bio_age_0_5", "age_0_5"},
					"age_5_17":    {"bio_age_5_17", "age_5_17"},
					"age_18_plus": {"bio_age_17_", "bio_age_18_greater", "age_18_greater", "age_18_plus"},
				},
			},
		},
		Scoring: ScoringConfig{
			Trees:          100,
			Subsample:      256,
			Seed:           42,
			FlagPercentile: 0.95,
			MinSiblings:    10,
		},
		Explain: ExplainConfig{
			ZModerate:   2.0,
			ZHigh:       3.0,
			ZCritical:   5.0,
			PctModerate: 50.0,
			PctHigh:     100.0,
			PctCritical: 300.0,
		},
		Cache: CacheConfig{
			Backend: "memory",
		},
		Mirror: MirrorConfig{
			Enabled: false,
		},
	}
}
