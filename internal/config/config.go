package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "15s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the runtime settings of the auction service.
type Config struct {
	Port             int      `yaml:"port"`
	BidRetryBudget   int      `yaml:"bidRetryBudget"`
	RateLimitRPS     float64  `yaml:"rateLimitRps"`
	RateLimitBurst   int      `yaml:"rateLimitBurst"`
	RateLimitIdleTTL Duration `yaml:"rateLimitIdleTtl"`
	SweepInterval    Duration `yaml:"sweepInterval"`
	MongoURI         string   `yaml:"mongoUri"`
	MongoDatabase    string   `yaml:"mongoDatabase"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() Config {
	return Config{
		Port:             8080,
		BidRetryBudget:   5,
		RateLimitRPS:     20,
		RateLimitBurst:   40,
		RateLimitIdleTTL: Duration(10 * time.Minute),
		SweepInterval:    Duration(15 * time.Second),
		MongoDatabase:    "auction_sessions",
	}
}

// LoadFromPath reads the first readable candidate config file, merges it over
// the defaults and applies environment overrides. A missing or unparsable
// file falls through to defaults plus environment.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates, "configs/config.yaml")
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}

		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

// Merge copies the non-zero fields of src over dst.
func Merge(dst *Config, src Config) {
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.BidRetryBudget != 0 {
		dst.BidRetryBudget = src.BidRetryBudget
	}
	if src.RateLimitRPS != 0 {
		dst.RateLimitRPS = src.RateLimitRPS
	}
	if src.RateLimitBurst != 0 {
		dst.RateLimitBurst = src.RateLimitBurst
	}
	if src.RateLimitIdleTTL != 0 {
		dst.RateLimitIdleTTL = src.RateLimitIdleTTL
	}
	if src.SweepInterval != 0 {
		dst.SweepInterval = src.SweepInterval
	}
	if src.MongoURI != "" {
		dst.MongoURI = src.MongoURI
	}
	if src.MongoDatabase != "" {
		dst.MongoDatabase = src.MongoDatabase
	}
}

// ApplyEnvOverrides lets the environment win over file values.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("BID_RETRY_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BidRetryBudget = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil && rps > 0 {
			cfg.RateLimitRPS = rps
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if burst, err := strconv.Atoi(v); err == nil && burst > 0 {
			cfg.RateLimitBurst = burst
		}
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SweepInterval = Duration(d)
		}
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.MongoURI = v
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		cfg.MongoDatabase = v
	}
}
