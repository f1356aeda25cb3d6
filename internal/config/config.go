// Package config loads the run configuration for casperreport.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied for fields absent from the config file.
const (
	DefaultOutputDir = "output"
	DefaultStaleDays = 30
	DefaultRetries   = 3
	DefaultWorkers   = 1
	DefaultTopCounts = 25
)

// Fetch controls the bulk detail-fetch behavior.
type Fetch struct {
	// Retries per identifier before giving up on it.
	Retries uint `yaml:"retries"`
	// Workers parallelizes detail fetches when greater than one.
	Workers int `yaml:"workers"`
	// SkipFailed continues past failed identifiers instead of aborting.
	SkipFailed bool `yaml:"skip_failed"`
}

// Config is the full run configuration.
type Config struct {
	// OutputDir receives the report artifacts.
	OutputDir string `yaml:"output_dir"`
	// SkipStale drops computers past the stale threshold.
	SkipStale bool `yaml:"skip_stale"`
	// StaleDays is the stale threshold in days.
	StaleDays int `yaml:"stale_days"`
	// InsecureTLS disables certificate verification.
	InsecureTLS bool `yaml:"insecure_tls"`
	// Fetch is the detail-fetch policy.
	Fetch Fetch `yaml:"fetch"`
	// TopCounts limits the counter tables printed to the terminal.
	TopCounts int `yaml:"top_counts"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		OutputDir: DefaultOutputDir,
		SkipStale: true,
		StaleDays: DefaultStaleDays,
		Fetch: Fetch{
			Retries:    DefaultRetries,
			Workers:    DefaultWorkers,
			SkipFailed: true,
		},
		TopCounts: DefaultTopCounts,
	}
}

// Load reads a YAML config file, filling absent fields with defaults. A
// missing file is not an error: the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot work with.
func (c Config) Validate() error {
	if c.OutputDir == "" {
		return errors.New("output_dir must not be empty")
	}
	if c.StaleDays < 0 {
		return fmt.Errorf("stale_days must not be negative, got %d", c.StaleDays)
	}
	if c.Fetch.Workers < 0 {
		return fmt.Errorf("fetch.workers must not be negative, got %d", c.Fetch.Workers)
	}
	return nil
}
