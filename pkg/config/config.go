// Package config provides configuration loading and management for ctroistats.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"ctroistats/pkg/batch"
	"ctroistats/pkg/rasterize"
	"ctroistats/pkg/roistats"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input parameters
	Input struct {
		// Root is the directory scanned for CT series and structure sets
		Root string `yaml:"root"`

		// NamingFallback enables the <patient>/CT, <patient>/RTSTRUCT.dcm
		// layout when content-based discovery finds no CT series
		NamingFallback bool `yaml:"namingFallback"`
	} `yaml:"input"`

	// Region selection
	Regions struct {
		// Include lists region names to analyse; empty means all
		Include []string `yaml:"include,omitempty"`

		// Aliases maps raw region names (case-insensitive) to normalized names
		Aliases map[string]string `yaml:"aliases,omitempty"`
	} `yaml:"regions"`

	// Rasterizer parameters
	Rasterizer struct {
		// FillPolicy is "union" or "even-odd"
		FillPolicy string `yaml:"fillPolicy"`

		// Supersample rasterizes on a finer in-plane grid
		Supersample int `yaml:"supersample"`

		// RejectDistantLoops drops loops farther than half a slice gap from any slice
		RejectDistantLoops bool `yaml:"rejectDistantLoops"`
	} `yaml:"rasterizer"`

	Resample struct {
		// ShareFactors reuses the first region's factors for the whole series
		ShareFactors bool `yaml:"shareFactors"`
	} `yaml:"resample"`

	// Optional statistics
	Statistics struct {
		Median      bool `yaml:"median"`
		Percentiles bool `yaml:"percentiles"`
		MinMax      bool `yaml:"minMax"`
	} `yaml:"statistics"`

	Cache struct {
		// Volumes is the number of decoded volumes kept; negative disables caching
		Volumes int `yaml:"volumes"`
	} `yaml:"cache"`

	// Output parameters
	Output struct {
		// CSV is the path of the result table
		CSV string `yaml:"csv"`

		// SQLite is an optional database the run is appended to
		SQLite string `yaml:"sqlite"`

		// MetricsFile is an optional Prometheus textfile written after the run
		MetricsFile string `yaml:"metricsFile"`

		// QADir receives overlay JPEGs when set
		QADir string `yaml:"qaDir"`

		// QASeries also saves the windowed axial series of every volume under QADir
		QASeries bool `yaml:"qaSeries"`

		// QAWindow is the HU display window of the overlays
		QAWindow struct {
			Center float64 `yaml:"center"`
			Width  float64 `yaml:"width"`
		} `yaml:"qaWindow"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.NamingFallback = true

	cfg.Rasterizer.FillPolicy = rasterize.FillUnion.String()
	cfg.Rasterizer.Supersample = 1
	cfg.Rasterizer.RejectDistantLoops = false

	cfg.Resample.ShareFactors = false

	cfg.Statistics.Median = true
	cfg.Statistics.Percentiles = true
	cfg.Statistics.MinMax = true

	cfg.Cache.Volumes = batch.DefaultCacheSize

	cfg.Output.CSV = "roi_stats.csv"
	cfg.Output.QAWindow.Center = 40
	cfg.Output.QAWindow.Width = 400
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks values that cannot be used as given
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Input.Root) == "" {
		errs = append(errs, errors.New("input.root is required"))
	}
	if _, err := rasterize.ParseFillPolicy(c.Rasterizer.FillPolicy); err != nil {
		errs = append(errs, fmt.Errorf("rasterizer.fillPolicy: %w", err))
	}
	if c.Rasterizer.Supersample < 1 {
		errs = append(errs, fmt.Errorf("rasterizer.supersample must be at least 1, got %d", c.Rasterizer.Supersample))
	}
	if c.Output.CSV == "" && c.Output.SQLite == "" {
		errs = append(errs, errors.New("at least one of output.csv and output.sqlite is required"))
	}
	if c.Output.QADir != "" && c.Output.QAWindow.Width <= 0 {
		errs = append(errs, fmt.Errorf("output.qaWindow.width must be positive, got %g", c.Output.QAWindow.Width))
	}
	if c.Output.QASeries && c.Output.QADir == "" {
		errs = append(errs, errors.New("output.qaSeries requires output.qaDir"))
	}

	return errors.Join(errs...)
}

// BatchOptions converts the configuration into orchestrator options
func (c *Config) BatchOptions() (batch.Options, error) {
	fill, err := rasterize.ParseFillPolicy(c.Rasterizer.FillPolicy)
	if err != nil {
		return batch.Options{}, err
	}

	var regions []string
	for _, name := range c.Regions.Include {
		if name = strings.TrimSpace(name); name != "" {
			regions = append(regions, name)
		}
	}

	return batch.Options{
		Regions: regions,
		Aliases: c.Regions.Aliases,
		Rasterizer: rasterize.Options{
			Fill:               fill,
			Supersample:        c.Rasterizer.Supersample,
			RejectDistantLoops: c.Rasterizer.RejectDistantLoops,
		},
		ShareFactors: c.Resample.ShareFactors,
		Statistics: roistats.Options{
			Median:      c.Statistics.Median,
			Percentiles: c.Statistics.Percentiles,
			MinMax:      c.Statistics.MinMax,
		},
		CacheSize: c.Cache.Volumes,
	}, nil
}
