package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"ctroistats/pkg/batch"
	"ctroistats/pkg/rasterize"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("Expected default config, got %+v", cfg)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
input:
  root: /data/ct
  namingFallback: false
regions:
  include: ["GTV", " PTV_1 ", ""]
  aliases:
    gtv_primary: GTV
rasterizer:
  fillPolicy: even-odd
  supersample: 2
statistics:
  median: true
  percentiles: false
  minMax: false
cache:
  volumes: -1
output:
  csv: out/stats.csv
  qaDir: out/qa
  qaSeries: true
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Input.Root != "/data/ct" || cfg.Input.NamingFallback {
		t.Errorf("Unexpected input section: %+v", cfg.Input)
	}
	if cfg.Output.QADir != "out/qa" || !cfg.Output.QASeries {
		t.Errorf("Expected QA series dump into out/qa, got %q, %v", cfg.Output.QADir, cfg.Output.QASeries)
	}
	// unset keys keep their defaults
	if cfg.Output.QAWindow.Width != 400 {
		t.Errorf("Expected default QA window width 400, got %g", cfg.Output.QAWindow.Width)
	}

	opts, err := cfg.BatchOptions()
	if err != nil {
		t.Fatalf("BatchOptions failed: %v", err)
	}
	if !reflect.DeepEqual(opts.Regions, []string{"GTV", "PTV_1"}) {
		t.Errorf("Expected regions [GTV PTV_1], got %v", opts.Regions)
	}
	if opts.Rasterizer.Fill != rasterize.FillEvenOdd {
		t.Errorf("Expected even-odd fill, got %v", opts.Rasterizer.Fill)
	}
	if opts.Rasterizer.Supersample != 2 {
		t.Errorf("Expected supersample 2, got %d", opts.Rasterizer.Supersample)
	}
	if !opts.Statistics.Median || opts.Statistics.Percentiles || opts.Statistics.MinMax {
		t.Errorf("Unexpected statistics options: %+v", opts.Statistics)
	}
	if opts.CacheSize != -1 {
		t.Errorf("Expected cache size -1, got %d", opts.CacheSize)
	}
	if opts.Aliases["gtv_primary"] != "GTV" {
		t.Errorf("Expected alias gtv_primary -> GTV, got %v", opts.Aliases)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("input: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for invalid YAML, got nil")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("Expected saved defaults to load back unchanged, got %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"missing root", func(c *Config) { c.Input.Root = "" }, "input.root"},
		{"bad fill policy", func(c *Config) { c.Rasterizer.FillPolicy = "nonzero" }, "fillPolicy"},
		{"bad supersample", func(c *Config) { c.Rasterizer.Supersample = 0 }, "supersample"},
		{"no outputs", func(c *Config) { c.Output.CSV = "" }, "output.csv"},
		{"bad window", func(c *Config) { c.Output.QADir = "qa"; c.Output.QAWindow.Width = 0 }, "qaWindow"},
		{"series without dir", func(c *Config) { c.Output.QASeries = true }, "qaSeries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Input.Root = "/data"
			tt.modify(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Input.Root = "/data"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults with a root to validate, got %v", err)
	}
}

func TestDefaultBatchOptions(t *testing.T) {
	opts, err := DefaultConfig().BatchOptions()
	if err != nil {
		t.Fatalf("BatchOptions failed: %v", err)
	}
	if !reflect.DeepEqual(opts.Statistics, batch.DefaultOptions().Statistics) {
		t.Errorf("Expected all statistics enabled, got %+v", opts.Statistics)
	}
	if opts.CacheSize != batch.DefaultCacheSize {
		t.Errorf("Expected cache size %d, got %d", batch.DefaultCacheSize, opts.CacheSize)
	}
}
