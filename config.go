package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rpcpool/myco/dtypes"
)

const ConfigVersion = 1

// Config is the optional YAML deployment descriptor. Non-empty listen and
// server2_url values in it take precedence over the matching command-line
// flags; the zero value falls back to the reference parameters.
type Config struct {
	Version int `yaml:"version"`

	// Tree-shape parameters. Zero means "use the default".
	TreeDepth      int `yaml:"tree_depth"`
	BucketCapacity int `yaml:"bucket_capacity"`
	MessageTTL     int `yaml:"message_ttl"`
	PathsPerClient int `yaml:"paths_per_client"`

	ListenOn   string `yaml:"listen"`
	Server1URL string `yaml:"server1_url"`
	Server2URL string `yaml:"server2_url"`

	PerfLog struct {
		Enabled     bool   `yaml:"enabled"`
		LatencyFile string `yaml:"latency_file"`
		BytesFile   string `yaml:"bytes_file"`
	} `yaml:"perf_log"`
}

// LoadConfig reads and validates a YAML config file. An empty path yields
// the zero config.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.Version != 0 && cfg.Version != ConfigVersion {
		return nil, fmt.Errorf("unsupported config version %d", cfg.Version)
	}
	return cfg, nil
}

// Params resolves the tree-shape parameters, applying defaults for unset
// fields, and validates the result.
func (c *Config) Params() (dtypes.Params, error) {
	p := dtypes.DefaultParams()
	if c.TreeDepth != 0 {
		p.D = c.TreeDepth
	}
	if c.BucketCapacity != 0 {
		p.Z = c.BucketCapacity
	}
	if c.MessageTTL != 0 {
		p.Delta = c.MessageTTL
	}
	if c.PathsPerClient != 0 {
		p.Nu = c.PathsPerClient
	}
	if err := p.Validate(); err != nil {
		return dtypes.Params{}, err
	}
	return p, nil
}

func (c *Config) initPerfLog() error {
	if !c.PerfLog.Enabled {
		return nil
	}
	latency := c.PerfLog.LatencyFile
	if latency == "" {
		latency = "latency.csv"
	}
	bytesFile := c.PerfLog.BytesFile
	if bytesFile == "" {
		bytesFile = "bytes.csv"
	}
	return initPerfLogFiles(latency, bytesFile)
}
