package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-bitnet/internal/affinity"
)

const (
	DefaultModelPath  = "/sdcard/models/bitnet-100b.gguf"
	DefaultConfigFile = "bitnet.yaml"
	EnvConfig         = "BITNET_CONFIG"
)

// DefaultCores are the big cores on common Snapdragon parts.
var DefaultCores = []int{4, 5, 6, 7}

type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Affinity AffinityConfig `yaml:"affinity"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Journal  JournalConfig  `yaml:"journal"`
}

type ModelConfig struct {
	Path string `yaml:"path"`
}

type AffinityConfig struct {
	// Cores nil means "not set" while merging; an explicit empty list disables pinning.
	Cores []int `yaml:"cores"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type JournalConfig struct {
	Addr      string `yaml:"addr"`
	BatchSize int    `yaml:"batch_size"`
}

func Default() Config {
	return Config{
		Model:    ModelConfig{Path: DefaultModelPath},
		Affinity: AffinityConfig{Cores: append([]int(nil), DefaultCores...)},
		Log:      LogConfig{Level: "info", Format: "console"},
		Journal:  JournalConfig{BatchSize: 32},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model.Path) == "" {
		return errors.New("invalid model.path: must not be empty")
	}
	seen := make(map[int]bool, len(c.Affinity.Cores))
	for _, core := range c.Affinity.Cores {
		if core < 0 {
			return fmt.Errorf("invalid affinity core: %d (must be non-negative)", core)
		}
		if seen[core] {
			return fmt.Errorf("invalid affinity core: %d listed twice", core)
		}
		seen[core] = true
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q (want console or json)", c.Log.Format)
	}
	if c.Journal.BatchSize <= 0 {
		return fmt.Errorf("invalid journal.batch_size: %d (must be positive)", c.Journal.BatchSize)
	}
	return nil
}

// PinningEnabled reports whether an affinity hint should be applied.
func (c *Config) PinningEnabled() bool {
	return len(c.Affinity.Cores) > 0
}

// Resolve builds the effective configuration: defaults, then the file named
// by BITNET_CONFIG (or ./bitnet.yaml when present), then BITNET_* env overrides.
func Resolve() (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(os.Getenv(EnvConfig))
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("provided %s file %q not found", EnvConfig, path)
	}

	if path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = merge(cfg, loaded)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile parses a YAML config file without applying defaults.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	return cfg, nil
}

func merge(base, override Config) Config {
	result := base

	if override.Model.Path != "" {
		result.Model.Path = override.Model.Path
	}
	if override.Affinity.Cores != nil {
		result.Affinity.Cores = append([]int{}, override.Affinity.Cores...)
	}
	if override.Log.Level != "" {
		result.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		result.Log.Format = override.Log.Format
	}
	if override.Metrics.Addr != "" {
		result.Metrics.Addr = override.Metrics.Addr
	}
	if override.Journal.Addr != "" {
		result.Journal.Addr = override.Journal.Addr
	}
	if override.Journal.BatchSize != 0 {
		result.Journal.BatchSize = override.Journal.BatchSize
	}
	return result
}

func applyEnvOverrides(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("BITNET_MODEL_PATH")); v != "" {
		cfg.Model.Path = v
	}
	if v, ok := os.LookupEnv("BITNET_CORES"); ok {
		cores, err := affinity.ParseList(v)
		if err != nil {
			return fmt.Errorf("invalid BITNET_CORES %q: %w", v, err)
		}
		cfg.Affinity.Cores = cores
	}
	if v := strings.TrimSpace(os.Getenv("BITNET_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("BITNET_LOG_FORMAT")); v != "" {
		cfg.Log.Format = v
	}
	if v := strings.TrimSpace(os.Getenv("BITNET_METRICS_ADDR")); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("BITNET_JOURNAL_ADDR")); v != "" {
		cfg.Journal.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("BITNET_JOURNAL_BATCH")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BITNET_JOURNAL_BATCH %q: %w", v, err)
		}
		// Non-positive values are rejected by Validate.
		cfg.Journal.BatchSize = n
	}
	return nil
}
