package r3

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration
type Config struct {
	Debug         bool     `toml:"debug" yaml:"debug"`
	LogCategories []string `toml:"log_categories" yaml:"log_categories"`

	// Evaluator limits
	StackLimit    int `toml:"stack_limit" yaml:"stack_limit"`         // Maximum call depth before stack-overflow
	DataStackSize int `toml:"data_stack_size" yaml:"data_stack_size"` // Cells reserved for arguments and temporaries
	EvalCountdown int `toml:"eval_countdown" yaml:"eval_countdown"`   // Evaluation steps between safe points

	// Memory and collection pacing
	GCBallast    int64 `toml:"gc_ballast" yaml:"gc_ballast"`
	GCMinBallast int64 `toml:"gc_min_ballast" yaml:"gc_min_ballast"`
	GCMaxBallast int64 `toml:"gc_max_ballast" yaml:"gc_max_ballast"`
	MemoryLimit  int64 `toml:"memory_limit" yaml:"memory_limit"` // Hard allocator ceiling, fatal when crossed
	SegmentNodes int   `toml:"segment_nodes" yaml:"segment_nodes"`
	LargeAlign   int   `toml:"large_align" yaml:"large_align"`

	Security SecurityPolicy `toml:"security" yaml:"security"`

	// SkipBoot leaves out the boot script (natives only)
	SkipBoot bool `toml:"skip_boot" yaml:"skip_boot"`

	// Args are the script arguments exposed through the host
	Args []string `toml:"-" yaml:"-"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Debug:         false,
		StackLimit:    2000,
		DataStackSize: 32 * 1024,
		EvalCountdown: 1000,
		GCBallast:     3 * 1024 * 1024,
		GCMinBallast:  256 * 1024,
		GCMaxBallast:  64 * 1024 * 1024,
		SegmentNodes:  256,
		LargeAlign:    16,
		Security:      DefaultSecurityPolicy(),
	}
}

// poolConfig derives the allocator settings
func (c *Config) poolConfig() PoolConfig {
	pc := DefaultPoolConfig()
	if c.SegmentNodes > 0 {
		pc.SegmentNodes = c.SegmentNodes
	}
	if c.LargeAlign > 0 {
		pc.LargeAlign = c.LargeAlign
	}
	pc.MemoryLimit = c.MemoryLimit
	if c.GCBallast > 0 {
		pc.Ballast = c.GCBallast
	}
	return pc
}

// normalize fills zero fields with defaults
func (c *Config) normalize() {
	def := DefaultConfig()
	if c.StackLimit <= 0 {
		c.StackLimit = def.StackLimit
	}
	if c.DataStackSize <= 0 {
		c.DataStackSize = def.DataStackSize
	}
	if c.EvalCountdown <= 0 {
		c.EvalCountdown = def.EvalCountdown
	}
	if c.GCBallast <= 0 {
		c.GCBallast = def.GCBallast
	}
	if c.GCMinBallast <= 0 {
		c.GCMinBallast = def.GCMinBallast
	}
	if c.GCMaxBallast < c.GCBallast {
		c.GCMaxBallast = c.GCBallast * 16
	}
	if c.Security.Levels == nil {
		c.Security.Levels = def.Security.Levels
	}
}

// LoadConfig reads a TOML (.toml) or YAML (.yaml, .yml) configuration file
// over the defaults
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unknown format", path)
	}
	cfg.normalize()
	return cfg, nil
}

// ApplyEnv overrides settings from R3_* environment variables
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("R3_DEBUG"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("R3_DEBUG: %w", err)
		}
		c.Debug = on
	}
	if v := getenv("R3_STACK_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("R3_STACK_LIMIT: invalid value %q", v)
		}
		c.StackLimit = n
	}
	if v := getenv("R3_SECURE"); v != "" {
		level, err := ParseSecurityLevel(v)
		if err != nil {
			return fmt.Errorf("R3_SECURE: %w", err)
		}
		if c.Security.Levels == nil {
			c.Security.Levels = make(map[Resource]SecurityLevel, len(allResources))
		}
		for _, res := range allResources {
			c.Security.Levels[res] = level
		}
	}
	return nil
}
