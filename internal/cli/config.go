package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/ChuLiYu/wavefront/internal/logging"
	"github.com/ChuLiYu/wavefront/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Grid struct {
		AgeGroups int `yaml:"age_groups"`
		TimeSteps int `yaml:"time_steps"`
	} `yaml:"grid"`

	Workers struct {
		Count     int           `yaml:"count"`
		StepDelay time.Duration `yaml:"step_delay"`
	} `yaml:"workers"`

	Scheduler struct {
		StallTimeout time.Duration `yaml:"stall_timeout"` // 0 disables the stall check
	} `yaml:"scheduler"`

	Exchange struct {
		NumChunks  int `yaml:"num_chunks"` // 0 sizes the store from the grid
		ChunkSize  int `yaml:"chunk_size"`
		AsyncLimit int `yaml:"async_limit"`
	} `yaml:"exchange"`

	Server struct {
		Listen      string `yaml:"listen"`      // coordinator mode
		Coordinator string `yaml:"coordinator"` // worker mode
	} `yaml:"server"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Trace struct {
		Path string `yaml:"path"`
	} `yaml:"trace"`

	Report struct {
		Path string `yaml:"path"`
	} `yaml:"report"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Grid.AgeGroups = 3
	cfg.Grid.TimeSteps = 5
	cfg.Workers.Count = 2
	cfg.Workers.StepDelay = 10 * time.Millisecond
	cfg.Exchange.ChunkSize = 8
	cfg.Exchange.AsyncLimit = 8
	cfg.Server.Listen = ":50061"
	cfg.Server.Coordinator = "localhost:50061"
	cfg.Metrics.Port = 9090
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// loadConfig reads path over the defaults. An empty path returns the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// Validate checks the values every mode depends on.
func (c *Config) Validate() error {
	switch {
	case c.Grid.AgeGroups <= 0 || c.Grid.TimeSteps <= 0:
		return fmt.Errorf("%w: grid %dx%d", types.ErrInvalidArgument, c.Grid.AgeGroups, c.Grid.TimeSteps)
	case c.Workers.Count <= 0:
		return fmt.Errorf("%w: workers.count must be positive, got %d", types.ErrInvalidArgument, c.Workers.Count)
	case c.Workers.StepDelay < 0 || c.Scheduler.StallTimeout < 0:
		return fmt.Errorf("%w: durations must not be negative", types.ErrInvalidArgument)
	case c.Exchange.NumChunks < 0 || c.Exchange.ChunkSize <= 0:
		return fmt.Errorf("%w: exchange %dx%d", types.ErrInvalidArgument, c.Exchange.NumChunks, c.Exchange.ChunkSize)
	case c.Exchange.NumChunks > 0 && c.Exchange.NumChunks < c.requiredChunks():
		return fmt.Errorf("%w: exchange.num_chunks %d, a %dx%d grid writes %d cells",
			types.ErrInvalidArgument, c.Exchange.NumChunks, c.Grid.AgeGroups, c.Grid.TimeSteps, c.requiredChunks())
	case c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535):
		return fmt.Errorf("%w: metrics.port %d", types.ErrInvalidArgument, c.Metrics.Port)
	case !logging.ValidFormat(c.Log.Format):
		return fmt.Errorf("%w: log.format %q", types.ErrInvalidArgument, c.Log.Format)
	}
	return nil
}

// cellWidth is the row width of the cohort-step table in the exchange: one row
// per task, one column per age slot.
func (c *Config) cellWidth() int {
	return c.Grid.AgeGroups
}

// requiredChunks is one chunk per cell of the (A+T-1) x A table.
func (c *Config) requiredChunks() int {
	return (c.Grid.AgeGroups + c.Grid.TimeSteps - 1) * c.cellWidth()
}

// numChunks returns the configured chunk count, or the table size when unset.
func (c *Config) numChunks() int {
	if c.Exchange.NumChunks == 0 {
		return c.requiredChunks()
	}
	return c.Exchange.NumChunks
}
