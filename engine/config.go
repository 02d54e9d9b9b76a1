package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tweenson/artificer/specialist"
)

const (
	defaultListen       = "127.0.0.1:8080"
	defaultDatabasePath = "artificer.db"
	defaultMemoryPath   = "memory"
)

// Duration wraps time.Duration for YAML configs written as "30s", "2m".
type Duration time.Duration

// UnmarshalYAML parses human-readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// TimeoutConfig bounds the engine's external waits.
type TimeoutConfig struct {
	// Generation bounds one specialist HTTP exchange.
	Generation Duration `yaml:"generation"`
	// ToolExecution bounds one in-process tool run.
	ToolExecution Duration `yaml:"tool_execution"`
	// ClientForward bounds the wait for a forwarded tool result.
	ClientForward Duration `yaml:"client_forward"`
}

// WorkerConfig tunes the background job worker.
type WorkerConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
}

// PipelineConfig tunes pipeline execution.
type PipelineConfig struct {
	MaxToolRounds   int `yaml:"max_tool_rounds"`
	OverloadRetries int `yaml:"overload_retries"`
}

// Config holds initialization parameters for all engine subsystems.
type Config struct {
	Listen       string                  `yaml:"listen"`
	DatabasePath string                  `yaml:"database_path"`
	MemoryPath   string                  `yaml:"memory_path"`
	Specialists  []specialist.Specialist `yaml:"specialists"`
	Timeouts     TimeoutConfig           `yaml:"timeouts"`
	Worker       WorkerConfig            `yaml:"worker"`
	Pipeline     PipelineConfig          `yaml:"pipeline"`
}

// DefaultConfig returns a Config with sensible defaults for all
// subsystems. Specialists have no default: the config file must name them.
func DefaultConfig() Config {
	return Config{
		Listen:       defaultListen,
		DatabasePath: defaultDatabasePath,
		MemoryPath:   defaultMemoryPath,
		Timeouts: TimeoutConfig{
			Generation:    Duration(2 * time.Minute),
			ToolExecution: Duration(30 * time.Second),
			ClientForward: Duration(45 * time.Second),
		},
		Worker: WorkerConfig{
			PollInterval: Duration(2 * time.Second),
		},
		Pipeline: PipelineConfig{
			MaxToolRounds:   8,
			OverloadRetries: 3,
		},
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Listen != "" {
		c.Listen = source.Listen
	}
	if source.DatabasePath != "" {
		c.DatabasePath = source.DatabasePath
	}
	if source.MemoryPath != "" {
		c.MemoryPath = source.MemoryPath
	}
	if len(source.Specialists) > 0 {
		c.Specialists = source.Specialists
	}
	if source.Timeouts.Generation > 0 {
		c.Timeouts.Generation = source.Timeouts.Generation
	}
	if source.Timeouts.ToolExecution > 0 {
		c.Timeouts.ToolExecution = source.Timeouts.ToolExecution
	}
	if source.Timeouts.ClientForward > 0 {
		c.Timeouts.ClientForward = source.Timeouts.ClientForward
	}
	if source.Worker.PollInterval > 0 {
		c.Worker.PollInterval = source.Worker.PollInterval
	}
	if source.Pipeline.MaxToolRounds > 0 {
		c.Pipeline.MaxToolRounds = source.Pipeline.MaxToolRounds
	}
	if source.Pipeline.OverloadRetries > 0 {
		c.Pipeline.OverloadRetries = source.Pipeline.OverloadRetries
	}
}

// LoadConfig reads a YAML config file, merges it with defaults, and
// returns the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
