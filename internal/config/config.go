// Package config provides configuration management for the flexran-rtc
// controller. It implements memory-efficient struct layouts and
// comprehensive validation, grounded on the conventions of the teacher
// project's own config package: fields ordered by size to minimize
// padding, yaml tags throughout, a Load-then-setDefaults pipeline, and a
// Validate pass run once at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the controller's top-level configuration, with its four
// concerns (agent listener, HTTP API, scheduler, RIB/loader) laid out as
// nested structs in the same style as the teacher's Server/Database/Redis
// split.
type Config struct {
	Agent     AgentListenerConfig `yaml:"agent"`
	HTTP      HTTPConfig          `yaml:"http"`
	Scheduler SchedulerConfig     `yaml:"scheduler"`
	RIB       RIBConfig           `yaml:"rib"`
	Loader    LoaderConfig        `yaml:"loader"`

	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// AgentListenerConfig contains the TCP listener agents connect to.
type AgentListenerConfig struct {
	// Duration fields first
	AcceptRetryDelay time.Duration `yaml:"accept_retry_delay"`

	// Integer fields
	RunBudget      int `yaml:"run_budget"`
	SendQueueDepth int `yaml:"send_queue_depth"`
	EventQueueSize int `yaml:"event_queue_size"`

	// String fields last
	Listen string `yaml:"listen"`
}

// HTTPConfig contains northbound HTTP API configuration.
type HTTPConfig struct {
	// Duration fields first
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`

	// Integer fields
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// String fields
	Listen string `yaml:"listen"`

	// Boolean fields last
	EnableTLS bool `yaml:"enable_tls"`
}

// SchedulerConfig contains the remote MAC scheduler app's configuration.
type SchedulerConfig struct {
	// Duration fields first
	TickInterval time.Duration `yaml:"tick_interval"`

	// Integer fields
	ScheduleAhead int `yaml:"schedule_ahead"`
	TargetDLMCS   int `yaml:"target_dl_mcs"`

	// String fields last
	Algorithm string `yaml:"algorithm"`
}

// RIBConfig contains RIB inactivity/liveness thresholds.
type RIBConfig struct {
	// Duration fields first
	InactivityThreshold time.Duration `yaml:"inactivity_threshold"`
}

// LoaderConfig contains the netstore loader's retry behavior.
type LoaderConfig struct {
	// Duration fields first
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
}

// Load reads and parses configuration from the specified file. A missing
// file is not an error: Default()'s values are used as-is, the same
// fallback the DU/CU/RU mains use when their own config path is absent.
func Load(filepath string) (*Config, error) {
	cfg := Default()
	if filepath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read configuration file %s: %w", filepath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", filepath, err)
	}

	cfg.setDefaults()
	return cfg, nil
}

// Default returns a Config with every field populated to a
// production-reasonable value.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults fills any zero-valued field with its default, so a
// partially-specified YAML file still produces a fully usable Config.
func (c *Config) setDefaults() {
	if c.Agent.Listen == "" {
		c.Agent.Listen = ":2210"
	}
	if c.Agent.RunBudget == 0 {
		c.Agent.RunBudget = 350
	}
	if c.Agent.SendQueueDepth == 0 {
		c.Agent.SendQueueDepth = 256
	}
	if c.Agent.EventQueueSize == 0 {
		c.Agent.EventQueueSize = 4096
	}
	if c.Agent.AcceptRetryDelay == 0 {
		c.Agent.AcceptRetryDelay = time.Second
	}

	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 10 * time.Second
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.HTTP.HandlerTimeout == 0 {
		c.HTTP.HandlerTimeout = 10 * time.Second
	}
	if c.HTTP.MaxHeaderBytes == 0 {
		c.HTTP.MaxHeaderBytes = 1 << 20
	}

	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = time.Millisecond
	}
	if c.Scheduler.TargetDLMCS == 0 {
		c.Scheduler.TargetDLMCS = 28
	}
	if c.Scheduler.Algorithm == "" {
		c.Scheduler.Algorithm = "round_robin"
	}
	// ScheduleAhead's zero value (0) is itself valid — "schedule the very
	// next eligible subframe" — so it is intentionally not defaulted.

	if c.RIB.InactivityThreshold == 0 {
		c.RIB.InactivityThreshold = 1500 * time.Millisecond
	}

	if c.Loader.InitialInterval == 0 {
		c.Loader.InitialInterval = 500 * time.Millisecond
	}
	if c.Loader.MaxInterval == 0 {
		c.Loader.MaxInterval = 10 * time.Second
	}
	if c.Loader.MaxElapsedTime == 0 {
		c.Loader.MaxElapsedTime = time.Minute
	}
	if c.Loader.HTTPTimeout == 0 {
		c.Loader.HTTPTimeout = 30 * time.Second
	}

	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := c.validateAgent(); err != nil {
		return fmt.Errorf("agent configuration error: %w", err)
	}
	if err := c.validateHTTP(); err != nil {
		return fmt.Errorf("http configuration error: %w", err)
	}
	if err := c.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler configuration error: %w", err)
	}
	return nil
}

func (c *Config) validateAgent() error {
	if c.Agent.Listen == "" {
		return fmt.Errorf("agent listen address cannot be empty")
	}
	if c.Agent.RunBudget <= 0 {
		return fmt.Errorf("run budget must be positive")
	}
	if c.Agent.SendQueueDepth <= 0 {
		return fmt.Errorf("send queue depth must be positive")
	}
	return nil
}

func (c *Config) validateHTTP() error {
	if c.HTTP.Listen == "" {
		return fmt.Errorf("http listen address cannot be empty")
	}
	if c.HTTP.HandlerTimeout <= 0 {
		return fmt.Errorf("handler timeout must be positive")
	}
	if c.HTTP.MaxHeaderBytes <= 0 {
		return fmt.Errorf("max header bytes must be positive")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.ScheduleAhead < 0 {
		return fmt.Errorf("schedule_ahead must be >= 0")
	}
	if c.Scheduler.TargetDLMCS < 0 || c.Scheduler.TargetDLMCS > 28 {
		return fmt.Errorf("target_dl_mcs must be in [0, 28]")
	}
	switch c.Scheduler.Algorithm {
	case "round_robin", "proportional_fair", "max_throughput":
	default:
		return fmt.Errorf("unknown scheduler algorithm %q", c.Scheduler.Algorithm)
	}
	return nil
}
