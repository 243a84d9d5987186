// Package config loads taskengine settings from file, environment and flags.
package config

import (
	"io"
	"strings"
	"time"

	"github.com/Swind/go-task-engine/core"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. TASKENGINE_ENGINE_WORKERS.
const EnvPrefix = "TASKENGINE"

// Config is the top-level configuration.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// EngineConfig configures the execution engine.
type EngineConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Workers is the number of pool workers.
	Workers int `mapstructure:"workers" yaml:"workers"`
	// QueueCapacity bounds the ready queue (0 = unbounded).
	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	// PoolKind is "fixed" or "scheduled".
	PoolKind string `mapstructure:"pool_kind" yaml:"pool_kind"`
	// PrewarmTasks seeds the task pool.
	PrewarmTasks    int  `mapstructure:"prewarm_tasks" yaml:"prewarm_tasks"`
	HistoryCapacity int  `mapstructure:"history_capacity" yaml:"history_capacity"`
	LogJobs         bool `mapstructure:"log_jobs" yaml:"log_jobs"`
	// ShutdownWait is the grace period for running jobs; floored at one second.
	ShutdownWait time.Duration `mapstructure:"shutdown_wait" yaml:"shutdown_wait"`
}

// MonitorConfig configures the periodic pool monitor.
type MonitorConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Period  time.Duration `mapstructure:"period" yaml:"period"`
}

// LoggingConfig configures the engine logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// Format is "text" or "json".
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Address   string `mapstructure:"address" yaml:"address"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Name:            "taskengine",
			Workers:         4,
			QueueCapacity:   0,
			PoolKind:        core.PoolScheduled.String(),
			PrewarmTasks:    0,
			HistoryCapacity: 100,
			LogJobs:         true,
			ShutdownWait:    5 * time.Second,
		},
		Monitor: MonitorConfig{
			Enabled: true,
			Period:  time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Address:   ":2112",
			Namespace: "taskengine",
		},
	}
}

// SetDefaults registers default values with the global viper instance
func SetDefaults() {
	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	defaults := Default()

	// Engine defaults
	v.SetDefault("engine.name", defaults.Engine.Name)
	v.SetDefault("engine.workers", defaults.Engine.Workers)
	v.SetDefault("engine.queue_capacity", defaults.Engine.QueueCapacity)
	v.SetDefault("engine.pool_kind", defaults.Engine.PoolKind)
	v.SetDefault("engine.prewarm_tasks", defaults.Engine.PrewarmTasks)
	v.SetDefault("engine.history_capacity", defaults.Engine.HistoryCapacity)
	v.SetDefault("engine.log_jobs", defaults.Engine.LogJobs)
	v.SetDefault("engine.shutdown_wait", defaults.Engine.ShutdownWait)

	// Monitor defaults
	v.SetDefault("monitor.enabled", defaults.Monitor.Enabled)
	v.SetDefault("monitor.period", defaults.Monitor.Period)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	// Metrics defaults
	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.address", defaults.Metrics.Address)
	v.SetDefault("metrics.namespace", defaults.Metrics.Namespace)
}

// ConfigureEnv enables TASKENGINE_* environment overrides on v.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	// e.g. TASKENGINE_ENGINE_POOL_KIND for engine.pool_kind
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from the global viper instance
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// NewViper returns a viper instance with defaults and env overrides applied,
// reading cfgFile when it is non-empty.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	ConfigureEnv(v)
	if cfgFile == "" {
		return v, nil
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

// EngineConfig builds a core.EngineConfig; handlers not expressible in the
// file (metrics, main context, reporters) are supplied by the caller.
func (c *Config) EngineConfig(logger core.Logger) *core.EngineConfig {
	kind, err := core.ParsePoolKind(c.Engine.PoolKind)
	if err != nil {
		kind = core.PoolScheduled
	}
	logJobs := c.Engine.LogJobs
	return &core.EngineConfig{
		Name:            c.Engine.Name,
		Workers:         c.Engine.Workers,
		QueueCapacity:   c.Engine.QueueCapacity,
		PoolKind:        kind,
		Logger:          logger,
		LogJobs:         &logJobs,
		PrewarmTasks:    c.Engine.PrewarmTasks,
		HistoryCapacity: c.Engine.HistoryCapacity,
	}
}

// NewLogger builds the engine logger described by the logging section.
// A nil w writes to stderr.
func (c *Config) NewLogger(w io.Writer) core.Logger {
	return core.NewDefaultLogger(w, c.Logging.Level, c.Logging.Format == "json")
}
