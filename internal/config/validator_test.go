package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "engine.workers", Value: 0, Message: "must be at least 1"}
	if got, want := err.Error(), "engine.workers: must be at least 1 (got: 0)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	if got := ValidationErrors(nil).Error(); got != "" {
		t.Errorf("empty Error() = %q", got)
	}
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	got := errs.Error()
	if !strings.HasPrefix(got, "2 validation errors:") || !strings.Contains(got, "2. b: worse") {
		t.Errorf("Error() = %q", got)
	}
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("Default().Validate() = %v, want none", errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"empty name", func(c *Config) { c.Engine.Name = " " }, "engine.name"},
		{"zero workers", func(c *Config) { c.Engine.Workers = 0 }, "engine.workers"},
		{"negative queue", func(c *Config) { c.Engine.QueueCapacity = -1 }, "engine.queue_capacity"},
		{"unknown pool kind", func(c *Config) { c.Engine.PoolKind = "elastic" }, "engine.pool_kind"},
		{"negative prewarm", func(c *Config) { c.Engine.PrewarmTasks = -3 }, "engine.prewarm_tasks"},
		{"negative history", func(c *Config) { c.Engine.HistoryCapacity = -1 }, "engine.history_capacity"},
		{"negative shutdown wait", func(c *Config) { c.Engine.ShutdownWait = -time.Second }, "engine.shutdown_wait"},
		{"monitor period too short", func(c *Config) { c.Monitor.Period = time.Millisecond }, "monitor.period"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad metrics address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Address = "2112"
		}, "metrics.address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 || errs[0].Field != tt.field {
				t.Errorf("Validate() = %v, want one error on %s", errs, tt.field)
			}
		})
	}
}

func TestConfig_Validate_DisabledSectionsSkipped(t *testing.T) {
	cfg := Default()
	cfg.Monitor.Enabled = false
	cfg.Monitor.Period = 0
	cfg.Metrics.Address = "not an address"

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v, want none for disabled sections", errs)
	}
}
