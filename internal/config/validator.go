package config

import (
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/Swind/go-task-engine/core"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "engine.workers")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log formats
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateEngine()...)
	errors = append(errors, c.validateMonitor()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateMetrics()...)

	return errors
}

func (c *Config) validateEngine() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Engine.Name) == "" {
		errors = append(errors, ValidationError{
			Field:   "engine.name",
			Value:   c.Engine.Name,
			Message: "must not be empty",
		})
	}
	if c.Engine.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "engine.workers",
			Value:   c.Engine.Workers,
			Message: "must be at least 1",
		})
	}
	if c.Engine.QueueCapacity < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.queue_capacity",
			Value:   c.Engine.QueueCapacity,
			Message: "must be non-negative (0 = unbounded)",
		})
	}
	if _, err := core.ParsePoolKind(c.Engine.PoolKind); err != nil {
		errors = append(errors, ValidationError{
			Field:   "engine.pool_kind",
			Value:   c.Engine.PoolKind,
			Message: "must be one of: fixed, scheduled",
		})
	}
	if c.Engine.PrewarmTasks < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.prewarm_tasks",
			Value:   c.Engine.PrewarmTasks,
			Message: "must be non-negative",
		})
	}
	if c.Engine.HistoryCapacity < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.history_capacity",
			Value:   c.Engine.HistoryCapacity,
			Message: "must be non-negative",
		})
	}
	if c.Engine.ShutdownWait < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.shutdown_wait",
			Value:   c.Engine.ShutdownWait,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateMonitor() []ValidationError {
	if c.Monitor.Enabled && c.Monitor.Period < 10*time.Millisecond {
		return []ValidationError{{
			Field:   "monitor.period",
			Value:   c.Monitor.Period,
			Message: "must be at least 10ms when the monitor is enabled",
		}}
	}
	return nil
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if !slices.Contains(ValidLogFormats(), c.Logging.Format) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateMetrics() []ValidationError {
	if !c.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
		return []ValidationError{{
			Field:   "metrics.address",
			Value:   c.Metrics.Address,
			Message: "must be a host:port listen address",
		}}
	}
	return nil
}
