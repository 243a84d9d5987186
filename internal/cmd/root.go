// Package cmd implements the taskengine command line.
package cmd

import (
	"github.com/Swind/go-task-engine/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app carries state shared by subcommands of one invocation.
type app struct {
	v *viper.Viper
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"name":           "engine.name",
	"workers":        "engine.workers",
	"pool-kind":      "engine.pool_kind",
	"queue-capacity": "engine.queue_capacity",
	"prewarm":        "engine.prewarm_tasks",
	"log-jobs":       "engine.log_jobs",
	"shutdown-wait":  "engine.shutdown_wait",
	"monitor":        "monitor.enabled",
	"monitor-period": "monitor.period",
	"log-level":      "logging.level",
	"log-format":     "logging.format",
	"metrics":        "metrics.enabled",
	"metrics-addr":   "metrics.address",
}

// NewRootCommand builds the taskengine command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "taskengine",
		Short: "Asynchronous job execution engine",
		Long: `taskengine runs jobs on a bounded worker pool and delivers their
outcomes to observers and callbacks on a main context or on the worker
that ran them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
	}

	// Global flags
	root.PersistentFlags().StringP("config", "c", "", "config file (YAML)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "log format (text, json)")

	root.AddCommand(newRunCommand(a), newConfigCommand(a))
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

func (a *app) initConfig(cmd *cobra.Command) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return err
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			_ = v.BindPFlag(key, f)
		}
	})
	a.v = v
	return nil
}

func (a *app) load() (*config.Config, error) {
	return config.LoadFrom(a.v)
}
