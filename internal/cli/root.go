// Package cli implements the aegis command line.
package cli

import (
	"os"

	"github.com/nidhogg/aegis-council/internal/config"
	"github.com/nidhogg/aegis-council/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	logLevel   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "aegis",
	Short:         "Regenerative memory and scoring council",
	Long:          "Aegis runs a council of analysis agents over transactions and telemetry, keeping a self-healing memory of what they saw.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file, JSON or YAML (default: $AEGIS_CONFIG, else built-in defaults)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

// loadConfig reads the config file named by --config or $AEGIS_CONFIG, or
// returns the defaults when neither is set.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("AEGIS_CONFIG")
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Server.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	return logging.New(level, cfg.Server.Dev)
}
