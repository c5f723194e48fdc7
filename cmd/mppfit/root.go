package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/mppfit/internal/config"
)

var (
	logLevel   string
	configPath string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mppfit",
	Short: "Marked point process segmentation",
	Long: `mppfit segments images by sampling configurations of geometric marks
(points, circles, ellipses) with an annealed birth-death-refine sampler.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stdout, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Run configuration file (YAML or JSON)")
}

// loadConfig reads the configuration file named by --config, applies
// MPP_* environment overrides and validates the result
func loadConfig() (config.RunConfig, error) {
	return config.Load(configPath)
}
