// Package cmd implements the CLI commands for allegro-watch.
package cmd

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mkrol/allegro-watch/internal/config"
	"github.com/mkrol/allegro-watch/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "allegro-watch",
	Short: "Watch Allegro saved searches for new listings",
	Long: "allegro-watch polls saved searches against the Allegro marketplace API, " +
		"detects newly listed items since the previous poll, and notifies about them.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format override (text, json)")

	cobra.CheckErr(viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level")))
	cobra.CheckErr(viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format")))

	viper.SetEnvPrefix("ALLEGRO_WATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(versionCommand())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the YAML config and applies flag/env overrides.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	if lvl := viper.GetString("logging.level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if format := viper.GetString("logging.format"); format != "" {
		cfg.Logging.Format = format
	}

	return cfg, logger.New(cfg.Logging.Level, cfg.Logging.Format), nil
}
