package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/velora-app/callkit/internal/config"
	"github.com/velora-app/callkit/internal/log"
)

var (
	flagConfig   string
	flagLogLevel string

	cfg    config.Config
	logger *zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "callkit",
	Short:         "Velora call signaling toolkit",
	Long:          "callkit bundles the Velora call-session client and a local signaling dev server.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		bootstrap := log.New(flagLogLevel)

		loaded, path, err := config.Load(bootstrap, flagConfig)
		if err != nil {
			return err
		}
		cfg = loaded
		if flagLogLevel != "" {
			cfg.LogLevel = flagLogLevel
		}
		logger = log.New(cfg.LogLevel)
		logger.Debug().Str("config", path).Msg("configuration loaded")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (default callkit.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}
