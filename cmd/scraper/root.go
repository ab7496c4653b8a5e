package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/config"
	"github.com/maltedev/retail-scraper/internal/logging"
)

// env is filled by the root command before any subcommand runs.
type env struct {
	configFile string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{}

	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Location-aware retail product scraper",
		Long: `scraper pins a browser session to a delivery zipcode, searches a retail
site and extracts normalized product records, pacing every request through a
per-site rate governor and reusing location cookies between runs.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(e.configFile)
			if err != nil {
				return err
			}
			if e.logLevel != "" {
				cfg.Logging.Level = e.logLevel
			}
			if e.logFormat != "" {
				cfg.Logging.Format = e.logFormat
			}

			logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			e.cfg, e.logger = cfg, logger
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&e.configFile, "config", "", "config file (YAML); SCRAPER_* env vars override it")
	cmd.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&e.logFormat, "log-format", "", "log format (json, console)")

	cmd.AddCommand(newScrapeCmd(e))
	cmd.AddCommand(newServeCmd(e))
	cmd.AddCommand(newSessionsCmd(e))

	return cmd
}
