package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jack/qr-redirect-service/internal/config"
	"github.com/jack/qr-redirect-service/internal/logger"
)

// cli carries the configuration loaded before any subcommand runs.
type cli struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "qr-redirect",
		Short: "Dynamic QR code redirect and routing service",
		Long: `qr-redirect resolves dynamic QR short codes to their current destination,
applying expiry, scan limit and password gates and per-code routing rules.

Without a subcommand it runs the HTTP server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = logger.New(cfg.App.Env, cfg.Log.Level)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}

	root.AddCommand(
		newServeCmd(c),
		newMigrateCmd(c),
		newCreateCmd(c),
		newRuleCmd(c),
		newStatsCmd(c),
	)
	return root
}
