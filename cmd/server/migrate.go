package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Long: `Applies the embedded goose migrations on Postgres, or the gorm schema
migration on sqlite and MySQL, then exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			c.logger.Info().Str("driver", c.cfg.Storage.Driver).Msg("migrations applied")
			return nil
		},
	}
}
