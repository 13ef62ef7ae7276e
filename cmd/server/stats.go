package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <code>",
		Short: "Show scan statistics for a code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.service.GetStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Code:         %s\n", stats.ShortCode)
			fmt.Fprintf(out, "Destination:  %s\n", stats.Destination)
			fmt.Fprintf(out, "Scans:        %d\n", stats.ScanCount)
			if stats.MaxScans != nil {
				fmt.Fprintf(out, "Scan limit:   %d\n", *stats.MaxScans)
			}
			if stats.LastScannedAt != nil {
				fmt.Fprintf(out, "Last scanned: %s\n", stats.LastScannedAt.Format(time.RFC3339))
			}
			if stats.ExpiresAt != nil {
				fmt.Fprintf(out, "Expires:      %s (expired: %t)\n", stats.ExpiresAt.Format(time.RFC3339), stats.Expired)
			}
			fmt.Fprintf(out, "Protected:    %t\n", stats.Protected)
			fmt.Fprintf(out, "Active rules: %d\n", stats.ActiveRules)
			return nil
		},
	}
}
