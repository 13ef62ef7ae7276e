package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jack/qr-redirect-service/internal/model"
)

func newCreateCmd(c *cli) *cobra.Command {
	var (
		req      model.CreateShortCodeRequest
		maxScans int64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a short code",
		Example: `  qr-redirect create --url "https://example.com/menu"
  qr-redirect create --url "https://example.com/promo" --expires-in 7d --max-scans 500`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if maxScans > 0 {
				req.MaxScans = &maxScans
			}

			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sc, err := a.service.CreateShortCode(cmd.Context(), &req)
			if err != nil {
				return err
			}

			resp := a.service.ToResponse(sc)
			fmt.Fprintf(cmd.OutOrStdout(), "Code:      %s\n", resp.ShortCode)
			fmt.Fprintf(cmd.OutOrStdout(), "Short URL: %s\n", resp.ShortURL)
			fmt.Fprintf(cmd.OutOrStdout(), "QR code:   %s\n", resp.QRCodeURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.URL, "url", "", "destination URL")
	cmd.Flags().StringVar(&req.Password, "password", "", "password required to resolve the code")
	cmd.Flags().StringVar(&req.ExpiresIn, "expires-in", "", "lifetime such as 24h or 7d")
	cmd.Flags().Int64Var(&maxScans, "max-scans", 0, "hard scan limit, 0 for none")
	cmd.Flags().StringVar(&req.OwnerID, "owner", "", "owner id")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}
