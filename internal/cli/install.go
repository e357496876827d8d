package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"finanzgw/internal/finanzgw"
	"finanzgw/internal/logging"
)

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install and activate the configured cache version, then exit",
		Long:  "Fetches every static asset into the bucket of the configured version and purges older buckets. Exits non-zero when any asset cannot be fetched.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := configFromContext(ctx)

			storage, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer storage.Close()

			svc, err := finanzgw.NewService(cfg, finanzgw.Options{
				Storage: storage,
				Logger:  logging.FromContext(ctx),
			})
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Update(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s active\n", svc.ActiveVersion())
			return nil
		},
	}
}
