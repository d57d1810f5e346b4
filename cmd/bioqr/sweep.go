package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/bioqr/internal/repository/sqldb"
	"github.com/sakif/bioqr/internal/service"
)

func newSweepCommand(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions and QR tokens once",
		Long: `Run one cleanup pass and exit. Useful from cron when the server runs
with several replicas, or to reclaim space after downtime.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := st.load()
			if err != nil {
				return err
			}
			defer closer.Close()

			db, err := sqldb.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := service.NewSweeper(db, db, cfg.Sweep.Interval, logger).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d sessions and %d QR tokens\n", res.Sessions, res.QRTokens)
			return nil
		},
	}
}
