package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/bioqr/internal/server"
)

func newServeCommand(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Run the HTTP API server until SIGINT or SIGTERM.

Pending database migrations are applied on startup. Expired sessions and
QR tokens are swept in the background every sweep.interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := st.load()
			if err != nil {
				return err
			}
			defer closer.Close()

			srv, err := server.New(cmd.Context(), *cfg, logger)
			if err != nil {
				logger.Error("failed to create server", slog.String("error", err.Error()))
				return err
			}
			defer srv.Close()

			return srv.Start(cmd.Context())
		},
	}
}
