// Command bioqr runs the BioQR API server and its operator tooling.
//
//	bioqr serve              run the HTTP API (default when no command is given)
//	bioqr sweep              delete expired sessions and QR tokens once
//	bioqr config generate    write the default configuration as YAML
//	bioqr user add           create a local account from the terminal
//
// Configuration comes from defaults, then config.yaml (or --config /
// BIOQR_CONFIG), then BIOQR_* environment variables. A .env file in the
// working directory is loaded into the environment first.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sakif/bioqr/internal/config"
	"github.com/sakif/bioqr/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// cliState is shared by every subcommand through closures.
type cliState struct {
	configPath string
	v          *viper.Viper
}

func newRootCommand() *cobra.Command {
	st := &cliState{v: viper.New()}

	cmd := &cobra.Command{
		Use:           "bioqr",
		Short:         "BioQR file sharing API",
		Long:          "BioQR stores user files and shares them through short-lived QR links.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadDotEnv()
			if st.configPath == "" {
				st.configPath = os.Getenv("BIOQR_CONFIG")
			}
		},
	}

	cmd.PersistentFlags().StringVar(&st.configPath, "config", "", "config file (default ./config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = st.v.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))

	serve := newServeCommand(st)
	cmd.RunE = serve.RunE

	cmd.AddCommand(
		serve,
		newSweepCommand(st),
		newConfigCommand(),
		newUserCommand(st),
	)
	return cmd
}

// load reads and validates the configuration and builds the logger. The
// returned closer flushes the log file, if any.
func (st *cliState) load() (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.LoadWith(st.v, st.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closer, nil
}
