package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/deskhub/pkg/config"
	"github.com/deskhub/pkg/database"
	"github.com/deskhub/pkg/logging"
	"github.com/deskhub/pkg/server"
	"github.com/deskhub/pkg/utils"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded by the root command before any subcommand runs
	configs *config.Config
	log     *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deskhub",
		Short: "deskhub keeps messaging channels connected and turns their traffic into tickets",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envLoaded := utils.LoadEnv()
			configs = config.Load(cfgFile)
			if logLevel != "" {
				configs.Log.Level = logLevel
			}
			log = logging.New(nil, configs.Log.Level)
			if !envLoaded {
				log.Info().Msg(".env file not found, using system environment variables")
			}
			if err := configs.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "./config.yaml", "config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, silent)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the session supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			database.InitDB(configs.Database, log)
			return nil
		},
	}
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database.InitDB(configs.Database, log)
	return server.LaunchHttpServer(ctx, configs, log)
}

// StartApp runs the command line and returns its error.
func StartApp() error {
	return newRootCmd().ExecuteContext(context.Background())
}
