// Command deepscand runs the deepscan daemon: the worker pool, the HTTP API
// and the cache sweeper.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"deepscan/internal/config"
	"deepscan/internal/daemonrun"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newDaemonCommand().ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func newDaemonCommand() *cobra.Command {
	var (
		configPath  string
		envFile     string
		logLevel    string
		development bool
	)

	cmd := &cobra.Command{
		Use:           "deepscand",
		Short:         "Run the deepscan detection daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnv(envFile); err != nil {
				return err
			}
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load environment overrides from this file (default .env when present)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&development, "dev", false, "Development logging with source locations")
	return cmd
}

// loadEnv reads an explicit env file strictly; the implicit .env is optional.
func loadEnv(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	_ = godotenv.Load()
	return nil
}
