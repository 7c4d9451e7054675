package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
	"github.com/vovakirdan/wirechat-client/internal/log"
)

func main() {
	var (
		addr     string
		dbPath   string
		secret   string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "wirechat-sim",
		Short: "Local WireChat backend simulator for client development",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(logLevel)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(app.SimConfig{
				Addr:            addr,
				DatabasePath:    dbPath,
				JWTSecret:       secret,
				ShutdownTimeout: 5 * time.Second,
			}, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", addr).Msg("starting wirechat simulator")
			return application.Run(ctx)
		},
	}

	rootCmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	rootCmd.Flags().StringVar(&dbPath, "db", "wirechat-sim.db", "SQLite database path")
	rootCmd.Flags().StringVar(&secret, "secret", "dev-secret", "JWT signing secret")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
