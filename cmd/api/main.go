package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carbonease-backend/bootstrap"
	creditsvc "carbonease-backend/internal/application/credits"
	"carbonease-backend/internal/config"
	"carbonease-backend/internal/infrastructure/database"
	"carbonease-backend/internal/interfaces/router"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	serve := serveCmd()
	rootCmd := &cobra.Command{
		Use:     "carbonease",
		Short:   "Carbonease carbon credit marketplace API",
		Version: Version,
		RunE:    serve.RunE,
	}
	rootCmd.Flags().AddFlagSet(serve.Flags())
	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	bootstrap.SetupLogging(cfg)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the listing expiry sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is required")
			}

			ctx := context.Background()
			deps, closeDeps, err := bootstrap.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDeps()

			app, services, err := router.CreateApp(cfg, deps)
			if err != nil {
				return fmt.Errorf("app create: %w", err)
			}

			sweep, err := creditsvc.NewExpiryScheduler(services.Credits, cfg.ExpirySweepSchedule)
			if err != nil {
				return fmt.Errorf("expiry schedule %q: %w", cfg.ExpirySweepSchedule, err)
			}
			sweep.Start()
			defer sweep.Stop()

			go func() {
				log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server running")
				if err := app.Listen(":" + cfg.Port); err != nil {
					log.Fatal().Err(err).Msg("listen")
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			log.Info().Msg("shutting down server")
			if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("forced shutdown")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := bootstrap.OpenDatabase(cfg)
			if err != nil {
				return err
			}
			if err := database.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info().Str("dialect", db.Dialector.Name()).Msg("schema up to date")
			return nil
		},
	}
}
