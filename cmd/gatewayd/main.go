package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"torrent-gateway/internal/app"
	"torrent-gateway/internal/config"
	"torrent-gateway/internal/store"
)

const defaultShutdownTimeout = 15 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "Multi-tenant BitTorrent gateway",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background maintenance scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		gw, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("initializing gateway: %w", err)
		}
		defer gw.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		gw.Run(ctx)

		srv := &http.Server{
			Addr:    gw.ListenAddr(),
			Handler: gw.Handler(),
		}

		errCh := make(chan error, 1)
		go func() {
			gw.Log().Info("listening", "addr", gw.ListenAddr())
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
			gw.Log().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return fmt.Errorf("serving: %w", err)
		}
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		// store.Open runs every pending migration before returning.
		s, err := store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		defer s.Close()

		fmt.Printf("database at %s is up to date\n", cfg.DBPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
