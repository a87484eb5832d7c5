package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dexcom-ingest/internal/app"
)

var httpAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll Dexcom and forward readings to the sink until interrupted",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&httpAddr, "http", "", "Address for the /healthz and /status server (overrides HTTP_ADDR)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		return err
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}

	application := app.New(logger, cfg)
	defer application.Close()

	// Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.HTTP.Addr != "" {
		srv := application.HTTPServer(cfg.HTTP.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	err = application.Run(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	logger.Error("poll loop stopped", slog.String("error", err.Error()))
	return err
}
