package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dexcom-ingest/internal/app"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize against Dexcom and store the token pair",
	Long: `Prints the Dexcom login URL, waits for the redirect URL to be pasted back and
exchanges the code for tokens. Run this once before starting the service
without a terminal attached.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.New(logger, cfg).Login(ctx); err != nil {
		logger.Error("login failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}
