package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"dexcom-ingest/internal/config"
)

var (
	cfgFile string
	verbose bool
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dexcom-ingest",
	Short: "Stream Dexcom glucose readings into a search index or database",
	Long: `dexcom-ingest authorizes against the Dexcom API once, then walks the account's
EGV history forward in fixed time windows and writes every reading to the
configured sink. Progress is kept in a cursor file so restarts resume where
the previous run stopped.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (environment variables override it)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

// loadConfig loads and validates the full configuration.
func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}
