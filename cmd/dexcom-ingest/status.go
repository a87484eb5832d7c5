package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dexcom-ingest/internal/adapter/filestore"
	"dexcom-ingest/internal/config"
	"dexcom-ingest/internal/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored credential expiry and cursor position",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadState(cfgFile)
	if err != nil {
		return err
	}
	now := time.Now()
	out := cmd.OutOrStdout()

	tokens := filestore.NewTokenStore(cfg.State.TokensFile)
	if cred, ok := tokens.Load(); ok {
		state := "valid"
		if cred.Expired(now) {
			state = "expired, will refresh on next run"
		}
		fmt.Fprintf(out, "Credential:  %s (%s, expires %s)\n", tokens.Path(), state, humanize.Time(cred.ExpiresAt))
	} else {
		fmt.Fprintf(out, "Credential:  %s (missing, run `dexcom-ingest login`)\n", tokens.Path())
	}

	cursors := filestore.NewCursorStore(cfg.State.CursorFile)
	cursor := cursors.Load()
	if cursor.Equal(time.Unix(0, 0).UTC()) {
		fmt.Fprintf(out, "Cursor:      %s (not started)\n", cursors.Path())
	} else {
		fmt.Fprintf(out, "Cursor:      %s (%s, %s)\n", cursors.Path(), cursor.Format(domain.TimeLayout), humanize.Time(cursor))
	}
	fmt.Fprintf(out, "Sink:        %s -> %s\n", cfg.Sink.Kind, cfg.Sink.Target)
	return nil
}
