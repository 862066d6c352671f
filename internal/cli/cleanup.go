package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/longnt/sage/internal/config"
	"github.com/longnt/sage/pkg/session"
	"github.com/longnt/sage/pkg/store"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale sessions",
	Long: `Remove sessions idle longer than the retention window and print how
many were removed. Use --days to override the configured retention.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "idle threshold in days (default: configured retention)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	days := cleanupDays
	if days <= 0 {
		days = cfg.Session.RetentionDays
	}

	st, err := store.Open(cfg.Session.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer st.Close()

	sessions, err := session.NewManager(st, session.Config{
		Retention:    time.Duration(cfg.Session.RetentionDays) * 24 * time.Hour,
		HistoryLimit: cfg.Session.HistoryLimit,
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	removed, err := sessions.EvictStale(context.Background(), time.Duration(days)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale sessions (idle > %d days)\n", removed, days)
	return nil
}
