package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/config"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/store"
)

func newMigrateCmd() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Read()
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL or AUDIT_SYNC_DATABASE_URL required")
			}
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			version, err := store.Migrate(cfg.DatabaseURL, direction, steps)
			if err != nil {
				return err
			}
			newLogger(cfg).WithField("version", version).Info("schema migrated")
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "move this many versions (negative rolls back) instead of going all the way")
	return cmd
}
