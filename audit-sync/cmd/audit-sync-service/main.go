// Command audit-sync-service runs the field audit sync API and its
// maintenance tasks.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/blob"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/config"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/logging"
)

func main() {
	root := &cobra.Command{
		Use:           "audit-sync-service",
		Short:         "Offline sync and audit lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newCheckAttachmentsCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func openBlobs(ctx context.Context, cfg config.Config) (blob.Store, error) {
	switch cfg.BlobDriver {
	case "s3":
		return blob.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix)
	default:
		return blob.NewFSStore(cfg.BlobDir)
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	return logging.New(cfg.LogLevel)
}
