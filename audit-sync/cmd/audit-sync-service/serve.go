package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/auth"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/config"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/governor"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/httpserver"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/journal"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/notify"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/reconciler"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/service"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/store"
)

func newServeCmd() *cobra.Command {
	var migrateFirst bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			return serve(cmd.Context(), cfg, migrateFirst)
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, migrateFirst bool) error {
	logger := newLogger(cfg)

	if migrateFirst {
		version, err := store.Migrate(cfg.DatabaseURL, "up", 0)
		if err != nil {
			return err
		}
		logger.WithField("version", version).Info("schema migrated")
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return fmt.Errorf("blob store init: %w", err)
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	notifier, closeNotifier, err := newNotifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("notifier init: %w", err)
	}
	defer closeNotifier()

	now := func() time.Time { return time.Now().UTC() }
	limits := governor.Limits{
		MaxFileBytes:   cfg.MaxAttachmentBytes,
		MaxPerResponse: cfg.MaxPerResponse,
		MaxPerAudit:    cfg.MaxPerAudit,
	}
	st := store.NewPGStore(db)
	mutator := service.NewMutator(journal.New(now), governor.New(limits), blobs, now)
	svc := service.New(st, mutator, notifier, blobs, logger)
	server := httpserver.New(cfg, svc, reconciler.New(svc, logger), verifier, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.Addr, "blob_driver": cfg.BlobDriver}).Info("audit sync service listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return waitForShutdown(httpServer, errCh, logger)
}

func waitForShutdown(srv *http.Server, errCh <-chan error, logger *logrus.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
		return err
	}
	logger.Info("audit sync service stopped")
	return nil
}

func newVerifier(cfg config.Config) (*auth.Verifier, error) {
	if cfg.JWTPublicKeyFile != "" {
		return auth.LoadKeyVerifier(cfg.JWTPublicKeyFile, cfg.JWTIssuer)
	}
	return auth.NewHMACVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer), nil
}

// newNotifier always logs events and also publishes them to Kafka when
// brokers are configured. Kafka delivery runs in the background so a broker
// outage never delays a response.
func newNotifier(cfg config.Config, logger *logrus.Logger) (notify.Notifier, func(), error) {
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if len(cfg.KafkaBrokers) == 0 {
		return notifiers, func() {}, nil
	}
	kafka, err := notify.NewKafkaNotifier(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
	if err != nil {
		return nil, nil, err
	}
	async := notify.NewAsync(kafka, logger, 256, 30*time.Second)
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := async.Close(ctx); err != nil {
			logger.WithError(err).Warn("pending notifications dropped")
		}
		if err := kafka.Close(); err != nil {
			logger.WithError(err).Warn("kafka writer close failed")
		}
	}
	return append(notifiers, async), closeFn, nil
}
