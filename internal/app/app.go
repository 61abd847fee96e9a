// Package app wires the validation worker together: configuration, logger,
// database and migrations, object storage, signer, scanner, pipeline,
// enforcement, the NATS job consumer, and the metrics endpoint. It owns
// startup order and graceful shutdown.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-retry"

	"github.com/revsync/revsync/internal/bincheck"
	"github.com/revsync/revsync/internal/common"
	"github.com/revsync/revsync/internal/config"
	"github.com/revsync/revsync/internal/enforcement"
	"github.com/revsync/revsync/internal/extract"
	"github.com/revsync/revsync/internal/jobs"
	"github.com/revsync/revsync/internal/logging"
	"github.com/revsync/revsync/internal/pipeline"
	"github.com/revsync/revsync/internal/repositories/repomanager"
	"github.com/revsync/revsync/internal/scanner"
	"github.com/revsync/revsync/internal/signing"
	"github.com/revsync/revsync/internal/storage"
)

// App is the assembled validation worker.
type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	bus      *jobs.Bus
	pipeline *pipeline.Pipeline
}

// NewApp builds every component. Initial database and NATS connects are
// retried with backoff so the worker survives starting before its
// dependencies.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := repomanager.OpenDB(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	backoff := retry.WithMaxRetries(5, retry.NewExponential(time.Second))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			logger.Warn(ctx, "database not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	if err := repomanager.RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	repos := repomanager.NewPostgresRepositoryManager()

	store, err := storage.NewS3Storage(ctx, storage.S3Options{
		Region:       cfg.S3Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
		RootUser:     cfg.S3RootUser,
		RootPassword: cfg.S3RootPassword,
	})
	if err != nil {
		return nil, err
	}

	signer, err := signing.NewSigner(signing.Options{
		KeyB64:     cfg.SigningKeyB64,
		KeyPEM:     cfg.SigningKeyPEM,
		KeyID:      cfg.SigningKeyID,
		Production: cfg.IsProduction(),
	})
	if err != nil {
		return nil, err
	}
	if signer.Ephemeral() {
		logger.Warn(ctx, "EPHEMERAL SIGNING KEY IN USE: signatures will not verify after restart",
			"key_id", signer.KeyID())
	}

	var primary scanner.Scanner
	if cfg.ClamdAddr != "" {
		clamd := scanner.NewClamdScanner(cfg.ClamdAddr)
		if err := clamd.Ping(ctx); err != nil {
			logger.Warn(ctx, "clamd not reachable at startup", "addr", cfg.ClamdAddr, "error", err)
		}
		primary = clamd
	} else if cfg.RequireScanner {
		return nil, fmt.Errorf("no clamd address configured: %w", common.ErrScannerUnavailable)
	}

	enforcer := enforcement.NewService(db, repos, store, logger, enforcement.Options{
		ValidatedBucket:  cfg.ValidatedBucket,
		WarningThreshold: cfg.WarningThreshold,
		BanThreshold:     cfg.UploadBanThreshold,
		BanDuration:      cfg.UploadBanDuration,
	})

	p := pipeline.New(db, repos, store, signer, primary,
		extract.New(extract.Limits{
			MaxEntries:  cfg.MaxArchiveEntries,
			MaxFileSize: cfg.MaxEntrySize,
			MaxTotal:    cfg.MaxTotalSize,
			MaxRatio:    cfg.MaxCompressionRatio,
		}),
		bincheck.New(bincheck.Bounds{
			MinSize:      cfg.MinTuneSize,
			MaxSize:      cfg.MaxTuneSize,
			EntropyMin:   cfg.EntropyMin,
			EntropyMax:   cfg.EntropyMax,
			MaxNullRatio: cfg.MaxNullRatio,
		}),
		enforcer, logger, pipeline.Options{
			QuarantineBucket: cfg.QuarantineBucket,
			ValidatedBucket:  cfg.ValidatedBucket,
			MaxPackageSize:   cfg.MaxPackageSize,
			RequireScanner:   cfg.RequireScanner,
		})

	var bus *jobs.Bus
	if err := retry.Do(ctx, retry.WithMaxRetries(5, retry.NewExponential(time.Second)), func(ctx context.Context) error {
		bus, err = jobs.Connect(cfg.NatsURL, logger)
		if err != nil {
			logger.Warn(ctx, "nats not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("nats unreachable: %w", err)
	}

	return &App{config: cfg, logger: logger, db: db, bus: bus, pipeline: p}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startMetricsServer(ctx context.Context) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error(ctx, "metrics server error", "error", err)
		}
	}()
	return srv
}

// Run subscribes the validator queue and blocks until the context is
// cancelled or a signal arrives, then drains and shuts down.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting validation worker",
		"environment", app.config.Environment, "metrics_addr", app.config.MetricsAddr)

	app.initSignalHandler(cancelFunc)
	metricsSrv := app.startMetricsServer(ctx)

	sub, err := app.bus.SubscribeValidate(ctx, app.pipeline)
	if err != nil {
		return err
	}
	app.logger.Info(ctx, "validator queue subscribed",
		"subject", jobs.SubjectValidate, "queue", jobs.QueueValidators)

	<-ctx.Done()
	app.logger.Info(ctx, "shutting down")

	if err := sub.Unsubscribe(); err != nil {
		app.logger.Warn(ctx, "unsubscribe failed", "error", err)
	}
	app.bus.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn(ctx, "metrics server shutdown failed", "error", err)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "db close failed", "error", err)
	}
	return nil
}
