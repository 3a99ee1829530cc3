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

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"autograder/internal/config"
	"autograder/internal/db"
	httpapi "autograder/internal/http"
	"autograder/internal/ingest"
	"autograder/internal/llm"
	"autograder/internal/logger"
	"autograder/internal/memstore"
	"autograder/internal/metrics"
	"autograder/internal/migrations"
	"autograder/internal/qa"
	"autograder/internal/storage"
	"autograder/internal/worker"
)

// apiStore is what the API and, in memory mode, the inline runner need.
type apiStore interface {
	httpapi.Store
	ingest.Store
	qa.Store
}

type dispatcher interface {
	httpapi.Dispatcher
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("api exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	mx := metrics.New()

	var (
		store apiStore
		disp  dispatcher
		ping  func(context.Context) error
	)
	switch cfg.Store.Driver {
	case config.DriverMemory:
		mem := memstore.New()
		store = mem
		runner := newRunner(cfg, mem, mx, log)
		disp = worker.NewLocal(runner, log)
		log.Warn("using in-memory store; data is lost on exit and runs execute in-process")
	default:
		if cfg.Database.Migrate {
			if err := migrations.Run(cfg.Database.URL, log); err != nil {
				return err
			}
		}
		dbx, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer dbx.Close()
		store = db.NewStore(dbx)
		ping = dbx.PingContext
		d := worker.NewDispatcher(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		disp = d
	}
	defer func() {
		if err := disp.Close(); err != nil {
			log.Warn("close dispatcher", zap.Error(err))
		}
	}()

	var archive ingest.Archiver
	if cfg.S3.Enabled {
		s3c, err := storage.New(ctx, storage.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		}, log)
		if err != nil {
			return err
		}
		if err := s3c.EnsureBucket(ctx); err != nil {
			return err
		}
		archive = s3c
	}

	srv := httpapi.NewServer(cfg.HTTP.Addr, httpapi.Deps{
		Store:          store,
		Ingest:         ingest.NewService(store, archive, log),
		Dispatcher:     disp,
		Log:            log,
		APIToken:       cfg.HTTP.APIToken,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		Ping:           ping,
		Metrics:        mx,
	})
	if cfg.HTTP.ReadHeaderTimeout > 0 {
		srv.ReadHeaderTimeout = cfg.HTTP.ReadHeaderTimeout
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", cfg.HTTP.Addr), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("api stopped")
	return nil
}

func newRunner(cfg *config.Config, store qa.Store, mx *metrics.Metrics, log *zap.Logger) *qa.Runner {
	oracle := llm.New(llm.Config{
		BaseURL:           cfg.Oracle.BaseURL,
		APIKey:            cfg.Oracle.APIKey,
		Timeout:           cfg.Oracle.Timeout,
		RequestsPerSecond: cfg.Oracle.RequestsPerSecond,
		Burst:             cfg.Oracle.Burst,
		Temperature:       cfg.Oracle.Temperature,
	}, log)
	return qa.NewRunner(store, oracle,
		qa.WithConcurrency(cfg.Runner.Concurrency),
		qa.WithRetryPolicy(cfg.Runner.RetryPolicy()),
		qa.WithEvents(qa.MultiSink{qa.LogSink(log), mx}),
		qa.WithLogger(log),
	)
}
