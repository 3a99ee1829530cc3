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
	"autograder/internal/llm"
	"autograder/internal/logger"
	"autograder/internal/metrics"
	"autograder/internal/qa"
	"autograder/internal/worker"
)

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
		log.Fatal("worker exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.Store.Driver == config.DriverMemory {
		return errors.New("the worker needs store.driver=postgres; memory mode runs evaluations inside the api process")
	}
	dbx, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer dbx.Close()
	store := db.NewStore(dbx)

	mx := metrics.New()
	if cfg.Runner.MetricsAddr != "" {
		msrv := &http.Server{Addr: cfg.Runner.MetricsAddr, Handler: metricsMux(mx), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = msrv.Shutdown(sctx)
		}()
	}

	oracle := llm.New(llm.Config{
		BaseURL:           cfg.Oracle.BaseURL,
		APIKey:            cfg.Oracle.APIKey,
		Timeout:           cfg.Oracle.Timeout,
		RequestsPerSecond: cfg.Oracle.RequestsPerSecond,
		Burst:             cfg.Oracle.Burst,
		Temperature:       cfg.Oracle.Temperature,
	}, log)
	runner := qa.NewRunner(store, oracle,
		qa.WithConcurrency(cfg.Runner.Concurrency),
		qa.WithRetryPolicy(cfg.Runner.RetryPolicy()),
		qa.WithEvents(qa.MultiSink{qa.LogSink(log), mx}),
		qa.WithLogger(log),
	)

	return worker.Run(ctx, asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Runner.WorkerConcurrency, &worker.Server{
		Runs:  store,
		Exec:  runner,
		Hooks: mx,
		Log:   log,
	})
}

func metricsMux(mx *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mx.Handler())
	return mux
}
