// Package worker runs evaluation runs handed over through Redis.
package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"autograder/internal/model"
	"autograder/internal/qa"
)

// Executor drives one run to a terminal state; *qa.Runner implements it.
type Executor interface {
	Execute(ctx context.Context, run model.EvaluationRun, onProgress qa.ProgressFunc) (model.EvaluationRun, error)
}

type RunGetter interface {
	GetEvaluationRun(ctx context.Context, id string) (*model.EvaluationRun, error)
}

// Hooks observe run execution; the metrics package provides one.
type Hooks interface {
	RunStarted()
	RunFinished()
}

type nopHooks struct{}

func (nopHooks) RunStarted()  {}
func (nopHooks) RunFinished() {}

type Server struct {
	Runs  RunGetter
	Exec  Executor
	Hooks Hooks
	Log   *zap.Logger
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRunEvaluations, s.handleRunEvaluations)
	return mux
}

func (s *Server) handleRunEvaluations(ctx context.Context, t *asynq.Task) error {
	p, err := parseRunPayload(t)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	log := s.logger().With(zap.String("run_id", p.RunID), zap.String("queue_id", p.QueueID))

	run, err := s.Runs.GetEvaluationRun(ctx, p.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", p.RunID, err)
	}
	if run.Status.Terminal() {
		log.Info("run already terminal, skipping", zap.String("status", string(run.Status)))
		return nil
	}

	hooks := s.Hooks
	if hooks == nil {
		hooks = nopHooks{}
	}
	hooks.RunStarted()
	defer hooks.RunFinished()

	log.Info("starting run")
	final, err := s.Exec.Execute(ctx, *run, func(p int) {
		log.Debug("run progress", zap.Int("progress", p))
	})
	if err != nil {
		log.Error("run failed", zap.Error(err),
			zap.Int("completed", final.CompletedEvaluations),
			zap.Int("failed", final.FailedEvaluations),
		)
		// The run row already records the failure; a retry would start over.
		return nil
	}
	log.Info("run finished",
		zap.String("status", string(final.Status)),
		zap.Int("completed", final.CompletedEvaluations),
		zap.Int("failed", final.FailedEvaluations),
	)
	return nil
}

func (s *Server) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// Run processes tasks until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, opt asynq.RedisConnOpt, concurrency int, s *Server) error {
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Logger:      s.logger().Sugar(),
		Queues:      map[string]int{defaultQueue: 1},
	})
	if err := srv.Start(s.mux()); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	s.logger().Info("worker started", zap.Int("concurrency", concurrency))
	<-ctx.Done()
	srv.Shutdown()
	s.logger().Info("worker stopped")
	return nil
}
