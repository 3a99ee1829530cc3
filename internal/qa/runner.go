// Package qa expands queues into judge tasks, executes them against an
// oracle and tracks the resulting evaluation runs.
package qa

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"autograder/internal/model"
)

const defaultConcurrency = 4

// Runner executes evaluation runs for queues.
type Runner struct {
	store       Store
	expander    *Expander
	executor    *Executor
	concurrency int
	events      EventSink
	log         *zap.Logger
}

type Option func(*Runner)

// WithConcurrency bounds the number of in-flight oracle tasks.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithEvents(sink EventSink) Option {
	return func(r *Runner) {
		if sink != nil {
			r.events = sink
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Runner) { r.executor.policy = p.normalized() }
}

func NewRunner(store Store, oracle Oracle, opts ...Option) *Runner {
	r := &Runner{
		store:       store,
		expander:    NewExpander(store),
		concurrency: defaultConcurrency,
		events:      nopSink{},
		log:         zap.NewNop(),
	}
	r.executor = NewExecutor(oracle, DefaultRetryPolicy(), nil)
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("runner")
	r.executor.log = r.log.Named("executor")
	return r
}

// Run creates a run for queueID and executes it.
func (r *Runner) Run(ctx context.Context, queueID string, onProgress ProgressFunc) (model.EvaluationRun, error) {
	run, err := r.store.CreateEvaluationRun(ctx, queueID)
	if err != nil {
		return model.EvaluationRun{}, &StoreWriteError{Op: "create run", Err: err}
	}
	return r.Execute(ctx, *run, onProgress)
}

// Execute drives a created run to a terminal state. Cancelling ctx stops
// dispatching new tasks; tasks already in flight finish and persist their
// evaluation before the run is marked failed.
func (r *Runner) Execute(ctx context.Context, run model.EvaluationRun, onProgress ProgressFunc) (model.EvaluationRun, error) {
	if run.Status.Terminal() {
		return run, ErrRunTerminal
	}
	log := r.log.With(zap.String("run_id", run.ID), zap.String("queue_id", run.QueueID))
	tracker := NewTracker(r.store, run, onProgress, r.events)
	// Terminal writes must land even when the caller cancelled.
	bg := context.WithoutCancel(ctx)

	tasks, err := r.expander.Expand(ctx, run.QueueID)
	if err != nil {
		log.Error("task expansion failed", zap.Error(err))
		_ = tracker.Fail(bg, err)
		return tracker.Run(), fmt.Errorf("expand tasks: %w", err)
	}
	if err := tracker.SetTotal(bg, len(tasks)); err != nil {
		_ = tracker.Fail(bg, err)
		return tracker.Run(), err
	}
	log.Info("run started", zap.Int("tasks", len(tasks)), zap.Int("concurrency", r.concurrency))
	if len(tasks) == 0 {
		err := tracker.Complete(bg)
		return tracker.Run(), err
	}

	dispatch, stop := context.WithCancel(ctx)
	defer stop()
	sem := semaphore.NewWeighted(int64(r.concurrency))
	var g errgroup.Group
	dispatched := 0
	for _, task := range tasks {
		if dispatch.Err() != nil || tracker.Err() != nil {
			break
		}
		if err := sem.Acquire(dispatch, 1); err != nil {
			break
		}
		// Acquire may succeed after cancellation.
		if dispatch.Err() != nil {
			sem.Release(1)
			break
		}
		dispatched++
		g.Go(func() error {
			defer sem.Release(1)
			if err := r.runTask(bg, tracker, run, task); err != nil {
				stop()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := tracker.Err(); err != nil {
		log.Error("run aborted by store failure", zap.Error(err))
		_ = tracker.Fail(bg, err)
		return tracker.Run(), err
	}
	if ctx.Err() != nil && tracker.Run().Processed() < len(tasks) {
		cause := fmt.Errorf("%w: %w", ErrRunCancelled, ctx.Err())
		log.Warn("run cancelled", zap.Int("dispatched", dispatched), zap.Int("total", len(tasks)))
		if err := tracker.Fail(bg, cause); err != nil {
			return tracker.Run(), err
		}
		return tracker.Run(), cause
	}
	if err := tracker.Complete(bg); err != nil {
		return tracker.Run(), err
	}
	final := tracker.Run()
	log.Info("run completed",
		zap.Int("completed", final.CompletedEvaluations),
		zap.Int("failed", final.FailedEvaluations),
	)
	return final, nil
}

// runTask executes and persists one task. Only run-level store failures are
// returned; oracle and evaluation-write failures count the task as failed.
func (r *Runner) runTask(ctx context.Context, tracker *Tracker, run model.EvaluationRun, task model.EvaluationTask) error {
	base := Event{
		RunID:        run.ID,
		QueueID:      run.QueueID,
		SubmissionID: task.Submission.ID,
		QuestionID:   task.QuestionID,
		JudgeID:      task.JudgeID,
	}
	started := base
	started.Type = EventTaskStarted
	r.events.Emit(ctx, started)

	ev := r.executor.Execute(ctx, task)
	ev.RunID = run.ID
	failed := ev.Failed()
	errMsg := ev.Error
	if err := r.store.CreateEvaluation(ctx, ev); err != nil {
		werr := &StoreWriteError{Op: "create evaluation", Err: err}
		r.log.Error("evaluation not persisted",
			zap.String("run_id", run.ID),
			zap.String("submission_id", ev.SubmissionID),
			zap.String("question_id", ev.QuestionID),
			zap.String("judge_id", ev.JudgeID),
			zap.Error(werr),
		)
		failed = true
		errMsg = werr.Error()
	}

	done := base
	done.Type = EventTaskCompleted
	done.Verdict = ev.Verdict
	done.At = ev.CreatedAt
	if ev.ExecutionTime != nil {
		done.Duration = *ev.ExecutionTime
	}
	if failed {
		done.Type = EventTaskFailed
		done.Err = errMsg
	}
	r.events.Emit(ctx, done)

	return tracker.Record(ctx, failed)
}
