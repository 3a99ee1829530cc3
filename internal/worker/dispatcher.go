package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"autograder/internal/model"
)

const defaultQueue = "default"

// Dispatcher hands runs to worker processes through Redis.
type Dispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	log       *zap.Logger
}

func NewDispatcher(opt asynq.RedisConnOpt, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     defaultQueue,
		log:       log.Named("dispatcher"),
	}
}

func (d *Dispatcher) EnqueueRun(ctx context.Context, run model.EvaluationRun) error {
	task, err := NewRunTask(run)
	if err != nil {
		return err
	}
	info, err := d.client.EnqueueContext(ctx, task, asynq.Queue(d.queue))
	if err != nil {
		return fmt.Errorf("enqueue run %s: %w", run.ID, err)
	}
	d.log.Info("run enqueued", zap.String("run_id", run.ID), zap.String("queue", info.Queue))
	return nil
}

// CancelRun removes a run that has not started yet and reports true. A run
// already being processed is signalled to stop and false is returned; its
// worker marks it failed.
func (d *Dispatcher) CancelRun(_ context.Context, runID string) (bool, error) {
	err := d.inspector.DeleteTask(d.queue, runID)
	if err == nil {
		d.log.Info("pending run removed", zap.String("run_id", runID))
		return true, nil
	}
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return false, fmt.Errorf("cancel run %s: %w", runID, model.ErrNotFound)
	}
	if err := d.inspector.CancelProcessing(runID); err != nil {
		return false, fmt.Errorf("cancel run %s: %w", runID, err)
	}
	d.log.Info("cancellation signalled", zap.String("run_id", runID))
	return false, nil
}

func (d *Dispatcher) Close() error {
	return errors.Join(d.client.Close(), d.inspector.Close())
}
