package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"autograder/internal/model"
)

// ErrClosed is returned when a run is enqueued on a closed dispatcher.
var ErrClosed = errors.New("dispatcher closed")

// Local executes runs inside the current process. It backs single-process
// deployments on the in-memory store.
type Local struct {
	exec Executor
	log  *zap.Logger

	mu      sync.Mutex
	closed  bool
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	base    context.Context
	stop    context.CancelFunc
}

func NewLocal(exec Executor, log *zap.Logger) *Local {
	if log == nil {
		log = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Local{
		exec:    exec,
		log:     log.Named("local"),
		cancels: make(map[string]context.CancelFunc),
		base:    base,
		stop:    stop,
	}
}

func (l *Local) EnqueueRun(_ context.Context, run model.EvaluationRun) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(l.base)
	l.cancels[run.ID] = cancel
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.cancels, run.ID)
			l.mu.Unlock()
			cancel()
		}()
		final, err := l.exec.Execute(ctx, run, nil)
		if err != nil {
			l.log.Warn("run ended with error", zap.String("run_id", run.ID), zap.String("status", string(final.Status)), zap.Error(err))
			return
		}
		l.log.Info("run finished", zap.String("run_id", run.ID), zap.String("status", string(final.Status)))
	}()
	return nil
}

// CancelRun signals an executing run; it never removes a pending one since
// runs start immediately.
func (l *Local) CancelRun(_ context.Context, runID string) (bool, error) {
	l.mu.Lock()
	cancel, ok := l.cancels[runID]
	l.mu.Unlock()
	if ok {
		cancel()
	}
	return false, nil
}

// Close cancels every executing run and waits for them to be marked.
func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.stop()
	l.wg.Wait()
	return nil
}
