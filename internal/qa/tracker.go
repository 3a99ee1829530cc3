package qa

import (
	"context"
	"sync"
	"time"

	"autograder/internal/model"
)

// ProgressFunc receives the run's progress percentage, 0..100.
type ProgressFunc func(percent int)

// Tracker is the single owner of an EvaluationRun while it executes. Every
// mutation is serialized, persisted and reported to the progress callback
// under one lock, so callers observe non-decreasing progress no matter in
// which order tasks finish.
type Tracker struct {
	mu         sync.Mutex
	store      RunStore
	run        model.EvaluationRun
	onProgress ProgressFunc
	events     EventSink
	last       int
	err        error
	now        func() time.Time
}

func NewTracker(store RunStore, run model.EvaluationRun, onProgress ProgressFunc, events EventSink) *Tracker {
	if events == nil {
		events = nopSink{}
	}
	return &Tracker{
		store:      store,
		run:        run,
		onProgress: onProgress,
		events:     events,
		last:       -1,
		now:        time.Now,
	}
}

// Run returns a snapshot of the tracked run.
func (t *Tracker) Run() model.EvaluationRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run
}

// Err returns the first run-level store error, if any.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// SetTotal records the number of expanded tasks.
func (t *Tracker) SetTotal(ctx context.Context, total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run.Status.Terminal() {
		return ErrRunTerminal
	}
	t.run.TotalEvaluations = total
	return t.persist(ctx, "set total", model.RunUpdate{Total: &total})
}

// Record counts one processed task.
func (t *Tracker) Record(ctx context.Context, failed bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run.Status.Terminal() {
		return ErrRunTerminal
	}
	u := model.RunUpdate{}
	if failed {
		t.run.FailedEvaluations++
		n := t.run.FailedEvaluations
		u.Failed = &n
	} else {
		t.run.CompletedEvaluations++
		n := t.run.CompletedEvaluations
		u.Completed = &n
	}
	err := t.persist(ctx, "record task", u)
	t.report()
	return err
}

// Complete moves the run to completed. If that write fails the run is
// failed instead and the write error returned.
func (t *Tracker) Complete(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run.Status.Terminal() {
		return ErrRunTerminal
	}
	if t.err != nil {
		return t.finish(ctx, model.RunFailed, t.err)
	}
	return t.finish(ctx, model.RunCompleted, nil)
}

// Fail moves the run to failed. Results already written stay valid.
func (t *Tracker) Fail(ctx context.Context, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run.Status.Terminal() {
		return ErrRunTerminal
	}
	return t.finish(ctx, model.RunFailed, cause)
}

func (t *Tracker) finish(ctx context.Context, status model.RunStatus, cause error) error {
	at := t.now().UTC()
	var werr error
	if err := t.store.UpdateEvaluationRun(ctx, t.run.ID, model.RunUpdate{Status: &status, CompletedAt: &at}); err != nil {
		werr = &StoreWriteError{Op: "finish run", Err: err}
		if status == model.RunCompleted {
			status = model.RunFailed
			cause = werr
			// Best effort: the store just failed once already.
			_ = t.store.UpdateEvaluationRun(ctx, t.run.ID, model.RunUpdate{Status: &status, CompletedAt: &at})
		}
		if t.err == nil {
			t.err = werr
		}
	}
	t.run.Status = status
	t.run.CompletedAt = &at
	if status == model.RunCompleted && t.last != 100 {
		t.report()
	}

	ev := Event{
		Type:     EventRunStatus,
		RunID:    t.run.ID,
		QueueID:  t.run.QueueID,
		Status:   status,
		Progress: t.run.Progress(),
		At:       at,
	}
	if cause != nil {
		ev.Err = cause.Error()
	}
	t.events.Emit(ctx, ev)
	return werr
}

func (t *Tracker) persist(ctx context.Context, op string, u model.RunUpdate) error {
	if err := t.store.UpdateEvaluationRun(ctx, t.run.ID, u); err != nil {
		werr := &StoreWriteError{Op: op, Err: err}
		if t.err == nil {
			t.err = werr
		}
		return werr
	}
	return nil
}

// report invokes the progress callback. Must hold mu.
func (t *Tracker) report() {
	p := t.run.Progress()
	if p < t.last {
		p = t.last
	}
	t.last = p
	if t.onProgress != nil {
		t.onProgress(p)
	}
}
