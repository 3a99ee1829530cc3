package qa

import (
	"context"
	"time"

	"go.uber.org/zap"

	"autograder/internal/model"
)

type EventType string

const (
	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventRunStatus     EventType = "run_status"
)

// Event is emitted for task lifecycle steps and run state transitions.
type Event struct {
	Type         EventType
	RunID        string
	QueueID      string
	SubmissionID string
	QuestionID   string
	JudgeID      string
	Verdict      model.Verdict
	Status       model.RunStatus
	Progress     int
	Duration     time.Duration
	Err          string
	At           time.Time
}

// EventSink receives pipeline events. Emit must not block for long and must
// be safe for concurrent use.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

type EventSinkFunc func(ctx context.Context, ev Event)

func (f EventSinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiSink fans events out to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}

type logSink struct{ log *zap.Logger }

// LogSink writes events as structured log lines.
func LogSink(log *zap.Logger) EventSink { return logSink{log: log.Named("events")} }

func (s logSink) Emit(_ context.Context, ev Event) {
	fields := []zap.Field{
		zap.String("event", string(ev.Type)),
		zap.String("run_id", ev.RunID),
	}
	if ev.QueueID != "" {
		fields = append(fields, zap.String("queue_id", ev.QueueID))
	}
	switch ev.Type {
	case EventRunStatus:
		fields = append(fields, zap.String("status", string(ev.Status)), zap.Int("progress", ev.Progress))
	default:
		fields = append(fields,
			zap.String("submission_id", ev.SubmissionID),
			zap.String("question_id", ev.QuestionID),
			zap.String("judge_id", ev.JudgeID),
		)
		if ev.Verdict != "" {
			fields = append(fields, zap.String("verdict", string(ev.Verdict)), zap.Duration("duration", ev.Duration))
		}
	}
	if ev.Err != "" {
		fields = append(fields, zap.String("error", ev.Err))
		s.log.Warn("pipeline event", fields...)
		return
	}
	if ev.Type == EventRunStatus {
		s.log.Info("pipeline event", fields...)
		return
	}
	s.log.Debug("pipeline event", fields...)
}
