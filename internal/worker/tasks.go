package worker

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"autograder/internal/model"
)

const TypeRunEvaluations = "run_evaluations"

type RunPayload struct {
	RunID   string `json:"run_id"`
	QueueID string `json:"queue_id"`
}

// NewRunTask builds the task for a created run. The task id is the run id so
// a run is enqueued at most once and can be cancelled by id. Runs are never
// retried by the queue.
func NewRunTask(run model.EvaluationRun) (*asynq.Task, error) {
	b, err := json.Marshal(RunPayload{RunID: run.ID, QueueID: run.QueueID})
	if err != nil {
		return nil, fmt.Errorf("marshal run payload: %w", err)
	}
	return asynq.NewTask(TypeRunEvaluations, b, asynq.TaskID(run.ID), asynq.MaxRetry(0)), nil
}

func parseRunPayload(t *asynq.Task) (RunPayload, error) {
	var p RunPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}
	if p.RunID == "" {
		return p, fmt.Errorf("%s payload has no run_id", t.Type())
	}
	return p, nil
}
