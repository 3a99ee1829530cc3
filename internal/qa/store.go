package qa

import (
	"context"

	"autograder/internal/model"
)

// TaskSource is the read side the Expander needs.
type TaskSource interface {
	GetSubmissionsByQueue(ctx context.Context, queueID string) ([]model.Submission, error)
	GetJudgeAssignments(ctx context.Context, queueID string) ([]model.JudgeAssignment, error)
	GetJudges(ctx context.Context) ([]model.Judge, error)
}

// RunStore persists run metadata.
type RunStore interface {
	CreateEvaluationRun(ctx context.Context, queueID string) (*model.EvaluationRun, error)
	UpdateEvaluationRun(ctx context.Context, id string, u model.RunUpdate) error
}

// Store is everything a Runner reads and writes.
type Store interface {
	TaskSource
	RunStore
	CreateEvaluation(ctx context.Context, ev model.Evaluation) error
}
