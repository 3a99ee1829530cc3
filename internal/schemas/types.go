package schemas

import (
	"time"

	"autograder/internal/model"
	"autograder/internal/qa"
)

// Upload batch format: one upload is a JSON array of RawSubmission.

type RawQuestionData struct {
	ID           string `json:"id" validate:"required"`
	QuestionType string `json:"questionType" validate:"required,oneof=single_choice single_choice_with_reasoning multiple_choice free_form"`
	QuestionText string `json:"questionText" validate:"required"`
}

type RawQuestion struct {
	Rev  int             `json:"rev" validate:"gte=0"`
	Data RawQuestionData `json:"data" validate:"required"`
}

type RawAnswer struct {
	Choice    *string  `json:"choice,omitempty"`
	Reasoning *string  `json:"reasoning,omitempty"`
	Text      *string  `json:"text,omitempty"`
	Choices   []string `json:"choices,omitempty"`
}

type RawSubmission struct {
	ID             string               `json:"id" validate:"required"`
	QueueID        string               `json:"queueId" validate:"required"`
	LabelingTaskID string               `json:"labelingTaskId" validate:"required"`
	CreatedAt      int64                `json:"createdAt" validate:"gte=0"`
	Questions      []RawQuestion        `json:"questions" validate:"dive"`
	Answers        map[string]RawAnswer `json:"answers"`
}

// API payloads.

type UploadResponse struct {
	Queues      []model.Queue `json:"queues"`
	Submissions int           `json:"submissions"`
}

type CreateJudgeRequest struct {
	Name         string `json:"name" validate:"required"`
	SystemPrompt string `json:"systemPrompt" validate:"required"`
	ModelName    string `json:"modelName" validate:"required"`
	IsActive     *bool  `json:"isActive,omitempty"`
}

type UpdateJudgeRequest struct {
	Name         *string `json:"name,omitempty"`
	SystemPrompt *string `json:"systemPrompt,omitempty"`
	ModelName    *string `json:"modelName,omitempty"`
	IsActive     *bool   `json:"isActive,omitempty"`
}

type AssignmentIn struct {
	QuestionID string `json:"questionId" validate:"required"`
	JudgeID    string `json:"judgeId" validate:"required"`
}

type ReplaceAssignmentsRequest struct {
	Assignments []AssignmentIn `json:"assignments" validate:"dive"`
}

type RunOut struct {
	model.EvaluationRun
	Progress int `json:"progress"`
}

type StatsOut struct {
	QueueID    string              `json:"queueId"`
	RunID      string              `json:"runId,omitempty"`
	Overall    qa.Stats            `json:"overall"`
	ByJudge    map[string]qa.Stats `json:"byJudge"`
	ByQuestion map[string]qa.Stats `json:"byQuestion"`
	LatestRun  *RunOut             `json:"latestRun,omitempty"`
	Computed   time.Time           `json:"computedAt"`
}

type QueueDetail struct {
	model.Queue
	Questions   []model.Question        `json:"questions"`
	Assignments []model.JudgeAssignment `json:"assignments"`
}

type ErrorOut struct {
	Error string `json:"error"`
	Path  string `json:"path,omitempty"`
}
