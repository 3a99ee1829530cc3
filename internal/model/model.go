// Package model holds the entities shared by ingestion, evaluation and storage.
package model

import (
	"math"
	"time"
)

type QuestionType string

const (
	QuestionSingleChoice              QuestionType = "single_choice"
	QuestionSingleChoiceWithReasoning QuestionType = "single_choice_with_reasoning"
	QuestionMultipleChoice            QuestionType = "multiple_choice"
	QuestionFreeForm                  QuestionType = "free_form"
)

// Valid reports whether t is one of the supported question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionSingleChoice, QuestionSingleChoiceWithReasoning, QuestionMultipleChoice, QuestionFreeForm:
		return true
	}
	return false
}

type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictInconclusive Verdict = "inconclusive"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RunStatus) Terminal() bool { return s == RunCompleted || s == RunFailed }

type Queue struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	Description     string    `json:"description" db:"description"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	SubmissionCount int       `json:"submissionCount" db:"submission_count"`
}

type Question struct {
	ID           string       `json:"id"`
	Rev          int          `json:"rev"`
	QuestionType QuestionType `json:"questionType"`
	QuestionText string       `json:"questionText"`
}

// Answer is a respondent's answer to one question. At least one field is set.
type Answer struct {
	Choice    string   `json:"choice,omitempty"`
	Reasoning string   `json:"reasoning,omitempty"`
	Text      string   `json:"text,omitempty"`
	Choices   []string `json:"choices,omitempty"`
}

// Empty reports whether no answer field carries content.
func (a Answer) Empty() bool {
	return a.Choice == "" && a.Reasoning == "" && a.Text == "" && len(a.Choices) == 0
}

type Submission struct {
	ID             string            `json:"id"`
	QueueID        string            `json:"queueId"`
	LabelingTaskID string            `json:"labelingTaskId"`
	CreatedAt      time.Time         `json:"createdAt"`
	Questions      []Question        `json:"questions"`
	Answers        map[string]Answer `json:"answers"`
}

type Judge struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	SystemPrompt string    `json:"systemPrompt" db:"system_prompt"`
	ModelName    string    `json:"modelName" db:"model_name"`
	IsActive     bool      `json:"isActive" db:"is_active"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

type JudgeAssignment struct {
	ID         string    `json:"id" db:"id"`
	QueueID    string    `json:"queueId" db:"queue_id"`
	QuestionID string    `json:"questionId" db:"question_id"`
	JudgeID    string    `json:"judgeId" db:"judge_id"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// EvaluationTask is one unit of work inside a run. It is never persisted.
type EvaluationTask struct {
	Submission Submission
	QuestionID string
	Question   Question
	JudgeID    string
	Judge      Judge
}

type Evaluation struct {
	ID            string         `json:"id" db:"id"`
	RunID         string         `json:"runId,omitempty" db:"run_id"`
	SubmissionID  string         `json:"submissionId" db:"submission_id"`
	QuestionID    string         `json:"questionId" db:"question_id"`
	JudgeID       string         `json:"judgeId" db:"judge_id"`
	Verdict       Verdict        `json:"verdict" db:"verdict"`
	Reasoning     string         `json:"reasoning" db:"reasoning"`
	ExecutionTime *time.Duration `json:"executionTime,omitempty" db:"-"`
	Error         string         `json:"error,omitempty" db:"error"`
	CreatedAt     time.Time      `json:"createdAt" db:"created_at"`
}

// Failed reports whether the evaluation records an execution failure.
func (e Evaluation) Failed() bool { return e.Error != "" }

type EvaluationRun struct {
	ID                   string     `json:"id" db:"id"`
	QueueID              string     `json:"queueId" db:"queue_id"`
	StartedAt            time.Time  `json:"startedAt" db:"started_at"`
	CompletedAt          *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	Status               RunStatus  `json:"status" db:"status"`
	TotalEvaluations     int        `json:"totalEvaluations" db:"total_evaluations"`
	CompletedEvaluations int        `json:"completedEvaluations" db:"completed_evaluations"`
	FailedEvaluations    int        `json:"failedEvaluations" db:"failed_evaluations"`
}

// Processed is the number of tasks that reached an outcome.
func (r EvaluationRun) Processed() int { return r.CompletedEvaluations + r.FailedEvaluations }

// Progress returns the rounded percentage of processed tasks. A run with no
// tasks reports 100 once it is terminal and 0 before.
func (r EvaluationRun) Progress() int {
	if r.TotalEvaluations == 0 {
		if r.Status.Terminal() {
			return 100
		}
		return 0
	}
	return int(math.Round(100 * float64(r.Processed()) / float64(r.TotalEvaluations)))
}

// RunUpdate is a partial update of an EvaluationRun; nil fields are left as is.
type RunUpdate struct {
	Status      *RunStatus
	CompletedAt *time.Time
	Total       *int
	Completed   *int
	Failed      *int
}

// Apply copies the set fields of u onto r.
func (u RunUpdate) Apply(r *EvaluationRun) {
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		r.CompletedAt = &t
	}
	if u.Total != nil {
		r.TotalEvaluations = *u.Total
	}
	if u.Completed != nil {
		r.CompletedEvaluations = *u.Completed
	}
	if u.Failed != nil {
		r.FailedEvaluations = *u.Failed
	}
}
