package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"autograder/internal/model"
)

// submissionRow stores questions and answers as JSONB documents.
type submissionRow struct {
	ID             string    `db:"id"`
	QueueID        string    `db:"queue_id"`
	LabelingTaskID string    `db:"labeling_task_id"`
	CreatedAt      time.Time `db:"created_at"`
	Questions      []byte    `db:"questions"`
	Answers        []byte    `db:"answers"`
}

func toSubmissionRow(s model.Submission) (submissionRow, error) {
	questions, err := json.Marshal(nonNilSlice(s.Questions))
	if err != nil {
		return submissionRow{}, fmt.Errorf("marshal questions of %s: %w", s.ID, err)
	}
	answers := s.Answers
	if answers == nil {
		answers = map[string]model.Answer{}
	}
	answerDoc, err := json.Marshal(answers)
	if err != nil {
		return submissionRow{}, fmt.Errorf("marshal answers of %s: %w", s.ID, err)
	}
	return submissionRow{
		ID:             s.ID,
		QueueID:        s.QueueID,
		LabelingTaskID: s.LabelingTaskID,
		CreatedAt:      s.CreatedAt,
		Questions:      questions,
		Answers:        answerDoc,
	}, nil
}

func (r submissionRow) toModel() (model.Submission, error) {
	s := model.Submission{
		ID:             r.ID,
		QueueID:        r.QueueID,
		LabelingTaskID: r.LabelingTaskID,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if err := json.Unmarshal(r.Questions, &s.Questions); err != nil {
		return model.Submission{}, fmt.Errorf("decode questions of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Answers, &s.Answers); err != nil {
		return model.Submission{}, fmt.Errorf("decode answers of %s: %w", r.ID, err)
	}
	if s.Questions == nil {
		s.Questions = []model.Question{}
	}
	if s.Answers == nil {
		s.Answers = map[string]model.Answer{}
	}
	return s, nil
}

// evaluationRow keeps execution time in milliseconds.
type evaluationRow struct {
	ID              string         `db:"id"`
	RunID           sql.NullString `db:"run_id"`
	SubmissionID    string         `db:"submission_id"`
	QuestionID      string         `db:"question_id"`
	JudgeID         string         `db:"judge_id"`
	Verdict         string         `db:"verdict"`
	Reasoning       string         `db:"reasoning"`
	ExecutionTimeMS sql.NullInt64  `db:"execution_time_ms"`
	Error           string         `db:"error"`
	CreatedAt       time.Time      `db:"created_at"`
}

func toEvaluationRow(e model.Evaluation) evaluationRow {
	r := evaluationRow{
		ID:           e.ID,
		RunID:        sql.NullString{String: e.RunID, Valid: e.RunID != ""},
		SubmissionID: e.SubmissionID,
		QuestionID:   e.QuestionID,
		JudgeID:      e.JudgeID,
		Verdict:      string(e.Verdict),
		Reasoning:    e.Reasoning,
		Error:        e.Error,
		CreatedAt:    e.CreatedAt,
	}
	if e.ExecutionTime != nil {
		r.ExecutionTimeMS = sql.NullInt64{Int64: e.ExecutionTime.Milliseconds(), Valid: true}
	}
	return r
}

func (r evaluationRow) toModel() model.Evaluation {
	e := model.Evaluation{
		ID:           r.ID,
		RunID:        r.RunID.String,
		SubmissionID: r.SubmissionID,
		QuestionID:   r.QuestionID,
		JudgeID:      r.JudgeID,
		Verdict:      model.Verdict(r.Verdict),
		Reasoning:    r.Reasoning,
		Error:        r.Error,
		CreatedAt:    r.CreatedAt.UTC(),
	}
	if r.ExecutionTimeMS.Valid {
		d := time.Duration(r.ExecutionTimeMS.Int64) * time.Millisecond
		e.ExecutionTime = &d
	}
	return e
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
