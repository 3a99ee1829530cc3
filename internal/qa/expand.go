package qa

import (
	"context"
	"fmt"

	"autograder/internal/model"
)

// Expander turns a queue into its evaluation tasks.
type Expander struct {
	src TaskSource
}

func NewExpander(src TaskSource) *Expander { return &Expander{src: src} }

// Expand returns one task per (submission, question, assigned active judge),
// ordered by submission, then question, then assignment. Assignments whose
// judge is missing or inactive are skipped.
func (e *Expander) Expand(ctx context.Context, queueID string) ([]model.EvaluationTask, error) {
	subs, err := e.src.GetSubmissionsByQueue(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	assignments, err := e.src.GetJudgeAssignments(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	judges, err := e.src.GetJudges(ctx)
	if err != nil {
		return nil, fmt.Errorf("load judges: %w", err)
	}

	judgeByID := make(map[string]model.Judge, len(judges))
	for _, j := range judges {
		judgeByID[j.ID] = j
	}
	byQuestion := make(map[string][]model.JudgeAssignment)
	for _, a := range assignments {
		byQuestion[a.QuestionID] = append(byQuestion[a.QuestionID], a)
	}

	tasks := make([]model.EvaluationTask, 0)
	for _, s := range subs {
		for _, q := range s.Questions {
			for _, a := range byQuestion[q.ID] {
				j, ok := judgeByID[a.JudgeID]
				if !ok || !j.IsActive {
					continue
				}
				tasks = append(tasks, model.EvaluationTask{
					Submission: s,
					QuestionID: q.ID,
					Question:   q,
					JudgeID:    j.ID,
					Judge:      j,
				})
			}
		}
	}
	return tasks, nil
}
