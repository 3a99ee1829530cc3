package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autograder/internal/migrations"
	"autograder/internal/model"
)

func TestRunUpdateSQL(t *testing.T) {
	sets, args := runUpdateSQL(model.RunUpdate{})
	assert.Empty(t, sets)
	assert.Empty(t, args)

	status := model.RunCompleted
	completed, failed := 3, 1
	sets, args = runUpdateSQL(model.RunUpdate{Status: &status, Completed: &completed, Failed: &failed})
	assert.Equal(t, []string{"status = $1", "completed_evaluations = $2", "failed_evaluations = $3"}, sets)
	assert.Equal(t, []any{"completed", 3, 1}, args)
}

func TestSubmissionRowRoundTrip(t *testing.T) {
	sub := model.Submission{
		ID:             "s1_x",
		QueueID:        "q_x",
		LabelingTaskID: "lt",
		CreatedAt:      time.UnixMilli(1700000000000).UTC(),
		Questions:      []model.Question{{ID: "q1", Rev: 2, QuestionType: model.QuestionMultipleChoice, QuestionText: "Pick"}},
		Answers:        map[string]model.Answer{"q1": {Choices: []string{"a", "b"}, Reasoning: "both"}},
	}
	row, err := toSubmissionRow(sub)
	require.NoError(t, err)
	got, err := row.toModel()
	require.NoError(t, err)
	assert.Equal(t, sub, got)

	empty, err := toSubmissionRow(model.Submission{ID: "e"})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(empty.Questions))
	assert.JSONEq(t, `{}`, string(empty.Answers))
}

func TestEvaluationRowExecutionTime(t *testing.T) {
	d := 1500 * time.Millisecond
	ev := model.Evaluation{ID: "e1", RunID: "r1", Verdict: model.VerdictPass, ExecutionTime: &d}
	row := toEvaluationRow(ev)
	assert.True(t, row.RunID.Valid)
	assert.Equal(t, int64(1500), row.ExecutionTimeMS.Int64)
	assert.Equal(t, d, *row.toModel().ExecutionTime)

	row = toEvaluationRow(model.Evaluation{ID: "e2"})
	assert.False(t, row.RunID.Valid)
	assert.False(t, row.ExecutionTimeMS.Valid)
	assert.Nil(t, row.toModel().ExecutionTime)
}

// openTestStore connects to AUTOGRADER_TEST_DATABASE_URL and resets the schema.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("AUTOGRADER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AUTOGRADER_TEST_DATABASE_URL not set")
	}
	require.NoError(t, migrations.Down(dsn))
	require.NoError(t, migrations.Run(dsn, nil))
	conn, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewStore(conn)
}

func TestStoreLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.CreateEvaluationRun(ctx, "missing")
	require.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, st.UpsertQueues(ctx, []model.Queue{{ID: "q_b", Name: "q", SubmissionCount: 2}}))
	subs := []model.Submission{
		{ID: "s2_b", QueueID: "q_b", LabelingTaskID: "lt2", CreatedAt: time.UnixMilli(2000).UTC(),
			Questions: []model.Question{{ID: "q1", Rev: 1, QuestionType: model.QuestionFreeForm, QuestionText: "?"}},
			Answers:   map[string]model.Answer{"q1": {Text: "two"}}},
		{ID: "s1_b", QueueID: "q_b", LabelingTaskID: "lt1", CreatedAt: time.UnixMilli(1000).UTC(),
			Questions: []model.Question{{ID: "q1", Rev: 1, QuestionType: model.QuestionFreeForm, QuestionText: "?"}},
			Answers:   map[string]model.Answer{"q1": {Text: "one"}}},
	}
	require.NoError(t, st.UploadSubmissions(ctx, subs))

	// A submission for an unknown queue rolls back the whole batch.
	err = st.UploadSubmissions(ctx, []model.Submission{
		{ID: "s3_b", QueueID: "q_b", LabelingTaskID: "lt3", CreatedAt: time.UnixMilli(3000).UTC()},
		{ID: "s4_b", QueueID: "nope", LabelingTaskID: "lt4", CreatedAt: time.UnixMilli(4000).UTC()},
	})
	require.Error(t, err)

	got, err := st.GetSubmissionsByQueue(ctx, "q_b")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1_b", got[0].ID)
	assert.Equal(t, subs[1].Answers, got[0].Answers)

	j, err := st.CreateJudge(ctx, model.Judge{Name: "strict", SystemPrompt: "be strict", ModelName: "m", IsActive: true})
	require.NoError(t, err)
	require.NotEmpty(t, j.ID)
	j.IsActive = false
	updated, err := st.UpdateJudge(ctx, *j)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	active, err := st.GetActiveJudges(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	_, err = st.UpdateJudge(ctx, model.Judge{ID: "ghost"})
	require.ErrorIs(t, err, model.ErrNotFound)

	added, err := st.ReplaceAssignments(ctx, "q_b", []model.JudgeAssignment{
		{QuestionID: "q1", JudgeID: j.ID},
		{QuestionID: "q1", JudgeID: j.ID},
	})
	require.NoError(t, err)
	assert.Len(t, added, 1)
	as, err := st.GetJudgeAssignments(ctx, "q_b")
	require.NoError(t, err)
	assert.Len(t, as, 1)

	run, err := st.CreateEvaluationRun(ctx, "q_b")
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, run.Status)

	d := 42 * time.Millisecond
	require.NoError(t, st.CreateEvaluation(ctx, model.Evaluation{
		RunID: run.ID, SubmissionID: "s1_b", QuestionID: "q1", JudgeID: j.ID,
		Verdict: model.VerdictPass, Reasoning: "ok", ExecutionTime: &d,
	}))
	evs, err := st.ListEvaluationsByQueue(ctx, "q_b")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, d, *evs[0].ExecutionTime)

	total, completed := 1, 1
	status := model.RunCompleted
	now := time.Now().UTC()
	require.NoError(t, st.UpdateEvaluationRun(ctx, run.ID, model.RunUpdate{Total: &total, Completed: &completed, Status: &status, CompletedAt: &now}))
	stored, err := st.GetEvaluationRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress())
	require.ErrorIs(t, st.UpdateEvaluationRun(ctx, "ghost", model.RunUpdate{Total: &total}), model.ErrNotFound)

	runs, err := st.ListEvaluationRuns(ctx, "q_b")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestStoreDeleteQueuesCascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertQueues(ctx, []model.Queue{{ID: "a_b", Name: "a"}, {ID: "keep_b", Name: "keep"}}))
	require.NoError(t, st.UploadSubmissions(ctx, []model.Submission{
		{ID: "s1_b", QueueID: "a_b", LabelingTaskID: "lt", CreatedAt: time.UnixMilli(1000).UTC()},
		{ID: "s2_b", QueueID: "keep_b", LabelingTaskID: "lt", CreatedAt: time.UnixMilli(1000).UTC()},
	}))
	require.NoError(t, st.DeleteQueues(ctx, nil))
	require.NoError(t, st.DeleteQueues(ctx, []string{"a_b", "never_existed"}))

	_, err := st.GetQueue(ctx, "a_b")
	require.ErrorIs(t, err, model.ErrNotFound)
	gone, err := st.GetSubmissionsByQueue(ctx, "a_b")
	require.NoError(t, err)
	assert.Empty(t, gone)
	kept, err := st.GetSubmissionsByQueue(ctx, "keep_b")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
