package qa

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autograder/internal/memstore"
	"autograder/internal/model"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		Multiplier:      2,
		MaxInterval:     4 * time.Millisecond,
		AttemptTimeout:  time.Second,
	}
}

func question(id string, qt model.QuestionType) model.Question {
	return model.Question{ID: id, Rev: 1, QuestionType: qt, QuestionText: "Question " + id + "?"}
}

func submission(id, queueID string, qs ...model.Question) model.Submission {
	answers := make(map[string]model.Answer, len(qs))
	for _, q := range qs {
		answers[q.ID] = model.Answer{Text: "answer to " + q.ID}
	}
	return model.Submission{
		ID:             id,
		QueueID:        queueID,
		LabelingTaskID: "lt-" + id,
		CreatedAt:      time.Unix(1700000000, 0).UTC(),
		Questions:      qs,
		Answers:        answers,
	}
}

func judge(id string, active bool) model.Judge {
	return model.Judge{ID: id, Name: "Judge " + id, SystemPrompt: "grade " + id, ModelName: "model-" + id, IsActive: active}
}

type fixture struct {
	queueID     string
	submissions []model.Submission
	judges      []model.Judge
	// assignments maps question id to judge ids.
	assignments map[string][]string
}

func (f fixture) seed(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.UpsertQueues(ctx, []model.Queue{{ID: f.queueID, Name: f.queueID, SubmissionCount: len(f.submissions)}}))
	require.NoError(t, st.UploadSubmissions(ctx, f.submissions))
	for _, j := range f.judges {
		_, err := st.CreateJudge(ctx, j)
		require.NoError(t, err)
	}
	var as []model.JudgeAssignment
	for _, q := range questionIDs(f.submissions) {
		for _, jid := range f.assignments[q] {
			as = append(as, model.JudgeAssignment{QueueID: f.queueID, QuestionID: q, JudgeID: jid})
		}
	}
	_, err := st.ReplaceAssignments(ctx, f.queueID, as)
	require.NoError(t, err)
	return st
}

func questionIDs(subs []model.Submission) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range subs {
		for _, q := range s.Questions {
			if !seen[q.ID] {
				seen[q.ID] = true
				out = append(out, q.ID)
			}
		}
	}
	return out
}

// scriptedOracle answers by calling fn and records every input it saw.
type scriptedOracle struct {
	mu    sync.Mutex
	calls []OracleInput
	fn    func(call int, in OracleInput) (OracleOutput, error)
}

func (o *scriptedOracle) Evaluate(ctx context.Context, in OracleInput) (OracleOutput, error) {
	o.mu.Lock()
	o.calls = append(o.calls, in)
	n := len(o.calls)
	o.mu.Unlock()
	return o.fn(n, in)
}

func (o *scriptedOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func alwaysPass() *scriptedOracle {
	return &scriptedOracle{fn: func(int, OracleInput) (OracleOutput, error) {
		return OracleOutput{Verdict: "pass", Reasoning: "ok"}, nil
	}}
}

func alwaysError() *scriptedOracle {
	return &scriptedOracle{fn: func(call int, _ OracleInput) (OracleOutput, error) {
		return OracleOutput{}, fmt.Errorf("upstream unavailable (call %d)", call)
	}}
}

// progressRecorder collects progress callbacks.
type progressRecorder struct {
	mu     sync.Mutex
	values []int
}

func (p *progressRecorder) record(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
}

func (p *progressRecorder) Values() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.values...)
}

func requireNonDecreasing(t *testing.T, vals []int) {
	t.Helper()
	for i := 1; i < len(vals); i++ {
		require.GreaterOrEqual(t, vals[i], vals[i-1], "progress went backwards at %d: %v", i, vals)
	}
}
