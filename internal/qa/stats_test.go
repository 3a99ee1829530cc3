package qa

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"autograder/internal/model"
)

func evals(verdicts ...model.Verdict) []model.Evaluation {
	out := make([]model.Evaluation, len(verdicts))
	for i, v := range verdicts {
		out[i] = model.Evaluation{Verdict: v, JudgeID: "j", QuestionID: "q"}
	}
	return out
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil)
	assert.Equal(t, Stats{}, s)
	assert.Zero(t, s.PassRate)
}

func TestAggregateDistributions(t *testing.T) {
	tests := []struct {
		name     string
		in       []model.Evaluation
		pass     int
		fail     int
		inc      int
		passRate float64
	}{
		{"all pass", evals(model.VerdictPass, model.VerdictPass), 2, 0, 0, 100},
		{"all fail", evals(model.VerdictFail), 0, 1, 0, 0},
		{"mixed", evals(model.VerdictPass, model.VerdictFail, model.VerdictInconclusive, model.VerdictPass), 2, 1, 1, 50},
		{"thirds", evals(model.VerdictPass, model.VerdictFail, model.VerdictFail), 1, 2, 0, 100.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Aggregate(tt.in)
			assert.Equal(t, len(tt.in), s.Total)
			assert.Equal(t, tt.pass, s.Pass)
			assert.Equal(t, tt.fail, s.Fail)
			assert.Equal(t, tt.inc, s.Inconclusive)
			assert.InDelta(t, tt.passRate, s.PassRate, 1e-9)
		})
	}
}

func TestAggregateCountsErrored(t *testing.T) {
	in := evals(model.VerdictPass, model.VerdictInconclusive)
	in[1].Error = "oracle failed"
	s := Aggregate(in)
	assert.Equal(t, 1, s.Errored)
	assert.Equal(t, 1, s.Inconclusive)
}

func TestAggregateBy(t *testing.T) {
	in := []model.Evaluation{
		{JudgeID: "a", Verdict: model.VerdictPass},
		{JudgeID: "a", Verdict: model.VerdictFail},
		{JudgeID: "b", Verdict: model.VerdictPass},
	}
	got := AggregateBy(in, ByJudge)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, got["a"].Total)
	assert.InDelta(t, 50, got["a"].PassRate, 1e-9)
	assert.InDelta(t, 100, got["b"].PassRate, 1e-9)
}
