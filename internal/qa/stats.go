package qa

import "autograder/internal/model"

// Stats is a verdict roll-up over a set of evaluations.
type Stats struct {
	Total        int     `json:"total"`
	Pass         int     `json:"pass"`
	Fail         int     `json:"fail"`
	Inconclusive int     `json:"inconclusive"`
	Errored      int     `json:"errored"`
	PassRate     float64 `json:"passRate"`
}

// Aggregate counts verdicts. PassRate is a percentage and 0 for no input.
func Aggregate(evals []model.Evaluation) Stats {
	var s Stats
	for _, ev := range evals {
		s.add(ev)
	}
	s.finish()
	return s
}

// AggregateBy groups evaluations by key and aggregates each group.
func AggregateBy(evals []model.Evaluation, key func(model.Evaluation) string) map[string]Stats {
	out := make(map[string]Stats)
	for _, ev := range evals {
		k := key(ev)
		s := out[k]
		s.add(ev)
		out[k] = s
	}
	for k, s := range out {
		s.finish()
		out[k] = s
	}
	return out
}

func ByJudge(ev model.Evaluation) string    { return ev.JudgeID }
func ByQuestion(ev model.Evaluation) string { return ev.QuestionID }

func (s *Stats) add(ev model.Evaluation) {
	s.Total++
	switch ev.Verdict {
	case model.VerdictPass:
		s.Pass++
	case model.VerdictFail:
		s.Fail++
	default:
		s.Inconclusive++
	}
	if ev.Failed() {
		s.Errored++
	}
}

func (s *Stats) finish() {
	if s.Total == 0 {
		s.PassRate = 0
		return
	}
	s.PassRate = float64(s.Pass) / float64(s.Total) * 100
}
