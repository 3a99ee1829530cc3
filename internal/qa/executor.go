package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"autograder/internal/model"
)

// RetryPolicy bounds oracle calls for one task.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	// Jitter is the backoff randomization factor in [0, 1).
	Jitter         float64
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2.0,
		MaxInterval:     10 * time.Second,
		Jitter:          0.2,
		AttemptTimeout:  60 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// Executor runs single tasks against an Oracle.
type Executor struct {
	oracle Oracle
	policy RetryPolicy
	log    *zap.Logger
	now    func() time.Time
}

func NewExecutor(oracle Oracle, policy RetryPolicy, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{oracle: oracle, policy: policy.normalized(), log: log.Named("executor"), now: time.Now}
}

// Execute grades one task. Every failure is folded into the returned
// Evaluation: verdict inconclusive, fallback reasoning, Error set.
func (e *Executor) Execute(ctx context.Context, task model.EvaluationTask) model.Evaluation {
	in := BuildOracleInput(task)
	log := e.log.With(
		zap.String("submission_id", task.Submission.ID),
		zap.String("question_id", task.QuestionID),
		zap.String("judge_id", task.JudgeID),
	)

	var (
		out      OracleOutput
		attempts int
	)
	start := e.now()
	err := backoff.RetryNotify(func() error {
		attempts++
		res, err := e.attempt(ctx, in)
		if err != nil {
			return err
		}
		out = res
		return nil
	}, e.policy.backOff(ctx), func(err error, wait time.Duration) {
		log.Warn("oracle attempt failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
	elapsed := e.now().Sub(start)

	ev := model.Evaluation{
		ID:            uuid.NewString(),
		SubmissionID:  task.Submission.ID,
		QuestionID:    task.QuestionID,
		JudgeID:       task.JudgeID,
		ExecutionTime: &elapsed,
		CreatedAt:     e.now().UTC(),
	}
	if err != nil {
		var malformed *OracleMalformedResponseError
		if !errors.As(err, &malformed) {
			err = &OracleInvocationError{Attempts: attempts, Err: err}
		}
		log.Error("evaluation failed", zap.Int("attempts", attempts), zap.Error(err))
		ev.Verdict = model.VerdictInconclusive
		ev.Reasoning = FallbackReasoning
		ev.Error = err.Error()
		return ev
	}
	ev.Verdict = model.Verdict(out.Verdict)
	ev.Reasoning = out.Reasoning
	return ev
}

// attempt performs one bounded oracle call and validates the response.
func (e *Executor) attempt(ctx context.Context, in OracleInput) (OracleOutput, error) {
	actx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
	defer cancel()

	type result struct {
		out OracleOutput
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := e.oracle.Evaluate(actx, in)
		done <- result{out, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-actx.Done():
		r.err = actx.Err()
	}
	if r.err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return OracleOutput{}, fmt.Errorf("attempt timed out after %s: %w", e.policy.AttemptTimeout, r.err)
		}
		return OracleOutput{}, r.err
	}
	return normalizeOutput(r.out)
}

func normalizeOutput(out OracleOutput) (OracleOutput, error) {
	verdict := strings.ToLower(strings.TrimSpace(out.Verdict))
	reasoning := strings.TrimSpace(out.Reasoning)
	switch {
	case verdict == "":
		return OracleOutput{}, &OracleMalformedResponseError{Reason: "missing verdict"}
	case reasoning == "":
		return OracleOutput{}, &OracleMalformedResponseError{Reason: "missing reasoning"}
	}
	switch model.Verdict(verdict) {
	case model.VerdictPass, model.VerdictFail, model.VerdictInconclusive:
	default:
		return OracleOutput{}, &OracleMalformedResponseError{Reason: fmt.Sprintf("unknown verdict %q", out.Verdict)}
	}
	return OracleOutput{Verdict: verdict, Reasoning: reasoning}, nil
}
