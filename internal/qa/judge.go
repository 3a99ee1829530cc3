package qa

import (
	"context"
	"strings"

	"autograder/internal/model"
)

const (
	// NoAnswer replaces a missing answer in the oracle prompt.
	NoAnswer = "No answer provided"
	// FallbackReasoning is stored on evaluations whose oracle call failed.
	FallbackReasoning = "Evaluation failed due to an error"
)

// OracleInput is everything a judge needs to grade one answer.
type OracleInput struct {
	SystemPrompt    string
	QuestionText    string
	FormattedAnswer string
	ModelName       string
}

// OracleOutput is the raw judge response; it is validated by the Executor.
type OracleOutput struct {
	Verdict   string `json:"verdict"`
	Reasoning string `json:"reasoning"`
}

// Oracle grades a single answer. Implementations must honor ctx.
type Oracle interface {
	Evaluate(ctx context.Context, in OracleInput) (OracleOutput, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, in OracleInput) (OracleOutput, error)

func (f OracleFunc) Evaluate(ctx context.Context, in OracleInput) (OracleOutput, error) {
	return f(ctx, in)
}

// BuildOracleInput assembles the prompt parts for task.
func BuildOracleInput(task model.EvaluationTask) OracleInput {
	var answer *model.Answer
	if a, ok := task.Submission.Answers[task.QuestionID]; ok {
		answer = &a
	}
	return OracleInput{
		SystemPrompt:    task.Judge.SystemPrompt,
		QuestionText:    task.Question.QuestionText,
		FormattedAnswer: FormatAnswer(task.Question, answer),
		ModelName:       task.Judge.ModelName,
	}
}

// FormatAnswer renders an answer as prompt text according to the question type.
func FormatAnswer(q model.Question, a *model.Answer) string {
	if a == nil || a.Empty() {
		return NoAnswer
	}
	if q.QuestionType == model.QuestionFreeForm && a.Text != "" {
		return a.Text
	}

	var lines []string
	if a.Choice != "" {
		lines = append(lines, "Choice: "+a.Choice)
	}
	if len(a.Choices) > 0 {
		lines = append(lines, "Choices: "+strings.Join(a.Choices, ", "))
	}
	if a.Reasoning != "" {
		lines = append(lines, "Reasoning: "+a.Reasoning)
	}
	if a.Text != "" {
		lines = append(lines, "Answer: "+a.Text)
	}
	return strings.Join(lines, "\n")
}
