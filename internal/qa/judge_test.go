package qa

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"autograder/internal/model"
)

func TestFormatAnswer(t *testing.T) {
	tests := []struct {
		name   string
		qt     model.QuestionType
		answer *model.Answer
		want   string
	}{
		{"nil answer", model.QuestionFreeForm, nil, NoAnswer},
		{"empty answer", model.QuestionSingleChoice, &model.Answer{}, NoAnswer},
		{"free form text", model.QuestionFreeForm, &model.Answer{Text: "Paris"}, "Paris"},
		{"single choice", model.QuestionSingleChoice, &model.Answer{Choice: "B"}, "Choice: B"},
		{
			"choice with reasoning",
			model.QuestionSingleChoiceWithReasoning,
			&model.Answer{Choice: "A", Reasoning: "it is the largest"},
			"Choice: A\nReasoning: it is the largest",
		},
		{"multiple choice", model.QuestionMultipleChoice, &model.Answer{Choices: []string{"a", "c"}}, "Choices: a, c"},
		{"free form without text", model.QuestionFreeForm, &model.Answer{Reasoning: "no idea"}, "Reasoning: no idea"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := model.Question{ID: "q", QuestionType: tt.qt}
			assert.Equal(t, tt.want, FormatAnswer(q, tt.answer))
		})
	}
}
