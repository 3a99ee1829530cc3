package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autograder/internal/model"
)

func fixedNormalizer(suffix string) *Normalizer {
	return &Normalizer{
		Disambiguator: func() string { return suffix },
		Now:           func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
}

const twoQueueBatch = `[
  {"id":"s1","queueId":"qA","labelingTaskId":"lt1","createdAt":1700000000000,
   "questions":[{"rev":1,"data":{"id":"q1","questionType":"free_form","questionText":"Why?"}}],
   "answers":{"q1":{"text":"because"}}},
  {"id":"s2","queueId":"qB","labelingTaskId":"lt2","createdAt":1700000001000,
   "questions":[{"rev":2,"data":{"id":"q2","questionType":"multiple_choice","questionText":"Which?"}}],
   "answers":{"q2":{"choices":["a","c"]}}},
  {"id":"s3","queueId":"qA","labelingTaskId":"lt3","createdAt":1700000002000,
   "questions":[{"rev":1,"data":{"id":"q1","questionType":"free_form","questionText":"Why?"}}],
   "answers":{}}
]`

func TestParseAndNormalize(t *testing.T) {
	calls := 0
	n := fixedNormalizer("abc123")
	n.Disambiguator = func() string { calls++; return "abc123" }

	queues, subs, err := n.ParseAndNormalize([]byte(twoQueueBatch))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	require.Len(t, queues, 2)
	assert.Equal(t, "qA_abc123", queues[0].ID)
	assert.Equal(t, "qA", queues[0].Name)
	assert.Equal(t, 2, queues[0].SubmissionCount)
	assert.Equal(t, "Imported 2 submission(s)", queues[0].Description)
	assert.Equal(t, "qB_abc123", queues[1].ID)
	assert.Equal(t, 1, queues[1].SubmissionCount)

	require.Len(t, subs, 3)
	assert.Equal(t, "s1_abc123", subs[0].ID)
	assert.Equal(t, "qA_abc123", subs[0].QueueID)
	assert.Equal(t, "lt1", subs[0].LabelingTaskID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), subs[0].CreatedAt)
	assert.Equal(t, []model.Question{{ID: "q1", Rev: 1, QuestionType: model.QuestionFreeForm, QuestionText: "Why?"}}, subs[0].Questions)
	assert.Equal(t, model.Answer{Text: "because"}, subs[0].Answers["q1"])
	assert.Equal(t, []string{"a", "c"}, subs[1].Answers["q2"].Choices)
	assert.Empty(t, subs[2].Answers)

	// Every submission references a returned queue.
	ids := map[string]bool{}
	for _, q := range queues {
		ids[q.ID] = true
	}
	for _, s := range subs {
		assert.True(t, ids[s.QueueID], s.QueueID)
	}
}

func TestParseAndNormalizeDefaultDisambiguatorIsBatchScoped(t *testing.T) {
	queues, subs, err := ParseAndNormalize([]byte(twoQueueBatch))
	require.NoError(t, err)
	suffix := strings.TrimPrefix(queues[0].ID, "qA_")
	assert.Len(t, suffix, 12)
	assert.Equal(t, "qB_"+suffix, queues[1].ID)
	for _, s := range subs {
		assert.True(t, strings.HasSuffix(s.ID, "_"+suffix), s.ID)
	}

	again, _, err := ParseAndNormalize([]byte(twoQueueBatch))
	require.NoError(t, err)
	assert.NotEqual(t, queues[0].ID, again[0].ID)
}

func TestParseAndNormalizeEmptyBatch(t *testing.T) {
	queues, subs, err := fixedNormalizer("x").ParseAndNormalize([]byte(" [] "))
	require.NoError(t, err)
	assert.NotNil(t, queues)
	assert.Empty(t, queues)
	assert.Empty(t, subs)
}

func TestParseAndNormalizeRejects(t *testing.T) {
	valid := `{"id":"s1","queueId":"q","labelingTaskId":"lt","createdAt":1,"questions":[{"rev":1,"data":{"id":"q1","questionType":"free_form","questionText":"?"}}],"answers":{"q1":{"text":"t"}}}`
	tests := []struct {
		name string
		raw  string
		path string
	}{
		{"not an array", `{"id":"s1"}`, "$"},
		{"empty input", ``, "$"},
		{"malformed json", `[{"id":`, "$"},
		{"wrong field type", `[{"id":"s1","queueId":"q","labelingTaskId":"lt","createdAt":"yesterday"}]`, "$.createdAt"},
		{"missing queue id", `[{"id":"s1","labelingTaskId":"lt","createdAt":1}]`, "[0].queueId"},
		{"missing submission id", `[` + valid + `,{"queueId":"q","labelingTaskId":"lt","createdAt":1}]`, "[1].id"},
		{"bad question type", `[{"id":"s1","queueId":"q","labelingTaskId":"lt","createdAt":1,"questions":[{"rev":1,"data":{"id":"q1","questionType":"essay","questionText":"?"}}]}]`, "[0].questions[0].data.questionType"},
		{"missing question text", `[{"id":"s1","queueId":"q","labelingTaskId":"lt","createdAt":1,"questions":[{"rev":1,"data":{"id":"q1","questionType":"free_form"}}]}]`, "[0].questions[0].data.questionText"},
		{"negative createdAt", `[{"id":"s1","queueId":"q","labelingTaskId":"lt","createdAt":-5}]`, "[0].createdAt"},
		// An empty answer object.
		{"empty answer", `[` + valid + `,{"id":"s2","queueId":"q","labelingTaskId":"lt","createdAt":1,"answers":{"q1":{}}}]`, "[1].answers.q1"},
		{"blank answer fields", `[{"id":"s1","queueId":"q","labelingTaskId":"lt","createdAt":1,"answers":{"q1":{"text":"","choice":""}}}]`, "[0].answers.q1"},
		{"duplicate submission id", `[` + valid + `,` + valid + `]`, "[1].id"},
		{"duplicate id across queues", `[` + valid + `,{"id":"s1","queueId":"other","labelingTaskId":"lt","createdAt":1}]`, "[1].id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queues, subs, err := fixedNormalizer("x").ParseAndNormalize([]byte(tt.raw))
			var verr *SchemaValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.path, verr.Path)
			assert.NotEmpty(t, verr.Message)
			assert.Nil(t, queues)
			assert.Nil(t, subs)
		})
	}
}
