package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autograder/internal/qa"
)

func testInput() qa.OracleInput {
	return qa.OracleInput{
		SystemPrompt:    "You grade geography answers.",
		QuestionText:    "Capital of France?",
		FormattedAnswer: "Paris",
		ModelName:       "gpt-test",
	}
}

func completion(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
	}
}

func TestEvaluateSendsChatRequest(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(completion(`{"verdict":"pass","reasoning":"Correct capital."}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Timeout: time.Second}, nil)
	out, err := c.Evaluate(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, qa.OracleOutput{Verdict: "pass", Reasoning: "Correct capital."}, out)

	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "You grade geography answers.")
	assert.Contains(t, got.Messages[0].Content, `"verdict"`)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Contains(t, got.Messages[1].Content, "Capital of France?")
	assert.Contains(t, got.Messages[1].Content, "Paris")
	assert.Equal(t, "json_object", got.ResponseFormat["type"])
}

func TestEvaluateAPIErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			header: map[string]string{"Retry-After": "7"},
			body:   `{"error":{"message":"slow down","type":"rate_limit_error"}}`,
			check: func(t *testing.T, err error) {
				var rl *RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 7*time.Second, rl.RetryAfter)
				assert.Equal(t, "slow down", rl.Message)
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   "upstream exploded",
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
				assert.Equal(t, "upstream exploded", apiErr.Message)
			},
		},
		{
			name:   "bad model",
			status: http.StatusNotFound,
			body:   `{"error":{"message":"model not found","type":"invalid_request_error","code":"model_not_found"}}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, "model_not_found", apiErr.Code)
				assert.Contains(t, err.Error(), "invalid_request_error")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}, nil).Evaluate(context.Background(), testInput())
			tt.check(t, err)
		})
	}
}

func TestEvaluateMalformedCompletion(t *testing.T) {
	for name, body := range map[string]any{
		"no choices":  map[string]any{"choices": []any{}},
		"prose only":  completion("I think it is fine."),
		"broken json": completion(`{"verdict": "pass", "reasoning": }`),
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(body)
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}, nil).Evaluate(context.Background(), testInput())
			var merr *qa.OracleMalformedResponseError
			require.ErrorAs(t, err, &merr)
		})
	}
}

func TestEvaluateRespectsRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(completion(`{"verdict":"fail","reasoning":"no"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, RequestsPerSecond: 0.001, Burst: 1}, nil)
	_, err := c.Evaluate(context.Background(), testInput())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Evaluate(ctx, testInput())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    qa.OracleOutput
		wantErr bool
	}{
		{"plain", `{"verdict":"fail","reasoning":"wrong"}`, qa.OracleOutput{Verdict: "fail", Reasoning: "wrong"}, false},
		{"fenced", "```json\n{\"verdict\":\"pass\",\"reasoning\":\"ok\"}\n```", qa.OracleOutput{Verdict: "pass", Reasoning: "ok"}, false},
		{"bare fence", "```\n{\"verdict\":\"inconclusive\",\"reasoning\":\"unclear\"}\n```", qa.OracleOutput{Verdict: "inconclusive", Reasoning: "unclear"}, false},
		{"surrounded by prose", `Here you go: {"verdict":"pass","reasoning":"fine"} Thanks!`, qa.OracleOutput{Verdict: "pass", Reasoning: "fine"}, false},
		{"empty", "", qa.OracleOutput{}, true},
		{"no object", "pass", qa.OracleOutput{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.content)
			if tt.wantErr {
				var merr *qa.OracleMalformedResponseError
				require.ErrorAs(t, err, &merr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
