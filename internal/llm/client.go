// Package llm implements the scoring oracle over an OpenAI-compatible
// chat/completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"autograder/internal/qa"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	maxErrorBody   = 4 << 10
)

// responseInstructions is appended to every judge's system prompt.
const responseInstructions = `Respond with a single JSON object and nothing else: {"verdict": "pass" | "fail" | "inconclusive", "reasoning": "<one short paragraph>"}`

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RequestsPerSecond paces outgoing requests; 0 disables pacing.
	RequestsPerSecond float64
	Burst             int
	Temperature       float64
}

// Client is a qa.Oracle. It is safe for concurrent use.
type Client struct {
	http        *http.Client
	baseURL     string
	apiKey      string
	temperature float64
	limiter     *rate.Limiter
	log         *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		http:        &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		limiter:     limiter,
		log:         log.Named("llm"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Evaluate asks the judge model for a verdict. Transport and API failures are
// returned as is; unusable content is an *qa.OracleMalformedResponseError.
func (c *Client) Evaluate(ctx context.Context, in qa.OracleInput) (qa.OracleOutput, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return qa.OracleOutput{}, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := c.buildRequest(ctx, in)
	if err != nil {
		return qa.OracleOutput{}, err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return qa.OracleOutput{}, fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := parseAPIError(resp, body)
		c.log.Warn("chat completion rejected",
			zap.String("model", in.ModelName),
			zap.Int("status", resp.StatusCode),
			zap.Error(err),
		)
		return qa.OracleOutput{}, err
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return qa.OracleOutput{}, &qa.OracleMalformedResponseError{Reason: "undecodable completion: " + err.Error()}
	}
	if len(cr.Choices) == 0 {
		return qa.OracleOutput{}, &qa.OracleMalformedResponseError{Reason: "no choices in completion"}
	}
	out, err := ParseVerdict(cr.Choices[0].Message.Content)
	if err != nil {
		return qa.OracleOutput{}, err
	}
	c.log.Debug("chat completion",
		zap.String("model", in.ModelName),
		zap.Duration("latency", time.Since(start)),
		zap.String("verdict", out.Verdict),
	)
	return out, nil
}

func (c *Client) buildRequest(ctx context.Context, in qa.OracleInput) (*http.Request, error) {
	system := responseInstructions
	if s := strings.TrimSpace(in.SystemPrompt); s != "" {
		system = s + "\n\n" + responseInstructions
	}
	body := chatRequest{
		Model: in.ModelName,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nAnswer to evaluate:\n%s", in.QuestionText, in.FormattedAnswer)},
		},
		Temperature:    c.temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

var _ qa.Oracle = (*Client)(nil)
