package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type queueOut struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SubmissionCount int    `json:"submissionCount"`
}

type uploadResp struct {
	Queues      []queueOut `json:"queues"`
	Submissions int        `json:"submissions"`
}

type judgeResp struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type runResp struct {
	ID                   string `json:"id"`
	Status               string `json:"status"`
	Progress             int    `json:"progress"`
	TotalEvaluations     int    `json:"totalEvaluations"`
	CompletedEvaluations int    `json:"completedEvaluations"`
	FailedEvaluations    int    `json:"failedEvaluations"`
}

// sampleBatch has two submissions in one queue: a correct and a wrong answer.
const sampleBatch = `[
  {
    "id": "smoke-sub-1",
    "queueId": "smoke-queue",
    "labelingTaskId": "smoke-task",
    "createdAt": 1700000000000,
    "questions": [
      {"rev": 1, "data": {"id": "capital", "questionType": "single_choice_with_reasoning", "questionText": "What is the capital of France?"}}
    ],
    "answers": {"capital": {"choice": "Paris", "reasoning": "Paris has been the capital since the 10th century."}}
  },
  {
    "id": "smoke-sub-2",
    "queueId": "smoke-queue",
    "labelingTaskId": "smoke-task",
    "createdAt": 1700000001000,
    "questions": [
      {"rev": 1, "data": {"id": "capital", "questionType": "single_choice_with_reasoning", "questionText": "What is the capital of France?"}}
    ],
    "answers": {"capital": {"choice": "Lyon", "reasoning": "It is the largest city."}}
  }
]`

func main() {
	baseFlag := flag.String("base", envOr("API_BASE_URL", "http://localhost:8080"), "API base URL")
	tokenFlag := flag.String("token", os.Getenv("AUTOGRADER_HTTP__API_TOKEN"), "API bearer token")
	model := flag.String("model", envOr("SMOKE_MODEL", "gpt-4o-mini"), "model name for the smoke judge")
	wait := flag.Duration("wait", 2*time.Minute, "how long to poll for the run to finish")
	flag.Parse()

	httpc := &http.Client{Timeout: 30 * time.Second}
	base, token := *baseFlag, *tokenFlag

	// 1) Upload
	var up uploadResp
	if err := doJSON(httpc, http.MethodPost, base+"/uploads", token, json.RawMessage(sampleBatch), &up); err != nil {
		fatalf("upload: %v", err)
	}
	if len(up.Queues) != 1 {
		fatalf("upload: expected one queue, got %d", len(up.Queues))
	}
	queueID := up.Queues[0].ID
	fmt.Printf("✅ Uploaded %d submission(s) into queue %s\n", up.Submissions, queueID)

	// 2) Judge
	var judge judgeResp
	err := doJSON(httpc, http.MethodPost, base+"/judges", token, map[string]any{
		"name":         "smoke geography judge",
		"systemPrompt": "You grade geography answers. Pass only factually correct answers with sound reasoning.",
		"modelName":    *model,
	}, &judge)
	if err != nil {
		fatalf("create judge: %v", err)
	}
	fmt.Printf("✅ Created judge %s\n", judge.ID)

	// 3) Assign
	err = doJSON(httpc, http.MethodPut, fmt.Sprintf("%s/queues/%s/assignments", base, queueID), token, map[string]any{
		"assignments": []map[string]string{{"questionId": "capital", "judgeId": judge.ID}},
	}, nil)
	if err != nil {
		fatalf("assign judge: %v", err)
	}
	fmt.Println("✅ Assigned judge to question capital")

	// 4) Run
	var run runResp
	if err := doJSON(httpc, http.MethodPost, fmt.Sprintf("%s/queues/%s/runs", base, queueID), token, nil, &run); err != nil {
		fatalf("start run: %v", err)
	}
	fmt.Printf("✅ Started run %s\n", run.ID)

	// 5) Poll
	deadline := time.Now().Add(*wait)
	for run.Status == "running" {
		if time.Now().After(deadline) {
			fatalf("run %s still running after %s (progress %d%%)", run.ID, *wait, run.Progress)
		}
		time.Sleep(2 * time.Second)
		if err := doJSON(httpc, http.MethodGet, base+"/runs/"+run.ID, token, nil, &run); err != nil {
			fatalf("get run: %v", err)
		}
		fmt.Printf("   progress %d%% (%d ok, %d failed of %d)\n", run.Progress, run.CompletedEvaluations, run.FailedEvaluations, run.TotalEvaluations)
	}
	if run.Status != "completed" {
		fatalf("run %s ended %s", run.ID, run.Status)
	}

	// 6) Stats
	var stats map[string]any
	if err := doJSON(httpc, http.MethodGet, fmt.Sprintf("%s/queues/%s/stats?runId=%s", base, queueID, run.ID), token, nil, &stats); err != nil {
		fatalf("stats: %v", err)
	}
	fmt.Printf("✅ Stats:\n%s\n", compactJSON(stats["overall"]))
	fmt.Printf("🎉 Smoke run OK. queue=%s run=%s\n", queueID, run.ID)
}

// --- helpers ---

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func doJSON(c *http.Client, method, url, bearer string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := c.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s %s -> %d: %s", method, url, res.StatusCode, string(b))
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

func compactJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatalf(format string, args ...any) {
	fmt.Printf("❌ "+format+"\n", args...)
	os.Exit(1)
}
