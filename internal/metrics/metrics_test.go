package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autograder/internal/model"
	"autograder/internal/qa"
)

func TestEmitCountsTaskOutcomes(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.Emit(ctx, qa.Event{Type: qa.EventTaskStarted})
	m.Emit(ctx, qa.Event{Type: qa.EventTaskStarted})
	m.Emit(ctx, qa.Event{Type: qa.EventTaskCompleted, Verdict: model.VerdictPass, Duration: 300 * time.Millisecond})
	m.Emit(ctx, qa.Event{Type: qa.EventTaskFailed, Verdict: model.VerdictInconclusive, Duration: time.Second})
	m.Emit(ctx, qa.Event{Type: qa.EventRunStatus, Status: model.RunRunning})
	m.Emit(ctx, qa.Event{Type: qa.EventRunStatus, Status: model.RunCompleted})

	assert.InDelta(t, 2, testutil.ToFloat64(m.tasksStarted), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.tasksFinished.WithLabelValues("completed", "pass")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.tasksFinished.WithLabelValues("failed", "inconclusive")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.runTransitions.WithLabelValues("completed")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.runTransitions))
	assert.Equal(t, 1, testutil.CollectAndCount(m.taskDuration))
}

func TestRunsInFlight(t *testing.T) {
	m := New()
	m.RunStarted()
	m.RunStarted()
	m.RunFinished()
	assert.InDelta(t, 1, testutil.ToFloat64(m.runsInFlight), 0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "/queues/{id}", http.StatusOK, 5*time.Millisecond)
	m.ObserveUpload("invalid")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `autograder_http_requests_total{code="200",method="GET",route="/queues/{id}"} 1`)
	assert.Contains(t, body, `autograder_uploads_total{result="invalid"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
