// Package http is the REST API: uploads, queues, judges, assignments, runs
// and stats.
package http

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	m "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"autograder/internal/ingest"
	"autograder/internal/model"
)

// Store is the persistence the API reads and writes.
type Store interface {
	GetQueue(ctx context.Context, id string) (*model.Queue, error)
	ListQueues(ctx context.Context) ([]model.Queue, error)
	GetSubmissionsByQueue(ctx context.Context, queueID string) ([]model.Submission, error)
	GetJudgeAssignments(ctx context.Context, queueID string) ([]model.JudgeAssignment, error)
	ReplaceAssignments(ctx context.Context, queueID string, in []model.JudgeAssignment) ([]model.JudgeAssignment, error)
	CreateJudge(ctx context.Context, j model.Judge) (*model.Judge, error)
	UpdateJudge(ctx context.Context, j model.Judge) (*model.Judge, error)
	GetJudge(ctx context.Context, id string) (*model.Judge, error)
	GetJudges(ctx context.Context) ([]model.Judge, error)
	CreateEvaluationRun(ctx context.Context, queueID string) (*model.EvaluationRun, error)
	UpdateEvaluationRun(ctx context.Context, id string, u model.RunUpdate) error
	GetEvaluationRun(ctx context.Context, id string) (*model.EvaluationRun, error)
	ListEvaluationRuns(ctx context.Context, queueID string) ([]model.EvaluationRun, error)
	ListEvaluationsByQueue(ctx context.Context, queueID string) ([]model.Evaluation, error)
}

// Dispatcher hands created runs to whatever executes them.
type Dispatcher interface {
	EnqueueRun(ctx context.Context, run model.EvaluationRun) error
	// CancelRun reports true when the run was removed before it started.
	CancelRun(ctx context.Context, runID string) (bool, error)
}

type Uploader interface {
	Upload(ctx context.Context, raw []byte) (*ingest.Result, error)
}

// UploadObserver counts upload outcomes.
type UploadObserver interface {
	ObserveUpload(result string)
}

type Deps struct {
	Store      Store
	Ingest     Uploader
	Dispatcher Dispatcher
	Log        *zap.Logger
	// APIToken guards every route except /healthz and /metrics.
	APIToken       string
	MaxUploadBytes int64
	// Ping reports backend health for /healthz; nil means always healthy.
	Ping    func(ctx context.Context) error
	Metrics interface {
		HTTPObserver
		UploadObserver
		Handler() http.Handler
	}
}

type Server struct {
	store     Store
	ingest    Uploader
	dispatch  Dispatcher
	log       *zap.Logger
	validate  *validator.Validate
	maxUpload int64
	uploads   UploadObserver
	now       func() time.Time
}

func NewServer(addr string, d Deps) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(d),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler builds the router.
func Handler(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		store:     d.Store,
		ingest:    d.Ingest,
		dispatch:  d.Dispatcher,
		log:       log.Named("http"),
		validate:  newValidator(),
		maxUpload: d.MaxUploadBytes,
		now:       time.Now,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 32 << 20
	}

	var obs HTTPObserver
	if d.Metrics != nil {
		obs = d.Metrics
		s.uploads = d.Metrics
	}

	r := chi.NewRouter()
	r.Use(m.RequestID, m.RealIP, accessLog(s.log, obs), m.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(RequireAPIToken(d.APIToken))

		r.Post("/uploads", s.upload)

		r.Get("/queues", s.listQueues)
		r.Get("/queues/{id}", s.getQueue)
		r.Get("/queues/{id}/submissions", s.listSubmissions)
		r.Put("/queues/{id}/assignments", s.replaceAssignments)
		r.Post("/queues/{id}/runs", s.startRun)
		r.Get("/queues/{id}/runs", s.listRuns)
		r.Get("/queues/{id}/stats", s.queueStats)

		r.Post("/judges", s.createJudge)
		r.Get("/judges", s.listJudges)
		r.Patch("/judges/{id}", s.updateJudge)

		r.Get("/runs/{id}", s.getRun)
		r.Post("/runs/{id}/cancel", s.cancelRun)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ping != nil {
			if err := d.Ping(r.Context()); err != nil {
				s.log.Warn("health check failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}
	return r
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fail logs server-side errors and writes the mapped response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, body := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", m.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, code, body)
}
