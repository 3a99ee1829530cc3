package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"autograder/internal/model"
	"autograder/internal/qa"
	"autograder/internal/schemas"
)

func runOut(run model.EvaluationRun) schemas.RunOut {
	return schemas.RunOut{EvaluationRun: run, Progress: run.Progress()}
}

// startRun creates a run and hands it to the dispatcher. A run that cannot be
// dispatched is marked failed.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	queueID := chi.URLParam(r, "id")
	run, err := s.store.CreateEvaluationRun(ctx, queueID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	log := s.log.With(zap.String("run_id", run.ID), zap.String("queue_id", queueID))
	if err := s.dispatch.EnqueueRun(ctx, *run); err != nil {
		status := model.RunFailed
		at := s.now().UTC()
		if uerr := s.store.UpdateEvaluationRun(ctx, run.ID, model.RunUpdate{Status: &status, CompletedAt: &at}); uerr != nil {
			log.Error("could not mark undispatched run failed", zap.Error(uerr))
		}
		s.fail(w, r, fmt.Errorf("dispatch run: %w", err))
		return
	}
	log.Info("run created")
	writeJSON(w, http.StatusAccepted, runOut(*run))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	queueID := chi.URLParam(r, "id")
	if _, err := s.store.GetQueue(ctx, queueID); err != nil {
		s.fail(w, r, err)
		return
	}
	runs, err := s.store.ListEvaluationRuns(ctx, queueID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]schemas.RunOut, 0, len(runs))
	for _, run := range runs {
		out = append(out, runOut(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetEvaluationRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runOut(*run))
}

// cancelRun stops a running run. A run that had not started is failed here;
// otherwise its executor fails it once in-flight tasks drain, so the response
// may still show it running.
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := s.store.GetEvaluationRun(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if run.Status.Terminal() {
		s.fail(w, r, fmt.Errorf("%w: run is already %s", ErrConflict, run.Status))
		return
	}
	removed, err := s.dispatch.CancelRun(ctx, run.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if removed {
		status := model.RunFailed
		at := s.now().UTC()
		u := model.RunUpdate{Status: &status, CompletedAt: &at}
		if err := s.store.UpdateEvaluationRun(ctx, run.ID, u); err != nil {
			s.fail(w, r, err)
			return
		}
		u.Apply(run)
	}
	s.log.Info("run cancelled", zap.String("run_id", run.ID), zap.Bool("before_start", removed))
	writeJSON(w, http.StatusAccepted, runOut(*run))
}

// queueStats aggregates the queue's evaluations, optionally limited to one run
// with ?runId=.
func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	queueID := chi.URLParam(r, "id")
	if _, err := s.store.GetQueue(ctx, queueID); err != nil {
		s.fail(w, r, err)
		return
	}
	evals, err := s.store.ListEvaluationsByQueue(ctx, queueID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	runID := r.URL.Query().Get("runId")
	if runID != "" {
		filtered := evals[:0:0]
		for _, ev := range evals {
			if ev.RunID == runID {
				filtered = append(filtered, ev)
			}
		}
		evals = filtered
	}

	out := schemas.StatsOut{
		QueueID:    queueID,
		RunID:      runID,
		Overall:    qa.Aggregate(evals),
		ByJudge:    qa.AggregateBy(evals, qa.ByJudge),
		ByQuestion: qa.AggregateBy(evals, qa.ByQuestion),
		Computed:   s.now().UTC(),
	}
	runs, err := s.store.ListEvaluationRuns(ctx, queueID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(runs) > 0 {
		latest := runOut(runs[0])
		out.LatestRun = &latest
	}
	writeJSON(w, http.StatusOK, out)
}
