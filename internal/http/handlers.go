package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"autograder/internal/ingest"
	"autograder/internal/model"
	"autograder/internal/schemas"
)

func (s *Server) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return s.validate.Struct(v)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errOut(fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit)))
			return
		}
		s.fail(w, r, badRequest("read body: "+err.Error()))
		return
	}

	res, err := s.ingest.Upload(r.Context(), raw)
	if err != nil {
		var schemaErr *ingest.SchemaValidationError
		if errors.As(err, &schemaErr) {
			s.observeUpload("invalid")
		} else {
			s.observeUpload("error")
		}
		s.fail(w, r, err)
		return
	}
	s.observeUpload("ok")
	writeJSON(w, http.StatusCreated, schemas.UploadResponse{Queues: res.Queues, Submissions: len(res.Submissions)})
}

func (s *Server) observeUpload(result string) {
	if s.uploads != nil {
		s.uploads.ObserveUpload(result)
	}
}

func (s *Server) listQueues(w http.ResponseWriter, r *http.Request) {
	qs, err := s.store.ListQueues(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	q, err := s.store.GetQueue(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	subs, err := s.store.GetSubmissionsByQueue(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	as, err := s.store.GetJudgeAssignments(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas.QueueDetail{Queue: *q, Questions: distinctQuestions(subs), Assignments: as})
}

// distinctQuestions lists each question id once, first occurrence wins.
func distinctQuestions(subs []model.Submission) []model.Question {
	out := []model.Question{}
	seen := map[string]bool{}
	for _, sub := range subs {
		for _, q := range sub.Questions {
			if !seen[q.ID] {
				seen[q.ID] = true
				out = append(out, q)
			}
		}
	}
	return out
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetQueue(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	subs, err := s.store.GetSubmissionsByQueue(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) replaceAssignments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	var req schemas.ReplaceAssignmentsRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.store.GetQueue(ctx, id); err != nil {
		s.fail(w, r, err)
		return
	}
	in := make([]model.JudgeAssignment, 0, len(req.Assignments))
	for _, a := range req.Assignments {
		if _, err := s.store.GetJudge(ctx, a.JudgeID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				s.fail(w, r, badRequest("unknown judge "+a.JudgeID))
				return
			}
			s.fail(w, r, err)
			return
		}
		in = append(in, model.JudgeAssignment{QueueID: id, QuestionID: a.QuestionID, JudgeID: a.JudgeID})
	}
	out, err := s.store.ReplaceAssignments(ctx, id, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("assignments replaced", zap.String("queue_id", id), zap.Int("count", len(out)))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createJudge(w http.ResponseWriter, r *http.Request) {
	var req schemas.CreateJudgeRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	j := model.Judge{Name: req.Name, SystemPrompt: req.SystemPrompt, ModelName: req.ModelName, IsActive: true}
	if req.IsActive != nil {
		j.IsActive = *req.IsActive
	}
	created, err := s.store.CreateJudge(r.Context(), j)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listJudges(w http.ResponseWriter, r *http.Request) {
	js, err := s.store.GetJudges(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if r.URL.Query().Get("active") == "true" {
		js = slices.DeleteFunc(js, func(j model.Judge) bool { return !j.IsActive })
	}
	writeJSON(w, http.StatusOK, js)
}

func (s *Server) updateJudge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req schemas.UpdateJudgeRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	j, err := s.store.GetJudge(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Name != nil {
		j.Name = *req.Name
	}
	if req.SystemPrompt != nil {
		j.SystemPrompt = *req.SystemPrompt
	}
	if req.ModelName != nil {
		j.ModelName = *req.ModelName
	}
	if req.IsActive != nil {
		j.IsActive = *req.IsActive
	}
	if j.Name == "" || j.SystemPrompt == "" || j.ModelName == "" {
		s.fail(w, r, badRequest("name, systemPrompt and modelName must not be empty"))
		return
	}
	updated, err := s.store.UpdateJudge(ctx, *j)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
