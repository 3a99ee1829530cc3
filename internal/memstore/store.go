// Package memstore is an in-memory implementation of the persistent store.
// It backs tests and the "memory" store driver.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"autograder/internal/model"
)

type Store struct {
	mu          sync.RWMutex
	queues      map[string]model.Queue
	queueOrder  []string
	subs        map[string]model.Submission
	subOrder    []string
	judges      map[string]model.Judge
	judgeOrder  []string
	assignments []model.JudgeAssignment
	evals       []model.Evaluation
	runs        map[string]model.EvaluationRun
	runOrder    []string
	now         func() time.Time
}

func New() *Store {
	return &Store{
		queues: make(map[string]model.Queue),
		subs:   make(map[string]model.Submission),
		judges: make(map[string]model.Judge),
		runs:   make(map[string]model.EvaluationRun),
		now:    time.Now,
	}
}

func (s *Store) UpsertQueues(_ context.Context, queues []model.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range queues {
		if _, ok := s.queues[q.ID]; !ok {
			s.queueOrder = append(s.queueOrder, q.ID)
		}
		s.queues[q.ID] = q
	}
	return nil
}

// UploadSubmissions writes all submissions or none.
func (s *Store) UploadSubmissions(_ context.Context, subs []model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subs {
		if _, ok := s.queues[sub.QueueID]; !ok {
			return fmt.Errorf("submission %s: queue %s: %w", sub.ID, sub.QueueID, model.ErrNotFound)
		}
	}
	for _, sub := range subs {
		if _, ok := s.subs[sub.ID]; !ok {
			s.subOrder = append(s.subOrder, sub.ID)
		}
		s.subs[sub.ID] = sub
	}
	return nil
}

// DeleteQueues removes the queues and, like the Postgres cascade, their
// submissions, assignments, runs and evaluations.
func (s *Store) DeleteQueues(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		delete(s.queues, id)
	}
	s.queueOrder = slices.DeleteFunc(s.queueOrder, func(id string) bool { return drop[id] })

	droppedSubs := make(map[string]bool)
	s.subOrder = slices.DeleteFunc(s.subOrder, func(id string) bool {
		if drop[s.subs[id].QueueID] {
			droppedSubs[id] = true
			delete(s.subs, id)
			return true
		}
		return false
	})
	s.assignments = slices.DeleteFunc(s.assignments, func(a model.JudgeAssignment) bool { return drop[a.QueueID] })
	s.runOrder = slices.DeleteFunc(s.runOrder, func(id string) bool {
		if drop[s.runs[id].QueueID] {
			delete(s.runs, id)
			return true
		}
		return false
	})
	s.evals = slices.DeleteFunc(s.evals, func(e model.Evaluation) bool { return droppedSubs[e.SubmissionID] })
	return nil
}

func (s *Store) GetQueue(_ context.Context, id string) (*model.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &q, nil
}

func (s *Store) ListQueues(_ context.Context) ([]model.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Queue, 0, len(s.queueOrder))
	for _, id := range s.queueOrder {
		out = append(out, s.queues[id])
	}
	return out, nil
}

// GetSubmissionsByQueue orders by creation time, then id.
func (s *Store) GetSubmissionsByQueue(_ context.Context, queueID string) ([]model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Submission, 0)
	for _, id := range s.subOrder {
		if sub := s.subs[id]; sub.QueueID == queueID {
			out = append(out, sub)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Submission) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) GetJudgeAssignments(_ context.Context, queueID string) ([]model.JudgeAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.JudgeAssignment, 0)
	for _, a := range s.assignments {
		if a.QueueID == queueID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ReplaceAssignments swaps the queue's assignments; duplicate triples are dropped.
func (s *Store) ReplaceAssignments(_ context.Context, queueID string, in []model.JudgeAssignment) ([]model.JudgeAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.assignments[:0:0]
	for _, a := range s.assignments {
		if a.QueueID != queueID {
			kept = append(kept, a)
		}
	}
	seen := make(map[[2]string]bool)
	added := make([]model.JudgeAssignment, 0, len(in))
	for _, a := range in {
		key := [2]string{a.QuestionID, a.JudgeID}
		if seen[key] {
			continue
		}
		seen[key] = true
		a.QueueID = queueID
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = s.now().UTC()
		}
		added = append(added, a)
	}
	s.assignments = append(kept, added...)
	return added, nil
}

func (s *Store) CreateJudge(_ context.Context, j model.Judge) (*model.Judge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if _, ok := s.judges[j.ID]; ok {
		return nil, fmt.Errorf("judge %s already exists", j.ID)
	}
	now := s.now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	s.judges[j.ID] = j
	s.judgeOrder = append(s.judgeOrder, j.ID)
	return &j, nil
}

func (s *Store) UpdateJudge(_ context.Context, j model.Judge) (*model.Judge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.judges[j.ID]
	if !ok {
		return nil, model.ErrNotFound
	}
	j.CreatedAt = cur.CreatedAt
	j.UpdatedAt = s.now().UTC()
	s.judges[j.ID] = j
	return &j, nil
}

func (s *Store) GetJudge(_ context.Context, id string) (*model.Judge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.judges[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &j, nil
}

func (s *Store) GetJudges(_ context.Context) ([]model.Judge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Judge, 0, len(s.judgeOrder))
	for _, id := range s.judgeOrder {
		out = append(out, s.judges[id])
	}
	return out, nil
}

func (s *Store) GetActiveJudges(ctx context.Context) ([]model.Judge, error) {
	all, _ := s.GetJudges(ctx)
	return slices.DeleteFunc(all, func(j model.Judge) bool { return !j.IsActive }), nil
}

// CreateEvaluation appends ev; evaluations are never updated.
func (s *Store) CreateEvaluation(_ context.Context, ev model.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	for _, e := range s.evals {
		if e.ID == ev.ID {
			return fmt.Errorf("evaluation %s already exists", ev.ID)
		}
	}
	s.evals = append(s.evals, ev)
	return nil
}

func (s *Store) ListEvaluationsByQueue(_ context.Context, queueID string) ([]model.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Evaluation, 0)
	for _, e := range s.evals {
		if sub, ok := s.subs[e.SubmissionID]; ok && sub.QueueID == queueID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ListEvaluationsByRun(_ context.Context, runID string) ([]model.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Evaluation, 0)
	for _, e := range s.evals {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) CreateEvaluationRun(_ context.Context, queueID string) (*model.EvaluationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[queueID]; !ok {
		return nil, fmt.Errorf("queue %s: %w", queueID, model.ErrNotFound)
	}
	run := model.EvaluationRun{
		ID:        uuid.NewString(),
		QueueID:   queueID,
		StartedAt: s.now().UTC(),
		Status:    model.RunRunning,
	}
	s.runs[run.ID] = run
	s.runOrder = append(s.runOrder, run.ID)
	return &run, nil
}

func (s *Store) UpdateEvaluationRun(_ context.Context, id string, u model.RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return model.ErrNotFound
	}
	u.Apply(&run)
	s.runs[id] = run
	return nil
}

func (s *Store) GetEvaluationRun(_ context.Context, id string) (*model.EvaluationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &run, nil
}

// ListEvaluationRuns returns the queue's runs, newest first.
func (s *Store) ListEvaluationRuns(_ context.Context, queueID string) ([]model.EvaluationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.EvaluationRun, 0)
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		if r := s.runs[s.runOrder[i]]; r.QueueID == queueID {
			out = append(out, r)
		}
	}
	return out, nil
}
