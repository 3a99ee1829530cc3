package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"autograder/internal/model"
)

// Store implements the ingestion, evaluation and API store interfaces on
// Postgres.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

const upsertQueue = `
INSERT INTO queues (id, name, description, created_at, submission_count)
VALUES (:id, :name, :description, :created_at, :submission_count)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    description = EXCLUDED.description,
    submission_count = EXCLUDED.submission_count`

func (s *Store) UpsertQueues(ctx context.Context, queues []model.Queue) error {
	return WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for _, q := range queues {
			if q.CreatedAt.IsZero() {
				q.CreatedAt = s.now().UTC()
			}
			if _, err := tx.NamedExecContext(ctx, upsertQueue, q); err != nil {
				return fmt.Errorf("upsert queue %s: %w", q.ID, err)
			}
		}
		return nil
	})
}

const upsertSubmission = `
INSERT INTO submissions (id, queue_id, labeling_task_id, created_at, questions, answers)
VALUES (:id, :queue_id, :labeling_task_id, :created_at, :questions, :answers)
ON CONFLICT (id) DO UPDATE SET
    queue_id = EXCLUDED.queue_id,
    labeling_task_id = EXCLUDED.labeling_task_id,
    created_at = EXCLUDED.created_at,
    questions = EXCLUDED.questions,
    answers = EXCLUDED.answers`

// UploadSubmissions writes all submissions in one transaction.
func (s *Store) UploadSubmissions(ctx context.Context, subs []model.Submission) error {
	rows := make([]submissionRow, 0, len(subs))
	for _, sub := range subs {
		r, err := toSubmissionRow(sub)
		if err != nil {
			return err
		}
		rows = append(rows, r)
	}
	return WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for _, r := range rows {
			if _, err := tx.NamedExecContext(ctx, upsertSubmission, r); err != nil {
				return fmt.Errorf("insert submission %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// DeleteQueues removes queues; submissions, assignments and runs cascade.
func (s *Store) DeleteQueues(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM queues WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete queues: %w", err)
	}
	return nil
}

func (s *Store) GetQueue(ctx context.Context, id string) (*model.Queue, error) {
	var q model.Queue
	err := s.db.GetContext(ctx, &q, `SELECT * FROM queues WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

func (s *Store) ListQueues(ctx context.Context) ([]model.Queue, error) {
	out := []model.Queue{}
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM queues ORDER BY created_at, id`)
	return out, err
}

func (s *Store) GetSubmissionsByQueue(ctx context.Context, queueID string) ([]model.Submission, error) {
	var rows []submissionRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT id, queue_id, labeling_task_id, created_at, questions, answers
FROM submissions WHERE queue_id = $1
ORDER BY created_at, id`, queueID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Submission, 0, len(rows))
	for _, r := range rows {
		sub, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *Store) GetJudgeAssignments(ctx context.Context, queueID string) ([]model.JudgeAssignment, error) {
	out := []model.JudgeAssignment{}
	err := s.db.SelectContext(ctx, &out, `
SELECT id, queue_id, question_id, judge_id, created_at
FROM judge_assignments WHERE queue_id = $1
ORDER BY seq`, queueID)
	return out, err
}

// ReplaceAssignments swaps the queue's assignments in one transaction;
// duplicate triples are dropped.
func (s *Store) ReplaceAssignments(ctx context.Context, queueID string, in []model.JudgeAssignment) ([]model.JudgeAssignment, error) {
	added := make([]model.JudgeAssignment, 0, len(in))
	seen := make(map[[2]string]bool)
	now := s.now().UTC()
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
			a.CreatedAt = now
		}
		added = append(added, a)
	}
	err := WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM queues WHERE id = $1)`, queueID); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("queue %s: %w", queueID, model.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM judge_assignments WHERE queue_id = $1`, queueID); err != nil {
			return fmt.Errorf("clear assignments: %w", err)
		}
		for _, a := range added {
			_, err := tx.NamedExecContext(ctx, `
INSERT INTO judge_assignments (id, queue_id, question_id, judge_id, created_at)
VALUES (:id, :queue_id, :question_id, :judge_id, :created_at)`, a)
			if err != nil {
				return fmt.Errorf("insert assignment %s/%s: %w", a.QuestionID, a.JudgeID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func (s *Store) CreateJudge(ctx context.Context, j model.Judge) (*model.Judge, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	stmt, err := s.db.PrepareNamedContext(ctx, `
INSERT INTO judges (id, name, system_prompt, model_name, is_active, created_at, updated_at)
VALUES (:id, :name, :system_prompt, :model_name, :is_active, :created_at, :updated_at)
RETURNING *`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var out model.Judge
	if err := stmt.GetContext(ctx, &out, j); err != nil {
		return nil, fmt.Errorf("insert judge: %w", err)
	}
	return &out, nil
}

func (s *Store) UpdateJudge(ctx context.Context, j model.Judge) (*model.Judge, error) {
	var out model.Judge
	err := s.db.GetContext(ctx, &out, `
UPDATE judges SET name = $2, system_prompt = $3, model_name = $4, is_active = $5, updated_at = $6
WHERE id = $1
RETURNING *`, j.ID, j.Name, j.SystemPrompt, j.ModelName, j.IsActive, s.now().UTC())
	if err != nil {
		return nil, notFound(err)
	}
	return &out, nil
}

func (s *Store) GetJudge(ctx context.Context, id string) (*model.Judge, error) {
	var j model.Judge
	if err := s.db.GetContext(ctx, &j, `SELECT * FROM judges WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

func (s *Store) GetJudges(ctx context.Context) ([]model.Judge, error) {
	out := []model.Judge{}
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM judges ORDER BY created_at, id`)
	return out, err
}

func (s *Store) GetActiveJudges(ctx context.Context) ([]model.Judge, error) {
	out := []model.Judge{}
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM judges WHERE is_active ORDER BY created_at, id`)
	return out, err
}

// CreateEvaluation appends ev; evaluations are never updated.
func (s *Store) CreateEvaluation(ctx context.Context, ev model.Evaluation) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO evaluations (id, run_id, submission_id, question_id, judge_id, verdict, reasoning, execution_time_ms, error, created_at)
VALUES (:id, :run_id, :submission_id, :question_id, :judge_id, :verdict, :reasoning, :execution_time_ms, :error, :created_at)`,
		toEvaluationRow(ev))
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

const evaluationColumns = `e.id, e.run_id, e.submission_id, e.question_id, e.judge_id, e.verdict, e.reasoning, e.execution_time_ms, e.error, e.created_at`

func (s *Store) ListEvaluationsByQueue(ctx context.Context, queueID string) ([]model.Evaluation, error) {
	return s.listEvaluations(ctx, `
SELECT `+evaluationColumns+`
FROM evaluations e JOIN submissions s ON s.id = e.submission_id
WHERE s.queue_id = $1
ORDER BY e.created_at, e.id`, queueID)
}

func (s *Store) ListEvaluationsByRun(ctx context.Context, runID string) ([]model.Evaluation, error) {
	return s.listEvaluations(ctx, `
SELECT `+evaluationColumns+`
FROM evaluations e
WHERE e.run_id = $1
ORDER BY e.created_at, e.id`, runID)
}

func (s *Store) listEvaluations(ctx context.Context, query string, arg any) ([]model.Evaluation, error) {
	var rows []evaluationRow
	if err := s.db.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, err
	}
	out := make([]model.Evaluation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// CreateEvaluationRun inserts a running run; the queue must exist.
func (s *Store) CreateEvaluationRun(ctx context.Context, queueID string) (*model.EvaluationRun, error) {
	var run model.EvaluationRun
	err := s.db.GetContext(ctx, &run, `
INSERT INTO evaluation_runs (id, queue_id, started_at, status)
SELECT $1, $2, $3, $4
WHERE EXISTS (SELECT 1 FROM queues WHERE id = $2)
RETURNING *`, uuid.NewString(), queueID, s.now().UTC(), string(model.RunRunning))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("queue %s: %w", queueID, model.ErrNotFound)
		}
		return nil, err
	}
	return &run, nil
}

// UpdateEvaluationRun writes only the fields set in u.
func (s *Store) UpdateEvaluationRun(ctx context.Context, id string, u model.RunUpdate) error {
	sets, args := runUpdateSQL(u)
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE evaluation_runs SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func runUpdateSQL(u model.RunUpdate) ([]string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.CompletedAt != nil {
		add("completed_at", *u.CompletedAt)
	}
	if u.Total != nil {
		add("total_evaluations", *u.Total)
	}
	if u.Completed != nil {
		add("completed_evaluations", *u.Completed)
	}
	if u.Failed != nil {
		add("failed_evaluations", *u.Failed)
	}
	return sets, args
}

func (s *Store) GetEvaluationRun(ctx context.Context, id string) (*model.EvaluationRun, error) {
	var run model.EvaluationRun
	if err := s.db.GetContext(ctx, &run, `SELECT * FROM evaluation_runs WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

// ListEvaluationRuns returns the queue's runs, newest first.
func (s *Store) ListEvaluationRuns(ctx context.Context, queueID string) ([]model.EvaluationRun, error) {
	out := []model.EvaluationRun{}
	err := s.db.SelectContext(ctx, &out, `
SELECT * FROM evaluation_runs WHERE queue_id = $1 ORDER BY started_at DESC, id`, queueID)
	return out, err
}
