package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"autograder/internal/model"
)

const defaultQueueRetries = 3

// Store is the part of the persistent store ingestion writes to.
type Store interface {
	UpsertQueues(ctx context.Context, queues []model.Queue) error
	UploadSubmissions(ctx context.Context, subs []model.Submission) error
	GetQueue(ctx context.Context, id string) (*model.Queue, error)
	// DeleteQueues removes queues together with everything that references them.
	DeleteQueues(ctx context.Context, ids []string) error
}

// Archiver keeps the raw bytes of an upload. It is optional.
type Archiver interface {
	PutRaw(ctx context.Context, raw []byte) (string, error)
}

// ReferentialIntegrityError means a queue could not be read back after
// creation, so its submissions were not written.
type ReferentialIntegrityError struct {
	QueueID  string
	Attempts int
	Err      error
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("queue %s missing after %d creation attempt(s): %v", e.QueueID, e.Attempts, e.Err)
}

func (e *ReferentialIntegrityError) Unwrap() error { return e.Err }

type Result struct {
	Queues      []model.Queue
	Submissions []model.Submission
	ArchiveRef  string
}

type Service struct {
	Store           Store
	Archive         Archiver
	Normalizer      *Normalizer
	MaxQueueRetries int
	Log             *zap.Logger
}

func NewService(store Store, archive Archiver, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		Store:           store,
		Archive:         archive,
		Normalizer:      NewNormalizer(),
		MaxQueueRetries: defaultQueueRetries,
		Log:             log.Named("ingest"),
	}
}

// Upload validates, normalizes and persists one batch. A failed upload leaves
// no queues or submissions behind.
func (s *Service) Upload(ctx context.Context, raw []byte) (*Result, error) {
	queues, subs, err := s.Normalizer.ParseAndNormalize(raw)
	if err != nil {
		s.Log.Warn("rejected upload", zap.Error(err))
		return nil, err
	}
	res := &Result{Queues: queues, Submissions: subs}
	if len(queues) == 0 {
		return res, nil
	}

	if s.Archive != nil {
		ref, err := s.Archive.PutRaw(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("archive upload: %w", err)
		}
		res.ArchiveRef = ref
	}

	if err := s.Store.UpsertQueues(ctx, queues); err != nil {
		return nil, fmt.Errorf("upsert queues: %w", err)
	}
	if err := s.persist(ctx, queues, subs); err != nil {
		return nil, s.rollback(ctx, queues, err)
	}
	s.Log.Info("upload ingested",
		zap.Int("queues", len(queues)),
		zap.Int("submissions", len(subs)),
		zap.String("archive_ref", res.ArchiveRef),
	)
	return res, nil
}

func (s *Service) persist(ctx context.Context, queues []model.Queue, subs []model.Submission) error {
	for _, q := range queues {
		if err := s.ensureQueue(ctx, q); err != nil {
			return err
		}
	}
	if err := s.Store.UploadSubmissions(ctx, subs); err != nil {
		return fmt.Errorf("upload submissions: %w", err)
	}
	return nil
}

// rollback deletes the batch's queues after a failed upload. Queue ids carry
// the batch disambiguator, so only this batch's rows are removed.
func (s *Service) rollback(ctx context.Context, queues []model.Queue, cause error) error {
	ids := make([]string, 0, len(queues))
	for _, q := range queues {
		ids = append(ids, q.ID)
	}
	if err := s.Store.DeleteQueues(context.WithoutCancel(ctx), ids); err != nil {
		s.Log.Error("could not roll back queues of failed upload", zap.Strings("queue_ids", ids), zap.Error(err))
		return errors.Join(cause, fmt.Errorf("roll back queues: %w", err))
	}
	s.Log.Warn("upload rolled back", zap.Strings("queue_ids", ids), zap.Error(cause))
	return cause
}

// ensureQueue reads q back and re-creates it a bounded number of times.
func (s *Service) ensureQueue(ctx context.Context, q model.Queue) error {
	retries := s.MaxQueueRetries
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := s.Store.UpsertQueues(ctx, []model.Queue{q}); err != nil {
				lastErr = err
				continue
			}
		}
		_, err := s.Store.GetQueue(ctx, q.ID)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, model.ErrNotFound) {
			s.Log.Warn("queue missing after creation", zap.String("queue_id", q.ID), zap.Int("attempt", attempt+1))
		}
	}
	return &ReferentialIntegrityError{QueueID: q.ID, Attempts: retries + 1, Err: lastErr}
}
