package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autograder/internal/memstore"
	"autograder/internal/model"
)

type fakeArchive struct {
	puts [][]byte
	err  error
}

func (a *fakeArchive) PutRaw(_ context.Context, raw []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.puts = append(a.puts, raw)
	return "s3://uploads/batch.json", nil
}

// lossyStore drops queue reads for the first misses GetQueue calls.
type lossyStore struct {
	*memstore.Store
	misses  int
	gets    int
	upserts int
}

func (s *lossyStore) UpsertQueues(ctx context.Context, qs []model.Queue) error {
	s.upserts++
	return s.Store.UpsertQueues(ctx, qs)
}

func (s *lossyStore) GetQueue(ctx context.Context, id string) (*model.Queue, error) {
	s.gets++
	if s.gets <= s.misses {
		return nil, model.ErrNotFound
	}
	return s.Store.GetQueue(ctx, id)
}

// brokenStore fails submission writes, and queue deletes when deleteErr is set.
type brokenStore struct {
	*memstore.Store
	deleteErr error
}

func (s *brokenStore) UploadSubmissions(context.Context, []model.Submission) error {
	return errors.New("db down")
}

func (s *brokenStore) DeleteQueues(ctx context.Context, ids []string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Store.DeleteQueues(ctx, ids)
}

func newTestService(st Store, archive Archiver) *Service {
	svc := NewService(st, archive, nil)
	svc.Normalizer = fixedNormalizer("b1")
	return svc
}

func TestUploadPersists(t *testing.T) {
	st := memstore.New()
	archive := &fakeArchive{}
	res, err := newTestService(st, archive).Upload(context.Background(), []byte(twoQueueBatch))
	require.NoError(t, err)

	assert.Len(t, res.Queues, 2)
	assert.Len(t, res.Submissions, 3)
	assert.Equal(t, "s3://uploads/batch.json", res.ArchiveRef)
	assert.Len(t, archive.puts, 1)

	subs, err := st.GetSubmissionsByQueue(context.Background(), "qA_b1")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
	q, err := st.GetQueue(context.Background(), "qB_b1")
	require.NoError(t, err)
	assert.Equal(t, 1, q.SubmissionCount)
}

func TestUploadEmptyAnswerPersistsNothing(t *testing.T) {
	st := memstore.New()
	archive := &fakeArchive{}
	raw := `[{"id":"s1","queueId":"q1","labelingTaskId":"lt","createdAt":1,"answers":{"q1":{}}}]`

	_, err := newTestService(st, archive).Upload(context.Background(), []byte(raw))
	var verr *SchemaValidationError
	require.ErrorAs(t, err, &verr)

	queues, err := st.ListQueues(context.Background())
	require.NoError(t, err)
	assert.Empty(t, queues)
	assert.Empty(t, archive.puts)
}

func TestUploadEmptyBatch(t *testing.T) {
	st := memstore.New()
	archive := &fakeArchive{}
	res, err := newTestService(st, archive).Upload(context.Background(), []byte("[]"))
	require.NoError(t, err)
	assert.Empty(t, res.Queues)
	assert.Empty(t, archive.puts)
}

func TestUploadRecreatesMissingQueue(t *testing.T) {
	st := &lossyStore{Store: memstore.New(), misses: 2}
	_, err := newTestService(st, nil).Upload(context.Background(), []byte(twoQueueBatch))
	require.NoError(t, err)
	// Initial upsert plus two re-creations of the first queue.
	assert.Equal(t, 3, st.upserts)

	subs, err := st.GetSubmissionsByQueue(context.Background(), "qA_b1")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestUploadReferentialIntegrityFailure(t *testing.T) {
	st := &lossyStore{Store: memstore.New(), misses: 100}
	svc := newTestService(st, nil)
	svc.MaxQueueRetries = 2

	_, err := svc.Upload(context.Background(), []byte(twoQueueBatch))
	var rerr *ReferentialIntegrityError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "qA_b1", rerr.QueueID)
	assert.Equal(t, 3, rerr.Attempts)
	assert.ErrorIs(t, err, model.ErrNotFound)

	subs, err := st.GetSubmissionsByQueue(context.Background(), "qA_b1")
	require.NoError(t, err)
	assert.Empty(t, subs)
	queues, err := st.ListQueues(context.Background())
	require.NoError(t, err)
	assert.Empty(t, queues)
}

func TestUploadSubmissionFailureLeavesNoQueues(t *testing.T) {
	st := &brokenStore{Store: memstore.New()}
	other := model.Queue{ID: "existing", Name: "existing", SubmissionCount: 0}
	require.NoError(t, st.UpsertQueues(context.Background(), []model.Queue{other}))

	_, err := newTestService(st, nil).Upload(context.Background(), []byte(twoQueueBatch))
	require.ErrorContains(t, err, "db down")

	queues, err := st.ListQueues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Queue{other}, queues)
}

func TestUploadRollbackFailureIsReported(t *testing.T) {
	st := &brokenStore{Store: memstore.New(), deleteErr: errors.New("delete refused")}

	_, err := newTestService(st, nil).Upload(context.Background(), []byte(twoQueueBatch))
	require.ErrorContains(t, err, "db down")
	assert.ErrorContains(t, err, "delete refused")
}

func TestUploadArchiveFailure(t *testing.T) {
	st := memstore.New()
	_, err := newTestService(st, &fakeArchive{err: errors.New("bucket gone")}).Upload(context.Background(), []byte(twoQueueBatch))
	require.ErrorContains(t, err, "bucket gone")

	queues, err := st.ListQueues(context.Background())
	require.NoError(t, err)
	assert.Empty(t, queues)
}
